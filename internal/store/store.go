package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/reframe/internal/types"
)

// Job states.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Store records reframe jobs in PostgreSQL. A pgx.Conn is not safe for
// concurrent use, so every query holds mu.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// Job is one row of the history.
type Job struct {
	ID                uuid.UUID
	VideoID           string
	InputPath         string
	OutputPath        string
	Spec              types.OutputSpec
	Status            string
	FPS               float64
	Frames            int
	DetectionFailures int
	RenderFailures    int
	Error             string
	CreatedAt         time.Time
	FinishedAt        *time.Time
}

// JobResult is what a finished job reports back.
type JobResult struct {
	FPS               float64
	Frames            int
	DetectionFailures int
	RenderFailures    int
	Regions           types.RegionSequence
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS reframe_jobs (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			spec JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			fps DOUBLE PRECISION NOT NULL DEFAULT 0,
			frames INT NOT NULL DEFAULT 0,
			detection_failures INT NOT NULL DEFAULT 0,
			render_failures INT NOT NULL DEFAULT 0,
			regions JSONB,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS reframe_jobs_video_id_idx ON reframe_jobs (video_id);
		CREATE INDEX IF NOT EXISTS reframe_jobs_created_at_idx ON reframe_jobs (created_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.Close(ctx)
}

// CreateJob inserts a running job and returns its id.
func (s *Store) CreateJob(ctx context.Context, videoID, input, output string, spec types.OutputSpec) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = s.conn.Exec(ctx, `
		INSERT INTO reframe_jobs (id, video_id, input_path, output_path, spec, status)
		VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6)
	`, id.String(), videoID, input, output, string(specJSON), StatusRunning)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// CompleteJob marks a job done and stores its camera path.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, res JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, err := json.Marshal(res.Regions)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE reframe_jobs
		SET status = $2, fps = $3, frames = $4, detection_failures = $5,
		    render_failures = $6, regions = $7::jsonb, finished_at = NOW()
		WHERE id = $1::uuid
	`, id.String(), StatusDone, res.FPS, res.Frames, res.DetectionFailures, res.RenderFailures, string(regions))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FailJob marks a job failed with a message.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.conn.Exec(ctx, `
		UPDATE reframe_jobs SET status = $2, error = $3, finished_at = NOW() WHERE id = $1::uuid
	`, id.String(), StatusFailed, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobs returns the most recent jobs first. limit <= 0 means all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id::text, video_id, input_path, output_path, spec::text, status, fps, frames,
		       detection_failures, render_failures, error, created_at, finished_at
		FROM reframe_jobs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var id, spec string
		if err := rows.Scan(&id, &j.VideoID, &j.InputPath, &j.OutputPath, &spec, &j.Status, &j.FPS, &j.Frames,
			&j.DetectionFailures, &j.RenderFailures, &j.Error, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		if j.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(spec), &j.Spec); err != nil {
			return nil, fmt.Errorf("job %s: bad spec: %w", id, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetRegions returns the smoothed camera path of a finished job.
func (s *Store) GetRegions(ctx context.Context, id uuid.UUID) (float64, types.RegionSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fps float64
	var raw *string
	err := s.conn.QueryRow(ctx, `SELECT fps, regions::text FROM reframe_jobs WHERE id = $1::uuid`, id.String()).Scan(&fps, &raw)
	if err == pgx.ErrNoRows {
		return 0, nil, ErrJobNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	if raw == nil {
		return fps, nil, nil
	}
	var regions types.RegionSequence
	if err := json.Unmarshal([]byte(*raw), &regions); err != nil {
		return 0, nil, err
	}
	return fps, regions, nil
}

// Reset drops all application tables to clear the database state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS reframe_jobs CASCADE;`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.conn)
}
