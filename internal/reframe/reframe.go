// Package reframe runs whole jobs: it checks the input, then drives
// analysis, smoothing and rendering in that order.
package reframe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"

	"github.com/andresmejia3/reframe/internal/detector"
	"github.com/andresmejia3/reframe/internal/logger"
	"github.com/andresmejia3/reframe/internal/render"
	"github.com/andresmejia3/reframe/internal/smooth"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/utils"
	"github.com/andresmejia3/reframe/internal/video"
)

// ErrSamePath rejects jobs that would overwrite their own input.
var ErrSamePath = errors.New("input and output paths must be different")

type SourceOpener func(ctx context.Context, path string) (video.Source, error)

type SinkOpener func(ctx context.Context, path string, width, height int, fps float64) (video.Sink, error)

type Config struct {
	Detector   detector.Factory // required
	Workers    int
	Smoothing  smooth.Params
	Resampling string
	Encoder    video.SinkOptions
	Log        logs.Log

	// Progress hooks, see render.RunOptions.
	OnAnalyze func(frames int) render.Progress
	OnRender  func(frames int) render.Progress

	// Defaults are ffprobe/ffmpeg backed.
	OpenSource SourceOpener
	OpenSink   SinkOpener
}

// Reframer is safe for concurrent jobs; it holds no per-job state.
type Reframer struct {
	cfg Config
	log logs.Log
}

func New(cfg Config) *Reframer {
	if cfg.OpenSource == nil {
		cfg.OpenSource = OpenFile
	}
	if cfg.OpenSink == nil {
		enc := cfg.Encoder
		if enc.Codec == "" {
			enc = video.DefaultSinkOptions()
		}
		cfg.OpenSink = func(ctx context.Context, path string, w, h int, fps float64) (video.Sink, error) {
			return video.NewFFmpegSink(ctx, path, w, h, fps, enc), nil
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Reframer{cfg: cfg, log: logger.OrDiscard(cfg.Log)}
}

// OpenFile probes path with ffprobe. When the container does not record
// a frame count, packets are counted so progress can show a total.
func OpenFile(ctx context.Context, path string) (video.Source, error) {
	info, err := video.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Frames == 0 {
		info.Frames = video.CountFrames(ctx, path)
	}
	return video.NewFFmpegSource(path, info), nil
}

// Reframe converts input into a vertical video at output. On failure no
// output file is left behind.
func (r *Reframer) Reframe(ctx context.Context, input, output string, spec types.OutputSpec) (*render.Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if utils.SamePath(input, output) {
		return nil, ErrSamePath
	}
	src, err := r.open(ctx, input)
	if err != nil {
		return nil, err
	}

	r.log.Infof("Reframing %s -> %s (%dx%d)", input, output, spec.TargetWidth, spec.TargetHeight)
	opts := r.runOptions()
	opts.BeforeRender = func() error {
		if dir := filepath.Dir(output); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("%w: create output directory: %v", types.ErrOutputWrite, err)
			}
		}
		return nil
	}
	open := func(w, h int, fps float64) (video.Sink, error) {
		return r.cfg.OpenSink(ctx, output, w, h, fps)
	}

	res, err := render.Run(ctx, src, r.cfg.Detector, spec, open, opts)
	if err != nil {
		return nil, err
	}
	r.log.Infof("Wrote %s: %d frames at %.3f fps", output, res.Frames, res.FPS)
	return res, nil
}

// Plan runs analysis and smoothing only and returns the camera path.
func (r *Reframer) Plan(ctx context.Context, input string, spec types.OutputSpec) (*render.Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	src, err := r.open(ctx, input)
	if err != nil {
		return nil, err
	}
	return render.Plan(ctx, src, r.cfg.Detector, spec, r.runOptions())
}

func (r *Reframer) runOptions() render.RunOptions {
	return render.RunOptions{
		Workers:    r.cfg.Workers,
		Resampling: r.cfg.Resampling,
		Smoothing:  r.cfg.Smoothing,
		OnAnalyze:  r.cfg.OnAnalyze,
		OnRender:   r.cfg.OnRender,
		Log:        r.cfg.Log,
	}
}

func (r *Reframer) open(ctx context.Context, input string) (video.Source, error) {
	if r.cfg.Detector == nil {
		return nil, fmt.Errorf("no detector configured")
	}
	if err := CheckInput(input); err != nil {
		return nil, err
	}
	src, err := r.cfg.OpenSource(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInputUnreadable, input, err)
	}
	info := src.Info()
	r.log.Debugf("Input %s: %dx%d @ %.3f fps, %d frames", input, info.Width, info.Height, info.FPS, info.Frames)
	return src, nil
}

// CheckInput reports ErrInputNotFound for a missing path and
// ErrInputUnreadable for anything else that is not a readable file.
func CheckInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrInputNotFound, path)
		}
		return fmt.Errorf("%w: %v", types.ErrInputUnreadable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", types.ErrInputUnreadable, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInputUnreadable, err)
	}
	return f.Close()
}
