// Package render runs the two passes over a video: analysis (detect and
// estimate a crop per frame, in parallel) and rendering (crop, resize and
// encode, strictly in order).
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/reframe/internal/detector"
	"github.com/andresmejia3/reframe/internal/logger"
	"github.com/andresmejia3/reframe/internal/roi"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/video"
)

// Progress receives one Add(1) per finished frame. *progressbar.ProgressBar
// satisfies it.
type Progress interface {
	Add(n int) error
}

type AnalyzeOptions struct {
	Workers  int // detector instances; values below 1 mean 1
	Progress Progress
	Log      logs.Log
}

type AnalyzeStats struct {
	Frames            int
	FramesWithFaces   int
	DetectionFailures int
}

type analyzed struct {
	index  int
	region types.CropRegion
	faces  int
	failed bool
}

// Analyze is pass 1. It returns exactly one raw crop region per decoded
// frame, in frame order, regardless of the order workers finish in.
func Analyze(ctx context.Context, src video.Source, newDetector detector.Factory, spec types.OutputSpec, opts AnalyzeOptions) (types.RegionSequence, AnalyzeStats, error) {
	log := logger.OrDiscard(opts.Log)
	workers := max(opts.Workers, 1)
	var stats AnalyzeStats

	// Start every detector before decoding so a broken backend fails the
	// job before any work is done.
	dets := make([]detector.Detector, 0, workers)
	defer func() {
		for _, d := range dets {
			if err := d.Close(); err != nil {
				log.Warnf("Closing detector: %v", err)
			}
		}
	}()
	for i := 0; i < workers; i++ {
		d, err := newDetector(i)
		if err != nil {
			return nil, stats, fmt.Errorf("detector %d failed to start: %w", i, err)
		}
		dets = append(dets, d)
	}
	log.Debugf("Analyzing with %d detector(s)", workers)

	reader, err := src.Open(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %v", types.ErrInputUnreadable, err)
	}
	readerClosed := false
	defer func() {
		if !readerClosed {
			reader.Close()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	tasks := make(chan types.Frame, workers)
	results := make(chan analyzed, workers*2)

	g.Go(func() error {
		defer close(tasks)
		for {
			f, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				return fmt.Errorf("%w: %v", types.ErrInputUnreadable, err)
			}
			select {
			case tasks <- f:
			case <-gctx.Done():
				reader.Release(f)
				return gctx.Err()
			}
		}
	})

	var wg sync.WaitGroup
	for _, d := range dets {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for {
				var f types.Frame
				var ok bool
				select {
				case f, ok = <-tasks:
					if !ok {
						return nil
					}
				case <-gctx.Done():
					return gctx.Err()
				}

				res, err := analyzeFrame(gctx, d, f, spec)
				reader.Release(f)
				if err != nil {
					return err
				}
				if res.failed {
					log.Warnf("%v; using no faces", res.err)
				}
				select {
				case results <- res.analyzed:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Reorder: workers finish out of order, the sequence must not.
	pending := make(map[int]analyzed)
	var seq types.RegionSequence
	for res := range results {
		pending[res.index] = res
		for {
			next, ok := pending[len(seq)]
			if !ok {
				break
			}
			delete(pending, len(seq))
			seq = append(seq, next.region)
			if next.faces > 0 {
				stats.FramesWithFaces++
			}
			if next.failed {
				stats.DetectionFailures++
			}
			if opts.Progress != nil {
				opts.Progress.Add(1)
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	if len(pending) > 0 {
		return nil, stats, fmt.Errorf("frame sequence has a gap at index %d", len(seq))
	}

	readerClosed = true
	closeErr := reader.Close()
	stats.Frames = len(seq)
	if len(seq) == 0 {
		if closeErr != nil {
			return nil, stats, fmt.Errorf("%w: %v", types.ErrNoFramesDecoded, closeErr)
		}
		return nil, stats, types.ErrNoFramesDecoded
	}
	if closeErr != nil {
		log.Warnf("Decoder reported an error after %d frames: %v", len(seq), closeErr)
	}

	log.Infof("Pass 1: %d frames, %d with faces, %d detection failures", stats.Frames, stats.FramesWithFaces, stats.DetectionFailures)
	return seq, stats, nil
}

type frameOutcome struct {
	analyzed
	err error
}

// analyzeFrame detects and estimates one frame. A detector error or panic
// is a per-frame failure and yields the no-face region; only cancellation
// is returned as an error.
func analyzeFrame(ctx context.Context, d detector.Detector, f types.Frame, spec types.OutputSpec) (out frameOutcome, err error) {
	out.index = f.Index
	w, h := f.Width(), f.Height()

	faces, derr := safeDetect(ctx, d, f)
	if derr != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.failed = true
		out.err = &types.FrameError{Index: f.Index, Stage: types.StageDetect, Err: derr}
		faces = nil
	}

	faces = detector.FilterConfidence(faces, spec.FaceDetectionConfidence)
	out.faces = len(faces)
	out.region = roi.EstimateFor(spec, faces, w, h)
	return out, nil
}

func safeDetect(ctx context.Context, d detector.Detector, f types.Frame) (faces []types.BoundingBox, err error) {
	defer func() {
		if r := recover(); r != nil {
			faces, err = nil, fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.Detect(ctx, f)
}
