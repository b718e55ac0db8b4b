package render

import (
	"context"
	"fmt"

	"github.com/cyclopcam/logs"

	"github.com/andresmejia3/reframe/internal/detector"
	"github.com/andresmejia3/reframe/internal/logger"
	"github.com/andresmejia3/reframe/internal/smooth"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/video"
)

// Result describes a finished job. Regions are in source pixels, so a
// downstream compositor can reuse the camera path together with FPS.
type Result struct {
	FPS               float64              `json:"fps" yaml:"fps"`
	Width             int                  `json:"width" yaml:"width"`
	Height            int                  `json:"height" yaml:"height"`
	Frames            int                  `json:"frames" yaml:"frames"`
	Raw               types.RegionSequence `json:"-" yaml:"-"`
	Smoothed          types.RegionSequence `json:"regions" yaml:"regions"`
	DetectionFailures int                  `json:"detection_failures" yaml:"detection_failures"`
	RenderFailures    int                  `json:"render_failures" yaml:"render_failures"`
}

type RunOptions struct {
	Workers    int
	Resampling string
	Smoothing  smooth.Params // zero value means smooth.DefaultParams
	// Called before each pass starts, with the expected frame count
	// (0 when unknown). The returned Progress may be nil.
	OnAnalyze func(frames int) Progress
	OnRender  func(frames int) Progress
	// BeforeRender runs after smoothing, just before pass 2 opens the
	// source again. An error aborts the job.
	BeforeRender func() error
	Log          logs.Log
}

// Plan runs pass 1 and smoothing, without rendering.
func Plan(ctx context.Context, src video.Source, newDetector detector.Factory, spec types.OutputSpec, opts RunOptions) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	info := src.Info()

	var progress Progress
	if opts.OnAnalyze != nil {
		progress = opts.OnAnalyze(info.Frames)
	}
	raw, stats, err := Analyze(ctx, src, newDetector, spec, AnalyzeOptions{
		Workers:  opts.Workers,
		Progress: progress,
		Log:      opts.Log,
	})
	if err != nil {
		return nil, err
	}

	params := opts.Smoothing
	if params == (smooth.Params{}) {
		params = smooth.DefaultParams()
	}
	smoothed := smooth.Contain(smooth.SmoothWith(raw, spec.SmoothingWindow, params), info.Width, info.Height)
	if len(smoothed) != len(raw) {
		return nil, fmt.Errorf("smoother returned %d regions for %d frames", len(smoothed), len(raw))
	}

	return &Result{
		FPS:               info.FPS,
		Width:             info.Width,
		Height:            info.Height,
		Frames:            len(raw),
		Raw:               raw,
		Smoothed:          smoothed,
		DetectionFailures: stats.DetectionFailures,
	}, nil
}

// Run is pass 1, smoothing, then pass 2, in that order.
func Run(ctx context.Context, src video.Source, newDetector detector.Factory, spec types.OutputSpec, open SinkOpener, opts RunOptions) (*Result, error) {
	res, err := Plan(ctx, src, newDetector, spec, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.OrDiscard(opts.Log).Debugf("Smoothed %d regions (window %d)", len(res.Smoothed), spec.SmoothingWindow)

	if opts.BeforeRender != nil {
		if err := opts.BeforeRender(); err != nil {
			return nil, err
		}
	}

	var progress Progress
	if opts.OnRender != nil {
		progress = opts.OnRender(res.Frames)
	}
	stats, err := Render(ctx, src, res.Smoothed, spec, open, RenderOptions{
		Resampling: opts.Resampling,
		Progress:   progress,
		Log:        opts.Log,
	})
	if err != nil {
		return nil, err
	}
	res.RenderFailures = stats.RenderFailures
	return res, nil
}
