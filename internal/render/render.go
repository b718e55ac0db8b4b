package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/cyclopcam/logs"
	"golang.org/x/image/draw"

	"github.com/andresmejia3/reframe/internal/logger"
	"github.com/andresmejia3/reframe/internal/roi"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/video"
)

// SinkOpener creates the output. Render calls it once, with the first
// finished frame in hand, so a job that fails earlier leaves nothing on disk.
type SinkOpener func(width, height int, fps float64) (video.Sink, error)

type RenderOptions struct {
	Resampling string // bilinear (default), nearest or catmullrom
	Progress   Progress
	Log        logs.Log
}

type RenderStats struct {
	Frames         int
	RenderFailures int
	// ExtraFrames counts frames decoded beyond the analyzed sequence.
	ExtraFrames int
}

// Scaler returns the resampling kernel for name. One kernel is used for a
// whole job.
func Scaler(name string) (draw.Scaler, error) {
	switch name {
	case "", "bilinear":
		return draw.ApproxBiLinear, nil
	case "nearest":
		return draw.NearestNeighbor, nil
	case "catmullrom":
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown resampling %q", name)
}

// Render is pass 2. It re-reads src from the start and writes one output
// frame per input frame, cropped to regions[i] and resized to the target.
func Render(ctx context.Context, src video.Source, regions types.RegionSequence, spec types.OutputSpec, open SinkOpener, opts RenderOptions) (stats RenderStats, err error) {
	log := logger.OrDiscard(opts.Log)
	scaler, err := Scaler(opts.Resampling)
	if err != nil {
		return stats, err
	}

	reader, err := src.Open(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", types.ErrInputUnreadable, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			log.Warnf("Decoder reported an error in pass 2: %v", cerr)
		}
	}()

	var sink video.Sink
	defer func() {
		if err != nil && sink != nil {
			sink.Abort()
		}
	}()

	out := image.NewRGBA(image.Rect(0, 0, spec.TargetWidth, spec.TargetHeight))
	fps := src.Info().FPS

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		f, rerr := reader.Next()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return stats, cerr
			}
			return stats, fmt.Errorf("%w: %v", types.ErrInputUnreadable, rerr)
		}

		region, extra := regionFor(regions, f, spec)
		if extra {
			if stats.ExtraFrames == 0 {
				log.Warnf("Pass 2 decoded more frames than pass 1 (%d); reusing the last region", len(regions))
			}
			stats.ExtraFrames++
		}

		if ferr := cropResize(out, f.Image, region, scaler); ferr != nil {
			log.Warnf("%v; resizing the whole frame", &types.FrameError{Index: f.Index, Stage: types.StageRender, Err: ferr})
			stats.RenderFailures++
			if ferr := fullResize(out, f.Image, scaler); ferr != nil {
				log.Errorf("Frame %d: whole-frame fallback failed: %v", f.Index, ferr)
				clear(out.Pix)
			}
		}
		reader.Release(f)

		if sink == nil {
			if sink, err = open(spec.TargetWidth, spec.TargetHeight, fps); err != nil {
				sink = nil
				return stats, fmt.Errorf("%w: %v", types.ErrOutputWrite, err)
			}
		}
		if err := sink.WriteFrame(out); err != nil {
			return stats, fmt.Errorf("%w: frame %d: %v", types.ErrOutputWrite, f.Index, err)
		}

		stats.Frames++
		if opts.Progress != nil {
			opts.Progress.Add(1)
		}
	}

	if sink == nil {
		return stats, types.ErrNoFramesDecoded
	}
	if stats.Frames < len(regions) {
		log.Warnf("Pass 2 decoded %d frames, pass 1 analyzed %d", stats.Frames, len(regions))
	}
	if err := sink.Close(); err != nil {
		return stats, fmt.Errorf("%w: %v", types.ErrOutputWrite, err)
	}

	log.Infof("Pass 2: %d frames written, %d render fallbacks", stats.Frames, stats.RenderFailures)
	return stats, nil
}

// regionFor picks the region for f. Past the end of the sequence the last
// region is reused; an empty sequence gets the centered fallback.
func regionFor(regions types.RegionSequence, f types.Frame, spec types.OutputSpec) (types.CropRegion, bool) {
	if f.Index < len(regions) {
		return regions[f.Index], false
	}
	if len(regions) == 0 {
		return roi.Center(f.Width(), f.Height(), spec.AspectRatio()), true
	}
	return regions[len(regions)-1], true
}

// cropResize scales the part of src under region into all of dst. The
// region is clamped against the real frame first; a region that misses
// the frame entirely is an error.
func cropResize(dst, src *image.RGBA, region types.CropRegion, scaler draw.Scaler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crop panic: %v", r)
		}
	}()
	if src == nil {
		return errors.New("no image")
	}
	clamped, ok := region.Clamp(src.Rect.Dx(), src.Rect.Dy())
	if !ok {
		return fmt.Errorf("region %v is outside the %dx%d frame", region, src.Rect.Dx(), src.Rect.Dy())
	}
	sr := clamped.Rect().Add(src.Rect.Min)
	scaler.Scale(dst, dst.Bounds(), src, sr, draw.Src, nil)
	return nil
}

func fullResize(dst, src *image.RGBA, scaler draw.Scaler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resize panic: %v", r)
		}
	}()
	if src == nil {
		return errors.New("no image")
	}
	scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}
