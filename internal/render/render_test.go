package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/reframe/internal/detector"
	"github.com/andresmejia3/reframe/internal/roi"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/video"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
)

// solid returns n references to one frame of size w x h filled with c.
func solid(n, w, h int, c color.RGBA) []*image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
	}
	frames := make([]*image.RGBA, n)
	for i := range frames {
		frames[i] = img
	}
	return frames
}

// thirds paints the left, middle and right thirds of a frame.
func thirds(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := green
			if x < w/3 {
				c = red
			} else if x >= 2*w/3 {
				c = blue
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func noFaces() detector.Factory {
	return func(int) (detector.Detector, error) { return detector.None{}, nil }
}

func scripted(fn func(ctx context.Context, f types.Frame) ([]types.BoundingBox, error)) detector.Factory {
	return func(int) (detector.Detector, error) { return detector.Func(fn), nil }
}

func memoryOpener(sink *video.MemorySink, calls *int) SinkOpener {
	return func(w, h int, fps float64) (video.Sink, error) {
		*calls++
		return sink, nil
	}
}

// probeSink keeps only what the scenarios check, so full-size output
// frames are not retained.
type probeSink struct {
	frames  int
	size    image.Point
	samples []color.RGBA
	closed  bool
	aborted bool
}

func (s *probeSink) WriteFrame(img *image.RGBA) error {
	s.frames++
	s.size = img.Rect.Size()
	s.samples = append(s.samples,
		img.RGBAAt(0, 0),
		img.RGBAAt(img.Rect.Dx()/2, img.Rect.Dy()/2),
		img.RGBAAt(img.Rect.Dx()-1, img.Rect.Dy()-1))
	return nil
}
func (s *probeSink) Close() error { s.closed = true; return nil }
func (s *probeSink) Abort()       { s.aborted = true }

type counter struct{ n atomic.Int64 }

func (c *counter) Add(n int) error { c.n.Add(int64(n)); return nil }

func testLog(t *testing.T) logs.Log { return logs.NewTestingLog(t) }

// No faces anywhere: every frame uses the same centered 9:16 window and
// the output is 1080x1920.
func TestScenarioNoFaces(t *testing.T) {
	frame := thirds(1920, 1080)
	frames := make([]*image.RGBA, 60)
	for i := range frames {
		frames[i] = frame
	}
	src := video.NewMemorySource(frames, 30)
	spec := types.DefaultOutputSpec()
	sink := &probeSink{}

	res, err := Run(context.Background(), src, noFaces(), spec,
		func(w, h int, fps float64) (video.Sink, error) { return sink, nil },
		RunOptions{Workers: 4, Log: testLog(t)})
	require.NoError(t, err)

	want := types.CropRegion{X: 656, Y: 0, W: 607, H: 1080}
	require.Equal(t, want, roi.Center(1920, 1080, spec.AspectRatio()))
	require.Len(t, res.Raw, 60)
	require.Len(t, res.Smoothed, 60)
	for i, r := range res.Smoothed {
		require.Equal(t, want, r, "frame %d", i)
	}
	require.Equal(t, 30.0, res.FPS)
	require.Equal(t, 60, res.Frames)

	require.Equal(t, 60, sink.frames)
	require.Equal(t, image.Pt(1080, 1920), sink.size)
	require.True(t, sink.closed)
	require.False(t, sink.aborted)
	// The window sits inside the green middle third.
	for i, c := range sink.samples {
		require.Equal(t, green, c, "sample %d", i)
	}
}

// A marker face moves from x=100 to x=1800 over 60 frames; the camera
// follows it with bounded lag and never overshoots.
func TestScenarioMovingFace(t *testing.T) {
	const n = 60
	markerX := func(i int) int { return 100 + int(math.Round(float64(i)*1700/float64(n-1))) }
	fn := func(_ context.Context, f types.Frame) ([]types.BoundingBox, error) {
		return []types.BoundingBox{{X: markerX(f.Index) - 50, Y: 450, W: 100, H: 100, Confidence: 0.9}}, nil
	}

	src := video.NewMemorySource(solid(n, 1920, 1080, green), 30)
	spec := types.DefaultOutputSpec()

	res, err := Plan(context.Background(), src, scripted(fn), spec, RunOptions{Workers: 3, Log: testLog(t)})
	require.NoError(t, err)
	require.Len(t, res.Smoothed, n)

	centers := make([]float64, n)
	for i, r := range res.Smoothed {
		require.GreaterOrEqual(t, r.X, 0)
		require.LessOrEqual(t, r.X+r.W, 1920)
		require.GreaterOrEqual(t, r.Y, 0)
		require.LessOrEqual(t, r.Y+r.H, 1080)
		require.InDelta(t, spec.AspectRatio(), r.Aspect(), 0.01, "frame %d", i)
		centers[i], _ = r.Center()
		require.LessOrEqual(t, centers[i], float64(markerX(n-1))+1, "overshoot at %d", i)
		if i > 0 {
			require.GreaterOrEqual(t, centers[i], centers[i-1]-1, "camera moved backwards at %d", i)
		}
	}
	require.Greater(t, centers[n-1]-centers[0], 500.0, "camera did not follow the marker")

	// Best alignment of the camera path against the marker path.
	bestLag, bestErr := 0, math.Inf(1)
	for lag := 0; lag <= n-10; lag++ {
		var sum float64
		for i := lag; i < n; i++ {
			sum += math.Abs(centers[i] - float64(markerX(i-lag)))
		}
		if avg := sum / float64(n-lag); avg < bestErr {
			bestLag, bestErr = lag, avg
		}
	}
	require.LessOrEqual(t, bestLag, spec.SmoothingWindow)
}

// Five frames with a 30-frame window still produce exactly five regions
// and five output frames.
func TestScenarioShortVideo(t *testing.T) {
	src := video.NewMemorySource(solid(5, 64, 36, red), 25)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 18, 32

	fn := func(_ context.Context, f types.Frame) ([]types.BoundingBox, error) {
		return []types.BoundingBox{{X: 20 + f.Index, Y: 10, W: 8, H: 8, Confidence: 1}}, nil
	}
	sink := &video.MemorySink{}
	calls := 0
	res, err := Run(context.Background(), src, scripted(fn), spec, memoryOpener(sink, &calls), RunOptions{Log: testLog(t)})
	require.NoError(t, err)
	require.Len(t, res.Raw, 5)
	require.Len(t, res.Smoothed, 5)
	require.Len(t, sink.Frames, 5)
	require.Equal(t, 1, calls)
	for _, f := range sink.Frames {
		require.Equal(t, image.Pt(18, 32), f.Rect.Size())
		require.Equal(t, red, f.RGBAAt(9, 16))
	}
}

func TestAnalyzeOrderIndependentOfWorkers(t *testing.T) {
	const n = 40
	fn := func(_ context.Context, f types.Frame) ([]types.BoundingBox, error) {
		// Early frames finish last.
		time.Sleep(time.Duration(n-f.Index) * 100 * time.Microsecond)
		return []types.BoundingBox{{X: 10 * f.Index, Y: 100, W: 60, H: 60, Confidence: 0.8}}, nil
	}
	spec := types.DefaultOutputSpec()

	serial, _, err := Analyze(context.Background(), video.NewMemorySource(solid(n, 640, 360, blue), 30), scripted(fn), spec, AnalyzeOptions{Workers: 1})
	require.NoError(t, err)

	progress := &counter{}
	parallel, stats, err := Analyze(context.Background(), video.NewMemorySource(solid(n, 640, 360, blue), 30), scripted(fn), spec, AnalyzeOptions{Workers: 6, Progress: progress, Log: testLog(t)})
	require.NoError(t, err)
	require.Equal(t, serial, parallel)
	require.Equal(t, n, stats.Frames)
	require.Equal(t, n, stats.FramesWithFaces)
	require.EqualValues(t, n, progress.n.Load())
}

func TestAnalyzeDetectionFailureUsesCenter(t *testing.T) {
	fn := func(_ context.Context, f types.Frame) ([]types.BoundingBox, error) {
		switch f.Index {
		case 2:
			return nil, errors.New("inference timeout")
		case 4:
			panic("bad tensor")
		}
		return []types.BoundingBox{{X: 0, Y: 0, W: 50, H: 50, Confidence: 0.9}}, nil
	}
	spec := types.DefaultOutputSpec()
	seq, stats, err := Analyze(context.Background(), video.NewMemorySource(solid(6, 640, 360, blue), 30), scripted(fn), spec, AnalyzeOptions{Workers: 2, Log: testLog(t)})
	require.NoError(t, err)
	require.Len(t, seq, 6)
	require.Equal(t, 2, stats.DetectionFailures)
	require.Equal(t, 4, stats.FramesWithFaces)

	center := roi.Center(640, 360, spec.AspectRatio())
	require.Equal(t, center, seq[2])
	require.Equal(t, center, seq[4])
	require.NotEqual(t, center, seq[0])
}

func TestAnalyzeFiltersLowConfidence(t *testing.T) {
	fn := func(context.Context, types.Frame) ([]types.BoundingBox, error) {
		return []types.BoundingBox{{X: 0, Y: 0, W: 50, H: 50, Confidence: 0.3}}, nil
	}
	spec := types.DefaultOutputSpec()
	seq, stats, err := Analyze(context.Background(), video.NewMemorySource(solid(3, 640, 360, blue), 30), scripted(fn), spec, AnalyzeOptions{})
	require.NoError(t, err)
	require.Zero(t, stats.FramesWithFaces)
	for _, r := range seq {
		require.Equal(t, roi.Center(640, 360, spec.AspectRatio()), r)
	}
}

func TestAnalyzeDetectorStartupFailure(t *testing.T) {
	src := video.NewMemorySource(solid(3, 64, 36, blue), 30)
	boom := errors.New("model missing")
	closed := 0
	factory := func(id int) (detector.Detector, error) {
		if id == 1 {
			return nil, boom
		}
		return closeCounter{&closed}, nil
	}
	_, _, err := Analyze(context.Background(), src, factory, types.DefaultOutputSpec(), AnalyzeOptions{Workers: 3})
	require.ErrorIs(t, err, boom)
	require.Zero(t, src.Opens(), "decoding started before detectors were ready")
	require.Equal(t, 1, closed)
}

type closeCounter struct{ n *int }

func (closeCounter) Detect(context.Context, types.Frame) ([]types.BoundingBox, error) {
	return nil, nil
}
func (c closeCounter) Close() error { *c.n++; return nil }

func TestRunNoFramesCreatesNoOutput(t *testing.T) {
	src := video.NewMemorySource(nil, 30)
	calls := 0
	_, err := Run(context.Background(), src, noFaces(), types.DefaultOutputSpec(), memoryOpener(&video.MemorySink{}, &calls), RunOptions{})
	require.ErrorIs(t, err, types.ErrNoFramesDecoded)
	require.Zero(t, calls)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Run(ctx, video.NewMemorySource(solid(10, 64, 36, blue), 30), noFaces(), types.DefaultOutputSpec(), memoryOpener(&video.MemorySink{}, &calls), RunOptions{Workers: 2})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}

// A large face on the left gives way to a small face jumping around the
// right edge. The window moves faster than it shrinks, but the planned
// path still stays inside the frame.
func TestPlanKeepsPathInsideFrame(t *testing.T) {
	det := scripted(func(ctx context.Context, f types.Frame) ([]types.BoundingBox, error) {
		if f.Index < 40 {
			return []types.BoundingBox{{X: 0, Y: 100, W: 600, H: 700, Confidence: 0.9}}, nil
		}
		y := 200
		if f.Index%2 == 1 {
			y = 700
		}
		return []types.BoundingBox{{X: 1790, Y: y, W: 120, H: 160, Confidence: 0.9}}, nil
	})

	src := video.NewMemorySource(solid(80, 1920, 1080, blue), 30)
	res, err := Plan(context.Background(), src, det, types.DefaultOutputSpec(), RunOptions{Workers: 4, Log: testLog(t)})
	require.NoError(t, err)
	require.Len(t, res.Smoothed, 80)

	for i, r := range res.Smoothed {
		require.GreaterOrEqual(t, r.X, 0, "frame %d %v", i, r)
		require.GreaterOrEqual(t, r.Y, 0, "frame %d %v", i, r)
		require.LessOrEqual(t, r.X+r.W, 1920, "frame %d %v", i, r)
		require.LessOrEqual(t, r.Y+r.H, 1080, "frame %d %v", i, r)
	}
}

func TestRenderFallsBackToWholeFrame(t *testing.T) {
	src := video.NewMemorySource([]*image.RGBA{thirds(60, 30), thirds(60, 30), thirds(60, 30)}, 30)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 60, 30

	regions := types.RegionSequence{
		{X: 0, Y: 0, W: 20, H: 30},
		{X: 500, Y: 500, W: 20, H: 30}, // entirely outside the frame
		{X: 40, Y: 0, W: 20, H: 30},
	}
	sink := &video.MemorySink{}
	calls := 0
	stats, err := Render(context.Background(), src, regions, spec, memoryOpener(sink, &calls), RenderOptions{Resampling: "nearest", Log: testLog(t)})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Frames)
	require.Equal(t, 1, stats.RenderFailures)
	require.Len(t, sink.Frames, 3)

	require.Equal(t, red, sink.Frames[0].RGBAAt(30, 15))
	// Whole frame resized to a same-size target is the source itself.
	require.Equal(t, red, sink.Frames[1].RGBAAt(5, 15))
	require.Equal(t, green, sink.Frames[1].RGBAAt(30, 15))
	require.Equal(t, blue, sink.Frames[1].RGBAAt(55, 15))
	require.Equal(t, blue, sink.Frames[2].RGBAAt(30, 15))
}

func TestRenderClampsPartialRegion(t *testing.T) {
	src := video.NewMemorySource([]*image.RGBA{thirds(60, 30)}, 30)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 10, 10

	sink := &video.MemorySink{}
	calls := 0
	// Taller than the frame and off the right edge: shrinks to 30x30 and
	// moves to x=30, so the center of the output is blue.
	stats, err := Render(context.Background(), src, types.RegionSequence{{X: 45, Y: -5, W: 40, H: 40}}, spec, memoryOpener(sink, &calls), RenderOptions{Resampling: "nearest"})
	require.NoError(t, err)
	require.Zero(t, stats.RenderFailures)
	require.Equal(t, blue, sink.Frames[0].RGBAAt(5, 5))
}

// An overhanging window is moved back inside, not cut down, so the output
// keeps the window's proportions.
func TestRenderOverhangKeepsAspect(t *testing.T) {
	src := video.NewMemorySource([]*image.RGBA{thirds(60, 30)}, 30)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 10, 10

	sink := &video.MemorySink{}
	calls := 0
	// 30x30 at x=35 overhangs by 5 and is shifted to x=30: the source
	// columns 30..40 are green and 40..60 blue, a third of the output each
	// way. Cutting the window to 35..60 would move the boundary left.
	stats, err := Render(context.Background(), src, types.RegionSequence{{X: 35, Y: 0, W: 30, H: 30}}, spec, memoryOpener(sink, &calls), RenderOptions{Resampling: "nearest"})
	require.NoError(t, err)
	require.Zero(t, stats.RenderFailures)

	out := sink.Frames[0]
	for y := 0; y < 10; y += 3 {
		require.Equal(t, green, out.RGBAAt(0, y), "row %d", y)
		require.Equal(t, green, out.RGBAAt(2, y), "row %d", y)
		require.Equal(t, blue, out.RGBAAt(3, y), "row %d", y)
		require.Equal(t, blue, out.RGBAAt(9, y), "row %d", y)
	}
}

func TestRenderReusesLastRegionForExtraFrames(t *testing.T) {
	src := video.NewMemorySource(solid(2, 64, 36, green), 30)
	src.Passes = map[int][]*image.RGBA{0: solid(4, 64, 36, green)}
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 18, 32

	sink := &video.MemorySink{}
	calls := 0
	regions := types.RegionSequence{{X: 0, Y: 0, W: 20, H: 36}, {X: 10, Y: 0, W: 20, H: 36}}
	stats, err := Render(context.Background(), src, regions, spec, memoryOpener(sink, &calls), RenderOptions{Log: testLog(t)})
	require.NoError(t, err)
	require.Equal(t, 4, stats.Frames)
	require.Equal(t, 2, stats.ExtraFrames)
	require.Len(t, sink.Frames, 4)
}

func TestRenderWriteFailureAborts(t *testing.T) {
	src := video.NewMemorySource(solid(5, 64, 36, green), 30)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 18, 32

	sink := &video.MemorySink{FailAfter: 2}
	calls := 0
	regions := make(types.RegionSequence, 5)
	for i := range regions {
		regions[i] = types.CropRegion{X: 0, Y: 0, W: 20, H: 36}
	}
	_, err := Render(context.Background(), src, regions, spec, memoryOpener(sink, &calls), RenderOptions{})
	require.ErrorIs(t, err, types.ErrOutputWrite)
	require.True(t, sink.Aborted)
	require.False(t, sink.Closed)
}

func TestRenderOpenFailure(t *testing.T) {
	src := video.NewMemorySource(solid(2, 64, 36, green), 30)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 18, 32
	open := func(int, int, float64) (video.Sink, error) { return nil, fmt.Errorf("permission denied") }
	_, err := Render(context.Background(), src, types.RegionSequence{{W: 20, H: 36}, {W: 20, H: 36}}, spec, open, RenderOptions{})
	require.ErrorIs(t, err, types.ErrOutputWrite)
}

func TestScaler(t *testing.T) {
	for _, name := range []string{"", "bilinear", "nearest", "catmullrom"} {
		s, err := Scaler(name)
		require.NoError(t, err, name)
		require.NotNil(t, s)
	}
	_, err := Scaler("lanczos")
	require.Error(t, err)

	_, err = Render(context.Background(), video.NewMemorySource(solid(1, 8, 8, red), 30), nil, types.DefaultOutputSpec(), nil, RenderOptions{Resampling: "lanczos"})
	require.Error(t, err)
}

func TestPlanRejectsInvalidSpec(t *testing.T) {
	spec := types.DefaultOutputSpec()
	spec.PaddingFactor = 0.5
	_, err := Plan(context.Background(), video.NewMemorySource(solid(1, 8, 8, red), 30), noFaces(), spec, RunOptions{})
	require.Error(t, err)
}

func TestRunBeforeRenderRunsBetweenPasses(t *testing.T) {
	src := video.NewMemorySource(solid(3, 64, 36, green), 30)
	spec := types.DefaultOutputSpec()
	spec.TargetWidth, spec.TargetHeight = 18, 32

	var opensAtHook int
	calls := 0
	_, err := Run(context.Background(), src, noFaces(), spec, memoryOpener(&video.MemorySink{}, &calls), RunOptions{
		BeforeRender: func() error {
			opensAtHook = src.Opens()
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, opensAtHook)
	require.Equal(t, 2, src.Opens())

	boom := errors.New("disk full")
	calls = 0
	_, err = Run(context.Background(), src, noFaces(), spec, memoryOpener(&video.MemorySink{}, &calls), RunOptions{
		BeforeRender: func() error { return boom },
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, calls)
}
