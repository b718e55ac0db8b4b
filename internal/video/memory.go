package video

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"

	"github.com/andresmejia3/reframe/internal/types"
)

// MemorySource serves frames held in memory. Frames may be overridden per
// Open call through Passes, which lets a second read differ from the first.
type MemorySource struct {
	Frames []*image.RGBA
	FPS    float64
	Passes map[int][]*image.RGBA // open count (0-based) -> frames for that pass

	mu    sync.Mutex
	opens int
}

// NewMemorySource builds a source from frames that all share one size.
func NewMemorySource(frames []*image.RGBA, fps float64) *MemorySource {
	return &MemorySource{Frames: frames, FPS: fps}
}

func (m *MemorySource) Info() Info {
	info := Info{FPS: m.FPS, Frames: len(m.Frames)}
	if len(m.Frames) > 0 {
		info.Width = m.Frames[0].Rect.Dx()
		info.Height = m.Frames[0].Rect.Dy()
	}
	return info
}

// Opens reports how many times Open has been called.
func (m *MemorySource) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *MemorySource) Open(ctx context.Context) (FrameReader, error) {
	m.mu.Lock()
	frames := m.Frames
	if override, ok := m.Passes[m.opens]; ok {
		frames = override
	}
	m.opens++
	m.mu.Unlock()
	return &memoryReader{ctx: ctx, frames: frames}, nil
}

type memoryReader struct {
	ctx    context.Context
	frames []*image.RGBA
	next   int
}

func (r *memoryReader) Next() (types.Frame, error) {
	if err := r.ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if r.next >= len(r.frames) {
		return types.Frame{}, io.EOF
	}
	f := types.Frame{Index: r.next, Image: r.frames[r.next]}
	r.next++
	return f, nil
}

func (r *memoryReader) Release(types.Frame) {}

func (r *memoryReader) Close() error { return nil }

// ErrSinkFull is returned by a MemorySink whose FailAfter limit is reached.
var ErrSinkFull = errors.New("memory sink full")

// MemorySink keeps copies of every frame written to it.
type MemorySink struct {
	Frames    []*image.RGBA
	FailAfter int // fail writes once this many frames are stored; 0 = never
	Closed    bool
	Aborted   bool
}

func (m *MemorySink) WriteFrame(img *image.RGBA) error {
	if m.FailAfter > 0 && len(m.Frames) >= m.FailAfter {
		return ErrSinkFull
	}
	cp := image.NewRGBA(image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
	for y := 0; y < cp.Rect.Dy(); y++ {
		src := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(cp.Pix[y*cp.Stride:(y+1)*cp.Stride], img.Pix[src:src+cp.Stride])
	}
	m.Frames = append(m.Frames, cp)
	return nil
}

func (m *MemorySink) Close() error {
	m.Closed = true
	return nil
}

func (m *MemorySink) Abort() {
	m.Aborted = true
	m.Frames = nil
}
