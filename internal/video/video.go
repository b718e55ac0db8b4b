// Package video reads frames out of, and writes frames into, video files.
// Both directions go through ffmpeg rawvideo pipes so that frames cross the
// process boundary as plain RGBA bytes.
package video

import (
	"context"
	"image"
	"sync"

	"github.com/andresmejia3/reframe/internal/types"
)

// Info describes a source video stream.
type Info struct {
	Width  int
	Height int
	FPS    float64
	Frames int // 0 when unknown
}

// FrameSize is the byte size of one RGBA frame.
func (i Info) FrameSize() int {
	return i.Width * i.Height * 4
}

// Source is a video that can be read from the start more than once.
type Source interface {
	Info() Info
	Open(ctx context.Context) (FrameReader, error)
}

// FrameReader yields frames in index order until io.EOF.
// Release hands a frame's buffer back once the caller is done with it.
// Close must be called on every path and is safe to call twice.
type FrameReader interface {
	Next() (types.Frame, error)
	Release(types.Frame)
	Close() error
}

// Sink receives output frames in order.
// Close finalizes the file; Abort discards whatever was written.
type Sink interface {
	WriteFrame(img *image.RGBA) error
	Close() error
	Abort()
}

// framePool recycles decoder buffers between frames and between passes.
var framePool = sync.Pool{
	New: func() interface{} { return make([]byte, 0) },
}

func getBuffer(size int) []byte {
	buf := framePool.Get().([]byte)
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	return buf[:size]
}

func putBuffer(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	framePool.Put(buf[:0])
}

// wrapRGBA wraps raw bytes in an image.RGBA without copying.
func wrapRGBA(pix []byte, width, height int) *image.RGBA {
	return &image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
}
