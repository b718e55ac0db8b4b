package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/types"
	"github.com/andresmejia3/reframe/internal/worker"
)

// FrameRequest is what an external detector receives for each frame.
type FrameRequest struct {
	Index  int    `msgpack:"i"`
	Width  int    `msgpack:"w"`
	Height int    `msgpack:"h"`
	Data   []byte `msgpack:"d"` // RGBA, row-major, no padding
}

// FaceBox is one face in an external detector's reply. Coordinates are
// pixels in the source frame.
type FaceBox struct {
	X          float32 `msgpack:"x"`
	Y          float32 `msgpack:"y"`
	Width      float32 `msgpack:"w"`
	Height     float32 `msgpack:"h"`
	Confidence float32 `msgpack:"c"`
}

// FrameResponse carries either faces or an error message.
type FrameResponse struct {
	Faces []FaceBox `msgpack:"faces"`
	Error string    `msgpack:"error,omitempty"`
}

// Communicator is the request/response channel to a detector process.
// Interrupt must make a blocked Communicate return; it may be called from
// another goroutine.
type Communicator interface {
	Communicate(data []byte) ([]byte, error)
	Interrupt() error
	Close() error
}

type reply struct {
	data []byte
	err  error
}

// Process delegates detection to a long-lived child process speaking the
// length-prefixed msgpack protocol.
type Process struct {
	conn Communicator
	buf  []byte
}

// NewProcessFactory starts one child per worker from cfg.Command.
func NewProcessFactory(cfg config.DetectorConfig) (Factory, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("process backend needs a command")
	}
	command := append([]string(nil), cfg.Command...)
	return func(id int) (Detector, error) {
		// The child outlives any single Detect call; Close ends it.
		p, err := worker.Start(context.Background(), id, command)
		if err != nil {
			return nil, err
		}
		return NewProcess(p), nil
	}, nil
}

// NewProcess wraps an already running channel.
func NewProcess(conn Communicator) *Process {
	return &Process{conn: conn}
}

func (p *Process) Detect(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := frame.Image
	if img == nil {
		return nil, fmt.Errorf("frame %d has no image", frame.Index)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()

	var data []byte
	if img.Stride == w*4 && img.Rect.Min == (image.Point{}) {
		data = img.Pix[:w*h*4]
	} else {
		p.buf = packRGBA(img, p.buf)
		data = p.buf
	}

	req, err := msgpack.Marshal(&FrameRequest{Index: frame.Index, Width: w, Height: h, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	raw, err := p.communicate(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp FrameResponse
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("detector process error: %s", resp.Error)
	}

	faces := make([]types.BoundingBox, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		faces = append(faces, types.BoundingBox{
			X:          int(f.X),
			Y:          int(f.Y),
			W:          int(f.Width),
			H:          int(f.Height),
			Confidence: float64(f.Confidence),
		})
	}
	return faces, nil
}

// communicate waits for the reply or for ctx. On cancellation the child is
// interrupted and the request is abandoned; the detector is not usable
// afterwards.
func (p *Process) communicate(ctx context.Context, req []byte) ([]byte, error) {
	done := make(chan reply, 1)
	go func() {
		data, err := p.conn.Communicate(req)
		done <- reply{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		if err := p.conn.Interrupt(); err != nil {
			return nil, fmt.Errorf("%w: interrupt detector: %v", ctx.Err(), err)
		}
		// The conn is not shared with anything else once Communicate returns.
		<-done
		return nil, ctx.Err()
	}
}

func (p *Process) Close() error {
	return p.conn.Close()
}
