// Package detector turns a decoded frame into face bounding boxes.
//
// Each render worker owns one Detector; a Factory builds them. Backends
// that hold shared read-only state (the pigo cascade) load it once in the
// factory and hand the same data to every instance.
package detector

import (
	"context"
	"fmt"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/types"
)

// Detector finds faces in one frame. Implementations need not be safe for
// concurrent use; the renderer never shares one across workers.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error)
	Close() error
}

// Factory creates the detector for a single worker.
type Factory func(workerID int) (Detector, error)

// New returns a factory for the backend named in cfg.
func New(cfg config.DetectorConfig) (Factory, error) {
	switch cfg.Backend {
	case "", "pigo":
		return NewPigoFactory(cfg)
	case "process":
		return NewProcessFactory(cfg)
	case "yunet":
		return NewYuNetFactory(cfg)
	case "none":
		return func(int) (Detector, error) { return None{}, nil }, nil
	}
	return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
}

// FilterConfidence drops faces below min. A nil result means no faces.
func FilterConfidence(faces []types.BoundingBox, min float64) []types.BoundingBox {
	var out []types.BoundingBox
	for _, f := range faces {
		if f.Confidence >= min && f.W > 0 && f.H > 0 {
			out = append(out, f)
		}
	}
	return out
}

// None never finds a face, which makes every frame fall back to the
// centered crop.
type None struct{}

func (None) Detect(context.Context, types.Frame) ([]types.BoundingBox, error) { return nil, nil }
func (None) Close() error                                                      { return nil }

// Func adapts a plain function to Detector. Tests use it for scripted
// detections.
type Func func(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error)

func (f Func) Detect(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error) {
	return f(ctx, frame)
}

func (Func) Close() error { return nil }
