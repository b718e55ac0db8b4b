//go:build gocv

package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/types"
)

// YuNet uses OpenCV's FaceDetectorYN. Each worker gets its own network.
type YuNet struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex
	size     image.Point
}

// NewYuNetFactory checks the model once and builds a network per worker.
func NewYuNetFactory(cfg config.DetectorConfig) (Factory, error) {
	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.Model)
	}
	model := cfg.Model
	return func(int) (Detector, error) {
		// Score threshold 0 keeps everything; confidence filtering happens
		// in the renderer so every backend filters the same way.
		d := gocv.NewFaceDetectorYNWithParams(
			model,
			"",
			image.Pt(320, 320),
			0.0,
			0.3,
			5000,
			int(gocv.NetBackendDefault),
			int(gocv.NetTargetCPU),
		)
		return &YuNet{detector: d}, nil
	}, nil
}

func (y *YuNet) Detect(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	y.mu.Lock()
	defer y.mu.Unlock()

	rgba, err := gocv.ImageToMatRGBA(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", frame.Index, err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	if size := image.Pt(bgr.Cols(), bgr.Rows()); size != y.size {
		y.detector.SetInputSize(size)
		y.size = size
	}

	faces := gocv.NewMat()
	defer faces.Close()
	y.detector.Detect(bgr, &faces)

	// Rows: x, y, w, h, five landmark pairs, score.
	out := make([]types.BoundingBox, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		out = append(out, types.BoundingBox{
			X:          int(faces.GetFloatAt(r, 0)),
			Y:          int(faces.GetFloatAt(r, 1)),
			W:          int(faces.GetFloatAt(r, 2)),
			H:          int(faces.GetFloatAt(r, 3)),
			Confidence: float64(faces.GetFloatAt(r, 14)),
		})
	}
	return out, nil
}

func (y *YuNet) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.detector.Close()
	return nil
}
