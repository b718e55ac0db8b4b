package detector

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/andresmejia3/reframe/internal/config"
	"github.com/andresmejia3/reframe/internal/types"
)

// PigoParams are the cascade search settings.
type PigoParams struct {
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	// QualityScale maps pigo's unbounded quality score to a confidence:
	// confidence = clamp(Q / QualityScale, 0, 1).
	QualityScale float64
}

func DefaultPigoParams() PigoParams {
	return PigoParams{
		MinSize:      20,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		QualityScale: 10,
	}
}

// Pigo is a pure-Go pixel intensity comparison detector. The classifier
// is read-only after unpacking; each Pigo keeps its own gray buffer.
type Pigo struct {
	classifier *pigo.Pigo
	params     PigoParams
	gray       []uint8
}

// NewPigoFactory unpacks cfg.Cascade once and shares it across workers.
func NewPigoFactory(cfg config.DetectorConfig) (Factory, error) {
	if cfg.Cascade == "" {
		return nil, fmt.Errorf("pigo backend needs a cascade file (e.g. facefinder)")
	}
	data, err := os.ReadFile(cfg.Cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	params := DefaultPigoParams()
	if cfg.MinSize > 0 {
		params.MinSize = cfg.MinSize
	}
	if cfg.MaxSize > 0 {
		params.MaxSize = cfg.MaxSize
	}
	if cfg.ShiftFactor > 0 {
		params.ShiftFactor = cfg.ShiftFactor
	}
	if cfg.ScaleFactor > 0 {
		params.ScaleFactor = cfg.ScaleFactor
	}
	if cfg.IoUThreshold > 0 {
		params.IoUThreshold = cfg.IoUThreshold
	}
	if cfg.QualityScale > 0 {
		params.QualityScale = cfg.QualityScale
	}

	return func(int) (Detector, error) {
		return &Pigo{classifier: classifier, params: params}, nil
	}, nil
}

func (p *Pigo) Detect(ctx context.Context, frame types.Frame) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := frame.Image
	if img == nil {
		return nil, fmt.Errorf("frame %d has no image", frame.Index)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	p.gray = toGray(img, p.gray)

	dets := p.classifier.RunCascade(pigo.CascadeParams{
		MinSize:     p.params.MinSize,
		MaxSize:     p.params.MaxSize,
		ShiftFactor: p.params.ShiftFactor,
		ScaleFactor: p.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: p.gray,
			Rows:   h,
			Cols:   w,
			Dim:    w,
		},
	}, 0.0)
	dets = p.classifier.ClusterDetections(dets, p.params.IoUThreshold)
	return convertPigo(dets, p.params.QualityScale), nil
}

func (p *Pigo) Close() error { return nil }

// toGray writes BT.601 luma of img into dst, reusing it when large enough.
func toGray(img *image.RGBA, dst []uint8) []uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if cap(dst) < w*h {
		dst = make([]uint8, w*h)
	}
	dst = dst[:w*h]
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
		for x := 0; x < w; x++ {
			r, g, b := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			dst[y*w+x] = uint8((r*299 + g*587 + b*114) / 1000)
		}
	}
	return dst
}

// convertPigo turns center/scale detections into boxes. Pigo reports the
// square's center (Row, Col) and its side length in Scale.
func convertPigo(dets []pigo.Detection, qualityScale float64) []types.BoundingBox {
	var out []types.BoundingBox
	for _, d := range dets {
		half := d.Scale / 2
		conf := float64(d.Q) / qualityScale
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		out = append(out, types.BoundingBox{
			X:          d.Col - half,
			Y:          d.Row - half,
			W:          d.Scale,
			H:          d.Scale,
			Confidence: conf,
		})
	}
	return out
}
