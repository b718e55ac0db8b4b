package types

import (
	"fmt"
	"image"
	"math"
)

// Frame is one decoded picture of a video. Image is a view over a pooled
// decoder buffer and must not be retained past the pass that produced it.
type Frame struct {
	Index int
	Image *image.RGBA
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// BoundingBox is a detected face in source-pixel coordinates.
type BoundingBox struct {
	X, Y, W, H int
	Confidence float64 // 0-1
}

// Center returns the center of the box in floating point.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// Area returns the box area in square pixels.
func (b BoundingBox) Area() int {
	return b.W * b.H
}

// CropRegion is the analysis window for one frame index.
type CropRegion struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// Rect converts the region to an image.Rectangle.
func (r CropRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Center returns the center of the region in floating point.
func (r CropRegion) Center() (float64, float64) {
	return float64(r.X) + float64(r.W)/2, float64(r.Y) + float64(r.H)/2
}

// Aspect returns w/h, or 0 for a degenerate region.
func (r CropRegion) Aspect() float64 {
	if r.H == 0 {
		return 0
	}
	return float64(r.W) / float64(r.H)
}

// Clamp moves the region inside a width x height frame. The size only
// changes when the region is larger than the frame, and then both sides
// shrink by the same factor about the center, so the aspect ratio holds.
// The bool is false for an empty region or one that misses the frame.
func (r CropRegion) Clamp(width, height int) (CropRegion, bool) {
	frame := image.Rect(0, 0, width, height)
	if r.W <= 0 || r.H <= 0 || r.Rect().Intersect(frame).Empty() {
		return CropRegion{}, false
	}

	w, h := r.W, r.H
	if w > width || h > height {
		scale := min(float64(width)/float64(w), float64(height)/float64(h))
		w = min(width, max(1, int(math.Floor(float64(w)*scale+1e-6))))
		h = min(height, max(1, int(math.Floor(float64(h)*scale+1e-6))))
	}

	cx, cy := r.Center()
	x := min(max(int(math.Floor(cx-float64(w)/2)), 0), width-w)
	y := min(max(int(math.Floor(cy-float64(h)/2)), 0), height-h)
	return CropRegion{X: x, Y: y, W: w, H: h}, true
}

func (r CropRegion) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.W, r.H)
}

// RegionSequence holds one CropRegion per frame index.
type RegionSequence []CropRegion

// Face selection strategies for the ROI estimator.
const (
	SelectionEnvelope = "envelope" // frame every detected face
	SelectionPrimary  = "primary"  // frame the single most prominent face
)

// OutputSpec is the per-job configuration. It is not modified while a job runs.
type OutputSpec struct {
	TargetWidth             int
	TargetHeight            int
	SmoothingWindow         int
	PaddingFactor           float64
	FaceDetectionConfidence float64
	Selection               string
}

// DefaultOutputSpec returns the 1080x1920 vertical defaults.
func DefaultOutputSpec() OutputSpec {
	return OutputSpec{
		TargetWidth:             1080,
		TargetHeight:            1920,
		SmoothingWindow:         30,
		PaddingFactor:           1.6,
		FaceDetectionConfidence: 0.5,
		Selection:               SelectionEnvelope,
	}
}

// AspectRatio is TargetWidth / TargetHeight.
func (s OutputSpec) AspectRatio() float64 {
	return float64(s.TargetWidth) / float64(s.TargetHeight)
}

// Validate rejects values the pipeline cannot work with.
func (s OutputSpec) Validate() error {
	if s.TargetWidth <= 0 || s.TargetHeight <= 0 {
		return fmt.Errorf("target size must be positive, got %dx%d", s.TargetWidth, s.TargetHeight)
	}
	// rawvideo -> yuv420p needs even dimensions
	if s.TargetWidth%2 != 0 || s.TargetHeight%2 != 0 {
		return fmt.Errorf("target size must be even, got %dx%d", s.TargetWidth, s.TargetHeight)
	}
	if s.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing window must be at least 1, got %d", s.SmoothingWindow)
	}
	if s.PaddingFactor < 1.0 {
		return fmt.Errorf("padding factor must be >= 1.0, got %f", s.PaddingFactor)
	}
	if s.FaceDetectionConfidence < 0 || s.FaceDetectionConfidence > 1.0 {
		return fmt.Errorf("face detection confidence must be between 0.0 and 1.0, got %f", s.FaceDetectionConfidence)
	}
	switch s.Selection {
	case "", SelectionEnvelope, SelectionPrimary:
	default:
		return fmt.Errorf("invalid selection '%s'. Must be 'envelope' or 'primary'", s.Selection)
	}
	return nil
}
