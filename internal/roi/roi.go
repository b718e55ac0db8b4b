// Package roi turns the faces found in one frame into a single crop
// window with the output aspect ratio.
package roi

import (
	"math"

	"github.com/andresmejia3/reframe/internal/types"
)

// MinCropHeight keeps degenerate detections (tiny or zero-sized boxes)
// from producing a crop that cannot hold the aspect ratio.
const MinCropHeight = 32

// Estimate returns the crop window for one frame.
//
// With no faces the result is the centered fallback from Center. Otherwise
// the window is centered on the centroid of the face centers and sized to
// enclose every face edge, scaled by padding, then widened or heightened
// to the aspect ratio. If the envelope is larger than the frame it is
// scaled down uniformly, and finally the position is clamped into the
// frame.
func Estimate(faces []types.BoundingBox, frameW, frameH int, aspect, padding float64) types.CropRegion {
	if frameW <= 0 || frameH <= 0 || aspect <= 0 {
		return types.CropRegion{}
	}
	if len(faces) == 0 {
		return Center(frameW, frameH, aspect)
	}

	var sumX, sumY float64
	for _, f := range faces {
		cx, cy := f.Center()
		sumX += cx
		sumY += cy
	}
	cx := sumX / float64(len(faces))
	cy := sumY / float64(len(faces))

	var halfX, halfY float64
	for _, f := range faces {
		halfX = max(halfX, math.Abs(cx-float64(f.X)), math.Abs(cx-float64(f.X+f.W)))
		halfY = max(halfY, math.Abs(cy-float64(f.Y)), math.Abs(cy-float64(f.Y+f.H)))
	}

	W, H := float64(frameW), float64(frameH)
	cropW := halfX * 2 * padding
	cropH := max(halfY*2*padding, min(MinCropHeight, H))

	if cropW/cropH > aspect {
		cropH = cropW / aspect
	} else {
		cropW = cropH * aspect
	}

	// Only ever shrink size when the frame cannot hold the envelope, and
	// then in both axes so the ratio survives.
	scale := 1.0
	if cropW > W {
		scale = W / cropW
	}
	if cropH*scale > H {
		scale = H / cropH
	}
	w := max(1, trunc(cropW*scale))
	h := max(1, trunc(cropH*scale))

	x := clampInt(int(math.Floor(cx-float64(w)/2)), 0, frameW-w)
	y := clampInt(int(math.Floor(cy-float64(h)/2)), 0, frameH-h)
	return types.CropRegion{X: x, Y: y, W: w, H: h}
}

// Center is the no-face fallback: the widest aspect-correct window that
// spans the full frame height, horizontally centered. Sources narrower
// than the aspect ratio get the full width, vertically centered instead.
func Center(frameW, frameH int, aspect float64) types.CropRegion {
	if float64(frameH)*aspect <= float64(frameW) {
		w := min(frameW, max(1, int(float64(frameH)*aspect)))
		return types.CropRegion{X: (frameW - w) / 2, Y: 0, W: w, H: frameH}
	}
	h := min(frameH, max(1, int(float64(frameW)/aspect)))
	return types.CropRegion{X: 0, Y: (frameH - h) / 2, W: frameW, H: h}
}

// EstimateFor applies the face selection strategy of spec before estimating.
func EstimateFor(spec types.OutputSpec, faces []types.BoundingBox, frameW, frameH int) types.CropRegion {
	if spec.Selection == types.SelectionPrimary && len(faces) > 1 {
		if best, ok := SelectPrimary(faces, frameW, frameH); ok {
			faces = []types.BoundingBox{best}
		}
	}
	return Estimate(faces, frameW, frameH, spec.AspectRatio(), spec.PaddingFactor)
}

// trunc drops the fractional part, tolerating float error just below an integer.
func trunc(v float64) int {
	return int(math.Floor(v + 1e-6))
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}
