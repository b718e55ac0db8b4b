package roi

import (
	"math"

	"github.com/andresmejia3/reframe/internal/types"
)

// Weights for primary-face scoring.
const (
	sizeWeight       = 0.4
	positionWeight   = 0.3
	confidenceWeight = 0.2
	verticalWeight   = 0.1
)

// SelectPrimary picks the most prominent face: large, near the frame
// center, confidently detected and not in the bottom third.
// It returns false for an empty slice.
func SelectPrimary(faces []types.BoundingBox, frameW, frameH int) (types.BoundingBox, bool) {
	if len(faces) == 0 {
		return types.BoundingBox{}, false
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, f := range faces {
		if s := Score(f, frameW, frameH); s > bestScore {
			bestScore = s
			best = i
		}
	}
	return faces[best], true
}

// Score computes the weighted prominence of one face.
func Score(f types.BoundingBox, frameW, frameH int) float64 {
	frameArea := float64(frameW * frameH)
	if frameArea <= 0 {
		return 0
	}
	sizeScore := float64(f.Area()) / frameArea

	fx, fy := f.Center()
	mx, my := float64(frameW)/2, float64(frameH)/2
	maxDist := math.Hypot(mx, my)
	positionScore := 1.0 - math.Hypot(fx-mx, fy-my)/maxDist

	verticalBias := 1.0
	if fy > float64(frameH)*0.66 {
		verticalBias = 0.7
	}

	return sizeScore*sizeWeight +
		positionScore*positionWeight +
		f.Confidence*confidenceWeight +
		verticalBias*verticalWeight
}
