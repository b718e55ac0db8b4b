// Package smooth stabilises a per-frame sequence of crop windows into a
// camera path. It needs the whole sequence up front because the second
// stage looks ahead half a window.
package smooth

import (
	"math"

	"github.com/andresmejia3/reframe/internal/types"
)

// Params tunes the adaptive exponential stage.
type Params struct {
	BaseAlphaPosition float64 // position factor at rest (smaller = smoother)
	MaxAlphaPosition  float64
	AlphaSize         float64 // fixed size factor, kept low against breathing
	SpeedThreshold    float64 // pixels of raw motion that double the position factor
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		BaseAlphaPosition: 0.08,
		MaxAlphaPosition:  0.5,
		AlphaSize:         0.05,
		SpeedThreshold:    30,
	}
}

// Smooth runs both stages with DefaultParams.
func Smooth(raw types.RegionSequence, window int) types.RegionSequence {
	return SmoothWith(raw, window, DefaultParams())
}

// SmoothWith runs the adaptive exponential stage followed by the centered
// triangular window. The result has exactly one region per input index.
func SmoothWith(raw types.RegionSequence, window int, p Params) types.RegionSequence {
	if len(raw) == 0 {
		return types.RegionSequence{}
	}
	return Window(Exponential(raw, p), window)
}

// Contain moves every region inside a width x height frame. Position and
// size follow the raw path at different rates, so a window that is still
// shrinking can reach past the edge. Regions that cannot be placed are
// left as they are; the renderer falls back to the whole frame for them.
func Contain(seq types.RegionSequence, width, height int) types.RegionSequence {
	out := make(types.RegionSequence, len(seq))
	for i, r := range seq {
		out[i] = r
		if width <= 0 || height <= 0 {
			continue
		}
		if c, ok := r.Clamp(width, height); ok {
			out[i] = c
		}
	}
	return out
}

// Exponential is stage one. Position follows the raw sequence with a
// factor that grows with the raw frame-to-frame motion, size follows with
// a fixed low factor. State is kept in floating point and truncated only
// when written out.
func Exponential(raw types.RegionSequence, p Params) types.RegionSequence {
	out := make(types.RegionSequence, len(raw))
	if len(raw) == 0 {
		return out
	}

	sx, sy := float64(raw[0].X), float64(raw[0].Y)
	sw, sh := float64(raw[0].W), float64(raw[0].H)
	out[0] = raw[0]

	for k := 1; k < len(raw); k++ {
		cur, prev := raw[k], raw[k-1]

		alpha := p.BaseAlphaPosition
		if p.SpeedThreshold > 0 {
			speed := math.Abs(float64(cur.X-prev.X)) + math.Abs(float64(cur.Y-prev.Y))
			alpha = min(p.MaxAlphaPosition, p.BaseAlphaPosition*(1+speed/p.SpeedThreshold))
		}

		sx = alpha*float64(cur.X) + (1-alpha)*sx
		sy = alpha*float64(cur.Y) + (1-alpha)*sy
		sw = p.AlphaSize*float64(cur.W) + (1-p.AlphaSize)*sw
		sh = p.AlphaSize*float64(cur.H) + (1-p.AlphaSize)*sh

		out[k] = types.CropRegion{X: trunc(sx), Y: trunc(sy), W: trunc(sw), H: trunc(sh)}
	}
	return out
}

// Window is stage two: a weighted average over [i-window/2, i+window/2],
// clamped to the sequence, with weights falling linearly from the center.
// The window shrinks to the sequence length for short inputs.
func Window(in types.RegionSequence, window int) types.RegionSequence {
	n := len(in)
	out := make(types.RegionSequence, n)
	if n == 0 {
		return out
	}

	effective := min(max(window, 1), n)
	half := effective / 2

	for i := 0; i < n; i++ {
		start := max(0, i-half)
		end := min(n, i+half+1)

		var x, y, w, h, total float64
		for j := start; j < end; j++ {
			weight := 1 - math.Abs(float64(i-j))/float64(effective)
			r := in[j]
			x += weight * float64(r.X)
			y += weight * float64(r.Y)
			w += weight * float64(r.W)
			h += weight * float64(r.H)
			total += weight
		}

		out[i] = types.CropRegion{
			X: trunc(x / total),
			Y: trunc(y / total),
			W: trunc(w / total),
			H: trunc(h / total),
		}
	}
	return out
}

// trunc converts to integer pixels. Values within float error of the next
// integer are taken as that integer, so a constant input stays constant.
func trunc(v float64) int {
	return int(math.Floor(v + 1e-6))
}
