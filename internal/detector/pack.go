package detector

import "image"

// packRGBA copies img into a tightly packed buffer, reusing dst.
func packRGBA(img *image.RGBA, dst []byte) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	rowLen := w * 4
	if cap(dst) < rowLen*h {
		dst = make([]byte, rowLen*h)
	}
	dst = dst[:rowLen*h]
	for y := 0; y < h; y++ {
		start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(dst[y*rowLen:(y+1)*rowLen], img.Pix[start:start+rowLen])
	}
	return dst
}
