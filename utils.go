package gifenc

import (
	"image"
	"image/draw"
)

// ImageToRGBA copies any image.Image into an *image.RGBA with bounds starting at (0,0).
func ImageToRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// clampSample clamps the quantizer sampling factor from below.
// 1 — самый медленный и самый точный режим; верхней границы нет.
func clampSample(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
