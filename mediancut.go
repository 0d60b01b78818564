package gifenc

import (
	"fmt"
	"image"

	"github.com/andybons/gogif"
)

// MedianCut is an alternative Quantizer built on gogif's median-cut
// implementation. Unlike NeuQuant it preserves exact colors on inputs with
// few distinct values and ignores the sampling factor: median cut always
// scans every pixel.
type MedianCut struct {
	NumColor int // palette budget; out-of-range values fall back to 256
}

func (m MedianCut) Quantize(rgb []byte, sample int) ([]byte, []byte, error) {
	if len(rgb) < 3 || len(rgb)%3 != 0 {
		return nil, nil, fmt.Errorf("mediancut: rgb stream of %d bytes: %w", len(rgb), ErrBadBuffer)
	}
	n := len(rgb) / 3

	// Раскладываем поток в строку 1×n: медианному сечению геометрия не нужна.
	src := image.NewRGBA(image.Rect(0, 0, n, 1))
	for i, j := 0, 0; i < n; i, j = i+1, j+3 {
		o := i * 4
		src.Pix[o] = rgb[j]
		src.Pix[o+1] = rgb[j+1]
		src.Pix[o+2] = rgb[j+2]
		src.Pix[o+3] = 0xff
	}

	nc := m.NumColor
	if nc < 1 || nc > maxColors {
		nc = maxColors
	}
	dst := image.NewPaletted(src.Bounds(), nil)
	q := &gogif.MedianCutQuantizer{NumColor: nc}
	q.Quantize(dst, src.Bounds(), src, image.Point{})

	tab := make([]byte, 0, 3*len(dst.Palette))
	for _, c := range dst.Palette {
		r, g, b, _ := c.RGBA()
		tab = append(tab, byte(r>>8), byte(g>>8), byte(b>>8))
	}
	indexed := make([]byte, n)
	copy(indexed, dst.Pix)
	return tab, indexed, nil
}
