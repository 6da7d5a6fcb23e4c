package matte

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Composite 把精修后的掩码双线性放大到原图尺寸并写入 alpha 通道。
// 输出是原图的拷贝（非预乘），RGB 不变，只改 alpha。
func Composite(src image.Image, mask *Mask, opts ...Option) (*image.NRGBA, error) {
	if src == nil {
		return nil, errors.New("nil source image")
	}
	if mask == nil || mask.Width < 1 || mask.Height < 1 || len(mask.Pix) != mask.Width*mask.Height {
		return nil, errors.New("invalid mask")
	}
	b := src.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, errors.New("empty source image")
	}
	o := buildOptions(opts)

	dst := imaging.Clone(src)
	w0, h0 := dst.Rect.Dx(), dst.Rect.Dy()
	spanX := float64(mask.Width - 1)
	spanY := float64(mask.Height - 1)

	forEachRow(h0, o.workers, func(y int) {
		// 用 W0/H0 作分母，1 像素的图也不会除零
		my := float64(y) / float64(h0) * spanY
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w0*4]
		for x := 0; x < w0; x++ {
			mx := float64(x) / float64(w0) * spanX
			row[x*4+3] = alphaByte(mask.Bilinear(mx, my))
		}
	})
	return dst, nil
}

func alphaByte(a float64) uint8 {
	if math.IsNaN(a) {
		return 0
	}
	return uint8(math.Round(min(max(a, 0), 1) * 255))
}
