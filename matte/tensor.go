package matte

import (
	"errors"
	"image"
)

// Tensor NCHW 布局的 float32 张量
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// contrastLUT 0..255 -> clamp(v/255*1.05-0.025, 0, 1)
var contrastLUT = func() (lut [256]float32) {
	for i := range lut {
		v := float64(i)/255.0*1.05 - 0.025
		lut[i] = float32(min(max(v, 0), 1))
	}
	return lut
}()

// Encode 把任意尺寸的图片编码为模型输入张量 [1,3,320,320]
func Encode(img image.Image, r Resampler) (*Tensor, error) {
	resized, err := ResizeForModel(img, r)
	if err != nil {
		return nil, err
	}
	return ToTensor(resized), nil
}

// ResizeForModel 拉伸到 320x320，宽高比的失真由合成阶段用归一化坐标还原
func ResizeForModel(img image.Image, r Resampler) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if b := img.Bounds(); b.Dx() < 1 || b.Dy() < 1 {
		return nil, errors.New("empty image")
	}
	return r.Resize(img, ModelSize, ModelSize), nil
}

// ToTensor 把已缩放的图片写成平面布局：先全部 R，再 G，再 B
func ToTensor(img *image.NRGBA) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h

	t := &Tensor{
		Shape: [4]int{1, 3, h, w},
		Data:  make([]float32, 3*plane),
	}
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			t.Data[i] = contrastLUT[row[x*4]]
			t.Data[plane+i] = contrastLUT[row[x*4+1]]
			t.Data[2*plane+i] = contrastLUT[row[x*4+2]]
		}
	}
	return t
}
