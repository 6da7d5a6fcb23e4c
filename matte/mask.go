package matte

import (
	"fmt"
	"math"
)

// ModelSize 模型固定的输入/输出边长
const ModelSize = 320

// Mask 单通道浮点掩码，行优先存储
type Mask struct {
	Width  int
	Height int
	Pix    []float32
}

// NewMask 创建全零掩码
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height),
	}
}

// MaskFromData 把模型输出包装为掩码，长度必须等于 width*height
func MaskFromData(data []float32, width, height int) (*Mask, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid mask size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("mask data has %d values, want %d (%dx%d)", len(data), width*height, width, height)
	}
	return &Mask{Width: width, Height: height, Pix: data}, nil
}

// At 返回 (x, y) 处的值
func (m *Mask) At(x, y int) float32 {
	return m.Pix[y*m.Width+x]
}

// Bilinear 在连续坐标 (fx, fy) 处做双线性插值，四个采样点都夹在掩码范围内
func (m *Mask) Bilinear(fx, fy float64) float64 {
	fx = min(max(fx, 0), float64(m.Width-1))
	fy = min(max(fy, 0), float64(m.Height-1))

	x1 := clampInt(int(math.Floor(fx)), 0, m.Width-1)
	y1 := clampInt(int(math.Floor(fy)), 0, m.Height-1)
	x2 := min(x1+1, m.Width-1)
	y2 := min(y1+1, m.Height-1)

	dx := fx - float64(x1)
	dy := fy - float64(y1)

	tl := float64(m.Pix[y1*m.Width+x1])
	tr := float64(m.Pix[y1*m.Width+x2])
	bl := float64(m.Pix[y2*m.Width+x1])
	br := float64(m.Pix[y2*m.Width+x2])

	top := tl + (tr-tl)*dx
	bottom := bl + (br-bl)*dx
	return top + (bottom-top)*dy
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
