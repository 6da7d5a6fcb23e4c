package matte

import (
	"math"
	"slices"
)

const (
	// edgeFalloff 邻域权重 exp(-edgeFalloff*|n-c|)
	edgeFalloff = 5.0
	// sigmoidGain 对比度 S 曲线的陡峭程度，中心点 0.5
	sigmoidGain = 12.0
)

// Refine 对模型原始掩码做两遍处理：
//
//	1. 3x3 保边平滑（与中心值越接近的邻居权重越大），最外一圈像素保持原值
//	2. 全部像素过 1/(1+exp(-12(v-0.5))) 提升对比度
//
// 输入不会被修改，返回新的掩码，值域 [0,1]
func Refine(raw *Mask, opts ...Option) *Mask {
	o := buildOptions(opts)

	refined := smooth(raw, o.workers)
	forEachRow(refined.Height, o.workers, func(y int) {
		row := refined.Pix[y*refined.Width : (y+1)*refined.Width]
		for i, v := range row {
			row[i] = sigmoid(v)
		}
	})
	return refined
}

// smooth 写入新缓冲区，避免读到已经平滑过的邻居
func smooth(raw *Mask, workers int) *Mask {
	w, h := raw.Width, raw.Height
	out := &Mask{Width: w, Height: h, Pix: slices.Clone(raw.Pix)}

	forEachRow(h, workers, func(y int) {
		if y == 0 || y == h-1 {
			return
		}
		for x := 1; x < w-1; x++ {
			center := float64(raw.Pix[y*w+x])

			var weighted, total float64
			for ky := -1; ky <= 1; ky++ {
				row := (y + ky) * w
				for kx := -1; kx <= 1; kx++ {
					n := float64(raw.Pix[row+x+kx])
					weight := math.Exp(-math.Abs(n-center) * edgeFalloff)
					weighted += n * weight
					total += weight
				}
			}
			out.Pix[y*w+x] = float32(weighted / total)
		}
	})
	return out
}

func sigmoid(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return float32(1 / (1 + math.Exp(-sigmoidGain*(float64(v)-0.5))))
}
