package matte

import (
	"fmt"
	"image"
	"runtime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Resampler 缩放到模型输入尺寸时使用的滤波器
type Resampler string

const (
	CatmullRom Resampler = "catmullrom"
	BiLinear   Resampler = "bilinear"
	Lanczos    Resampler = "lanczos"
	Box        Resampler = "box" // 区域平均
)

// DefaultResampler 默认滤波器
const DefaultResampler = CatmullRom

// ParseResampler 解析配置中的滤波器名称，空字符串返回默认值
func ParseResampler(name string) (Resampler, error) {
	switch r := Resampler(strings.ToLower(strings.TrimSpace(name))); r {
	case "":
		return DefaultResampler, nil
	case CatmullRom, BiLinear, Lanczos, Box:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resampler %q", name)
	}
}

// Resize 把任意图片拉伸到 width x height（不保持宽高比），输出原点为 (0,0)
func (r Resampler) Resize(img image.Image, width, height int) *image.NRGBA {
	switch r {
	case BiLinear:
		return scale(draw.BiLinear, img, width, height)
	case Lanczos:
		return toNRGBA(resize.Resize(uint(width), uint(height), img, resize.Lanczos3))
	case Box:
		return imaging.Resize(img, width, height, imaging.Box)
	default:
		return scale(draw.CatmullRom, img, width, height)
	}
}

func scale(s draw.Scaler, img image.Image, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	s.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// toNRGBA 转为原点在 (0,0) 的 NRGBA，已经满足条件时直接返回
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Option 调整 Refine / Composite 的执行方式，不影响结果
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers 设置按行并行的 goroutine 数，<=0 表示 GOMAXPROCS
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// forEachRow 把 [0, height) 分成若干行带并行执行 fn；每行只写自己的输出
func forEachRow(height, workers int, fn func(y int)) {
	if workers <= 1 || height < 2 {
		for y := 0; y < height; y++ {
			fn(y)
		}
		return
	}

	workers = min(workers, height)
	band := (height + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < height; start += band {
		end := min(start+band, height)
		g.Go(func() error {
			for y := start; y < end; y++ {
				fn(y)
			}
			return nil
		})
	}
	_ = g.Wait()
}
