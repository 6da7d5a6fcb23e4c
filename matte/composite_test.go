package matte

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomImage(seed int64, w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	_, _ = rng.Read(img.Pix)
	return img
}

func TestComposite_AlphaPassthrough(t *testing.T) {
	src := randomImage(1, 37, 23)

	tests := []struct {
		name  string
		value float32
		alpha uint8
	}{
		{"全前景", 1, 255},
		{"全背景", 0, 0},
		{"中点", 0.5, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Composite(src, uniformMask(ModelSize, ModelSize, tt.value))
			require.NoError(t, err)
			for i := 3; i < len(got.Pix); i += 4 {
				require.Equal(t, tt.alpha, got.Pix[i], "alpha at pixel %d", i/4)
			}
		})
	}
}

func TestComposite_RGBPreserved(t *testing.T) {
	sizes := [][2]int{{1, 1}, {2, 2}, {640, 480}, {31, 700}}
	for _, s := range sizes {
		src := randomImage(int64(s[0]), s[0], s[1])
		mask := randomMask(int64(s[1]), ModelSize, ModelSize)

		got, err := Composite(src, Refine(mask))
		require.NoError(t, err)
		require.Equal(t, src.Bounds().Size(), got.Bounds().Size())

		for i := 0; i < len(src.Pix); i += 4 {
			require.Equal(t, src.Pix[i:i+3], got.Pix[i:i+3], "rgb at pixel %d", i/4)
		}
	}
}

func TestComposite_SourceNotModified(t *testing.T) {
	src := randomImage(2, 16, 9)
	before := append([]uint8(nil), src.Pix...)

	_, err := Composite(src, uniformMask(ModelSize, ModelSize, 0))
	require.NoError(t, err)
	assert.Equal(t, before, src.Pix)
}

func TestComposite_SubImageOrigin(t *testing.T) {
	full := randomImage(3, 40, 40)
	sub := full.SubImage(image.Rect(10, 20, 30, 25))

	got, err := Composite(sub, uniformMask(ModelSize, ModelSize, 1))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 5), got.Bounds())

	c := full.NRGBAAt(10, 20)
	assert.Equal(t, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}, got.NRGBAAt(0, 0))
}

func TestComposite_GridAlignment(t *testing.T) {
	mask := randomMask(4, ModelSize, ModelSize)

	// 原点总是精确落在掩码格点 (0,0)
	for _, size := range [][2]int{{1, 1}, {4, 4}, {160, 80}, {320, 320}} {
		got, err := Composite(randomImage(5, size[0], size[1]), mask)
		require.NoError(t, err)
		assert.Equal(t, alphaByte(float64(mask.At(0, 0))), got.Pix[3])
	}

	for _, p := range [][2]int{{0, 0}, {5, 7}, {319, 0}, {319, 319}, {100, 200}} {
		assert.Equal(t, float64(mask.At(p[0], p[1])), mask.Bilinear(float64(p[0]), float64(p[1])))
	}
}

func TestMask_Bilinear(t *testing.T) {
	m := &Mask{Width: 2, Height: 2, Pix: []float32{0, 1, 1, 1}}

	assert.InDelta(t, 0.5, m.Bilinear(0.5, 0), 1e-9)
	assert.InDelta(t, 0.5, m.Bilinear(0, 0.5), 1e-9)
	assert.InDelta(t, 0.75, m.Bilinear(0.5, 0.5), 1e-9)
	// 越界坐标夹到边缘
	assert.InDelta(t, 1, m.Bilinear(5, 5), 1e-9)
	assert.InDelta(t, 0, m.Bilinear(-1, -1), 1e-9)
}

func TestComposite_EndToEnd(t *testing.T) {
	red := solid(2, 2, color.NRGBA{R: 255, A: 255})
	raw := uniformMask(ModelSize, ModelSize, 0.5)

	refined := Refine(raw)
	for _, v := range refined.Pix {
		require.Equal(t, float32(0.5), v)
	}

	got, err := Composite(red, refined)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, color.NRGBA{R: 255, A: 128}, got.NRGBAAt(x, y))
		}
	}
}

func TestComposite_Deterministic(t *testing.T) {
	src := randomImage(6, 333, 211)
	raw := randomMask(7, ModelSize, ModelSize)

	a, err := Composite(src, Refine(raw), WithWorkers(1))
	require.NoError(t, err)
	b, err := Composite(src, Refine(raw), WithWorkers(5))
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestComposite_Invalid(t *testing.T) {
	_, err := Composite(nil, uniformMask(2, 2, 1))
	assert.Error(t, err)

	_, err = Composite(randomImage(1, 2, 2), nil)
	assert.Error(t, err)

	_, err = Composite(randomImage(1, 2, 2), &Mask{Width: 2, Height: 2, Pix: make([]float32, 3)})
	assert.Error(t, err)

	_, err = Composite(image.NewNRGBA(image.Rect(0, 0, 0, 0)), uniformMask(2, 2, 1))
	assert.Error(t, err)
}
