package matte

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMask(seed int64, w, h int) *Mask {
	rng := rand.New(rand.NewSource(seed))
	m := NewMask(w, h)
	for i := range m.Pix {
		m.Pix[i] = rng.Float32()
	}
	return m
}

func uniformMask(w, h int, v float32) *Mask {
	m := NewMask(w, h)
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

func TestSmooth_BorderUnchanged(t *testing.T) {
	raw := randomMask(1, ModelSize, ModelSize)
	got := smooth(raw, 4)

	for x := 0; x < ModelSize; x++ {
		require.Equal(t, raw.At(x, 0), got.At(x, 0))
		require.Equal(t, raw.At(x, ModelSize-1), got.At(x, ModelSize-1))
	}
	for y := 0; y < ModelSize; y++ {
		require.Equal(t, raw.At(0, y), got.At(0, y))
		require.Equal(t, raw.At(ModelSize-1, y), got.At(ModelSize-1, y))
	}
}

func TestSmooth_Weights(t *testing.T) {
	raw := NewMask(3, 3)
	raw.Pix[4] = 1

	got := smooth(raw, 1)

	// 中心权重 1，8 个值为 0 的邻居权重 exp(-5)
	want := 1 / (1 + 8*math.Exp(-5))
	assert.InDelta(t, want, got.At(1, 1), 1e-6)
	assert.Equal(t, float32(0), got.At(0, 0))
}

func TestSmooth_PreservesEdges(t *testing.T) {
	// 左半 0，右半 1 的阶跃
	raw := NewMask(8, 8)
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			raw.Pix[y*8+x] = 1
		}
	}

	got := smooth(raw, 1)
	for y := 1; y < 7; y++ {
		assert.Less(t, got.At(3, y), float32(0.05))
		assert.Greater(t, got.At(4, y), float32(0.95))
	}
}

func TestSmooth_InputNotModified(t *testing.T) {
	raw := randomMask(2, 16, 16)
	before := append([]float32(nil), raw.Pix...)
	_ = Refine(raw)
	assert.Equal(t, before, raw.Pix)
}

func TestRefine_Range(t *testing.T) {
	raw := randomMask(3, ModelSize, ModelSize)
	// 模型输出不保证落在 [0,1]
	raw.Pix[0] = -3
	raw.Pix[1] = 7
	raw.Pix[ModelSize*ModelSize/2] = float32(math.NaN())
	raw.Pix[ModelSize*ModelSize-1] = float32(math.Inf(1))

	got := Refine(raw)
	for i, v := range got.Pix {
		if !(v >= 0 && v <= 1) {
			t.Fatalf("value %v at %d out of [0,1]", v, i)
		}
	}
}

func TestRefine_UniformMidpoint(t *testing.T) {
	got := Refine(uniformMask(ModelSize, ModelSize, 0.5))
	for i, v := range got.Pix {
		require.Equal(t, float32(0.5), v, "at %d", i)
	}
}

func TestRefine_Uniform(t *testing.T) {
	for _, v := range []float32{0, 0.3, 0.7, 1} {
		got := Refine(uniformMask(10, 10, v))

		want := make([]float32, 100)
		s := float32(1 / (1 + math.Exp(-12*(float64(v)-0.5))))
		for i := range want {
			want[i] = s
		}
		if diff := cmp.Diff(want, got.Pix, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Errorf("Refine(uniform %v) mismatch (-want +got):\n%s", v, diff)
		}
	}
}

func TestRefine_SigmoidShape(t *testing.T) {
	assert.Equal(t, float32(0.5), sigmoid(0.5))
	assert.InDelta(t, 1/(1+math.Exp(6)), sigmoid(0), 1e-7)
	assert.InDelta(t, 1/(1+math.Exp(-6)), sigmoid(1), 1e-7)
	assert.Less(t, sigmoid(0.4), sigmoid(0.6))
	assert.Equal(t, float32(0), sigmoid(float32(math.NaN())))
}

func TestRefine_ParallelMatchesSerial(t *testing.T) {
	raw := randomMask(4, ModelSize, ModelSize)

	serial := Refine(raw, WithWorkers(1))
	parallel := Refine(raw, WithWorkers(7))
	if diff := cmp.Diff(serial.Pix, parallel.Pix); diff != "" {
		t.Errorf("parallel refine differs (-serial +parallel):\n%s", diff)
	}
}

func TestRefine_TinyMasks(t *testing.T) {
	for _, size := range [][2]int{{1, 1}, {2, 2}, {1, 5}} {
		raw := randomMask(5, size[0], size[1])
		got := Refine(raw)
		require.Len(t, got.Pix, size[0]*size[1])
		for i, v := range raw.Pix {
			assert.Equal(t, sigmoid(v), got.Pix[i])
		}
	}
}

func TestMaskFromData(t *testing.T) {
	m, err := MaskFromData(make([]float32, 6), 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Width)

	_, err = MaskFromData(make([]float32, 5), 3, 2)
	assert.Error(t, err)

	_, err = MaskFromData(nil, 0, 0)
	assert.Error(t, err)
}
