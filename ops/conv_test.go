package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func TestConvOnes(t *testing.T) {
	x := f32(t, seq(9), 1, 1, 3, 3)
	w := f32(t, []float32{1, 1, 1, 1}, 1, 1, 2, 2)
	b := f32(t, []float32{0.5}, 1)

	y := run(t, netdef.NewOp("Conv", []string{"x", "w", "b"}, []string{"y"}), x, w, b)[0]
	assert.Equal(t, []int{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{12.5, 16.5, 24.5, 28.5}, y.Floats())
}

func TestConvPaddingStride(t *testing.T) {
	x := f32(t, seq(4), 1, 1, 2, 2)
	w := f32(t, []float32{1}, 1, 1, 1, 1)

	// 1x1-Kernel mit Padding 1 und Stride 2: Ecken landen im Padding
	y := run(t, netdef.NewOp("Conv", []string{"x", "w"}, []string{"y"},
		netdef.IntArg("pad", 1), netdef.IntArg("stride", 2)), x, w)[0]
	assert.Equal(t, []int{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{0, 0, 0, 4}, y.Floats())
}

func TestConvGroups(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 10, 20, 30, 40}, 1, 2, 2, 2)
	w := f32(t, []float32{1, 2}, 2, 1, 1, 1)

	y := run(t, netdef.NewOp("Conv", []string{"x", "w"}, []string{"y"}, netdef.IntArg("group", 2)), x, w)[0]
	assert.Equal(t, []float32{1, 2, 3, 4, 20, 40, 60, 80}, y.Floats())
}

func TestConvKernelMismatch(t *testing.T) {
	k, err := Default().Lookup(netdef.NewOp("Conv", []string{"x", "w"}, []string{"y"}, netdef.IntArg("kernel", 3)))
	require.NoError(t, err)

	x := f32(t, seq(9), 1, 1, 3, 3)
	w := f32(t, []float32{1, 1, 1, 1}, 1, 1, 2, 2)
	err = NewContext([]*ml.Tensor{x, w}, []*ml.Tensor{ml.NewTensor(ml.DTypeF32)}).Run(k)
	assert.ErrorIs(t, err, ml.ErrShape)
}

func TestPooling(t *testing.T) {
	x := f32(t, seq(16), 1, 1, 4, 4)

	y := run(t, netdef.NewOp("MaxPool", []string{"x"}, []string{"y"}, netdef.IntArg("kernel", 2), netdef.IntArg("stride", 2)), x)[0]
	assert.Equal(t, []int{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{6, 8, 14, 16}, y.Floats())

	y = run(t, netdef.NewOp("AveragePool", []string{"x"}, []string{"y"}, netdef.IntArg("kernel", 2), netdef.IntArg("stride", 2)), x)[0]
	assert.Equal(t, []float32{3.5, 5.5, 11.5, 13.5}, y.Floats())

	y = run(t, netdef.NewOp("AveragePool", []string{"x"}, []string{"y"}, netdef.IntArg("global_pooling", 1)), x)[0]
	assert.Equal(t, []int{1, 1, 1, 1}, y.Shape())
	assert.Equal(t, []float32{8.5}, y.Floats())
}

func TestAveragePoolPadding(t *testing.T) {
	x := f32(t, []float32{4, 4, 4, 4}, 1, 1, 2, 2)

	excl := run(t, netdef.NewOp("AveragePool", []string{"x"}, []string{"y"},
		netdef.IntArg("kernel", 2), netdef.IntArg("pad", 1), netdef.IntArg("stride", 2)), x)[0]
	assert.Equal(t, []float32{4, 4, 4, 4}, excl.Floats())

	incl := run(t, netdef.NewOp("AveragePool", []string{"x"}, []string{"y"},
		netdef.IntArg("kernel", 2), netdef.IntArg("pad", 1), netdef.IntArg("stride", 2),
		netdef.IntArg("count_include_pad", 1)), x)[0]
	assert.Equal(t, []float32{1, 1, 1, 1}, incl.Floats())
}

func TestPoolCeilMode(t *testing.T) {
	x := f32(t, seq(25), 1, 1, 5, 5)
	y := run(t, netdef.NewOp("MaxPool", []string{"x"}, []string{"y"},
		netdef.IntArg("kernel", 2), netdef.IntArg("stride", 2), netdef.IntArg("legacy_pad", 3)), x)[0]
	assert.Equal(t, []int{1, 1, 3, 3}, y.Shape())
	assert.Equal(t, float32(25), y.Floats()[8])
}

func TestSpatialBN(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4}, 1, 2, 1, 2)
	scale := f32(t, []float32{2, 1}, 2)
	bias := f32(t, []float32{0, 1}, 2)
	mean := f32(t, []float32{1, 3}, 2)
	variance := f32(t, []float32{1, 4}, 2)

	y := run(t, netdef.NewOp("SpatialBN", []string{"x", "s", "b", "m", "v"}, []string{"y"},
		netdef.IntArg("is_test", 1), netdef.FloatArg("epsilon", 0)), x, scale, bias, mean, variance)[0]
	assert.InDeltaSlice(t, []float32{0, 2, 1, 1.5}, y.Floats(), 1e-6)
}

func TestParseWindowErrors(t *testing.T) {
	_, err := parseWindow(netdef.NewOp("Conv", nil, nil, netdef.StringArg("order", "NHWC")))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = parseWindow(netdef.NewOp("Conv", nil, nil, netdef.IntsArg("pads", 1, 1)))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = parseWindow(netdef.NewOp("Conv", nil, nil, netdef.IntArg("stride", 0)))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
