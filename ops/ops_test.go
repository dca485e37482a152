package ops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func f32(t *testing.T, vals []float32, shape ...int) *ml.Tensor {
	t.Helper()
	x, err := ml.FromSlice(vals, shape...)
	require.NoError(t, err)
	return x
}

// run kompiliert op und fuehrt ihn mit frischen Ausgaben aus
func run(t *testing.T, op *netdef.OperatorDef, inputs ...*ml.Tensor) []*ml.Tensor {
	t.Helper()
	k, err := Default().Lookup(op)
	require.NoError(t, err)

	outputs := make([]*ml.Tensor, len(op.Outputs))
	for i := range outputs {
		outputs[i] = ml.NewTensor(ml.DTypeF32)
	}
	require.NoError(t, NewContext(inputs, outputs).Run(k))
	return outputs
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default().Lookup(netdef.NewOp("Sofmax", []string{"x"}, []string{"y"}))
	require.True(t, errors.Is(err, ErrUnknownOperator))
	assert.Contains(t, err.Error(), `did you mean "Softmax"`)

	_, err = Default().Lookup(netdef.NewOp("Xyzzy", nil, nil))
	require.ErrorIs(t, err, ErrUnknownOperator)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestRegistryTypes(t *testing.T) {
	types := Default().Types()
	for _, name := range []string{"FC", "Conv", "Softmax", "GivenTensorFill", "Transpose"} {
		assert.Contains(t, types, name)
	}

	r := NewRegistry()
	r.Register("Noop", newCopy)
	assert.Panics(t, func() { r.Register("Noop", newCopy) })
}

func TestFC(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	w := f32(t, []float32{1, 0, 0, 0, 1, 1}, 2, 3)
	b := f32(t, []float32{0.5, -1}, 2)

	y := run(t, netdef.NewOp("FC", []string{"x", "w", "b"}, []string{"y"}), x, w, b)[0]
	assert.Equal(t, []int{2, 2}, y.Shape())
	assert.Equal(t, []float32{1.5, 4, 4.5, 10}, y.Floats())
}

func TestFCShapeMismatch(t *testing.T) {
	k, err := Default().Lookup(netdef.NewOp("FC", []string{"x", "w", "b"}, []string{"y"}))
	require.NoError(t, err)

	x := f32(t, []float32{1, 2}, 1, 2)
	w := f32(t, []float32{1, 2, 3}, 1, 3)
	b := f32(t, []float32{0}, 1)
	err = NewContext([]*ml.Tensor{x, w, b}, []*ml.Tensor{ml.NewTensor(ml.DTypeF32)}).Run(k)
	assert.ErrorIs(t, err, ml.ErrShape)
}

func TestMatMul(t *testing.T) {
	a := f32(t, []float32{1, 2, 3, 4}, 2, 2)
	b := f32(t, []float32{5, 6, 7, 8}, 2, 2)

	y := run(t, netdef.NewOp("MatMul", []string{"a", "b"}, []string{"y"}), a, b)[0]
	assert.Equal(t, []float32{19, 22, 43, 50}, y.Floats())

	y = run(t, netdef.NewOp("MatMul", []string{"a", "b"}, []string{"y"}, netdef.IntArg("trans_b", 1)), a, b)[0]
	assert.Equal(t, []float32{17, 23, 39, 53}, y.Floats())

	// Batch-Dimensionen von A werden gefaltet
	a3 := f32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)
	y = run(t, netdef.NewOp("MatMul", []string{"a", "b"}, []string{"y"}), a3, b)[0]
	assert.Equal(t, []int{2, 2, 2}, y.Shape())
	assert.Equal(t, []float32{19, 22, 43, 50, 67, 78, 91, 106}, y.Floats())
}

func TestBinaryBroadcast(t *testing.T) {
	a := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	tests := []struct {
		name string
		op   *netdef.OperatorDef
		b    *ml.Tensor
		want []float32
	}{
		{"same shape", netdef.NewOp("Add", nil, []string{"y"}), f32(t, []float32{1, 1, 1, 1, 1, 1}, 2, 3), []float32{2, 3, 4, 5, 6, 7}},
		{"row", netdef.NewOp("Sub", nil, []string{"y"}), f32(t, []float32{1, 2, 3}, 3), []float32{0, 0, 0, 3, 3, 3}},
		{"column", netdef.NewOp("Mul", nil, []string{"y"}), f32(t, []float32{2, 10}, 2, 1), []float32{2, 4, 6, 40, 50, 60}},
		{"scalar", netdef.NewOp("Div", nil, []string{"y"}), f32(t, []float32{2}, 1), []float32{0.5, 1, 1.5, 2, 2.5, 3}},
		{"legacy axis", netdef.NewOp("Add", nil, []string{"y"}, netdef.IntArg("broadcast", 1), netdef.IntArg("axis", 0)), f32(t, []float32{10, 20}, 2), []float32{11, 12, 13, 24, 25, 26}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.op.Inputs = []string{"a", "b"}
			y := run(t, tt.op, a, tt.b)[0]
			assert.Equal(t, []int{2, 3}, y.Shape())
			assert.Equal(t, tt.want, y.Floats())
		})
	}
}

func TestBinaryIntegerDivByZero(t *testing.T) {
	a, _ := ml.FromSlice([]int32{4, 8})
	b, _ := ml.FromSlice([]int32{2, 0})

	k, err := Default().Lookup(netdef.NewOp("Div", []string{"a", "b"}, []string{"y"}))
	require.NoError(t, err)
	err = NewContext([]*ml.Tensor{a, b}, []*ml.Tensor{ml.NewTensor(ml.DTypeI32)}).Run(k)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBroadcastIncompatible(t *testing.T) {
	_, err := broadcastShape([]int{2, 3}, []int{4})
	assert.ErrorIs(t, err, ml.ErrShape)
}

func TestActivations(t *testing.T) {
	x := f32(t, []float32{-2, -0.5, 0, 3}, 4)

	y := run(t, netdef.NewOp("Relu", []string{"x"}, []string{"y"}), x)[0]
	assert.Equal(t, []float32{0, 0, 0, 3}, y.Floats())

	y = run(t, netdef.NewOp("LeakyRelu", []string{"x"}, []string{"y"}, netdef.FloatArg("alpha", 0.5)), x)[0]
	assert.Equal(t, []float32{-1, -0.25, 0, 3}, y.Floats())

	y = run(t, netdef.NewOp("Clip", []string{"x"}, []string{"y"}, netdef.FloatArg("min", -1), netdef.FloatArg("max", 1)), x)[0]
	assert.Equal(t, []float32{-1, -0.5, 0, 1}, y.Floats())

	y = run(t, netdef.NewOp("Sigmoid", []string{"x"}, []string{"y"}), x)[0]
	assert.InDelta(t, 0.5, y.Floats()[2], 1e-6)

	y = run(t, netdef.NewOp("Scale", []string{"x"}, []string{"y"}, netdef.FloatArg("scale", 2)), x)[0]
	assert.Equal(t, []float32{-4, -1, 0, 6}, y.Floats())
}

func TestInPlace(t *testing.T) {
	x := f32(t, []float32{-1, 2}, 2)
	k, err := Default().Lookup(netdef.NewOp("Relu", []string{"x"}, []string{"x"}))
	require.NoError(t, err)

	require.NoError(t, NewContext([]*ml.Tensor{x}, []*ml.Tensor{x}).Run(k))
	assert.Equal(t, []float32{0, 2}, x.Floats())
}

func TestSoftmax(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 1000, 1000, 1000}, 2, 3)
	y := run(t, netdef.NewOp("Softmax", []string{"x"}, []string{"y"}), x)[0]

	out := y.Floats()
	for r := range 2 {
		var sum float32
		for _, v := range out[r*3 : r*3+3] {
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-5)
	}
	assert.Less(t, out[0], out[1])
	assert.InDelta(t, 1.0/3, out[4], 1e-6)
}

func TestSum(t *testing.T) {
	a := f32(t, []float32{1, 2}, 2)
	b := f32(t, []float32{3, 4}, 2)
	c := f32(t, []float32{5, 6}, 2)

	y := run(t, netdef.NewOp("Sum", []string{"a", "b", "c"}, []string{"y"}), a, b, c)[0]
	assert.Equal(t, []float32{9, 12}, y.Floats())
}

func TestFills(t *testing.T) {
	y := run(t, netdef.NewOp("ConstantFill", nil, []string{"y"}, netdef.ShapeArg(2, 2), netdef.FloatArg("value", 7)))[0]
	assert.Equal(t, []float32{7, 7, 7, 7}, y.Floats())

	y = run(t, netdef.NewOp("ConstantFill", nil, []string{"y"}, netdef.ShapeArg(3),
		netdef.IntArg("value", 2), netdef.IntArg("dtype", netdef.TypeInt64)))[0]
	assert.Equal(t, []int64{2, 2, 2}, y.Int64s())

	y = run(t, netdef.NewOp("GivenTensorFill", nil, []string{"w"}, netdef.ShapeArg(1, 2), netdef.FloatsArg("values", 1, 2)))[0]
	assert.Equal(t, []int{1, 2}, y.Shape())
	assert.Equal(t, []float32{1, 2}, y.Floats())

	y = run(t, netdef.NewOp("GivenTensorIntFill", nil, []string{"i"}, netdef.ShapeArg(2), netdef.IntsArg("values", 4, 5)))[0]
	assert.Equal(t, []int32{4, 5}, y.Int32s())

	y = run(t, netdef.NewOp("GivenTensorByteStringToUInt8Fill", nil, []string{"u"}, netdef.ShapeArg(3), netdef.StringsArg("values", "\x01\x02\x03")))[0]
	assert.Equal(t, []uint8{1, 2, 3}, y.Uint8s())

	_, err := Default().Lookup(netdef.NewOp("GivenTensorFill", nil, []string{"w"}, netdef.ShapeArg(3), netdef.FloatsArg("values", 1)))
	assert.ErrorIs(t, err, ml.ErrShape)
}

func TestReshape(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	outs := run(t, netdef.NewOp("Reshape", []string{"x"}, []string{"y", "old"}, netdef.IntsArg("shape", 0, -1, 1)), x)
	assert.Equal(t, []int{2, 3, 1}, outs[0].Shape())
	assert.Equal(t, []int64{2, 3}, outs[1].Int64s())

	shape, _ := ml.FromSlice([]int64{3, -1})
	y := run(t, netdef.NewOp("Reshape", []string{"x", "s"}, []string{"y"}), x, shape)[0]
	assert.Equal(t, []int{3, 2}, y.Shape())

	_, err := resolveShape([]int{2, 3}, []int{-1, -1})
	assert.ErrorIs(t, err, ml.ErrShape)
	_, err = resolveShape([]int{2, 3}, []int{4, -1})
	assert.ErrorIs(t, err, ml.ErrShape)
}

func TestFlattenConcat(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 2, 2)
	y := run(t, netdef.NewOp("Flatten", []string{"x"}, []string{"y"}), x)[0]
	assert.Equal(t, []int{2, 4}, y.Shape())

	a := f32(t, []float32{1, 2, 3, 4}, 2, 2)
	b := f32(t, []float32{9, 8}, 2, 1)
	outs := run(t, netdef.NewOp("Concat", []string{"a", "b"}, []string{"y", "split"}), a, b)
	assert.Equal(t, []int{2, 3}, outs[0].Shape())
	assert.Equal(t, []float32{1, 2, 9, 3, 4, 8}, outs[0].Floats())
	assert.Equal(t, []int32{2, 1}, outs[1].Int32s())
}

func TestTranspose(t *testing.T) {
	x := f32(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := run(t, netdef.NewOp("Transpose", []string{"x"}, []string{"y"}), x)[0]
	assert.Equal(t, []int{3, 2}, y.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, y.Floats())
}

func TestCastDropoutCopy(t *testing.T) {
	x := f32(t, []float32{1.7, -2.2}, 2)

	y := run(t, netdef.NewOp("Cast", []string{"x"}, []string{"y"}, netdef.IntArg("to", netdef.TypeInt32)), x)[0]
	assert.Equal(t, []int32{1, -2}, y.Int32s())

	outs := run(t, netdef.NewOp("Dropout", []string{"x"}, []string{"y", "mask"}, netdef.IntArg("is_test", 1)), x)
	assert.Equal(t, x.Floats(), outs[0].Floats())
	assert.Equal(t, []uint8{1, 1}, outs[1].Uint8s())

	y = run(t, netdef.NewOp("Copy", []string{"x"}, []string{"y"}), x)[0]
	assert.Equal(t, x.Floats(), y.Floats())
	y.Floats()[0] = 0
	assert.InDelta(t, 1.7, x.Floats()[0], 1e-6)
}
