package onnx

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/go-caffe2/predictor/ml"
)

// ============================================================================
// Hilfsfunktionen zum Erzeugen von ModelProto-Bytes
// ============================================================================

func str(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func msg(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func varint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func floatTensor(name string, dims []int64, vals []float32) []byte {
	var b []byte
	for _, d := range dims {
		b = varint(b, 1, d)
	}
	b = varint(b, 2, int64(TypeFloat))
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = msg(b, 4, packed)
	return str(b, 8, name)
}

func rawTensor(name string, dataType int32, dims []int64, raw []byte) []byte {
	var b []byte
	for _, d := range dims {
		b = varint(b, 1, d)
	}
	b = varint(b, 2, int64(dataType))
	b = str(b, 8, name)
	return msg(b, 9, raw)
}

func intAttr(name string, v int64) []byte {
	b := str(nil, 1, name)
	b = varint(b, 3, v)
	return varint(b, 20, int64(AttrInt))
}

func node(opType, name string, inputs, outputs []string, attrs ...[]byte) []byte {
	var b []byte
	for _, in := range inputs {
		b = str(b, 1, in)
	}
	for _, out := range outputs {
		b = str(b, 2, out)
	}
	b = str(b, 3, name)
	b = str(b, 4, opType)
	for _, a := range attrs {
		b = msg(b, 5, a)
	}
	return b
}

func valueInfo(name string) []byte {
	return str(nil, 1, name)
}

func model(opset int64, graph []byte) []byte {
	b := varint(nil, 1, 8)
	b = str(b, 2, "unit-test")
	b = msg(b, 7, graph)
	return msg(b, 8, varint(nil, 2, opset))
}

// gemmGraph: y = Relu(Gemm(x, W, b, transB=1)), W und b als Initializer
func gemmGraph(extra ...[]byte) []byte {
	var g []byte
	g = msg(g, 1, node("Gemm", "fc", []string{"x", "W", "b"}, []string{"h"}, intAttr("transB", 1)))
	g = msg(g, 1, node("Relu", "relu", []string{"h"}, []string{"y"}))
	for _, n := range extra {
		g = msg(g, 1, n)
	}
	g = str(g, 2, "tiny")
	g = msg(g, 5, floatTensor("W", []int64{2, 3}, []float32{1, 2, 3, 4, 5, 6}))
	g = msg(g, 5, floatTensor("b", []int64{2}, []float32{0.5, -0.5}))
	g = msg(g, 11, valueInfo("x"))
	g = msg(g, 11, valueInfo("W"))
	g = msg(g, 11, valueInfo("b"))
	return msg(g, 12, valueInfo("y"))
}

// ============================================================================
// Tests
// ============================================================================

func TestParse(t *testing.T) {
	m, err := Parse(model(13, gemmGraph()))
	require.NoError(t, err)

	assert.Equal(t, int64(8), m.IRVersion)
	assert.Equal(t, "unit-test", m.ProducerName)
	assert.Equal(t, int64(13), m.Opset())
	assert.Equal(t, "tiny", m.Graph.Name)
	require.Len(t, m.Graph.Nodes, 2)
	assert.Equal(t, "Gemm", m.Graph.Nodes[0].OpType)
	assert.Equal(t, int64(1), m.Graph.Nodes[0].Int("transB", 0))
	assert.Equal(t, []string{"x", "W", "b"}, m.Graph.Inputs)
	assert.Equal(t, []string{"y"}, m.Graph.Outputs)

	require.Len(t, m.Graph.Initializers, 2)
	w, err := m.Graph.Initializers[0].ToTensor()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.Floats())
}

func TestParseCorrupt(t *testing.T) {
	_, err := Parse([]byte{0x3a, 0x10, 0x01})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("erwartet ErrCorrupt, bekommen %v", err)
	}

	// gueltige Bytes, aber kein Graph
	_, err = Parse(varint(nil, 1, 7))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTranslateGemmRelu(t *testing.T) {
	m, err := Parse(model(13, gemmGraph()))
	require.NoError(t, err)

	initNet, predictNet, err := Translate(m)
	require.NoError(t, err)

	assert.Equal(t, "tiny", predictNet.Name)
	assert.Equal(t, "tiny_init", initNet.Name)
	assert.Equal(t, []string{"W", "b"}, initNet.ExternalOutputs)
	assert.Equal(t, []string{"x"}, predictNet.ExternalInputs)
	assert.Equal(t, []string{"y"}, predictNet.ExternalOutputs)

	var types []string
	for _, op := range predictNet.Ops {
		types = append(types, op.Type)
	}
	if diff := cmp.Diff([]string{"FC", "Relu"}, types); diff != "" {
		t.Errorf("predict ops (-want +got):\n%s", diff)
	}

	fill := initNet.Ops[0]
	assert.Equal(t, "GivenTensorFill", fill.Type)
	assert.Equal(t, []int{2, 3}, fill.Ints("shape"))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, fill.Floats("values"))
}

func TestTranslateGemmGeneral(t *testing.T) {
	var g []byte
	alpha := str(nil, 1, "alpha")
	alpha = protowire.AppendTag(alpha, 2, protowire.Fixed32Type)
	alpha = protowire.AppendFixed32(alpha, math.Float32bits(2))
	g = msg(g, 1, node("Gemm", "g", []string{"a", "B", "c"}, []string{"y"}, intAttr("transA", 1), alpha))
	g = msg(g, 11, valueInfo("a"))
	g = msg(g, 11, valueInfo("B"))
	g = msg(g, 11, valueInfo("c"))
	g = msg(g, 12, valueInfo("y"))

	m, err := Parse(model(11, g))
	require.NoError(t, err)
	_, predictNet, err := Translate(m)
	require.NoError(t, err)

	var types []string
	for _, op := range predictNet.Ops {
		types = append(types, op.Type)
	}
	assert.Equal(t, []string{"MatMul", "Scale", "Add"}, types)
	assert.Equal(t, 1, predictNet.Ops[0].Int("trans_a", 0))
	assert.Equal(t, "y", predictNet.Ops[2].Outputs[0])
	assert.Equal(t, []string{"a", "B", "c"}, predictNet.ExternalInputs)
}

func TestTranslateReshapeConstantShape(t *testing.T) {
	shape := make([]byte, 16)
	binary.LittleEndian.PutUint64(shape[0:], uint64(1))
	binary.LittleEndian.PutUint64(shape[8:], ^uint64(0)) // -1

	var g []byte
	g = msg(g, 1, node("Reshape", "r", []string{"x", "s"}, []string{"y"}))
	g = msg(g, 5, rawTensor("s", TypeInt64, []int64{2}, shape))
	g = msg(g, 11, valueInfo("x"))
	g = msg(g, 12, valueInfo("y"))

	m, err := Parse(model(13, g))
	require.NoError(t, err)
	initNet, predictNet, err := Translate(m)
	require.NoError(t, err)

	require.Len(t, predictNet.Ops, 1)
	assert.Equal(t, []string{"x"}, predictNet.Ops[0].Inputs)
	assert.Equal(t, []int{1, -1}, predictNet.Ops[0].Ints("shape"))
	assert.Equal(t, "GivenTensorInt64Fill", initNet.Ops[0].Type)
}

func TestTranslateUnsupported(t *testing.T) {
	m, err := Parse(model(13, gemmGraph(node("NonMaxSuppression", "nms", []string{"y"}, []string{"z"}))))
	require.NoError(t, err)

	_, _, err = Translate(m)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), "NonMaxSuppression")
}

func TestHalfPrecisionWidening(t *testing.T) {
	vals := []float32{1.5, -2, 0.25}

	half := make([]byte, 0, 6)
	for _, v := range vals {
		half = binary.LittleEndian.AppendUint16(half, float16.Fromfloat32(v).Bits())
	}
	f16 := &Tensor{Name: "h", Dims: []int64{3}, DataType: TypeFloat16, RawData: half}
	got, err := f16.ToTensor()
	require.NoError(t, err)
	assert.Equal(t, ml.DTypeF32, got.DType())
	assert.Equal(t, vals, got.Floats())

	// bfloat16 sind die oberen 16 Bit von float32
	bf := make([]byte, 0, 6)
	for _, v := range vals {
		bf = binary.LittleEndian.AppendUint16(bf, uint16(math.Float32bits(v)>>16))
	}
	bf16 := &Tensor{Name: "b", Dims: []int64{3}, DataType: TypeBFloat16, RawData: bf}
	got, err = bf16.ToTensor()
	require.NoError(t, err)
	assert.Equal(t, vals, got.Floats())
}

func TestToTensorLengthMismatch(t *testing.T) {
	bad := &Tensor{Name: "w", Dims: []int64{4}, DataType: TypeFloat, FloatData: []float32{1, 2}}
	_, err := bad.ToTensor()
	assert.Error(t, err)

	unknown := &Tensor{Name: "s", Dims: []int64{1}, DataType: 8}
	_, err = unknown.ToTensor()
	assert.ErrorIs(t, err, ErrUnsupported)
}
