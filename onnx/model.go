// model.go - ONNX-Modell: Datentypen und Tensor-Dekodierung
//
// Dieses Modul enthaelt:
// - Model/Graph/Node/Attribute/Tensor als schlanke Sicht auf ModelProto
// - Konvertierung von TensorProto-Inhalten in ml.Tensor
// - Verbreiterung von FLOAT16/BFLOAT16 auf float32
package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/go-caffe2/predictor/ml"
)

var ErrUnsupported = errors.New("onnx: unsupported")

// TensorProto.DataType
const (
	TypeUndefined int32 = 0
	TypeFloat     int32 = 1
	TypeUint8     int32 = 2
	TypeInt8      int32 = 3
	TypeInt32     int32 = 6
	TypeInt64     int32 = 7
	TypeBool      int32 = 9
	TypeFloat16   int32 = 10
	TypeDouble    int32 = 11
	TypeBFloat16  int32 = 16
)

// AttributeProto.AttributeType
const (
	AttrFloat   int32 = 1
	AttrInt     int32 = 2
	AttrString  int32 = 3
	AttrTensor  int32 = 4
	AttrFloats  int32 = 6
	AttrInts    int32 = 7
	AttrStrings int32 = 8
)

// Model ist ein geparstes ModelProto
type Model struct {
	IRVersion    int64
	ProducerName string
	Opsets       map[string]int64
	Graph        *Graph
}

// Opset gibt die Version der Standard-Domain zurueck
func (m *Model) Opset() int64 {
	if v, ok := m.Opsets[""]; ok {
		return v
	}
	return m.Opsets["ai.onnx"]
}

type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	Inputs       []string
	Outputs      []string
}

type Node struct {
	Inputs  []string
	Outputs []string
	Name    string
	OpType  string
	Domain  string
	Attrs   []*Attribute
}

type Attribute struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *Tensor
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

type Tensor struct {
	Name       string
	Dims       []int64
	DataType   int32
	FloatData  []float32
	Int32Data  []int32
	Int64Data  []int64
	DoubleData []float64
	RawData    []byte
}

// ============================================================================
// Attribut-Zugriffe
// ============================================================================

func (n *Node) Attr(name string) *Attribute {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (n *Node) Int(name string, def int64) int64 {
	if a := n.Attr(name); a != nil {
		return a.I
	}
	return def
}

func (n *Node) Float(name string, def float32) float32 {
	if a := n.Attr(name); a != nil {
		return a.F
	}
	return def
}

func (n *Node) String(name, def string) string {
	if a := n.Attr(name); a != nil {
		return string(a.S)
	}
	return def
}

func (n *Node) Ints(name string) []int64 {
	if a := n.Attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// ============================================================================
// Tensor-Dekodierung
// ============================================================================

// Shape gibt die Dimensionen als []int zurueck
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		shape[i] = int(d)
	}
	return shape
}

// ToTensor dekodiert den Inhalt in einen Host-Tensor.
// FLOAT16 und BFLOAT16 werden auf float32 verbreitert.
func (t *Tensor) ToTensor() (*ml.Tensor, error) {
	shape := t.Shape()
	n := ml.Numel(shape)

	switch t.DataType {
	case TypeFloat:
		out := make([]float32, n)
		if len(t.RawData) > 0 {
			if err := t.checkRaw(n, 4); err != nil {
				return nil, err
			}
			for i := range out {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[i*4:]))
			}
		} else if err := copyExact(out, t.FloatData, t.Name); err != nil {
			return nil, err
		}
		return ml.FromSlice(out, shape...)

	case TypeFloat16, TypeBFloat16:
		bits := make([]uint16, n)
		if len(t.RawData) > 0 {
			if err := t.checkRaw(n, 2); err != nil {
				return nil, err
			}
			for i := range bits {
				bits[i] = binary.LittleEndian.Uint16(t.RawData[i*2:])
			}
		} else {
			// 16-Bit-Werte stehen in int32_data
			if len(t.Int32Data) != n {
				return nil, fmt.Errorf("tensor %q: %d values for %d elements", t.Name, len(t.Int32Data), n)
			}
			for i, v := range t.Int32Data {
				bits[i] = uint16(v)
			}
		}
		return ml.FromSlice(widen(t.DataType, bits), shape...)

	case TypeDouble:
		out := make([]float64, n)
		if len(t.RawData) > 0 {
			if err := t.checkRaw(n, 8); err != nil {
				return nil, err
			}
			for i := range out {
				out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.RawData[i*8:]))
			}
		} else if err := copyExact(out, t.DoubleData, t.Name); err != nil {
			return nil, err
		}
		return ml.FromSlice(out, shape...)

	case TypeInt32:
		out := make([]int32, n)
		if len(t.RawData) > 0 {
			if err := t.checkRaw(n, 4); err != nil {
				return nil, err
			}
			for i := range out {
				out[i] = int32(binary.LittleEndian.Uint32(t.RawData[i*4:]))
			}
		} else if err := copyExact(out, t.Int32Data, t.Name); err != nil {
			return nil, err
		}
		return ml.FromSlice(out, shape...)

	case TypeInt64:
		out := make([]int64, n)
		if len(t.RawData) > 0 {
			if err := t.checkRaw(n, 8); err != nil {
				return nil, err
			}
			for i := range out {
				out[i] = int64(binary.LittleEndian.Uint64(t.RawData[i*8:]))
			}
		} else if err := copyExact(out, t.Int64Data, t.Name); err != nil {
			return nil, err
		}
		return ml.FromSlice(out, shape...)

	case TypeUint8, TypeBool, TypeInt8:
		out := make([]uint8, n)
		if len(t.RawData) > 0 {
			if err := t.checkRaw(n, 1); err != nil {
				return nil, err
			}
			copy(out, t.RawData)
		} else {
			if len(t.Int32Data) != n {
				return nil, fmt.Errorf("tensor %q: %d values for %d elements", t.Name, len(t.Int32Data), n)
			}
			for i, v := range t.Int32Data {
				out[i] = uint8(v)
			}
		}
		if t.DataType == TypeInt8 {
			return ml.FromBytes(ml.DTypeI8, out, shape...)
		}
		return ml.FromSlice(out, shape...)
	}

	return nil, fmt.Errorf("%w: tensor %q data type %d", ErrUnsupported, t.Name, t.DataType)
}

func (t *Tensor) checkRaw(n, size int) error {
	if len(t.RawData) != n*size {
		return fmt.Errorf("tensor %q: raw data has %d bytes, want %d", t.Name, len(t.RawData), n*size)
	}
	return nil
}

func copyExact[T any](dst, src []T, name string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("tensor %q: %d values for %d elements", name, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

func widen(dataType int32, bits []uint16) []float32 {
	if dataType == TypeBFloat16 {
		return bfloat16.DecodeFloat32(ml.BytesOf(bits))
	}

	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}
