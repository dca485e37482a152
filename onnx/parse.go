package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrCorrupt = errors.New("onnx: corrupt model")

// ParseFile liest und parst eine .onnx-Datei
func ParseFile(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse dekodiert ein serialisiertes ModelProto. Nicht benoetigte Felder
// werden uebersprungen.
func Parse(b []byte) (*Model, error) {
	m := &Model{Opsets: map[string]int64{}}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1: // ir_version
			m.IRVersion = int64(f.v)
		case 2: // producer_name
			m.ProducerName = string(f.b)
		case 7: // graph
			g, err := parseGraph(f.b)
			if err != nil {
				return err
			}
			m.Graph = g
		case 8: // opset_import
			var domain string
			var version int64
			if err := walk(f.b, func(f field) error {
				switch f.num {
				case 1:
					domain = string(f.b)
				case 2:
					version = int64(f.v)
				}
				return nil
			}); err != nil {
				return err
			}
			m.Opsets[domain] = version
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrCorrupt)
	}
	return m, nil
}

func parseGraph(b []byte) (*Graph, error) {
	g := &Graph{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1: // node
			n, err := parseNode(f.b)
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case 2:
			g.Name = string(f.b)
		case 5: // initializer
			t, err := parseTensor(f.b)
			if err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case 11, 12: // input, output (ValueInfoProto.name = 1)
			var name string
			if err := walk(f.b, func(f field) error {
				if f.num == 1 {
					name = string(f.b)
				}
				return nil
			}); err != nil {
				return err
			}
			if f.num == 11 {
				g.Inputs = append(g.Inputs, name)
			} else {
				g.Outputs = append(g.Outputs, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return g, nil
}

func parseNode(b []byte) (*Node, error) {
	n := &Node{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, string(f.b))
		case 2:
			n.Outputs = append(n.Outputs, string(f.b))
		case 3:
			n.Name = string(f.b)
		case 4:
			n.OpType = string(f.b)
		case 5:
			a, err := parseAttribute(f.b)
			if err != nil {
				return err
			}
			n.Attrs = append(n.Attrs, a)
		case 7:
			n.Domain = string(f.b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	return n, nil
}

func parseAttribute(b []byte) (*Attribute, error) {
	a := &Attribute{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			a.Name = string(f.b)
		case 2:
			a.F = math.Float32frombits(uint32(f.v))
		case 3:
			a.I = int64(f.v)
		case 4:
			a.S = f.b
		case 5:
			t, err := parseTensor(f.b)
			if err != nil {
				return err
			}
			a.T = t
		case 7:
			return f.floats(&a.Floats)
		case 8:
			return f.int64s(&a.Ints)
		case 9:
			a.Strings = append(a.Strings, f.b)
		case 20:
			a.Type = int32(f.v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attribute: %w", err)
	}
	return a, nil
}

func parseTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.int64s(&t.Dims)
		case 2:
			t.DataType = int32(f.v)
		case 4:
			return f.floats(&t.FloatData)
		case 5:
			var v []int64
			if err := f.int64s(&v); err != nil {
				return err
			}
			for _, x := range v {
				t.Int32Data = append(t.Int32Data, int32(x))
			}
		case 7:
			return f.int64s(&t.Int64Data)
		case 8:
			t.Name = string(f.b)
		case 9:
			t.RawData = f.b
		case 10:
			return f.doubles(&t.DoubleData)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	return t, nil
}

// ============================================================================
// Wire-Hilfen
// ============================================================================

type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// int64s liest ein repeated int64-Feld, gepackt oder einzeln
func (f field) int64s(dst *[]int64) error {
	if f.typ == protowire.VarintType {
		*dst = append(*dst, int64(f.v))
		return nil
	}
	p := f.b
	for len(p) > 0 {
		v, n := protowire.ConsumeVarint(p)
		if n < 0 {
			return fmt.Errorf("%w: packed varint: %v", ErrCorrupt, protowire.ParseError(n))
		}
		*dst = append(*dst, int64(v))
		p = p[n:]
	}
	return nil
}

func (f field) floats(dst *[]float32) error {
	if f.typ == protowire.Fixed32Type {
		*dst = append(*dst, math.Float32frombits(uint32(f.v)))
		return nil
	}
	p := f.b
	for len(p) > 0 {
		v, n := protowire.ConsumeFixed32(p)
		if n < 0 {
			return fmt.Errorf("%w: packed float: %v", ErrCorrupt, protowire.ParseError(n))
		}
		*dst = append(*dst, math.Float32frombits(v))
		p = p[n:]
	}
	return nil
}

func (f field) doubles(dst *[]float64) error {
	if f.typ == protowire.Fixed64Type {
		*dst = append(*dst, math.Float64frombits(f.v))
		return nil
	}
	p := f.b
	for len(p) > 0 {
		v, n := protowire.ConsumeFixed64(p)
		if n < 0 {
			return fmt.Errorf("%w: packed double: %v", ErrCorrupt, protowire.ParseError(n))
		}
		*dst = append(*dst, math.Float64frombits(v))
		p = p[n:]
	}
	return nil
}
