// fill.go - Fill-Operatoren fuer Konstanten und Gewichte (Init-Netze)
package ops

import (
	"fmt"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func init() {
	Register("ConstantFill", newConstantFill)
	Register("GivenTensorFill", newGivenTensorFill)
	Register("GivenTensorDoubleFill", newGivenTensorFill)
	Register("GivenTensorIntFill", newGivenTensorIntFill)
	Register("GivenTensorInt64Fill", newGivenTensorIntFill)
	Register("GivenTensorByteStringToUInt8Fill", newByteStringFill)
}

// ConstantFill: Tensor mit einem festen Wert. Die Shape kommt aus "shape",
// aus Eingabe 0 (als Vorlage) oder bei input_as_shape=1 aus deren Inhalt.
func newConstantFill(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 0, 1); err != nil {
		return nil, err
	}

	dtype := netdef.DType(int64(op.Int("dtype", int(netdef.TypeFloat))))
	if !dtype.Supported() {
		return nil, fmt.Errorf("%w: ConstantFill dtype %d", ml.ErrDType, op.Int("dtype", 0))
	}

	value := op.Float("value", 0)
	shape := op.Ints("shape")
	extra := op.Ints("extra_shape")
	asShape := op.Int("input_as_shape", 0) == 1
	hasInput := len(op.Inputs) == 1

	return KernelFunc(func(ctx *Context) error {
		dims := shape
		if hasInput {
			in := ctx.Input(0)
			if asShape {
				vals, err := in.AsFloat32()
				if err != nil {
					return err
				}
				dims = make([]int, len(vals))
				for i, v := range vals {
					dims[i] = int(v)
				}
			} else {
				dims = in.Shape()
			}
		}
		dims = append(append([]int(nil), dims...), extra...)
		if !ml.ValidShape(dims) {
			return fmt.Errorf("%w: ConstantFill shape %v", ml.ErrShape, dims)
		}

		values := make([]float32, ml.Numel(dims))
		for i := range values {
			values[i] = value
		}
		t, err := ml.FromFloat32(dtype, values, dims...)
		if err != nil {
			return err
		}
		ctx.SetOutput(0, t)
		return nil
	}), nil
}

// GivenTensorFill / GivenTensorDoubleFill: Werte aus "values" (float)
func newGivenTensorFill(op *netdef.OperatorDef) (Kernel, error) {
	shape, err := fillShape(op)
	if err != nil {
		return nil, err
	}

	dtype := ml.DTypeF32
	if op.Type == "GivenTensorDoubleFill" {
		dtype = ml.DTypeF64
	}

	t, err := ml.FromFloat32(dtype, op.Floats("values"), shape...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Type, err)
	}
	return constant(t), nil
}

// GivenTensorIntFill / GivenTensorInt64Fill: Werte aus "values" (int)
func newGivenTensorIntFill(op *netdef.OperatorDef) (Kernel, error) {
	shape, err := fillShape(op)
	if err != nil {
		return nil, err
	}

	var vals []int64
	if a := op.Arg("values"); a != nil {
		vals = a.Ints
	}
	if len(vals) != ml.Numel(shape) {
		return nil, fmt.Errorf("%w: %s has %d values for shape %v", ml.ErrShape, op.Type, len(vals), shape)
	}

	var t *ml.Tensor
	if op.Type == "GivenTensorInt64Fill" {
		t = ml.NewTensor(ml.DTypeI64, shape...)
		copy(t.Int64s(), vals)
	} else {
		t = ml.NewTensor(ml.DTypeI32, shape...)
		for i, v := range vals {
			t.Int32s()[i] = int32(v)
		}
	}
	return constant(t), nil
}

// GivenTensorByteStringToUInt8Fill: ein einzelner Byte-String in "values"
func newByteStringFill(op *netdef.OperatorDef) (Kernel, error) {
	shape, err := fillShape(op)
	if err != nil {
		return nil, err
	}

	vals := op.Strings("values")
	if len(vals) != 1 {
		return nil, fmt.Errorf("%w: %s expects exactly one byte string", ErrInvalidArgument, op.Type)
	}

	dtype := ml.DTypeU8
	if op.Int("dtype", int(netdef.TypeUint8)) == int(netdef.TypeInt8) {
		dtype = ml.DTypeI8
	}

	if len(vals[0]) != ml.Numel(shape) {
		return nil, fmt.Errorf("%w: %s has %d bytes for shape %v", ml.ErrShape, op.Type, len(vals[0]), shape)
	}
	t := ml.NewTensor(dtype, shape...)
	copy(t.Bytes(), vals[0])
	return constant(t), nil
}

func fillShape(op *netdef.OperatorDef) ([]int, error) {
	if err := requireInputs(op, 0, 0); err != nil {
		return nil, err
	}
	shape := op.Ints("shape")
	if !ml.ValidShape(shape) {
		return nil, fmt.Errorf("%w: %s shape %v", ml.ErrShape, op.Type, shape)
	}
	return shape, nil
}

// constant schreibt bei jedem Lauf eine Kopie von t in Ausgabe 0
func constant(t *ml.Tensor) Kernel {
	return KernelFunc(func(ctx *Context) error {
		ctx.SetOutput(0, t)
		return nil
	})
}
