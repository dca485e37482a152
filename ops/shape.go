// shape.go - Shape- und Kopier-Operatoren (typunabhaengig)
package ops

import (
	"fmt"
	"slices"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func init() {
	Register("Flatten", newFlatten)
	Register("Reshape", newReshape)
	Register("Concat", newConcat)
	Register("Transpose", newTranspose)
	Register("Copy", newCopy)
	Register("Dropout", newDropout)
	Register("Cast", newCast)
}

func newFlatten(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	axis := op.Int("axis", 1)

	return KernelFunc(func(ctx *Context) error {
		x := ctx.Input(0)
		shape := x.Shape()
		ax := axis
		if ax < 0 {
			ax += len(shape)
		}
		if ax < 0 || ax > len(shape) {
			return fmt.Errorf("%w: Flatten axis %d for %v", ml.ErrShape, axis, shape)
		}

		y := ctx.Output(0, x.DType(), sizeToAxis(shape, ax), sizeFromAxis(shape, ax))
		copy(y.Bytes(), x.Bytes())
		return nil
	}), nil
}

// Reshape: 0 uebernimmt die Eingabedimension, -1 wird abgeleitet.
// Die Ziel-Shape kommt aus "shape" oder aus Eingabe 1. Die optionale
// zweite Ausgabe erhaelt die alte Shape als int64.
func newReshape(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 2); err != nil {
		return nil, err
	}
	fixed := op.Ints("shape")
	if fixed == nil && len(op.Inputs) != 2 {
		return nil, fmt.Errorf("%w: Reshape needs a shape argument or input", ErrInvalidArgument)
	}

	return KernelFunc(func(ctx *Context) error {
		x := ctx.Input(0)
		target := fixed
		if ctx.NumInputs() == 2 {
			s := ctx.Input(1)
			switch s.DType() {
			case ml.DTypeI64:
				target = make([]int, s.Numel())
				for i, v := range s.Int64s() {
					target[i] = int(v)
				}
			case ml.DTypeI32:
				target = make([]int, s.Numel())
				for i, v := range s.Int32s() {
					target[i] = int(v)
				}
			default:
				return fmt.Errorf("%w: Reshape shape input must be integer, got %s", ml.ErrDType, s.DType())
			}
		}

		old := x.Shape()
		shape, err := resolveShape(old, target)
		if err != nil {
			return err
		}

		y := ctx.Output(0, x.DType(), shape...)
		copy(y.Bytes(), x.Bytes())

		if ctx.NumOutputs() > 1 {
			o := ctx.Output(1, ml.DTypeI64, len(old))
			for i, d := range old {
				o.Int64s()[i] = int64(d)
			}
		}
		return nil
	}), nil
}

func resolveShape(old, target []int) ([]int, error) {
	shape := slices.Clone(target)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == 0:
			if i >= len(old) {
				return nil, fmt.Errorf("%w: cannot copy dimension %d of %v", ml.ErrShape, i, old)
			}
			shape[i] = old[i]
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("%w: more than one -1 in %v", ml.ErrShape, target)
			}
			infer = i
			continue
		case d < 0:
			return nil, fmt.Errorf("%w: invalid dimension in %v", ml.ErrShape, target)
		}
		known *= shape[i]
	}

	total := ml.Numel(old)
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v to %v", ml.ErrShape, old, target)
		}
		shape[infer] = total / known
	}
	if ml.Numel(shape) != total {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ml.ErrShape, old, target)
	}
	return shape, nil
}

// Concat haengt Eingaben entlang "axis" an. Die optionale zweite Ausgabe
// erhaelt die Groessen je Eingabe (int32).
func newConcat(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, len(op.Inputs)); err != nil {
		return nil, err
	}
	axis := op.Int("axis", 1)

	return KernelFunc(func(ctx *Context) error {
		first := ctx.Input(0)
		ax, err := canonicalAxis(axis, first.Rank())
		if err != nil {
			return err
		}

		shape := first.Shape()
		total := 0
		for _, in := range ctx.Inputs {
			s := in.Shape()
			if in.DType() != first.DType() || len(s) != len(shape) {
				return fmt.Errorf("%w: Concat input %s%v vs %s%v", ml.ErrShape, in.DType(), s, first.DType(), shape)
			}
			for d := range s {
				if d != ax && s[d] != shape[d] {
					return fmt.Errorf("%w: Concat input %v vs %v on axis %d", ml.ErrShape, s, shape, d)
				}
			}
			total += s[ax]
		}
		shape[ax] = total

		y := ctx.Output(0, first.DType(), shape...)
		outer := sizeToAxis(shape, ax)
		elem := first.DType().Size()
		rowOut := sizeFromAxis(shape, ax) * elem
		dst := y.Bytes()

		offset := 0
		for _, in := range ctx.Inputs {
			row := sizeFromAxis(in.Shape(), ax) * elem
			src := in.Bytes()
			for o := range outer {
				copy(dst[o*rowOut+offset:o*rowOut+offset+row], src[o*row:(o+1)*row])
			}
			offset += row
		}

		if ctx.NumOutputs() > 1 {
			info := ctx.Output(1, ml.DTypeI32, ctx.NumInputs())
			for i, in := range ctx.Inputs {
				info.Int32s()[i] = int32(in.Dim(ax))
			}
		}
		return nil
	}), nil
}

// Transpose permutiert die Achsen ueber pdevine/tensor; ohne "axes" wird umgekehrt
func newTranspose(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	axes := op.Ints("axes")

	return KernelFunc(func(ctx *Context) error {
		x := ctx.Input(0)
		perm := axes
		if perm == nil {
			perm = make([]int, x.Rank())
			for i := range perm {
				perm[i] = x.Rank() - 1 - i
			}
		}
		if len(perm) != x.Rank() {
			return fmt.Errorf("%w: Transpose axes %v for rank %d", ml.ErrShape, perm, x.Rank())
		}
		if x.Rank() < 2 {
			ctx.SetOutput(0, x)
			return nil
		}
		if x.DType() == ml.DTypeF16 {
			return fmt.Errorf("%w: Transpose does not support %s", ml.ErrDType, x.DType())
		}

		dense, err := x.Dense()
		if err != nil {
			return err
		}
		if err := dense.T(perm...); err != nil {
			return fmt.Errorf("%w: Transpose %v: %v", ml.ErrShape, perm, err)
		}
		if err := dense.Transpose(); err != nil {
			return fmt.Errorf("Transpose: %w", err)
		}

		t, err := ml.FromDense(dense)
		if err != nil {
			return err
		}
		ctx.SetOutput(0, t)
		return nil
	}), nil
}

func newCopy(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	return KernelFunc(func(ctx *Context) error {
		ctx.SetOutput(0, ctx.Input(0))
		return nil
	}), nil
}

// Dropout ist bei der Inferenz die Identitaet; die Maske ist komplett 1
func newDropout(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	return KernelFunc(func(ctx *Context) error {
		x := ctx.Input(0)
		ctx.SetOutput(0, x)
		if ctx.NumOutputs() > 1 {
			mask := ctx.Output(1, ml.DTypeU8, x.Shape()...)
			for i := range mask.Uint8s() {
				mask.Uint8s()[i] = 1
			}
		}
		return nil
	}), nil
}

func newCast(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}

	to := netdef.DType(int64(op.Int("to", int(netdef.TypeFloat))))
	if !to.Supported() {
		return nil, fmt.Errorf("%w: Cast to %d", ml.ErrDType, op.Int("to", 0))
	}

	return KernelFunc(func(ctx *Context) error {
		t, err := ctx.Input(0).Cast(to)
		if err != nil {
			return err
		}
		ctx.SetOutput(0, t)
		return nil
	}), nil
}
