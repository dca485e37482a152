// math.go - Lineare Algebra und elementweise Arithmetik
//
// FC und MatMul laufen ueber gonum blas32 (SGEMM). Add/Sub/Mul/Div
// unterstuetzen numpy-artiges Broadcasting sowie das alte caffe2-Schema
// mit broadcast=1 und "axis".
package ops

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func init() {
	Register("FC", newFC)
	Register("MatMul", newMatMul)
	Register("Add", newBinary(opAdd))
	Register("Sub", newBinary(opSub))
	Register("Mul", newBinary(opMul))
	Register("Div", newBinary(opDiv))
	Register("Sum", newSum)
	Register("Scale", newScale)
}

// gemm berechnet C = op(A) * op(B) fuer zeilenweise gespeicherte Matrizen
func gemm(transA, transB bool, m, n, k int, a, b, c []float32) {
	ta, tb := blas.NoTrans, blas.NoTrans
	ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	gb := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transA {
		ta = blas.Trans
		ga = blas32.General{Rows: k, Cols: m, Stride: m, Data: a}
	}
	if transB {
		tb = blas.Trans
		gb = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c[:m*n])
		return
	}
	blas32.Gemm(ta, tb, 1, ga, gb, 0, blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
}

// ============================================================================
// FC: Y = X * W^T + b
// ============================================================================

func newFC(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 3, 3); err != nil {
		return nil, err
	}
	axis := op.Int("axis", 1)
	axisW := op.Int("axis_w", 1)

	return KernelFunc(func(ctx *Context) error {
		x, w, b := ctx.Input(0), ctx.Input(1), ctx.Input(2)
		if err := requireFloat("FC", x, w, b); err != nil {
			return err
		}

		ax, err := canonicalAxis(axis, x.Rank())
		if err != nil {
			return err
		}
		aw, err := canonicalAxis(axisW, w.Rank())
		if err != nil {
			return err
		}

		xs, ws := x.Shape(), w.Shape()
		m, k := sizeToAxis(xs, ax), sizeFromAxis(xs, ax)
		n, kw := sizeToAxis(ws, aw), sizeFromAxis(ws, aw)
		if k != kw {
			return fmt.Errorf("%w: FC input %v does not match weights %v", ml.ErrShape, xs, ws)
		}
		if b.Numel() != n {
			return fmt.Errorf("%w: FC bias has %d elements, want %d", ml.ErrShape, b.Numel(), n)
		}

		outShape := append(append([]int(nil), xs[:ax]...), n)
		y := ctx.Output(0, ml.DTypeF32, outShape...)
		out := y.Floats()
		gemm(false, true, m, n, k, x.Floats(), w.Floats(), out)

		bias := b.Floats()
		for i := range m {
			row := out[i*n : (i+1)*n]
			for j := range row {
				row[j] += bias[j]
			}
		}
		return nil
	}), nil
}

// ============================================================================
// MatMul
// ============================================================================

func newMatMul(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 2, 2); err != nil {
		return nil, err
	}
	transA := op.Int("trans_a", 0) == 1
	transB := op.Int("trans_b", 0) == 1

	return KernelFunc(func(ctx *Context) error {
		a, b := ctx.Input(0), ctx.Input(1)
		if err := requireFloat("MatMul", a, b); err != nil {
			return err
		}
		if a.Rank() < 2 || b.Rank() < 2 {
			return fmt.Errorf("%w: MatMul needs rank >= 2, got %v and %v", ml.ErrShape, a.Shape(), b.Shape())
		}

		as, bs := a.Shape(), b.Shape()
		m, ka := as[len(as)-2], as[len(as)-1]
		if transA {
			m, ka = ka, m
		}
		kb, n := bs[len(bs)-2], bs[len(bs)-1]
		if transB {
			kb, n = n, kb
		}
		if ka != kb {
			return fmt.Errorf("%w: MatMul %v x %v", ml.ErrShape, as, bs)
		}

		batchA, batchB := ml.Numel(as[:len(as)-2]), ml.Numel(bs[:len(bs)-2])
		switch {
		case batchB == 1 && !transA:
			// Batch-Dimensionen von A in M falten
			outShape := append(append([]int(nil), as[:len(as)-1]...), n)
			y := ctx.Output(0, ml.DTypeF32, outShape...)
			gemm(false, transB, batchA*m, n, ka, a.Floats(), b.Floats(), y.Floats())
		case batchA == batchB:
			outShape := append(append([]int(nil), as[:len(as)-2]...), m, n)
			y := ctx.Output(0, ml.DTypeF32, outShape...)
			af, bf, yf := a.Floats(), b.Floats(), y.Floats()
			for i := range batchA {
				gemm(transA, transB, m, n, ka,
					af[i*m*ka:(i+1)*m*ka], bf[i*ka*n:(i+1)*ka*n], yf[i*m*n:(i+1)*m*n])
			}
		default:
			return fmt.Errorf("%w: MatMul batch dimensions %v and %v", ml.ErrShape, as, bs)
		}
		return nil
	}), nil
}

// ============================================================================
// Elementweise Arithmetik mit Broadcasting
// ============================================================================

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
)

func (o arithOp) String() string {
	return [...]string{"Add", "Sub", "Mul", "Div"}[o]
}

type number interface {
	~float32 | ~float64 | ~int32 | ~int64
}

func arith[T number](o arithOp) func(x, y T) T {
	switch o {
	case opSub:
		return func(x, y T) T { return x - y }
	case opMul:
		return func(x, y T) T { return x * y }
	case opDiv:
		return func(x, y T) T { return x / y }
	default:
		return func(x, y T) T { return x + y }
	}
}

func newBinary(o arithOp) Constructor {
	return func(op *netdef.OperatorDef) (Kernel, error) {
		if err := requireInputs(op, 2, 2); err != nil {
			return nil, err
		}
		legacy := op.Int("broadcast", 0) == 1 && op.HasArg("axis")
		axis := op.Int("axis", -1)

		return KernelFunc(func(ctx *Context) error {
			a, b := ctx.Input(0), ctx.Input(1)
			if a.DType() != b.DType() {
				return fmt.Errorf("%w: %s %s vs %s", ml.ErrDType, o, a.DType(), b.DType())
			}

			as, bs := a.Shape(), b.Shape()
			if legacy {
				var err error
				if bs, err = alignAt(as, bs, axis); err != nil {
					return err
				}
			}
			shape, err := broadcastShape(as, bs)
			if err != nil {
				return fmt.Errorf("%s: %w", o, err)
			}
			y := ctx.Output(0, a.DType(), shape...)

			switch a.DType() {
			case ml.DTypeF32:
				broadcast(y.Floats(), a.Floats(), b.Floats(), shape, as, bs, arith[float32](o))
			case ml.DTypeF64:
				broadcast(y.Float64s(), a.Float64s(), b.Float64s(), shape, as, bs, arith[float64](o))
			case ml.DTypeI32:
				if o == opDiv && hasZero(b.Int32s()) {
					return fmt.Errorf("%w: integer division by zero", ErrInvalidArgument)
				}
				broadcast(y.Int32s(), a.Int32s(), b.Int32s(), shape, as, bs, arith[int32](o))
			case ml.DTypeI64:
				if o == opDiv && hasZero(b.Int64s()) {
					return fmt.Errorf("%w: integer division by zero", ErrInvalidArgument)
				}
				broadcast(y.Int64s(), a.Int64s(), b.Int64s(), shape, as, bs, arith[int64](o))
			default:
				return fmt.Errorf("%w: %s does not support %s", ml.ErrDType, o, a.DType())
			}
			return nil
		}), nil
	}
}

func hasZero[T number](s []T) bool {
	for _, v := range s {
		if v == 0 {
			return true
		}
	}
	return false
}

// alignAt legt bs ab Achse axis ueber as (caffe2 broadcast=1)
func alignAt(as, bs []int, axis int) ([]int, error) {
	if axis < 0 {
		axis = len(as) - len(bs)
	}
	if axis < 0 || axis+len(bs) > len(as) {
		return nil, fmt.Errorf("%w: cannot align %v to %v at axis %d", ml.ErrShape, bs, as, axis)
	}
	out := make([]int, len(as))
	for i := range out {
		out[i] = 1
	}
	copy(out[axis:], bs)
	return out, nil
}

// broadcastShape berechnet die gemeinsame Shape nach numpy-Regeln
func broadcastShape(as, bs []int) ([]int, error) {
	n := max(len(as), len(bs))
	out := make([]int, n)
	for i := range n {
		da, db := dimFromEnd(as, n-1-i), dimFromEnd(bs, n-1-i)
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v and %v", ml.ErrShape, as, bs)
		}
	}
	return out, nil
}

func dimFromEnd(shape []int, i int) int {
	if i < len(shape) {
		return shape[len(shape)-1-i]
	}
	return 1
}

// broadStrides gibt Strides fuer shape auf out ausgerichtet zurueck; Achsen
// mit Groesse 1 bekommen Stride 0.
func broadStrides(shape []int, rank int) []int {
	strides := make([]int, rank)
	step := 1
	for i := rank - 1; i >= 0; i-- {
		d := dimFromEnd(shape, rank-1-i)
		if d != 1 {
			strides[i] = step
		}
		step *= d
	}
	return strides
}

func broadcast[T number](y, a, b []T, shape, as, bs []int, f func(x, y T) T) {
	if len(a) == len(y) && len(b) == len(y) {
		for i := range y {
			y[i] = f(a[i], b[i])
		}
		return
	}
	if len(b) == 1 && len(a) == len(y) {
		for i := range y {
			y[i] = f(a[i], b[0])
		}
		return
	}

	rank := len(shape)
	sa, sb := broadStrides(as, rank), broadStrides(bs, rank)
	idx := make([]int, rank)
	ia, ib := 0, 0
	for i := range y {
		y[i] = f(a[ia], b[ib])
		// Index wie ein Zaehler weiterschalten
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			ia += sa[d]
			ib += sb[d]
			if idx[d] < shape[d] {
				break
			}
			ia -= sa[d] * idx[d]
			ib -= sb[d] * idx[d]
			idx[d] = 0
		}
	}
}

// ============================================================================
// Sum und Scale
// ============================================================================

func newSum(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, len(op.Inputs)); err != nil {
		return nil, err
	}

	return KernelFunc(func(ctx *Context) error {
		first := ctx.Input(0)
		if err := requireFloat("Sum", ctx.Inputs...); err != nil {
			return err
		}
		for _, in := range ctx.Inputs[1:] {
			if in.Numel() != first.Numel() {
				return fmt.Errorf("%w: Sum inputs %v and %v differ", ml.ErrShape, first.Shape(), in.Shape())
			}
		}

		y := ctx.Output(0, ml.DTypeF32, first.Shape()...)
		out := y.Floats()
		copy(out, first.Floats())
		for _, in := range ctx.Inputs[1:] {
			for i, v := range in.Floats() {
				out[i] += v
			}
		}
		return nil
	}), nil
}

func newScale(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	scale := op.Float("scale", 1)

	return unaryFloat("Scale", func(v float32) float32 { return v * scale }), nil
}
