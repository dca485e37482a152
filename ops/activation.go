// activation.go - Aktivierungsfunktionen und Softmax (float32)
package ops

import (
	"math"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func init() {
	Register("Relu", simpleUnary("Relu", func(v float32) float32 { return max(v, 0) }))
	Register("Sigmoid", simpleUnary("Sigmoid", func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	}))
	Register("Tanh", simpleUnary("Tanh", func(v float32) float32 { return float32(math.Tanh(float64(v))) }))
	Register("LeakyRelu", newLeakyRelu)
	Register("Clip", newClip)
	Register("Softmax", newSoftmax)
}

// unaryFloat wendet f elementweise auf Eingabe 0 an
func unaryFloat(name string, f func(float32) float32) Kernel {
	return KernelFunc(func(ctx *Context) error {
		x := ctx.Input(0)
		if err := requireFloat(name, x); err != nil {
			return err
		}
		y := ctx.Output(0, ml.DTypeF32, x.Shape()...)
		out := y.Floats()
		for i, v := range x.Floats() {
			out[i] = f(v)
		}
		return nil
	})
}

func simpleUnary(name string, f func(float32) float32) Constructor {
	return func(op *netdef.OperatorDef) (Kernel, error) {
		if err := requireInputs(op, 1, 1); err != nil {
			return nil, err
		}
		return unaryFloat(name, f), nil
	}
}

func newLeakyRelu(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	alpha := op.Float("alpha", 0.01)

	return unaryFloat("LeakyRelu", func(v float32) float32 {
		if v < 0 {
			return v * alpha
		}
		return v
	}), nil
}

func newClip(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	lo := op.Float("min", -math.MaxFloat32)
	hi := op.Float("max", math.MaxFloat32)

	return unaryFloat("Clip", func(v float32) float32 { return min(max(v, lo), hi) }), nil
}

// Softmax normalisiert ueber alle Dimensionen ab "axis" (2D-Sicht)
func newSoftmax(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 1, 1); err != nil {
		return nil, err
	}
	axis := op.Int("axis", 1)

	return KernelFunc(func(ctx *Context) error {
		x := ctx.Input(0)
		if err := requireFloat("Softmax", x); err != nil {
			return err
		}

		ax, err := canonicalAxis(axis, x.Rank())
		if err != nil {
			return err
		}
		shape := x.Shape()
		rows, cols := sizeToAxis(shape, ax), sizeFromAxis(shape, ax)

		y := ctx.Output(0, ml.DTypeF32, shape...)
		in, out := x.Floats(), y.Floats()
		for r := range rows {
			softmaxRow(out[r*cols:(r+1)*cols], in[r*cols:(r+1)*cols])
		}
		return nil
	}), nil
}

func softmaxRow(out, in []float32) {
	if len(in) == 0 {
		return
	}
	peak := in[0]
	for _, v := range in[1:] {
		peak = max(peak, v)
	}

	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - peak))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
}
