// translate.go - Uebersetzung eines ONNX-Graphen in ein (init, predict) NetDef-Paar
//
// Initializer und Constant-Knoten werden zu Fill-Operatoren im Init-Netz,
// alle anderen Knoten zu Operatoren im Predict-Netz. Shape-abhaengige
// Knoten ohne konstante Eingaben werden abgelehnt.
package onnx

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

type translator struct {
	model     *Model
	init      *netdef.NetDef
	predict   *netdef.NetDef
	constants map[string]*ml.Tensor
	tmp       int
}

// Translate erzeugt Init- und Predict-Netz aus m
func Translate(m *Model) (initNet, predictNet *netdef.NetDef, err error) {
	if m == nil || m.Graph == nil {
		return nil, nil, fmt.Errorf("%w: model has no graph", ErrCorrupt)
	}

	g := m.Graph
	tr := &translator{
		model:     m,
		init:      &netdef.NetDef{Name: g.Name + "_init"},
		predict:   &netdef.NetDef{Name: g.Name},
		constants: make(map[string]*ml.Tensor),
	}

	for _, t := range g.Initializers {
		if err := tr.addConstant(t.Name, t); err != nil {
			return nil, nil, err
		}
	}

	for _, node := range g.Nodes {
		if node.Domain != "" && node.Domain != "ai.onnx" {
			return nil, nil, fmt.Errorf("%w: node %q: domain %q", ErrUnsupported, node.Name, node.Domain)
		}
		if err := tr.node(node); err != nil {
			return nil, nil, fmt.Errorf("node %q (%s): %w", node.Name, node.OpType, err)
		}
	}

	for _, name := range g.Inputs {
		if _, ok := tr.constants[name]; !ok {
			tr.predict.ExternalInputs = append(tr.predict.ExternalInputs, name)
		}
	}
	tr.predict.ExternalOutputs = slices.Clone(g.Outputs)

	slog.Debug("onnx translated", "graph", g.Name, "opset", m.Opset(),
		"init_ops", len(tr.init.Ops), "predict_ops", len(tr.predict.Ops))
	return tr.init, tr.predict, nil
}

// addConstant legt einen Fill-Operator im Init-Netz an
func (tr *translator) addConstant(name string, t *Tensor) error {
	value, err := t.ToTensor()
	if err != nil {
		return err
	}

	tr.constants[name] = value
	tr.init.Ops = append(tr.init.Ops, FillOp(name, value))
	tr.init.ExternalOutputs = append(tr.init.ExternalOutputs, name)
	return nil
}

// FillOp erzeugt den passenden GivenTensor*Fill-Operator fuer t
func FillOp(name string, t *ml.Tensor) *netdef.OperatorDef {
	shape := netdef.ShapeArg(t.Shape()...)
	out := []string{name}

	switch t.DType() {
	case ml.DTypeI32:
		vals := make([]int64, t.Numel())
		for i, v := range t.Int32s() {
			vals[i] = int64(v)
		}
		return netdef.NewOp("GivenTensorIntFill", nil, out, shape, netdef.IntsArg("values", vals...))
	case ml.DTypeI64:
		return netdef.NewOp("GivenTensorInt64Fill", nil, out, shape, netdef.IntsArg("values", slices.Clone(t.Int64s())...))
	case ml.DTypeF64:
		vals := make([]float32, t.Numel())
		for i, v := range t.Float64s() {
			vals[i] = float32(v)
		}
		return netdef.NewOp("GivenTensorDoubleFill", nil, out, shape, netdef.FloatsArg("values", vals...))
	case ml.DTypeU8, ml.DTypeI8:
		return netdef.NewOp("GivenTensorByteStringToUInt8Fill", nil, out, shape,
			netdef.StringsArg("values", string(t.Bytes())),
			netdef.IntArg("dtype", netdef.TypeCode(t.DType())))
	default:
		vals, _ := t.AsFloat32()
		return netdef.NewOp("GivenTensorFill", nil, out, shape, netdef.FloatsArg("values", slices.Clone(vals)...))
	}
}

func (tr *translator) emit(op *netdef.OperatorDef, name string) {
	op.Name = name
	tr.predict.Ops = append(tr.predict.Ops, op)
}

func (tr *translator) temp(base string) string {
	tr.tmp++
	return fmt.Sprintf("%s__tmp%d", base, tr.tmp)
}

// constInts liest eine konstante Ganzzahl-Eingabe (Reshape-Shape, Clip-Grenzen)
func (tr *translator) constInts(name string) ([]int64, bool) {
	t, ok := tr.constants[name]
	if !ok {
		return nil, false
	}
	switch t.DType() {
	case ml.DTypeI64:
		return t.Int64s(), true
	case ml.DTypeI32:
		out := make([]int64, t.Numel())
		for i, v := range t.Int32s() {
			out[i] = int64(v)
		}
		return out, true
	}
	return nil, false
}

func (tr *translator) constFloat(name string) (float32, bool) {
	t, ok := tr.constants[name]
	if !ok || t.Numel() != 1 {
		return 0, false
	}
	vals, err := t.AsFloat32()
	if err != nil {
		return 0, false
	}
	return vals[0], true
}

func input(n *Node, i int) string {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return ""
}

// ============================================================================
// Knoten-Abbildung
// ============================================================================

func (tr *translator) node(n *Node) error {
	in, out := n.Inputs, n.Outputs
	if len(out) == 0 || (len(in) == 0 && n.OpType != "Constant") {
		return fmt.Errorf("%w: node without inputs or outputs", ErrCorrupt)
	}

	switch n.OpType {
	case "Constant":
		a := n.Attr("value")
		if a == nil || a.T == nil {
			return fmt.Errorf("%w: Constant without tensor value", ErrUnsupported)
		}
		return tr.addConstant(out[0], a.T)

	case "Relu", "Sigmoid", "Tanh", "Sum":
		tr.emit(netdef.NewOp(n.OpType, in, out), n.Name)

	case "Identity":
		tr.emit(netdef.NewOp("Copy", in, out), n.Name)

	case "Add", "Sub", "Mul", "Div":
		tr.emit(netdef.NewOp(n.OpType, in, out, netdef.IntArg("broadcast", 1)), n.Name)

	case "LeakyRelu":
		tr.emit(netdef.NewOp("LeakyRelu", in, out, netdef.FloatArg("alpha", n.Float("alpha", 0.01))), n.Name)

	case "Softmax":
		axis := int64(1)
		if tr.model.Opset() >= 13 {
			axis = -1
		}
		tr.emit(netdef.NewOp("Softmax", in, out, netdef.IntArg("axis", n.Int("axis", axis))), n.Name)

	case "Clip":
		lo, hi := n.Float("min", -math.MaxFloat32), n.Float("max", math.MaxFloat32)
		if v := input(n, 1); v != "" {
			f, ok := tr.constFloat(v)
			if !ok {
				return fmt.Errorf("%w: non-constant min", ErrUnsupported)
			}
			lo = f
		}
		if v := input(n, 2); v != "" {
			f, ok := tr.constFloat(v)
			if !ok {
				return fmt.Errorf("%w: non-constant max", ErrUnsupported)
			}
			hi = f
		}
		tr.emit(netdef.NewOp("Clip", in[:1], out, netdef.FloatArg("min", lo), netdef.FloatArg("max", hi)), n.Name)

	case "MatMul":
		tr.emit(netdef.NewOp("MatMul", in, out), n.Name)

	case "Gemm":
		return tr.gemm(n)

	case "Conv":
		args, err := convArgs(n)
		if err != nil {
			return err
		}
		if g := n.Int("group", 1); g != 1 {
			args = append(args, netdef.IntArg("group", g))
		}
		tr.emit(netdef.NewOp("Conv", in, out, args...), n.Name)

	case "MaxPool", "AveragePool":
		if len(out) > 1 {
			return fmt.Errorf("%w: pooling indices output", ErrUnsupported)
		}
		args, err := convArgs(n)
		if err != nil {
			return err
		}
		if n.OpType == "AveragePool" {
			args = append(args, netdef.IntArg("count_include_pad", n.Int("count_include_pad", 0)))
		}
		tr.emit(netdef.NewOp(n.OpType, in, out, args...), n.Name)

	case "GlobalAveragePool":
		tr.emit(netdef.NewOp("AveragePool", in, out, netdef.IntArg("global_pooling", 1)), n.Name)

	case "GlobalMaxPool":
		tr.emit(netdef.NewOp("MaxPool", in, out, netdef.IntArg("global_pooling", 1)), n.Name)

	case "BatchNormalization":
		tr.emit(netdef.NewOp("SpatialBN", in, out[:1],
			netdef.IntArg("is_test", 1),
			netdef.FloatArg("epsilon", n.Float("epsilon", 1e-5))), n.Name)

	case "Flatten":
		tr.emit(netdef.NewOp("Flatten", in, out, netdef.IntArg("axis", n.Int("axis", 1))), n.Name)

	case "Reshape":
		if shape, ok := tr.constInts(input(n, 1)); ok {
			tr.emit(netdef.NewOp("Reshape", in[:1], out, netdef.IntsArg("shape", shape...)), n.Name)
		} else if a := n.Attr("shape"); a != nil {
			tr.emit(netdef.NewOp("Reshape", in[:1], out, netdef.IntsArg("shape", a.Ints...)), n.Name)
		} else {
			tr.emit(netdef.NewOp("Reshape", in, out), n.Name)
		}

	case "Concat":
		tr.emit(netdef.NewOp("Concat", in, out, netdef.IntArg("axis", n.Int("axis", 1))), n.Name)

	case "Transpose":
		var args []*netdef.Argument
		if perm := n.Ints("perm"); perm != nil {
			args = append(args, netdef.IntsArg("axes", perm...))
		}
		tr.emit(netdef.NewOp("Transpose", in, out, args...), n.Name)

	case "Dropout":
		tr.emit(netdef.NewOp("Dropout", in[:1], out, netdef.IntArg("is_test", 1)), n.Name)

	case "Cast":
		to := netdef.TypeCode(dtypeOf(int32(n.Int("to", int64(TypeFloat)))))
		if to == netdef.TypeUndefined {
			return fmt.Errorf("%w: cast to %d", ErrUnsupported, n.Int("to", 0))
		}
		tr.emit(netdef.NewOp("Cast", in, out, netdef.IntArg("to", to)), n.Name)

	default:
		return fmt.Errorf("%w: operator %s", ErrUnsupported, n.OpType)
	}
	return nil
}

// gemm: Y = alpha * A' * B' + beta * C
func (tr *translator) gemm(n *Node) error {
	alpha, beta := n.Float("alpha", 1), n.Float("beta", 1)
	transA, transB := n.Int("transA", 0), n.Int("transB", 0)
	a, b, c := input(n, 0), input(n, 1), input(n, 2)
	y := n.Outputs[0]

	if transA == 0 && transB == 1 && alpha == 1 && beta == 1 && c != "" {
		tr.emit(netdef.NewOp("FC", []string{a, b, c}, []string{y}), n.Name)
		return nil
	}

	mm := y
	if alpha != 1 || c != "" {
		mm = tr.temp(y)
	}
	tr.emit(netdef.NewOp("MatMul", []string{a, b}, []string{mm},
		netdef.IntArg("trans_a", transA), netdef.IntArg("trans_b", transB)), n.Name)

	if alpha != 1 {
		scaled := y
		if c != "" {
			scaled = tr.temp(y)
		}
		tr.emit(netdef.NewOp("Scale", []string{mm}, []string{scaled}, netdef.FloatArg("scale", alpha)), n.Name+"/alpha")
		mm = scaled
	}

	if c != "" {
		bias := c
		if beta != 1 {
			bias = tr.temp(y)
			tr.emit(netdef.NewOp("Scale", []string{c}, []string{bias}, netdef.FloatArg("scale", beta)), n.Name+"/beta")
		}
		tr.emit(netdef.NewOp("Add", []string{mm, bias}, []string{y}, netdef.IntArg("broadcast", 1)), n.Name+"/bias")
	}
	return nil
}

// convArgs uebersetzt kernel_shape, strides, pads und dilations
func convArgs(n *Node) ([]*netdef.Argument, error) {
	var args []*netdef.Argument

	switch pad := n.String("auto_pad", "NOTSET"); pad {
	case "NOTSET", "VALID", "":
	default:
		return nil, fmt.Errorf("%w: auto_pad %s", ErrUnsupported, pad)
	}

	if k := n.Ints("kernel_shape"); k != nil {
		args = append(args, netdef.IntsArg("kernels", k...))
	}
	if s := n.Ints("strides"); s != nil {
		args = append(args, netdef.IntsArg("strides", s...))
	}
	if p := n.Ints("pads"); p != nil && n.String("auto_pad", "NOTSET") != "VALID" {
		args = append(args, netdef.IntsArg("pads", p...))
	}
	if d := n.Ints("dilations"); d != nil {
		args = append(args, netdef.IntsArg("dilations", d...))
	}
	if n.Int("ceil_mode", 0) == 1 {
		args = append(args, netdef.IntArg("ceil_mode", 1))
	}
	return args, nil
}

// dtypeOf bildet ONNX-Datentypen auf ml.DType ab
func dtypeOf(t int32) ml.DType {
	switch t {
	case TypeFloat:
		return ml.DTypeF32
	case TypeDouble:
		return ml.DTypeF64
	case TypeFloat16:
		return ml.DTypeF16
	case TypeInt32:
		return ml.DTypeI32
	case TypeInt64:
		return ml.DTypeI64
	case TypeUint8, TypeBool:
		return ml.DTypeU8
	case TypeInt8:
		return ml.DTypeI8
	default:
		return ml.DTypeOther
	}
}
