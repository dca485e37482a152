// conv.go - Faltung, Pooling und Batch-Normalisierung (NCHW, 2D)
//
// Conv arbeitet ueber im2col und SGEMM je Bild und Gruppe.
package ops

import (
	"fmt"
	"math"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

func init() {
	Register("Conv", newConv)
	Register("MaxPool", newPool(false))
	Register("AveragePool", newPool(true))
	Register("SpatialBN", newSpatialBN)
}

// window beschreibt Kernel, Strides, Dilation und Padding (oben, links, unten, rechts)
type window struct {
	kernel   [2]int
	stride   [2]int
	dilation [2]int
	pads     [4]int
	global   bool
	ceil     bool
}

// pair liest eine 2D-Groesse aus der Liste name+"s", dem Skalar name
// oder name+"_h"/name+"_w"
func pair(op *netdef.OperatorDef, name string, def int) ([2]int, error) {
	if list := op.Ints(name + "s"); list != nil {
		if len(list) != 2 {
			return [2]int{}, fmt.Errorf("%w: %s expects 2 %ss, got %v", ErrInvalidArgument, op.Type, name, list)
		}
		return [2]int{list[0], list[1]}, nil
	}
	v := op.Int(name, def)
	return [2]int{op.Int(name+"_h", v), op.Int(name+"_w", v)}, nil
}

func parseWindow(op *netdef.OperatorDef) (window, error) {
	var w window
	var err error

	if order := op.String("order", "NCHW"); order != "NCHW" {
		return w, fmt.Errorf("%w: %s order %s", ErrInvalidArgument, op.Type, order)
	}

	if w.kernel, err = pair(op, "kernel", 0); err != nil {
		return w, err
	}
	if w.stride, err = pair(op, "stride", 1); err != nil {
		return w, err
	}
	if w.dilation, err = pair(op, "dilation", 1); err != nil {
		return w, err
	}

	if pads := op.Ints("pads"); pads != nil {
		if len(pads) != 4 {
			return w, fmt.Errorf("%w: %s expects 4 pads, got %v", ErrInvalidArgument, op.Type, pads)
		}
		copy(w.pads[:], pads)
	} else {
		p := op.Int("pad", 0)
		w.pads = [4]int{op.Int("pad_t", p), op.Int("pad_l", p), op.Int("pad_b", p), op.Int("pad_r", p)}
	}

	w.global = op.Int("global_pooling", 0) == 1
	w.ceil = op.Int("ceil_mode", 0) == 1 || op.Int("legacy_pad", 0) == 3

	for i := range 2 {
		if w.stride[i] <= 0 || w.dilation[i] <= 0 || w.kernel[i] < 0 {
			return w, fmt.Errorf("%w: %s kernel %v stride %v dilation %v", ErrInvalidArgument, op.Type, w.kernel, w.stride, w.dilation)
		}
	}
	for _, p := range w.pads {
		if p < 0 {
			return w, fmt.Errorf("%w: %s negative padding %v", ErrInvalidArgument, op.Type, w.pads)
		}
	}
	return w, nil
}

func outDim(in, k, s, d, p0, p1 int, ceil bool) (int, error) {
	eff := d*(k-1) + 1
	num := in + p0 + p1 - eff
	if num < 0 || k <= 0 {
		return 0, fmt.Errorf("%w: kernel %d larger than padded input %d", ml.ErrShape, eff, in+p0+p1)
	}
	out := num/s + 1
	if ceil && num%s != 0 {
		out++
		// letztes Fenster muss im Bild oder im vorderen Padding beginnen
		if (out-1)*s >= in+p0 {
			out--
		}
	}
	return out, nil
}

func (w window) output(h, wd int) (int, int, error) {
	oh, err := outDim(h, w.kernel[0], w.stride[0], w.dilation[0], w.pads[0], w.pads[2], w.ceil)
	if err != nil {
		return 0, 0, err
	}
	ow, err := outDim(wd, w.kernel[1], w.stride[1], w.dilation[1], w.pads[1], w.pads[3], w.ceil)
	if err != nil {
		return 0, 0, err
	}
	return oh, ow, nil
}

// ============================================================================
// Conv
// ============================================================================

func newConv(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 2, 3); err != nil {
		return nil, err
	}
	win, err := parseWindow(op)
	if err != nil {
		return nil, err
	}
	group := op.Int("group", 1)
	if group <= 0 {
		return nil, fmt.Errorf("%w: Conv group %d", ErrInvalidArgument, group)
	}
	hasBias := len(op.Inputs) == 3

	return KernelFunc(func(ctx *Context) error {
		x, filter := ctx.Input(0), ctx.Input(1)
		if err := requireFloat("Conv", x, filter); err != nil {
			return err
		}
		if x.Rank() != 4 || filter.Rank() != 4 {
			return fmt.Errorf("%w: Conv expects 4D input and filter, got %v and %v", ml.ErrShape, x.Shape(), filter.Shape())
		}

		n, c, h, wd := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
		m, cg, kh, kw := filter.Dim(0), filter.Dim(1), filter.Dim(2), filter.Dim(3)
		if c%group != 0 || m%group != 0 || c/group != cg {
			return fmt.Errorf("%w: Conv input %v filter %v group %d", ml.ErrShape, x.Shape(), filter.Shape(), group)
		}

		geo := win
		if geo.kernel == [2]int{0, 0} {
			geo.kernel = [2]int{kh, kw}
		}
		if geo.kernel != [2]int{kh, kw} {
			return fmt.Errorf("%w: Conv kernel %v does not match filter %v", ml.ErrShape, geo.kernel, filter.Shape())
		}
		oh, ow, err := geo.output(h, wd)
		if err != nil {
			return err
		}

		var bias []float32
		if hasBias {
			b := ctx.Input(2)
			if err := requireFloat("Conv", b); err != nil {
				return err
			}
			if b.Numel() != m {
				return fmt.Errorf("%w: Conv bias has %d elements, want %d", ml.ErrShape, b.Numel(), m)
			}
			bias = b.Floats()
		}

		y := ctx.Output(0, ml.DTypeF32, n, m, oh, ow)
		in, wts, out := x.Floats(), filter.Floats(), y.Floats()

		mg := m / group
		rows, cols := cg*kh*kw, oh*ow
		col := make([]float32, rows*cols)
		for b := range n {
			for g := range group {
				img := in[(b*c+g*cg)*h*wd : (b*c+(g+1)*cg)*h*wd]
				im2col(col, img, cg, h, wd, geo, oh, ow)

				dst := out[(b*m+g*mg)*cols : (b*m+(g+1)*mg)*cols]
				gemm(false, false, mg, cols, rows, wts[g*mg*rows:(g+1)*mg*rows], col, dst)
			}
		}

		if bias != nil {
			for b := range n {
				for j := range m {
					plane := out[(b*m+j)*cols : (b*m+j+1)*cols]
					for i := range plane {
						plane[i] += bias[j]
					}
				}
			}
		}
		return nil
	}), nil
}

// im2col entfaltet img [c, h, w] in col [c*kh*kw, oh*ow]
func im2col(col, img []float32, c, h, w int, win window, oh, ow int) {
	kh, kw := win.kernel[0], win.kernel[1]
	sh, sw := win.stride[0], win.stride[1]
	dh, dw := win.dilation[0], win.dilation[1]
	pt, pl := win.pads[0], win.pads[1]

	idx := 0
	for ci := range c {
		plane := img[ci*h*w : (ci+1)*h*w]
		for ky := range kh {
			for kx := range kw {
				for oy := range oh {
					iy := oy*sh - pt + ky*dh
					for ox := range ow {
						ix := ox*sw - pl + kx*dw
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							col[idx] = plane[iy*w+ix]
						} else {
							col[idx] = 0
						}
						idx++
					}
				}
			}
		}
	}
}

// ============================================================================
// Pooling
// ============================================================================

func newPool(average bool) Constructor {
	return func(op *netdef.OperatorDef) (Kernel, error) {
		if err := requireInputs(op, 1, 1); err != nil {
			return nil, err
		}
		win, err := parseWindow(op)
		if err != nil {
			return nil, err
		}
		if !win.global && (win.kernel[0] <= 0 || win.kernel[1] <= 0) {
			return nil, fmt.Errorf("%w: %s needs a kernel size", ErrInvalidArgument, op.Type)
		}
		includePad := op.Int("count_include_pad", 0) == 1

		return KernelFunc(func(ctx *Context) error {
			x := ctx.Input(0)
			if err := requireFloat(op.Type, x); err != nil {
				return err
			}
			if x.Rank() != 4 {
				return fmt.Errorf("%w: %s expects 4D input, got %v", ml.ErrShape, op.Type, x.Shape())
			}

			n, c, h, wd := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
			geo := win
			if geo.global {
				geo = window{kernel: [2]int{h, wd}, stride: [2]int{1, 1}, dilation: [2]int{1, 1}}
			}
			oh, ow, err := geo.output(h, wd)
			if err != nil {
				return err
			}

			y := ctx.Output(0, ml.DTypeF32, n, c, oh, ow)
			in, out := x.Floats(), y.Floats()
			for p := range n * c {
				pool(out[p*oh*ow:(p+1)*oh*ow], in[p*h*wd:(p+1)*h*wd], h, wd, oh, ow, geo, average, includePad)
			}
			return nil
		}), nil
	}
}

func pool(out, plane []float32, h, w, oh, ow int, win window, average, includePad bool) {
	kh, kw := win.kernel[0], win.kernel[1]
	sh, sw := win.stride[0], win.stride[1]
	pt, pl, pb, pr := win.pads[0], win.pads[1], win.pads[2], win.pads[3]

	for oy := range oh {
		y0 := oy*sh - pt
		y1 := min(y0+kh, h+pb)
		for ox := range ow {
			x0 := ox*sw - pl
			x1 := min(x0+kw, w+pr)
			area := (y1 - y0) * (x1 - x0)

			ys, ye := max(y0, 0), min(y1, h)
			xs, xe := max(x0, 0), min(x1, w)

			var acc float32
			if !average {
				acc = float32(math.Inf(-1))
			}
			count := 0
			for iy := ys; iy < ye; iy++ {
				for ix := xs; ix < xe; ix++ {
					v := plane[iy*w+ix]
					if average {
						acc += v
					} else {
						acc = max(acc, v)
					}
					count++
				}
			}

			switch {
			case count == 0:
				acc = 0
			case average && includePad:
				acc /= float32(area)
			case average:
				acc /= float32(count)
			}
			out[oy*ow+ox] = acc
		}
	}
}

// ============================================================================
// SpatialBN (Inferenz)
// ============================================================================

func newSpatialBN(op *netdef.OperatorDef) (Kernel, error) {
	if err := requireInputs(op, 5, 5); err != nil {
		return nil, err
	}
	eps := op.Float("epsilon", 1e-5)

	return KernelFunc(func(ctx *Context) error {
		x, scale, bias, mean, variance := ctx.Input(0), ctx.Input(1), ctx.Input(2), ctx.Input(3), ctx.Input(4)
		if err := requireFloat("SpatialBN", x, scale, bias, mean, variance); err != nil {
			return err
		}
		if x.Rank() < 2 {
			return fmt.Errorf("%w: SpatialBN expects rank >= 2, got %v", ml.ErrShape, x.Shape())
		}

		shape := x.Shape()
		n, c, inner := shape[0], shape[1], sizeFromAxis(shape, 2)
		for _, p := range []*ml.Tensor{scale, bias, mean, variance} {
			if p.Numel() != c {
				return fmt.Errorf("%w: SpatialBN parameter has %d elements, want %d", ml.ErrShape, p.Numel(), c)
			}
		}

		factor := make([]float32, c)
		shift := make([]float32, c)
		s, b, mu, v := scale.Floats(), bias.Floats(), mean.Floats(), variance.Floats()
		for j := range c {
			factor[j] = s[j] / float32(math.Sqrt(float64(v[j]+eps)))
			shift[j] = b[j] - mu[j]*factor[j]
		}

		y := ctx.Output(0, ml.DTypeF32, shape...)
		in, out := x.Floats(), y.Floats()
		for i := range n {
			for j := range c {
				off := (i*c + j) * inner
				for k := off; k < off+inner; k++ {
					out[k] = in[k]*factor[j] + shift[j]
				}
			}
		}
		return nil
	}), nil
}
