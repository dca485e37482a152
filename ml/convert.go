// convert.go - Typkonvertierung und Dense-Sichten fuer Tensoren
// Konvertiert zwischen DTypes (float16 ueber x448/float16) und pdevine/tensor.
package ml

import (
	"fmt"

	"github.com/pdevine/tensor"
	"github.com/x448/float16"
)

// AsFloat32 gibt den Inhalt als float32 zurueck. Fuer DTypeF32 ist das Ergebnis
// eine Sicht, fuer alle anderen Typen eine Kopie.
func (t *Tensor) AsFloat32() ([]float32, error) {
	switch t.dtype {
	case DTypeF32:
		return t.Floats(), nil
	case DTypeF16:
		return convert(t.Uint16s(), func(v uint16) float32 { return float16.Frombits(v).Float32() }), nil
	case DTypeF64:
		return convert(t.Float64s(), func(v float64) float32 { return float32(v) }), nil
	case DTypeI32:
		return convert(t.Int32s(), func(v int32) float32 { return float32(v) }), nil
	case DTypeI64:
		return convert(t.Int64s(), func(v int64) float32 { return float32(v) }), nil
	case DTypeU8:
		return convert(t.Uint8s(), func(v uint8) float32 { return float32(v) }), nil
	case DTypeI8:
		return convert(t.Int8s(), func(v int8) float32 { return float32(v) }), nil
	default:
		return nil, fmt.Errorf("%w: cannot convert %s to float32", ErrDType, t.dtype)
	}
}

// Cast gibt einen neuen Host-Tensor mit dtype zurueck
func (t *Tensor) Cast(dtype DType) (*Tensor, error) {
	if dtype == t.dtype {
		return t.Clone(), nil
	}

	// int64 -> int32 und aehnliche Ganzzahlpfade ohne float-Umweg
	if t.dtype == DTypeI64 && dtype == DTypeI32 {
		out := NewTensor(dtype, t.shape...)
		for i, v := range t.Int64s() {
			out.Int32s()[i] = int32(v)
		}
		return out, nil
	}
	if t.dtype == DTypeI32 && dtype == DTypeI64 {
		out := NewTensor(dtype, t.shape...)
		for i, v := range t.Int32s() {
			out.Int64s()[i] = int64(v)
		}
		return out, nil
	}

	f32, err := t.AsFloat32()
	if err != nil {
		return nil, err
	}
	return FromFloat32(dtype, f32, t.shape...)
}

// FromFloat32 erstellt einen Tensor vom Typ dtype aus float32-Werten
func FromFloat32(dtype DType, values []float32, shape ...int) (*Tensor, error) {
	out := NewTensor(dtype, shape...)
	if out.Numel() != len(values) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(values), shape)
	}

	switch dtype {
	case DTypeF32:
		copy(out.Floats(), values)
	case DTypeF16:
		fill(out.Uint16s(), values, func(v float32) uint16 { return float16.Fromfloat32(v).Bits() })
	case DTypeF64:
		fill(out.Float64s(), values, func(v float32) float64 { return float64(v) })
	case DTypeI32:
		fill(out.Int32s(), values, func(v float32) int32 { return int32(v) })
	case DTypeI64:
		fill(out.Int64s(), values, func(v float32) int64 { return int64(v) })
	case DTypeU8:
		fill(out.Uint8s(), values, func(v float32) uint8 { return uint8(v) })
	case DTypeI8:
		fill(out.Int8s(), values, func(v float32) int8 { return int8(v) })
	default:
		return nil, fmt.Errorf("%w: %s", ErrDType, dtype)
	}
	return out, nil
}

// Dense kopiert den Tensor in einen pdevine/tensor Dense-Tensor
func (t *Tensor) Dense() (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) == 0 {
		shape = []int{1}
	}

	var backing any
	switch t.dtype {
	case DTypeF32:
		backing = append([]float32(nil), t.Floats()...)
	case DTypeF64:
		backing = append([]float64(nil), t.Float64s()...)
	case DTypeI32:
		backing = append([]int32(nil), t.Int32s()...)
	case DTypeI64:
		backing = append([]int64(nil), t.Int64s()...)
	case DTypeU8:
		backing = append([]uint8(nil), t.Uint8s()...)
	case DTypeI8:
		backing = append([]int8(nil), t.Int8s()...)
	case DTypeF16:
		f32, _ := t.AsFloat32()
		backing = f32
	default:
		return nil, fmt.Errorf("%w: %s", ErrDType, t.dtype)
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// FromDense erstellt einen Host-Tensor aus einem materialisierten Dense-Tensor
func FromDense(d *tensor.Dense) (*Tensor, error) {
	shape := []int(d.Shape())
	switch data := d.Data().(type) {
	case []float32:
		return FromSlice(append([]float32(nil), data...), shape...)
	case []float64:
		return FromSlice(append([]float64(nil), data...), shape...)
	case []int32:
		return FromSlice(append([]int32(nil), data...), shape...)
	case []int64:
		return FromSlice(append([]int64(nil), data...), shape...)
	case []uint8:
		return FromSlice(append([]uint8(nil), data...), shape...)
	case []int8:
		return FromSlice(append([]int8(nil), data...), shape...)
	default:
		return nil, fmt.Errorf("%w: dense backing %T", ErrDType, data)
	}
}

func convert[S Element](in []S, fn func(S) float32) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

func fill[D Element](out []D, in []float32, fn func(float32) D) {
	for i, v := range in {
		out[i] = fn(v)
	}
}
