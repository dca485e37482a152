// tensor.go - Host-Tensor mit Byte-Speicher, Shape und Geraet
// Tensoren koennen externen Speicher aliasen (zero-copy) oder eigenen besitzen.
package ml

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unsafe"
)

var (
	ErrShape = errors.New("invalid shape")
	ErrDType = errors.New("data type mismatch")
)

// Tensor is a typed, resizable n-dimensional array. The storage is a byte
// slice which may alias memory owned by the caller.
type Tensor struct {
	dtype  DType
	shape  []int
	data   []byte
	device DeviceKind

	// release gibt Geraetespeicher frei, nil fuer Host-Speicher
	release func()
}

// Numel gibt die Anzahl der Elemente fuer shape zurueck
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ValidShape prueft, dass keine Dimension negativ ist
func ValidShape(shape []int) bool {
	for _, d := range shape {
		if d < 0 {
			return false
		}
	}
	return true
}

// NewTensor alloziert einen mit Nullen gefuellten Host-Tensor
func NewTensor(dtype DType, shape ...int) *Tensor {
	t := &Tensor{dtype: dtype, shape: slices.Clone(shape)}
	t.data = alloc(dtype, Numel(shape))
	return t
}

// FromBytes erstellt einen Tensor, der data ohne Kopie verwendet.
// data muss mindestens Numel(shape)*dtype.Size() Bytes enthalten.
func FromBytes(dtype DType, data []byte, shape ...int) (*Tensor, error) {
	if !dtype.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrDType, dtype)
	}
	if !ValidShape(shape) {
		return nil, fmt.Errorf("%w: %v", ErrShape, shape)
	}

	n := Numel(shape) * dtype.Size()
	if len(data) < n {
		return nil, fmt.Errorf("%w: shape %v needs %d bytes, got %d", ErrShape, shape, n, len(data))
	}

	data = data[:n:n]
	if n > 0 && uintptr(unsafe.Pointer(&data[0]))%uintptr(dtype.Size()) != 0 {
		// nicht ausgerichteter Speicher kann nicht typisiert gelesen werden
		aligned := alloc(dtype, Numel(shape))
		copy(aligned, data)
		data = aligned
	}

	return &Tensor{dtype: dtype, shape: slices.Clone(shape), data: data}, nil
}

// FromSlice erstellt einen Tensor, der s ohne Kopie verwendet
func FromSlice[T Element](s []T, shape ...int) (*Tensor, error) {
	dtype := DTypeOf[T]()
	if len(shape) == 0 {
		shape = []int{len(s)}
	}
	return FromBytes(dtype, BytesOf(s), shape...)
}

// BytesOf gibt die Bytes eines typisierten Slices ohne Kopie zurueck
func BytesOf[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// NewDeviceTensor wird von Beschleuniger-Backends verwendet, um Geraetespeicher zu verpacken
func NewDeviceTensor(device DeviceKind, dtype DType, data []byte, release func(), shape ...int) *Tensor {
	return &Tensor{dtype: dtype, shape: slices.Clone(shape), data: data, device: device, release: release}
}

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Device() DeviceKind { return t.device }

// Shape gibt eine Kopie der Shape zurueck
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dim gibt Dimension n zurueck, negative Werte zaehlen von hinten
func (t *Tensor) Dim(n int) int {
	if n < 0 {
		n += len(t.shape)
	}
	if n < 0 || n >= len(t.shape) {
		return 1
	}
	return t.shape[n]
}

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) Numel() int { return Numel(t.shape) }

func (t *Tensor) NBytes() int { return t.Numel() * t.dtype.Size() }

// Bytes gibt den rohen Speicher zurueck (kein Kopieren)
func (t *Tensor) Bytes() []byte { return t.data[:t.NBytes()] }

// ShareExternal macht t zu einer Sicht auf data mit neuer Shape und neuem Typ.
// Vorher gehaltener Geraetespeicher wird freigegeben.
func (t *Tensor) ShareExternal(dtype DType, data []byte, shape ...int) error {
	shared, err := FromBytes(dtype, data, shape...)
	if err != nil {
		return err
	}
	t.Free()
	*t = *shared
	return nil
}

// Resize aendert die Shape; der Speicher wird nur neu alloziert, wenn er nicht reicht
func (t *Tensor) Resize(shape ...int) {
	n := Numel(shape) * t.dtype.Size()
	if n > cap(t.data) || t.device != CPU {
		t.Free()
		t.data = alloc(t.dtype, Numel(shape))
		t.device = CPU
	}
	t.data = t.data[:n]
	t.shape = slices.Clone(shape)
}

// ResizeAs setzt Typ und Shape und liefert frisch nutzbaren Speicher
func (t *Tensor) ResizeAs(dtype DType, shape ...int) {
	if t.dtype != dtype {
		t.Free()
		t.data = nil
		t.dtype = dtype
	}
	t.Resize(shape...)
}

// Reshape aendert die Shape bei gleicher Elementzahl
func (t *Tensor) Reshape(shape ...int) error {
	if Numel(shape) != t.Numel() {
		return fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.shape, shape)
	}
	t.shape = slices.Clone(shape)
	return nil
}

// Clone erstellt eine tiefe Host-Kopie
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.dtype, t.shape...)
	copy(c.data, t.Bytes())
	return c
}

// CopyFrom kopiert Typ, Shape und Inhalt von src nach t
func (t *Tensor) CopyFrom(src *Tensor) {
	t.ResizeAs(src.dtype, src.shape...)
	copy(t.data, src.Bytes())
}

// Free gibt Geraetespeicher frei; Host-Tensoren werden vom GC verwaltet
func (t *Tensor) Free() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(%s, %v, %s)", t.dtype, t.shape, t.device)
	return sb.String()
}

// ============================================================================
// Typisierte Sichten
// ============================================================================

// Floats gibt eine float32-Sicht ohne Kopie zurueck, nil bei anderem DType
func (t *Tensor) Floats() []float32 { return view[float32](t, DTypeF32) }

func (t *Tensor) Float64s() []float64 { return view[float64](t, DTypeF64) }

func (t *Tensor) Int32s() []int32 { return view[int32](t, DTypeI32) }

func (t *Tensor) Int64s() []int64 { return view[int64](t, DTypeI64) }

func (t *Tensor) Uint8s() []uint8 { return view[uint8](t, DTypeU8) }

func (t *Tensor) Int8s() []int8 { return view[int8](t, DTypeI8) }

func (t *Tensor) Uint16s() []uint16 { return view[uint16](t, DTypeF16) }

// View gibt eine typisierte Sicht zurueck, wenn T zum DType passt
func View[T Element](t *Tensor) []T {
	return view[T](t, DTypeOf[T]())
}

func view[T Element](t *Tensor, dtype DType) []T {
	if t.dtype != dtype {
		return nil
	}
	n := t.Numel()
	if n == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&t.data[0])), n)
}

func alloc(dtype DType, n int) []byte {
	if n == 0 {
		return nil
	}
	// ueber typisierte Slices allozieren, damit die Ausrichtung stimmt
	switch dtype.Size() {
	case 8:
		return BytesOf(make([]int64, n))
	case 4:
		return BytesOf(make([]int32, n))
	case 2:
		return BytesOf(make([]uint16, n))
	default:
		return make([]byte, n*max(dtype.Size(), 1))
	}
}
