// types.go - Datentypen und Geraetearten fuer Tensoren
// Dieses Modul definiert DType (Element-Typen der Blobs) und DeviceKind.
package ml

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeU8
	DTypeI8
	DTypeI32
	DTypeI64
	DTypeF16
	DTypeF32
	DTypeF64
)

// Size gibt die Groesse eines Elements in Bytes zurueck (0 fuer DTypeOther)
func (d DType) Size() int {
	switch d {
	case DTypeU8, DTypeI8:
		return 1
	case DTypeF16:
		return 2
	case DTypeI32, DTypeF32:
		return 4
	case DTypeI64, DTypeF64:
		return 8
	default:
		return 0
	}
}

// Supported meldet, ob Blobs dieses Typs gebunden werden koennen
func (d DType) Supported() bool {
	return d.Size() > 0
}

func (d DType) String() string {
	switch d {
	case DTypeU8:
		return "uint8"
	case DTypeI8:
		return "int8"
	case DTypeI32:
		return "int32"
	case DTypeI64:
		return "int64"
	case DTypeF16:
		return "float16"
	case DTypeF32:
		return "float32"
	case DTypeF64:
		return "float64"
	default:
		return "other"
	}
}

// ParseDType akzeptiert Go-Namen (float32) und die alten Namen (float, byte, long, ...)
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uint8", "byte", "u8":
		return DTypeU8, nil
	case "int8", "char", "i8":
		return DTypeI8, nil
	case "int32", "int", "i32":
		return DTypeI32, nil
	case "int64", "long", "i64":
		return DTypeI64, nil
	case "float16", "half", "f16":
		return DTypeF16, nil
	case "float32", "float", "f32":
		return DTypeF32, nil
	case "float64", "double", "f64":
		return DTypeF64, nil
	default:
		return DTypeOther, fmt.Errorf("unknown data type %q", s)
	}
}

// Element sind die Go-Typen, die direkt als Tensor-Speicher dienen koennen.
// float16.Float16 ist als uint16 definiert und faellt unter ~uint16.
type Element interface {
	~uint8 | ~int8 | ~int32 | ~int64 | ~uint16 | ~float32 | ~float64
}

// DTypeOf gibt den DType fuer den Element-Typ T zurueck
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return DTypeU8
	case int8:
		return DTypeI8
	case int32:
		return DTypeI32
	case int64:
		return DTypeI64
	case uint16, float16.Float16:
		return DTypeF16
	case float32:
		return DTypeF32
	case float64:
		return DTypeF64
	default:
		return DTypeOther
	}
}

// DeviceKind bestimmt, wo die Tensoren eines Predictors liegen
type DeviceKind int

const (
	CPU DeviceKind = iota
	CUDA
)

func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	default:
		return fmt.Sprintf("device(%d)", int(k))
	}
}

// ParseDeviceKind wandelt "cpu"/"cuda"/"gpu" in DeviceKind um
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return CPU, nil
	case "cuda", "gpu":
		return CUDA, nil
	default:
		return CPU, fmt.Errorf("unknown device kind %q", s)
	}
}
