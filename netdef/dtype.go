package netdef

import "github.com/go-caffe2/predictor/ml"

// Elementtypen wie TensorProto.DataType in caffe2.proto; werden von
// ConstantFill ("dtype") und Cast ("to") verwendet.
const (
	TypeUndefined int64 = 0
	TypeFloat     int64 = 1
	TypeInt32     int64 = 2
	TypeByte      int64 = 3
	TypeBool      int64 = 5
	TypeUint8     int64 = 6
	TypeInt8      int64 = 7
	TypeInt64     int64 = 10
	TypeFloat16   int64 = 12
	TypeDouble    int64 = 13
)

// DType bildet einen Argument-Typcode auf ml.DType ab
func DType(code int64) ml.DType {
	switch code {
	case TypeFloat:
		return ml.DTypeF32
	case TypeInt32:
		return ml.DTypeI32
	case TypeByte, TypeBool, TypeUint8:
		return ml.DTypeU8
	case TypeInt8:
		return ml.DTypeI8
	case TypeInt64:
		return ml.DTypeI64
	case TypeFloat16:
		return ml.DTypeF16
	case TypeDouble:
		return ml.DTypeF64
	default:
		return ml.DTypeOther
	}
}

// TypeCode ist die Umkehrung von DType
func TypeCode(dtype ml.DType) int64 {
	switch dtype {
	case ml.DTypeF32:
		return TypeFloat
	case ml.DTypeI32:
		return TypeInt32
	case ml.DTypeU8:
		return TypeUint8
	case ml.DTypeI8:
		return TypeInt8
	case ml.DTypeI64:
		return TypeInt64
	case ml.DTypeF16:
		return TypeFloat16
	case ml.DTypeF64:
		return TypeDouble
	default:
		return TypeUndefined
	}
}
