package ml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestDTypeSize(t *testing.T) {
	cases := map[DType]int{
		DTypeU8:    1,
		DTypeI8:    1,
		DTypeF16:   2,
		DTypeI32:   4,
		DTypeF32:   4,
		DTypeI64:   8,
		DTypeF64:   8,
		DTypeOther: 0,
	}
	for dtype, size := range cases {
		if got := dtype.Size(); got != size {
			t.Errorf("%s.Size(): erwartet %d, bekommen %d", dtype, size, got)
		}
	}
	if DTypeOther.Supported() {
		t.Error("DTypeOther sollte nicht unterstuetzt sein")
	}
}

func TestParseDType(t *testing.T) {
	for _, s := range []string{"float", "float32", "F32"} {
		d, err := ParseDType(s)
		require.NoError(t, err)
		assert.Equal(t, DTypeF32, d)
	}
	d, err := ParseDType("long")
	require.NoError(t, err)
	assert.Equal(t, DTypeI64, d)

	_, err = ParseDType("complex")
	assert.Error(t, err)
}

func TestDTypeOf(t *testing.T) {
	assert.Equal(t, DTypeF32, DTypeOf[float32]())
	assert.Equal(t, DTypeF16, DTypeOf[float16.Float16]())
	assert.Equal(t, DTypeI64, DTypeOf[int64]())
	assert.Equal(t, DTypeU8, DTypeOf[uint8]())
}

func TestParseDeviceKind(t *testing.T) {
	k, err := ParseDeviceKind("GPU")
	require.NoError(t, err)
	assert.Equal(t, CUDA, k)

	k, err = ParseDeviceKind("")
	require.NoError(t, err)
	assert.Equal(t, CPU, k)

	_, err = ParseDeviceKind("tpu")
	assert.Error(t, err)
}

func TestFromSliceAliases(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tt, err := FromSlice(data, 2, 3)
	require.NoError(t, err)

	assert.Equal(t, 6, tt.Numel())
	assert.Equal(t, 24, tt.NBytes())

	data[0] = 42
	assert.Equal(t, float32(42), tt.Floats()[0], "Tensor sollte den Speicher des Aufrufers teilen")
}

func TestFromBytesTooShort(t *testing.T) {
	_, err := FromBytes(DTypeF32, make([]byte, 8), 1, 3)
	assert.ErrorIs(t, err, ErrShape)

	_, err = FromBytes(DTypeOther, make([]byte, 8), 2)
	assert.ErrorIs(t, err, ErrDType)

	_, err = FromBytes(DTypeF32, make([]byte, 8), -1)
	assert.ErrorIs(t, err, ErrShape)
}

func TestResizeDoesNotGrowIntoExternalMemory(t *testing.T) {
	data := []float32{1, 2}
	tt, err := FromSlice(data, 2)
	require.NoError(t, err)

	tt.Resize(4)
	tt.Floats()[0] = 7
	assert.Equal(t, float32(1), data[0], "Resize darf externen Speicher nicht ueberschreiben")
	assert.Equal(t, []int{4}, tt.Shape())
}

func TestReshape(t *testing.T) {
	tt := NewTensor(DTypeF32, 2, 3)
	require.NoError(t, tt.Reshape(3, 2))
	assert.Equal(t, []int{3, 2}, tt.Shape())
	assert.ErrorIs(t, tt.Reshape(4, 2), ErrShape)
}

func TestCloneIsIndependent(t *testing.T) {
	a, err := FromSlice([]int32{1, 2, 3})
	require.NoError(t, err)
	b := a.Clone()
	b.Int32s()[0] = 9
	assert.Equal(t, int32(1), a.Int32s()[0])
}

func TestCastRoundTrip(t *testing.T) {
	a, err := FromSlice([]float32{0.5, -1.25, 3})
	require.NoError(t, err)

	half, err := a.Cast(DTypeF16)
	require.NoError(t, err)
	assert.Equal(t, DTypeF16, half.DType())

	back, err := half.AsFloat32()
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{0.5, -1.25, 3}, back); diff != "" {
		t.Errorf("float16 Rundreise (-want +got):\n%s", diff)
	}

	i64, err := a.Cast(DTypeI64)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, -1, 3}, i64.Int64s())
}

func TestDense(t *testing.T) {
	a, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	d, err := a.Dense()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(d.Shape()))

	b, err := FromDense(d)
	require.NoError(t, err)
	assert.Equal(t, a.Floats(), b.Floats())
}

func TestDump(t *testing.T) {
	a, err := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	got := Dump(a, DumpWithPrecision(1))
	want := "[[ 1.0,  2.0],\n [ 3.0,  4.0]]"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Dump (-want +got):\n%s", diff)
	}

	long, err := FromSlice([]int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 10)
	require.NoError(t, err)
	got = Dump(long, DumpWithLimit(4), DumpWithEdge(2))
	if want := "[ 0,  1, ...,  8,  9]"; got != want {
		t.Errorf("gekuerzter Dump = %q, erwartet %q", got, want)
	}
}
