package capi

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/ml/backend"
	"github.com/go-caffe2/predictor/netdef"
)

const neutral = `{"name":"","metadata":"","start_ns":0,"end_ns":0,"elements":[]}`

// writeNets schreibt y = Sigmoid(x) * w mit w = [2, 2] als Init-Gewicht
func writeNets(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	initNet := &netdef.NetDef{Ops: []*netdef.OperatorDef{
		netdef.NewOp("ConstantFill", nil, []string{"w"}, netdef.ShapeArg(2), netdef.FloatArg("value", 2)),
	}}
	predictNet := &netdef.NetDef{
		Name: "tiny",
		Ops: []*netdef.OperatorDef{
			netdef.NewOp("Sigmoid", []string{"x"}, []string{"s"}),
			netdef.NewOp("Mul", []string{"s", "w"}, []string{"y"}),
		},
		ExternalInputs:  []string{"x"},
		ExternalOutputs: []string{"y"},
	}

	initPath := filepath.Join(dir, "init_net.pb")
	predictPath := filepath.Join(dir, "predict_net.pb")
	require.NoError(t, netdef.WriteFile(initPath, initNet))
	require.NoError(t, netdef.WriteFile(predictPath, predictNet))
	return initPath, predictPath
}

func create(t *testing.T) Handle {
	t.Helper()
	initPath, predictPath := writeNets(t)
	return Create(initPath, predictPath, ml.CPU)
}

func TestLifecycle(t *testing.T) {
	require.True(t, GlobalInit(ml.CPU))
	require.True(t, GlobalInit(ml.CPU))

	h := create(t)
	require.NotZero(t, h, "create: %v", LastError())
	defer Delete(h)

	x := []float32{0, 0}
	assert.Equal(t, Success, BindInput(h, 0, ml.DTypeF32, ml.BytesOf(x), []int{2}))
	assert.Equal(t, Success, Predict(h))

	y := Output(h, 0)
	require.NotNil(t, y)
	assert.Equal(t, []float32{1, 1}, y.Floats())
	assert.Equal(t, 2, OutputLength(h))
	assert.Nil(t, LastError())
}

func TestFailedPredictClearsOutput(t *testing.T) {
	h := create(t)
	require.NotZero(t, h, "create: %v", LastError())
	defer Delete(h)

	x := []float32{0, 0}
	require.Equal(t, Success, BindInput(h, 0, ml.DTypeF32, ml.BytesOf(x), []int{2}))
	require.Equal(t, Success, Predict(h))
	require.NotNil(t, Output(h, 0))

	// w hat zwei Elemente, Mul mit [3] schlaegt fehl
	bad := []float32{1, 2, 3}
	require.Equal(t, Success, BindInput(h, 0, ml.DTypeF32, ml.BytesOf(bad), []int{3}))
	assert.Equal(t, Exception, Predict(h))
	assert.Nil(t, Output(h, 0))
	assert.Zero(t, OutputLength(h))
}

func TestCreateFailures(t *testing.T) {
	h := Create("/does/not/exist", "/does/not/exist", ml.CPU)
	assert.Zero(t, h)
	assert.Equal(t, unix.ENOENT, LastErrno())

	h = CreateFromONNX([]byte{0x3a, 0x05, 0x01}, ml.CPU)
	assert.Zero(t, h)
	assert.Equal(t, unix.EINVAL, LastErrno())

	if !backend.Available(ml.CUDA) {
		initPath, predictPath := writeNets(t)
		h = Create(initPath, predictPath, ml.CUDA)
		assert.Zero(t, h)
		assert.Equal(t, unix.ENODEV, LastErrno())
		assert.False(t, GlobalInit(ml.CUDA))
	}
}

func TestBindInputCodes(t *testing.T) {
	h := create(t)
	require.NotZero(t, h)
	defer Delete(h)

	x := []float32{1, 2}
	assert.Equal(t, Exception, BindInput(h, 5, ml.DTypeF32, ml.BytesOf(x), []int{2}))
	assert.Equal(t, unix.EINVAL, LastErrno())

	assert.Equal(t, InvalidMemory, BindInput(0, 0, ml.DTypeF32, ml.BytesOf(x), []int{2}))
	assert.Equal(t, unix.EFAULT, LastErrno())

	// ohne gebundene Eingabe schlaegt die Ausfuehrung fehl
	assert.Equal(t, Exception, Predict(h))
	assert.Equal(t, unix.EIO, LastErrno())
	assert.Nil(t, Output(h, 0))
}

func TestNullHandle(t *testing.T) {
	assert.Equal(t, InvalidMemory, Predict(0))
	assert.Nil(t, Output(0, 0))
	assert.Zero(t, OutputLength(0))
	assert.Equal(t, neutral, ReadProfile(0))

	StartProfiling(0, "a", "b")
	EndProfiling(0)
	DisableProfiling(0)
	Delete(0)
	Delete(Handle(987654))
}

func TestDeleteIdempotent(t *testing.T) {
	before := Live()
	h := create(t)
	require.NotZero(t, h)
	assert.Equal(t, before+1, Live())

	Delete(h)
	Delete(h)
	assert.Equal(t, before, Live())
	assert.Equal(t, InvalidMemory, Predict(h))
}

func TestProfiling(t *testing.T) {
	h := create(t)
	require.NotZero(t, h)
	defer Delete(h)

	assert.Equal(t, neutral, ReadProfile(h))

	StartProfiling(h, "prof", "meta")
	x := []float32{1, 2}
	require.Equal(t, Success, BindInput(h, 0, ml.DTypeF32, ml.BytesOf(x), []int{2}))
	require.Equal(t, Success, Predict(h))
	EndProfiling(h)

	s := ReadProfile(h)
	assert.Contains(t, s, `"name":"tiny"`)
	assert.Contains(t, s, `"metadata":"meta"`)
	assert.Contains(t, s, `"layer_sequence_index":2`)

	DisableProfiling(h)
	assert.Equal(t, neutral, ReadProfile(h))
}

func TestErrnoMapping(t *testing.T) {
	assert.Zero(t, Errno(nil))
	assert.Equal(t, "invalid_memory", InvalidMemory.String())
}
