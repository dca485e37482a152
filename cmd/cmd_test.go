package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/go-caffe2/predictor/api"
	"github.com/go-caffe2/predictor/netdef"
	"github.com/go-caffe2/predictor/server"
)

// writeAffine schreibt y = Relu(x * 2 + b) mit b = [1, -1, 0, 0]
func writeAffine(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	initNet := &netdef.NetDef{Ops: []*netdef.OperatorDef{
		netdef.NewOp("GivenTensorFill", nil, []string{"b"}, netdef.ShapeArg(4), netdef.FloatsArg("values", 1, -1, 0, 0)),
	}}
	predictNet := &netdef.NetDef{
		Name: "affine",
		Ops: []*netdef.OperatorDef{
			netdef.NewOp("Scale", []string{"x"}, []string{"s"}, netdef.FloatArg("scale", 2)),
			netdef.NewOp("Add", []string{"s", "b"}, []string{"a"}),
			netdef.NewOp("Relu", []string{"a"}, []string{"y"}),
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

// reluModel ist ein ONNX-Modell mit einem einzelnen Relu-Knoten
func reluModel() []byte {
	str := func(b []byte, num protowire.Number, s string) []byte {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendString(b, s)
	}
	msg := func(b []byte, num protowire.Number, m []byte) []byte {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, m)
	}

	node := str(nil, 1, "x")
	node = str(node, 2, "y")
	node = str(node, 4, "Relu")

	var g []byte
	g = msg(g, 1, node)
	g = str(g, 2, "relu")
	g = msg(g, 11, str(nil, 1, "x"))
	g = msg(g, 12, str(nil, 1, "y"))

	m := protowire.AppendTag(nil, 1, protowire.VarintType)
	m = protowire.AppendVarint(m, 8)
	return msg(m, 7, g)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewCLI()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseShape(t *testing.T) {
	shape, err := parseShape(" 1, 3,224,224 ")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 224, 224}, shape)

	for _, bad := range []string{"", "1,x", "2,-1"} {
		_, err := parseShape(bad)
		assert.Error(t, err, "shape %q", bad)
	}
}

func TestTopK(t *testing.T) {
	got := topK([]float32{0.1, 0.7, 0.2, 0.7}, 3)
	want := []scored{{1, 0.7}, {3, 0.7}, {2, 0.2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("topK unterscheidet sich (-want +got):\n%s", diff)
	}

	assert.Len(t, topK([]float32{1, 2}, 10), 2)
	assert.Len(t, topK([]float32{1, 2}, -1), 2)
}

func TestRunJSON(t *testing.T) {
	initPath, predictPath := writeAffine(t)

	out, err := execute(t, "run",
		"--init", initPath, "--predict", predictPath,
		"--input", "1,4", "--fill", "1",
		"--top-k", "2", "--repeat", "3", "--profile", "--format", "json")
	require.NoError(t, err, out)

	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	assert.Equal(t, "affine", res.Name)
	assert.Equal(t, 3, res.Runs)
	assert.Equal(t, 4, res.PredictionLength)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "y", res.Outputs[0].Name)
	assert.Equal(t, []int{1, 4}, res.Outputs[0].Shape)
	assert.Equal(t, []scored{{0, 3}, {2, 2}}, res.Outputs[0].Top)

	require.NotNil(t, res.Profile)
	assert.Equal(t, "shape=[1 4]", res.Profile.Metadata)
	assert.Len(t, res.Profile.Elements, 3)
}

func TestRunTable(t *testing.T) {
	initPath, predictPath := writeAffine(t)

	out, err := execute(t, "run",
		"--init", initPath, "--predict", predictPath,
		"--input", "4", "--fill", "-1", "--profile=false", "--format", "table")
	require.NoError(t, err, out)
	assert.Contains(t, out, "affine on cpu")
	assert.Contains(t, out, "RANK")
	assert.NotContains(t, out, "OPERATOR")
}

func TestRunErrors(t *testing.T) {
	initPath, predictPath := writeAffine(t)

	cases := [][]string{
		{"run", "--input", "4"},
		{"run", "--init", initPath, "--predict", predictPath},
		{"run", "--init", initPath, "--predict", predictPath, "--input", "4", "--dtype", "complex"},
		{"run", "--init", initPath, "--predict", predictPath, "--input", "4", "--repeat", "0"},
		{"run", "--init", initPath, "--predict", predictPath, "--input", "4", "--image", "x.png", "--fill", "2"},
		{"run", "--init", initPath, "--predict", predictPath, "--input", "4", "--image", filepath.Join(t.TempDir(), "missing.png")},
	}
	for _, args := range cases {
		_, err := execute(t, args...)
		assert.Error(t, err, "args %v", args)
	}
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "relu.onnx")
	require.NoError(t, os.WriteFile(model, reluModel(), 0o644))

	outDir := filepath.Join(dir, "out")
	out, err := execute(t, "convert", model, "-o", outDir)
	require.NoError(t, err, out)

	predictNet, err := netdef.ReadFile(filepath.Join(outDir, "predict_net.pb"))
	require.NoError(t, err)
	assert.Equal(t, "relu", predictNet.Name)
	assert.Equal(t, []string{"x"}, predictNet.ExternalInputs)
	assert.Equal(t, []string{"y"}, predictNet.ExternalOutputs)

	initNet, err := netdef.ReadFile(filepath.Join(outDir, "init_net.pb"))
	require.NoError(t, err)
	assert.Equal(t, "relu_init", initNet.Name)

	// ausgefuehrt werden kann das Ergebnis wie jedes NetDef-Paar
	out, err = execute(t, "run",
		"--init", filepath.Join(outDir, "init_net.pb"), "--predict", filepath.Join(outDir, "predict_net.pb"),
		"--input", "3", "--fill", "-2", "--format", "json")
	require.NoError(t, err, out)
}

func TestInfo(t *testing.T) {
	out, err := execute(t, "info", "--operators")
	require.NoError(t, err, out)
	assert.Contains(t, out, "cpu")
	assert.Contains(t, out, "EIGEN")
	assert.Contains(t, out, "Relu")
	assert.Contains(t, out, "PREDICTOR_DEVICE")
}

func TestPsAndStop(t *testing.T) {
	t.Setenv("PREDICTOR_MODELS", t.TempDir())
	ts := httptest.NewServer(server.New(nil).GenerateRoutes())
	defer ts.Close()
	t.Setenv("PREDICTOR_HOST", ts.URL)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	client := api.NewClient(base, ts.Client())

	initPath, predictPath := writeAffine(t)
	loaded, err := client.Load(context.Background(), &api.LoadRequest{Init: initPath, Predict: predictPath})
	require.NoError(t, err)

	out, err := execute(t, "ps")
	require.NoError(t, err, out)
	assert.Contains(t, out, loaded.ID[:8])
	assert.Contains(t, out, "affine")

	_, err = execute(t, "stop", "does-not-exist")
	assert.Error(t, err)

	out, err = execute(t, "stop", loaded.ID[:8])
	require.NoError(t, err, out)

	out, err = execute(t, "ps")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "affine")
}

func TestPsWithoutServer(t *testing.T) {
	t.Setenv("PREDICTOR_HOST", "127.0.0.1:1")
	_, err := execute(t, "ps")
	assert.ErrorContains(t, err, "could not connect")
}
