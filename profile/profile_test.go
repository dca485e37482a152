package profile

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
	"github.com/go-caffe2/predictor/workspace"
)

func TestEmptyRead(t *testing.T) {
	var p *Profile
	assert.JSONEq(t, `{"name":"","metadata":"","start_ns":0,"end_ns":0,"elements":[]}`, p.Read())
	assert.Equal(t, emptyJSON, Empty().String())

	fresh := New("net", "meta")
	var s Snapshot
	require.NoError(t, json.Unmarshal([]byte(fresh.Read()), &s))
	assert.Equal(t, "net", s.Name)
	assert.NotNil(t, s.Elements)
	assert.Empty(t, s.Elements)
	assert.Positive(t, s.StartNS)
	assert.Zero(t, s.EndNS)
}

func TestAddKeepsOrder(t *testing.T) {
	p := New("net", "")
	for i := range 5 {
		e := NewEntry(fmt.Sprintf("op%d", i), "")
		e.Index = 5 - i
		e.Stop()
		p.Add(e)
	}
	p.Add(nil)
	p.End()

	s := p.Snapshot()
	require.Len(t, s.Elements, 5)
	for i, el := range s.Elements {
		assert.Equal(t, fmt.Sprintf("op%d", i), el.Name)
		assert.GreaterOrEqual(t, el.EndNS, el.StartNS)
		assert.NotZero(t, el.ThreadID)
	}
	assert.GreaterOrEqual(t, s.EndNS, s.StartNS)

	p.Reset()
	assert.Zero(t, p.Len())
	assert.Contains(t, p.Read(), `"elements":[]`)
}

func TestConcurrentAdd(t *testing.T) {
	p := New("net", "")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				e := NewEntry("op", "")
				e.Stop()
				p.Add(e)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16*50, p.Len())
}

func TestElementJSON(t *testing.T) {
	net := &Entry{Name: "net"}
	op := &Entry{Name: "Conv", Metadata: "conv1", Index: 1, Shapes: [][]int{{1, 3, 8, 8}}}

	b, err := json.Marshal(net.element())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "layer_sequence_index")
	assert.NotContains(t, string(b), "shapes")

	b, err = json.Marshal(op.element())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"layer_sequence_index":1`)
	assert.Contains(t, string(b), `"shapes":[[1,3,8,8]]`)
}

func testNet(workers int32) *netdef.NetDef {
	return &netdef.NetDef{
		NumWorkers: workers,
		Ops: []*netdef.OperatorDef{
			{Type: "Relu", Name: "r", Inputs: []string{"x"}, Outputs: []string{"a"}},
			{Type: "Sigmoid", Name: "s", Inputs: []string{"x"}, Outputs: []string{"b"}},
			{Type: "Add", Name: "sum", Inputs: []string{"a", "b"}, Outputs: []string{"y"}},
			{Type: "Softmax", Name: "prob", Inputs: []string{"y"}, Outputs: []string{"p"}},
		},
		ExternalInputs:  []string{"x"},
		ExternalOutputs: []string{"p"},
	}
}

func TestObserver(t *testing.T) {
	for _, workers := range []int32{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ws := workspace.New(ml.CPU, nil)
			net, err := ws.CreateNet(testNet(workers))
			require.NoError(t, err)
			require.NoError(t, ws.Feed("x", ml.DTypeF32, ml.BytesOf([]float32{1, 2, 3, 4}), 2, 2))

			var got *Profile
			obs := NewObserver("fallback", "batch=2", func(p *Profile) { got = p })
			require.NoError(t, net.Run(t.Context(), obs.Hooks()))

			require.NotNil(t, got)
			assert.Same(t, got, obs.Profile())

			s := got.Snapshot()
			assert.Equal(t, "fallback", s.Name)
			assert.Equal(t, "batch=2", s.Metadata)
			assert.GreaterOrEqual(t, s.EndNS, s.StartNS)
			require.Len(t, s.Elements, 4)
			for i, el := range s.Elements {
				assert.Equal(t, i+1, el.Index, "Eintrag %d", i)
			}

			byIndex := map[int]Element{}
			for _, el := range s.Elements {
				byIndex[el.Index] = el
			}
			for i := 1; i <= 4; i++ {
				_, ok := byIndex[i]
				assert.True(t, ok, "index %d fehlt", i)
			}
			assert.Equal(t, "Softmax", byIndex[4].Name)
			assert.Equal(t, "prob", byIndex[4].Metadata)
			if diff := cmp.Diff([][]int{{2, 2}, {2, 2}}, byIndex[3].Shapes); diff != "" {
				t.Errorf("shapes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestObserverNamedNet(t *testing.T) {
	ws := workspace.New(ml.CPU, nil)
	def := testNet(1)
	def.Name = "resnet"
	net, err := ws.CreateNet(def)
	require.NoError(t, err)
	require.NoError(t, ws.Feed("x", ml.DTypeF32, ml.BytesOf([]float32{1}), 1, 1))

	obs := NewObserver("fallback", "", nil)
	require.NoError(t, net.Run(t.Context(), obs.Hooks()))
	first := obs.Profile()
	assert.Equal(t, "resnet", first.Name())

	require.NoError(t, net.Run(t.Context(), obs.Hooks()))
	assert.NotSame(t, first, obs.Profile())
	assert.Equal(t, 4, obs.Profile().Len())
}
