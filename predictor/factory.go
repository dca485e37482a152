// factory.go - Erstellung von Predictoren aus NetDef-Paaren oder ONNX
//
// Ablauf:
// 1. Netze laden (Dateien, NetDefs oder ONNX-Uebersetzung)
// 2. Geraet und Engine auf jeden Operator setzen
// 3. Init-Netz genau einmal ausfuehren (Gewichte)
// 4. Vorhersage-Netz gegen denselben Workspace kompilieren
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/ml/backend"
	"github.com/go-caffe2/predictor/netdef"
	"github.com/go-caffe2/predictor/onnx"
	"github.com/go-caffe2/predictor/workspace"
)

// New laedt Init- und Vorhersage-Netz aus serialisierten NetDef-Dateien
func (r *Runtime) New(initPath, predictPath string, opts ...Option) (*Predictor, error) {
	initNet, err := netdef.ReadFile(initPath)
	if err != nil {
		return nil, fmt.Errorf("%w: init net: %w", ErrGraphLoadFailed, err)
	}
	predictNet, err := netdef.ReadFile(predictPath)
	if err != nil {
		return nil, fmt.Errorf("%w: predict net: %w", ErrGraphLoadFailed, err)
	}
	return r.NewFromNetDefs(initNet, predictNet, opts...)
}

// NewFromONNX uebersetzt ein ONNX-Modell in ein NetDef-Paar
func (r *Runtime) NewFromONNX(payload []byte, opts ...Option) (*Predictor, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty onnx payload", ErrInvalidArgument)
	}
	m, err := onnx.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphLoadFailed, err)
	}
	initNet, predictNet, err := onnx.Translate(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphLoadFailed, err)
	}
	return r.NewFromNetDefs(initNet, predictNet, opts...)
}

// NewFromNetDefs erstellt einen Predictor aus bereits geladenen Netzen.
// Die uebergebenen NetDefs werden nicht veraendert.
func (r *Runtime) NewFromNetDefs(initNet, predictNet *netdef.NetDef, opts ...Option) (*Predictor, error) {
	if initNet == nil || predictNet == nil {
		return nil, fmt.Errorf("%w: nil net", ErrInvalidArgument)
	}
	o := newOptions(opts)

	accel, err := r.accelerator(o.Device)
	if err != nil {
		return nil, err
	}

	initNet = initNet.Clone()
	predictNet = predictNet.Clone()

	engine := backend.DefaultEngine(o.Device)
	switch {
	case o.Engine != "":
		engine = backend.Engine(o.Engine)
	case o.Device == ml.CPU:
		engine = backend.Engine(envconfig.Engine())
	}
	deviceType := netdef.DeviceCPU
	if o.Device == ml.CUDA {
		deviceType = netdef.DeviceCUDA
	}
	netdef.SetOperatorEngine(initNet, deviceType, engine)
	netdef.SetOperatorEngine(predictNet, deviceType, engine)

	switch {
	case o.Name != "":
		predictNet.Name = o.Name
	case predictNet.Name == "":
		predictNet.Name = DefaultName
	}
	if o.NumWorkers > 0 {
		predictNet.NumWorkers = int32(o.NumWorkers)
	}

	ws := workspace.New(o.Device, accel)
	ws.SetRegistry(r.registry)

	if err := ws.RunNetOnce(context.Background(), initNet); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: init net: %w", ErrGraphLoadFailed, err)
	}

	net, err := ws.CreateNet(predictNet)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: predict net: %w", ErrGraphLoadFailed, err)
	}

	p := &Predictor{
		device:  o.Device,
		ws:      ws,
		net:     net,
		inputs:  slices.Clone(predictNet.ExternalInputs),
		outputs: slices.Clone(predictNet.ExternalOutputs),
		batch:   1,
	}

	slog.Debug("predictor created", "name", net.Name(), "device", o.Device, "engine", engine,
		"inputs", p.inputs, "outputs", p.outputs, "blobs", len(ws.Blobs()))
	return p, nil
}
