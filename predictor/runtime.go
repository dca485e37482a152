// runtime.go - Prozessweite Initialisierung der Ausfuehrungs-Engine
//
// MODUL: runtime
// ZWECK: Einmaliges Bootstrap der Engine und der Beschleuniger pro Geraet
// INPUT: DeviceKind
// OUTPUT: Initialisierte Runtime, aus der Predictoren erzeugt werden
// NEBENEFFEKTE: Erstellt Beschleuniger-Kontexte (einmal pro Geraet)
// ABHAENGIGKEITEN: ml/backend, ops
// HINWEISE: Init ist idempotent und darf gleichzeitig aufgerufen werden
package predictor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/ml/backend"
	"github.com/go-caffe2/predictor/ops"
)

// Runtime haelt den prozessweiten Zustand, den sich alle Predictoren teilen:
// die Operator-Registry und je Geraet hoechstens einen Beschleuniger.
type Runtime struct {
	mu          sync.Mutex
	initialized atomic.Bool
	cudaReady   atomic.Bool

	registry *ops.Registry
	accels   map[ml.DeviceKind]backend.Accelerator
}

// NewRuntime erstellt eine nicht initialisierte Runtime mit der Standard-Registry
func NewRuntime() *Runtime {
	return &Runtime{
		registry: ops.Default(),
		accels:   make(map[ml.DeviceKind]backend.Accelerator),
	}
}

var defaultRuntime = sync.OnceValue(NewRuntime)

// Default gibt die Runtime des Prozesses zurueck (fuer C-API und Server)
func Default() *Runtime {
	return defaultRuntime()
}

// Registry gibt die Operator-Registry zurueck
func (r *Runtime) Registry() *ops.Registry { return r.registry }

func (r *Runtime) ready(kind ml.DeviceKind) bool {
	if !r.initialized.Load() {
		return false
	}
	switch kind {
	case ml.CPU:
		return true
	case ml.CUDA:
		return r.cudaReady.Load()
	default:
		return false
	}
}

// Init initialisiert die Engine und bei Bedarf den Beschleuniger fuer kind.
// Wiederholte Aufrufe sind billig. Ein nicht einkompiliertes Geraet liefert
// ErrUnsupportedDevice.
func (r *Runtime) Init(kind ml.DeviceKind) error {
	if r.ready(kind) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized.Load() {
		slog.Debug("runtime initialized", "operators", len(r.registry.Types()))
		r.initialized.Store(true)
	}

	switch kind {
	case ml.CPU:
		return nil
	case ml.CUDA:
		if r.cudaReady.Load() {
			return nil
		}
		accel, err := backend.NewAccelerator(kind)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnsupportedDevice, err)
		}
		r.accels[kind] = accel
		r.cudaReady.Store(true)
		slog.Info("accelerator initialized", "device", accel.Info().DeviceName)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, kind)
	}
}

// accelerator gibt den Beschleuniger fuer kind zurueck (nil fuer CPU)
func (r *Runtime) accelerator(kind ml.DeviceKind) (backend.Accelerator, error) {
	if err := r.Init(kind); err != nil {
		return nil, err
	}
	if kind == ml.CPU {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accels[kind], nil
}
