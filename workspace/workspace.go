// workspace.go - Benannter Blob-Speicher eines Predictors
//
// MODUL: workspace
// ZWECK: Haelt alle Blobs (Gewichte, Ein-/Ausgaben, Zwischenergebnisse) eines
//        Predictors und fuehrt kompilierte Netze darauf aus
// INPUT: NetDefs, Eingabedaten vom Aufrufer
// OUTPUT: Ausgabe-Tensoren in Blobs
// NEBENEFFEKTE: Alloziert Host- und ggf. Geraetespeicher
// ABHAENGIGKEITEN: ml, ml/backend, netdef, ops, wk8/go-ordered-map
// HINWEISE: Ein Workspace gehoert genau einem Predictor. Aufrufe auf denselben
//           Workspace muessen vom Aufrufer serialisiert werden.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/ml/backend"
	"github.com/go-caffe2/predictor/netdef"
	"github.com/go-caffe2/predictor/ops"
)

var (
	ErrClosed       = errors.New("workspace closed")
	ErrBlobNotFound = errors.New("blob not found")
)

type Workspace struct {
	mu       sync.RWMutex
	blobs    *orderedmap.OrderedMap[string, *Blob]
	device   ml.DeviceKind
	accel    backend.Accelerator
	registry *ops.Registry
	closed   bool
}

// New erstellt einen leeren Workspace. accel ist nil fuer CPU.
func New(device ml.DeviceKind, accel backend.Accelerator) *Workspace {
	return &Workspace{
		blobs:    orderedmap.New[string, *Blob](),
		device:   device,
		accel:    accel,
		registry: ops.Default(),
	}
}

// SetRegistry ersetzt die Operator-Registry fuer spaeter kompilierte Netze
func (ws *Workspace) SetRegistry(r *ops.Registry) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.registry = r
}

func (ws *Workspace) Device() ml.DeviceKind { return ws.device }

// CreateBlob gibt den Blob name zurueck und legt ihn bei Bedarf an
func (ws *Workspace) CreateBlob(name string) *Blob {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if b, ok := ws.blobs.Get(name); ok {
		return b
	}
	b := &Blob{name: name}
	ws.blobs.Set(name, b)
	return b
}

func (ws *Workspace) GetBlob(name string) (*Blob, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.blobs.Get(name)
}

func (ws *Workspace) HasBlob(name string) bool {
	_, ok := ws.GetBlob(name)
	return ok
}

// Blobs gibt die Blob-Namen in Anlege-Reihenfolge zurueck
func (ws *Workspace) Blobs() []string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	names := make([]string, 0, ws.blobs.Len())
	for pair := ws.blobs.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// RemoveBlob entfernt einen Blob und gibt seinen Speicher frei
func (ws *Workspace) RemoveBlob(name string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	b, ok := ws.blobs.Delete(name)
	if ok {
		b.free()
	}
	return ok
}

// Feed bindet Aufrufer-Speicher an den Blob name. Auf der CPU wird der
// Speicher ohne Kopie geteilt, auf Beschleunigern ueber einen Host-Tensor
// auf das Geraet kopiert.
func (ws *Workspace) Feed(name string, dtype ml.DType, data []byte, shape ...int) error {
	if ws.isClosed() {
		return ErrClosed
	}

	b := ws.CreateBlob(name)
	if ws.device == ml.CPU || ws.accel == nil {
		return b.ShareExternal(dtype, data, shape...)
	}

	staging, err := ml.FromBytes(dtype, data, shape...)
	if err != nil {
		return err
	}
	dev, err := ws.accel.Upload(staging)
	if err != nil {
		return fmt.Errorf("upload %q: %w", name, err)
	}
	b.Set(dev)
	return nil
}

// Fetch gibt den Inhalt von name als Host-Tensor zurueck. Auf der CPU ist das
// der Blob-Tensor selbst, auf Beschleunigern eine Kopie.
func (ws *Workspace) Fetch(name string) (*ml.Tensor, error) {
	if ws.isClosed() {
		return nil, ErrClosed
	}

	b, ok := ws.GetBlob(name)
	if !ok || b.IsEmpty() {
		return nil, fmt.Errorf("%w: %q", ErrBlobNotFound, name)
	}

	t := b.Tensor()
	if t.Device() == ml.CPU || ws.accel == nil {
		return t, nil
	}
	if err := ws.accel.Synchronize(); err != nil {
		return nil, err
	}
	return ws.accel.Download(t)
}

// RunNetOnce kompiliert def und fuehrt es einmal ohne Hooks aus
func (ws *Workspace) RunNetOnce(ctx context.Context, def *netdef.NetDef) error {
	net, err := ws.CreateNet(def)
	if err != nil {
		return err
	}
	return net.Run(ctx, nil)
}

// Close gibt alle Blobs frei; danach sind alle Aufrufe Fehler
func (ws *Workspace) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return
	}
	for pair := ws.blobs.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.free()
	}
	slog.Debug("workspace closed", "blobs", ws.blobs.Len())
	ws.blobs = orderedmap.New[string, *Blob]()
	ws.closed = true
}

func (ws *Workspace) isClosed() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.closed
}
