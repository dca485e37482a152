// models.go - Geladene Predictoren mit LRU-Verdraengung
//
// Jeder geladene Predictor hat einen eigenen Mutex, damit Aufrufe auf
// denselben Predictor serialisiert werden. Verschiedene Predictoren laufen
// unabhaengig voneinander.
package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/go-caffe2/predictor/api"
	"github.com/go-caffe2/predictor/predictor"
)

var errModelNotFound = errors.New("model not found")

type model struct {
	mu sync.Mutex
	p  *predictor.Predictor

	id       string
	source   string
	loadedAt time.Time
	lastUsed time.Time
	closed   bool
}

func (m *model) info() api.ModelResponse {
	return api.ModelResponse{
		ID:       m.id,
		Name:     m.p.Name(),
		Source:   m.source,
		Device:   m.p.Device().String(),
		Inputs:   m.p.InputNames(),
		Outputs:  m.p.OutputNames(),
		LoadedAt: m.loadedAt,
		LastUsed: m.lastUsed,
	}
}

// close wartet auf laufende Aufrufe und schliesst den Predictor
func (m *model) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.p.Close()
		m.closed = true
	}
}

// models haelt hoechstens max Predictoren; die Reihenfolge der Map ist die
// Nutzungsreihenfolge (aeltester zuerst)
type models struct {
	mu    sync.Mutex
	max   int
	items *orderedmap.OrderedMap[string, *model]
}

func newModels(limit int) *models {
	return &models{max: limit, items: orderedmap.New[string, *model]()}
}

// add fuegt m hinzu und verdraengt bei Bedarf die am laengsten unbenutzten
func (ms *models) add(m *model) {
	ms.mu.Lock()
	var evicted []*model
	for ms.max > 0 && ms.items.Len() >= ms.max {
		oldest := ms.items.Oldest()
		ms.items.Delete(oldest.Key)
		evicted = append(evicted, oldest.Value)
	}
	ms.items.Set(m.id, m)
	ms.mu.Unlock()

	for _, e := range evicted {
		slog.Info("evicting predictor", "id", e.id, "name", e.p.Name())
		e.close()
	}
}

// get gibt den Predictor zurueck und markiert ihn als zuletzt benutzt
func (ms *models) get(id string) (*model, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, ok := ms.items.Get(id)
	if !ok {
		return nil, errModelNotFound
	}
	_ = ms.items.MoveToBack(id)
	return m, nil
}

func (ms *models) remove(id string) bool {
	ms.mu.Lock()
	m, ok := ms.items.Delete(id)
	ms.mu.Unlock()

	if ok {
		m.close()
	}
	return ok
}

// list gibt alle Modelle, zuletzt benutzte zuletzt, zurueck
func (ms *models) list() []*model {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]*model, 0, ms.items.Len())
	for pair := ms.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (ms *models) closeAll() {
	for _, m := range ms.list() {
		ms.remove(m.id)
	}
}
