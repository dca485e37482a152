package profile

import (
	"sync"

	"github.com/go-caffe2/predictor/logutil"
	"github.com/go-caffe2/predictor/workspace"
)

// Observer misst einen Netzlauf und seine Operatoren ueber workspace.Hooks.
// Jeder Netzstart erzeugt ein neues Ledger, das an sink uebergeben wird.
type Observer struct {
	name     string
	metadata string
	sink     func(*Profile)

	mu    sync.Mutex
	prof  *Profile
	slots []*Entry
}

// NewObserver erstellt einen Observer. name wird verwendet, wenn das Netz
// keinen eigenen Namen hat. sink darf nil sein.
func NewObserver(name, metadata string, sink func(*Profile)) *Observer {
	return &Observer{name: name, metadata: metadata, sink: sink}
}

// Profile gibt das Ledger des letzten gestarteten Laufs zurueck
func (o *Observer) Profile() *Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prof
}

// Hooks gibt die Callbacks fuer Net.Run zurueck
func (o *Observer) Hooks() *workspace.Hooks {
	return &workspace.Hooks{
		OnNetStart: o.netStart,
		OnNetStop:  o.netStop,
		OnOpStart:  o.opStart,
		OnOpStop:   o.opStop,
	}
}

func (o *Observer) netStart(name string, numOps int) {
	if name == "" {
		name = o.name
	}
	p := New(name, o.metadata)

	o.mu.Lock()
	o.prof = p
	// ein Slot pro Operator, jede Goroutine schreibt nur ihren eigenen Index
	o.slots = make([]*Entry, numOps)
	o.mu.Unlock()

	if o.sink != nil {
		o.sink(p)
	}
	logutil.Trace("profiling net", "name", name, "ops", numOps)
	p.Start()
}

// netStop uebernimmt die Eintraege in Operator-Reihenfolge, unabhaengig
// davon, in welcher Reihenfolge parallele Operatoren fertig wurden
func (o *Observer) netStop(string) {
	o.mu.Lock()
	p, slots := o.prof, o.slots
	o.slots = nil
	o.mu.Unlock()
	if p == nil {
		return
	}

	for _, e := range slots {
		if e != nil && !e.End.IsZero() {
			p.Add(e)
		}
	}
	p.End()
}

func (o *Observer) opStart(ev workspace.OpEvent) {
	slot := ev.Index - 1
	if slot < 0 || slot >= len(o.slots) {
		return
	}
	e := NewEntry(ev.Type, ev.Name)
	e.Index = ev.Index
	e.Shapes = ev.InputShapes
	o.slots[slot] = e
}

func (o *Observer) opStop(ev workspace.OpEvent) {
	slot := ev.Index - 1
	if slot < 0 || slot >= len(o.slots) || o.slots[slot] == nil {
		return
	}
	o.slots[slot].Stop()
}
