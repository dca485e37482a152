// predictor.go - Predictor-Kontext: Eingaben binden, ausfuehren, Ausgaben lesen
//
// MODUL: predictor
// ZWECK: Langlebiger Kontext um einen Workspace und ein kompiliertes
//        Vorhersage-Netz mit optionalem Profiling
// INPUT: Eingabe-Tensoren des Aufrufers (zero-copy auf der CPU)
// OUTPUT: Ausgabe-Tensoren, Vorhersage-Laenge, Profil-JSON
// NEBENEFFEKTE: Haelt Host- und Geraetespeicher bis Close
// ABHAENGIGKEITEN: workspace, profile, ml
// HINWEISE: Ein Predictor ist nicht fuer gleichzeitige Aufrufe ausgelegt;
//           Aufrufer muessen pro Predictor serialisieren. Verschiedene
//           Predictoren sind voneinander unabhaengig.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/profile"
	"github.com/go-caffe2/predictor/workspace"
)

// Predictor ist ein bereiter Ausfuehrungskontext. Erstellt wird er ueber die
// Factory-Methoden der Runtime.
type Predictor struct {
	device  ml.DeviceKind
	ws      *workspace.Workspace
	net     *workspace.Net
	inputs  []string
	outputs []string

	// batch ist Dimension 0 des an Eingabe 0 gebundenen Tensors, sofern
	// dieser mindestens zweidimensional ist; sonst 1
	batch   int
	predLen int

	// ready ist nur nach einem erfolgreichen Run gesetzt
	ready bool

	// Host-Kopien von Geraete-Ausgaben, gueltig bis zum naechsten Run
	fetched map[int]*ml.Tensor

	profiling struct {
		enabled  bool
		name     string
		metadata string
		prof     *profile.Profile
	}

	closed bool
}

// Device gibt das bei der Konstruktion gewaehlte Geraet zurueck
func (p *Predictor) Device() ml.DeviceKind { return p.device }

// Name ist der Name des Vorhersage-Netzes
func (p *Predictor) Name() string { return p.net.Name() }

func (p *Predictor) InputNames() []string { return slices.Clone(p.inputs) }

func (p *Predictor) OutputNames() []string { return slices.Clone(p.outputs) }

// NumOperators gibt die Anzahl der Operatoren im Vorhersage-Netz zurueck
func (p *Predictor) NumOperators() int { return len(p.net.Operators()) }

// BindInput bindet data als Eingabe index. Auf der CPU teilt sich der Blob den
// Speicher des Aufrufers, der bis zum Ende des naechsten Run nicht veraendert
// werden darf. Auf Beschleunigern wird kopiert.
func (p *Predictor) BindInput(index int, dtype ml.DType, data []byte, shape []int) error {
	if p == nil || p.closed {
		return ErrMemoryFault
	}
	if index < 0 || index >= len(p.inputs) {
		return fmt.Errorf("%w: input index %d out of range [0, %d)", ErrInvalidArgument, index, len(p.inputs))
	}
	if !dtype.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedDataType, dtype)
	}
	if !ml.ValidShape(shape) {
		return fmt.Errorf("%w: shape %v", ErrInvalidArgument, shape)
	}

	name := p.inputs[index]
	if err := p.ws.Feed(name, dtype, data, shape...); err != nil {
		switch {
		case errors.Is(err, ml.ErrShape):
			return fmt.Errorf("%w: input %q: %w", ErrInvalidArgument, name, err)
		case errors.Is(err, ml.ErrDType):
			return fmt.Errorf("%w: input %q: %w", ErrUnsupportedDataType, name, err)
		default:
			return fmt.Errorf("%w: input %q: %w", ErrExecutionFailed, name, err)
		}
	}

	if index == 0 {
		p.batch = 1
		if len(shape) > 1 && shape[0] > 0 {
			p.batch = shape[0]
		}
	}
	return nil
}

// Bind bindet einen typisierten Slice als Eingabe index. Ohne shape wird
// ein eindimensionaler Tensor angenommen.
func Bind[T ml.Element](p *Predictor, index int, data []T, shape ...int) error {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return p.BindInput(index, ml.DTypeOf[T](), ml.BytesOf(data), shape)
}

// Run fuehrt das Vorhersage-Netz synchron aus. Mit aktivem Profiling wird ein
// neues Ledger angelegt, sonst laeuft das Netz ohne Hooks.
func (p *Predictor) Run(ctx context.Context) error {
	if p == nil || p.closed {
		return ErrMemoryFault
	}
	clear(p.fetched)
	p.ready = false
	p.predLen = 0

	var hooks *workspace.Hooks
	if p.profiling.enabled {
		obs := profile.NewObserver(p.profiling.name, p.profiling.metadata, func(prof *profile.Profile) {
			p.profiling.prof = prof
		})
		hooks = obs.Hooks()
	}

	if err := p.net.Run(ctx, hooks); err != nil {
		slog.Debug("prediction failed", "name", p.net.Name(), "error", err)
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	p.ready = true
	return nil
}

// Output gibt Ausgabe index als Host-Tensor zurueck und setzt die
// Vorhersage-Laenge. Der Tensor ist geliehen und nur bis zum naechsten Run
// oder Close gueltig; CopyOutput liefert eine dauerhafte Kopie.
func (p *Predictor) Output(index int) (*ml.Tensor, error) {
	if p == nil || p.closed {
		return nil, ErrMemoryFault
	}
	if index < 0 || index >= len(p.outputs) {
		return nil, fmt.Errorf("%w: output index %d out of range [0, %d)", ErrOutputNotFound, index, len(p.outputs))
	}
	if !p.ready {
		return nil, fmt.Errorf("%w: no successful run", ErrOutputNotFound)
	}
	if t, ok := p.fetched[index]; ok {
		return t, nil
	}

	name := p.outputs[index]
	t, err := p.ws.Fetch(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrOutputNotFound, name, err)
	}

	p.predLen = t.Numel() / max(p.batch, 1)
	if p.device != ml.CPU {
		if p.fetched == nil {
			p.fetched = make(map[int]*ml.Tensor)
		}
		p.fetched[index] = t
	}
	return t, nil
}

// CopyOutput gibt eine Kopie von Ausgabe index zurueck, die dem Aufrufer gehoert
func (p *Predictor) CopyOutput(index int) (*ml.Tensor, error) {
	t, err := p.Output(index)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// OutputLength gibt Elemente pro Batch-Eintrag der zuletzt gelesenen Ausgabe zurueck
func (p *Predictor) OutputLength() int {
	if p == nil {
		return 0
	}
	if !p.ready {
		return 0
	}
	return p.predLen
}

// =============================================================================
// Profiling
// =============================================================================

// StartProfiling aktiviert das Profiling fuer alle folgenden Runs
func (p *Predictor) StartProfiling(name, metadata string) {
	if p == nil || p.closed {
		return
	}
	p.profiling.enabled = true
	p.profiling.name = name
	p.profiling.metadata = metadata
}

// EndProfiling schliesst das aktuelle Ledger ab
func (p *Predictor) EndProfiling() {
	if p == nil || p.profiling.prof == nil {
		return
	}
	p.profiling.prof.End()
}

// DisableProfiling schaltet das Profiling ab und verwirft das Ledger
func (p *Predictor) DisableProfiling() {
	if p == nil {
		return
	}
	if p.profiling.prof != nil {
		p.profiling.prof.Reset()
	}
	p.profiling.enabled = false
	p.profiling.name = ""
	p.profiling.metadata = ""
	p.profiling.prof = nil
}

// Profile gibt das Ledger des letzten profilierten Runs zurueck (oder nil)
func (p *Predictor) Profile() *profile.Profile {
	if p == nil {
		return nil
	}
	return p.profiling.prof
}

// ReadProfile gibt das Ledger als JSON zurueck; ohne Ledger das neutrale Dokument
func (p *Predictor) ReadProfile() string {
	return p.Profile().Read()
}

// Close gibt Workspace und Ledger frei. Weitere Aufrufe sind wirkungslos.
func (p *Predictor) Close() {
	if p == nil || p.closed {
		return
	}
	p.DisableProfiling()
	p.ws.Close()
	p.fetched = nil
	p.ready = false
	p.closed = true
}
