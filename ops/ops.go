// ops.go - Operator-Registry und Ausfuehrungskontext
//
// MODUL: ops
// ZWECK: Bildet Operator-Typnamen (OperatorDef.Type) auf CPU-Kernel ab
// INPUT: netdef.OperatorDef beim Kompilieren, Ein-/Ausgabe-Tensoren beim Ausfuehren
// OUTPUT: Kernel, die Ausgabe-Tensoren beschreiben
// NEBENEFFEKTE: Kernel schreiben in die Ausgabe-Tensoren der Workspace-Blobs
// ABHAENGIGKEITEN: ml, netdef, agnivade/levenshtein (Vorschlaege bei unbekannten Typen)
// HINWEISE: Kernel registrieren sich in init() beim Default-Registry.
//           Shape-Fehler werden als error zurueckgegeben, nie als panic.
package ops

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
)

var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrInvalidArgument = errors.New("invalid operator argument")
)

// Kernel ist ein kompilierter Operator
type Kernel interface {
	Run(ctx *Context) error
}

// KernelFunc erlaubt einfache Funktionen als Kernel
type KernelFunc func(ctx *Context) error

func (f KernelFunc) Run(ctx *Context) error { return f(ctx) }

// Constructor liest die Argumente eines Operators und erzeugt den Kernel
type Constructor func(op *netdef.OperatorDef) (Kernel, error)

// ============================================================================
// Registry
// ============================================================================

type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

var defaultRegistry = NewRegistry()

// Default gibt die Registry mit allen eingebauten Kerneln zurueck
func Default() *Registry { return defaultRegistry }

// Register traegt einen Kernel in die Default-Registry ein
func Register(name string, ctor Constructor) {
	defaultRegistry.Register(name, ctor)
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ctors[name]; ok {
		panic("ops: operator already registered: " + name)
	}
	r.ctors[name] = ctor
}

// Types gibt die registrierten Typnamen sortiert zurueck
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup erzeugt den Kernel fuer op. Bei unbekanntem Typ wird der
// naechstgelegene registrierte Name vorgeschlagen.
func (r *Registry) Lookup(op *netdef.OperatorDef) (Kernel, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[op.Type]
	r.mu.RUnlock()

	if !ok {
		if s := r.suggest(op.Type); s != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownOperator, op.Type, s)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, op.Type)
	}

	return ctor(op)
}

func (r *Registry) suggest(name string) string {
	best, score := "", len(name)/2+1
	for _, candidate := range r.Types() {
		if d := levenshtein.ComputeDistance(name, candidate); d < score {
			best, score = candidate, d
		}
	}
	return best
}

// ============================================================================
// Context
// ============================================================================

// Context verbindet einen Kernel mit seinen Ein- und Ausgabe-Tensoren
type Context struct {
	Inputs  []*ml.Tensor
	Outputs []*ml.Tensor

	scratch map[int]*ml.Tensor
}

func NewContext(inputs, outputs []*ml.Tensor) *Context {
	return &Context{Inputs: inputs, Outputs: outputs}
}

func (c *Context) NumInputs() int { return len(c.Inputs) }

func (c *Context) NumOutputs() int { return len(c.Outputs) }

// Input gibt Eingabe i zurueck
func (c *Context) Input(i int) *ml.Tensor { return c.Inputs[i] }

// Output gibt Ausgabe i mit Typ und Shape zurueck. Ist die Ausgabe zugleich
// eine Eingabe (in-place), wird in einen Zwischenspeicher geschrieben, der
// nach dem Lauf uebernommen wird.
func (c *Context) Output(i int, dtype ml.DType, shape ...int) *ml.Tensor {
	out := c.Outputs[i]
	if slices.Contains(c.Inputs, out) {
		if c.scratch == nil {
			c.scratch = make(map[int]*ml.Tensor)
		}
		s := ml.NewTensor(dtype, shape...)
		c.scratch[i] = s
		return s
	}

	out.ResizeAs(dtype, shape...)
	return out
}

// SetOutput ersetzt Ausgabe i durch eine Kopie von t
func (c *Context) SetOutput(i int, t *ml.Tensor) {
	c.Output(i, t.DType(), t.Shape()...)
	if s, ok := c.scratch[i]; ok {
		copy(s.Bytes(), t.Bytes())
		return
	}
	copy(c.Outputs[i].Bytes(), t.Bytes())
}

// Run fuehrt k aus und uebernimmt Zwischenspeicher in die Ausgaben
func (c *Context) Run(k Kernel) error {
	clear(c.scratch)
	if err := k.Run(c); err != nil {
		return err
	}
	for i, s := range c.scratch {
		c.Outputs[i].CopyFrom(s)
	}
	clear(c.scratch)
	return nil
}

// ============================================================================
// Hilfsfunktionen
// ============================================================================

func requireInputs(op *netdef.OperatorDef, lo, hi int) error {
	if n := len(op.Inputs); n < lo || n > hi {
		return fmt.Errorf("%w: %s expects %d..%d inputs, got %d", ErrInvalidArgument, op.Type, lo, hi, n)
	}
	if len(op.Outputs) == 0 {
		return fmt.Errorf("%w: %s has no outputs", ErrInvalidArgument, op.Type)
	}
	return nil
}

func requireFloat(op string, ts ...*ml.Tensor) error {
	for _, t := range ts {
		if t.DType() != ml.DTypeF32 {
			return fmt.Errorf("%w: %s supports float32, got %s", ml.ErrDType, op, t.DType())
		}
	}
	return nil
}

// canonicalAxis loest negative Achsen auf
func canonicalAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= max(rank, 1) {
		return 0, fmt.Errorf("%w: axis %d out of range for rank %d", ml.ErrShape, axis, rank)
	}
	return axis, nil
}

// sizeToAxis multipliziert shape[:axis], sizeFromAxis shape[axis:]
func sizeToAxis(shape []int, axis int) int { return ml.Numel(shape[:axis]) }

func sizeFromAxis(shape []int, axis int) int { return ml.Numel(shape[axis:]) }
