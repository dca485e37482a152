// net.go - Kompilierte Netze und ihre Ausfuehrung
//
// Dieses Modul enthaelt:
// - CreateNet: Kernel-Lookup, Blob-Aufloesung, Abhaengigkeits-Ebenen
// - Run: sequentiell in Definitionsreihenfolge oder ebenenweise parallel
// - Hooks: optionale Callbacks fuer Netz- und Operator-Start/-Ende
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/go-caffe2/predictor/logutil"
	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/netdef"
	"github.com/go-caffe2/predictor/ops"
)

// OpEvent beschreibt einen Operator-Lauf fuer Hooks
type OpEvent struct {
	// Index ist die 1-basierte Position im Netz
	Index       int
	Type        string
	Name        string
	InputShapes [][]int
}

// Hooks werden waehrend Net.Run aufgerufen. Nicht gesetzte Felder kosten nichts.
// Bei paralleler Ausfuehrung koennen OnOpStart/OnOpStop gleichzeitig laufen.
type Hooks struct {
	OnNetStart func(name string, numOps int)
	OnNetStop  func(name string)
	OnOpStart  func(ev OpEvent)
	OnOpStop   func(ev OpEvent)
}

type operator struct {
	index   int
	def     *netdef.OperatorDef
	kernel  ops.Kernel
	inputs  []*Blob
	outputs []*Blob
	ctx     *ops.Context
}

// Net ist ein gegen einen Workspace kompiliertes NetDef
type Net struct {
	name      string
	ws        *Workspace
	operators []*operator
	levels    [][]int
	workers   int
	inputs    []string
	outputs   []string
}

// CreateNet kompiliert def gegen ws. Externe Ein- und Ausgaenge werden als
// Blobs angelegt; jede Operator-Eingabe muss existieren oder vorher erzeugt werden.
func (ws *Workspace) CreateNet(def *netdef.NetDef) (*Net, error) {
	if ws.isClosed() {
		return nil, ErrClosed
	}

	ws.mu.RLock()
	registry := ws.registry
	ws.mu.RUnlock()

	n := &Net{
		name:    def.Name,
		ws:      ws,
		workers: int(def.NumWorkers),
		inputs:  slices.Clone(def.ExternalInputs),
		outputs: slices.Clone(def.ExternalOutputs),
	}

	for _, name := range def.ExternalInputs {
		ws.CreateBlob(name)
	}

	for i, od := range def.Ops {
		op := &operator{index: i + 1, def: od}

		kernel, err := registry.Lookup(od)
		if err != nil {
			return nil, fmt.Errorf("operator %d (%s): %w", op.index, od.Type, err)
		}
		op.kernel = kernel

		for _, name := range od.Inputs {
			b, ok := ws.GetBlob(name)
			if !ok {
				return nil, fmt.Errorf("operator %d (%s): %w: input %q", op.index, od.Type, ErrBlobNotFound, name)
			}
			b.Tensor()
			op.inputs = append(op.inputs, b)
		}
		for _, name := range od.Outputs {
			b := ws.CreateBlob(name)
			b.Tensor()
			op.outputs = append(op.outputs, b)
		}

		op.ctx = ops.NewContext(make([]*ml.Tensor, len(op.inputs)), make([]*ml.Tensor, len(op.outputs)))
		n.operators = append(n.operators, op)
	}

	for _, name := range def.ExternalOutputs {
		ws.CreateBlob(name)
	}

	if n.workers > 1 {
		n.levels = n.schedule()
	}

	slog.Debug("net created", "name", n.name, "ops", len(n.operators), "workers", n.workers, "levels", len(n.levels))
	return n, nil
}

func (n *Net) Name() string { return n.name }

// SetName ueberschreibt den Netznamen (z.B. fuer Profile)
func (n *Net) SetName(name string) { n.name = name }

// Operators gibt die Operator-Definitionen in Ausfuehrungsreihenfolge zurueck
func (n *Net) Operators() []*netdef.OperatorDef {
	defs := make([]*netdef.OperatorDef, len(n.operators))
	for i, op := range n.operators {
		defs[i] = op.def
	}
	return defs
}

func (n *Net) ExternalInputs() []string { return slices.Clone(n.inputs) }

func (n *Net) ExternalOutputs() []string { return slices.Clone(n.outputs) }

// Run fuehrt alle Operatoren aus. hooks darf nil sein.
func (n *Net) Run(ctx context.Context, hooks *Hooks) error {
	if n.ws.isClosed() {
		return ErrClosed
	}
	if hooks == nil {
		hooks = &Hooks{}
	}

	if hooks.OnNetStart != nil {
		hooks.OnNetStart(n.name, len(n.operators))
	}

	var err error
	if n.levels != nil {
		err = n.runParallel(ctx, hooks)
	} else {
		err = n.runSequential(ctx, hooks)
	}

	if hooks.OnNetStop != nil {
		hooks.OnNetStop(n.name)
	}
	return err
}

func (n *Net) runSequential(ctx context.Context, hooks *Hooks) error {
	for _, op := range n.operators {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := op.run(hooks); err != nil {
			return err
		}
	}
	return nil
}

// runParallel fuehrt die Ebenen nacheinander aus, die Operatoren einer Ebene
// gleichzeitig, begrenzt durch workers
func (n *Net) runParallel(ctx context.Context, hooks *Hooks) error {
	sem := semaphore.NewWeighted(int64(n.workers))
	for _, level := range n.levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, i := range level {
			op := n.operators[i]
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				return op.run(hooks)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (op *operator) run(hooks *Hooks) error {
	for i, b := range op.inputs {
		op.ctx.Inputs[i] = b.Tensor()
	}
	for i, b := range op.outputs {
		op.ctx.Outputs[i] = b.Tensor()
	}

	var ev OpEvent
	if hooks.OnOpStart != nil || hooks.OnOpStop != nil {
		ev = OpEvent{Index: op.index, Type: op.def.Type, Name: op.def.Name}
		if hooks.OnOpStart != nil {
			ev.InputShapes = make([][]int, len(op.inputs))
			for i, t := range op.ctx.Inputs {
				ev.InputShapes[i] = t.Shape()
			}
			hooks.OnOpStart(ev)
		}
	}

	err := op.ctx.Run(op.kernel)

	if hooks.OnOpStop != nil {
		hooks.OnOpStop(ev)
	}
	if err != nil {
		return fmt.Errorf("operator %d (%s %q): %w", op.index, op.def.Type, op.def.Name, err)
	}

	if slog.Default().Enabled(context.TODO(), logutil.LevelTrace) {
		for i, t := range op.ctx.Outputs {
			if t == nil {
				continue
			}
			logutil.Trace("operator output", "index", op.index, "type", op.def.Type, "blob", op.def.Outputs[i], "shape", t.Shape(), "value", ml.Dump(t, ml.DumpWithLimit(16), ml.DumpWithEdge(2)))
		}
	}
	return nil
}
