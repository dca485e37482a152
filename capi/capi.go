// capi.go - Handle-basierte Fassade ueber predictor fuer die C-Bibliothek
//
// MODUL: capi
// ZWECK: Bildet Predictoren auf opake Handles ab und uebersetzt Fehler in
//        Codes und errno-Werte. Keine Panik verlaesst diese Fassade.
// INPUT: Pfade, ONNX-Bytes, Eingabepuffer und Handles vom Aufrufer
// OUTPUT: Handles, Codes, Ausgabe-Tensoren, Profil-JSON
// NEBENEFFEKTE: Loggt Fehler mit der urspruenglichen Meldung
// ABHAENGIGKEITEN: predictor, ml, x/sys/unix
// HINWEISE: Handle 0 ist ungueltig. Jeder Aufruf auf einem Handle wird
//           ueber dessen Mutex serialisiert.
package capi

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/predictor"
	"github.com/go-caffe2/predictor/profile"
)

// Handle identifiziert einen Predictor ueber die C-Grenze
type Handle uintptr

// Code ist das Ergebnis von BindInput und Predict
type Code int

const (
	Success Code = iota
	InvalidMemory
	Exception
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case InvalidMemory:
		return "invalid_memory"
	case Exception:
		return "exception"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

type entry struct {
	mu sync.Mutex
	p  *predictor.Predictor
}

var handles = struct {
	sync.Mutex
	next Handle
	live map[Handle]*entry
}{live: make(map[Handle]*entry)}

func register(p *predictor.Predictor) Handle {
	handles.Lock()
	defer handles.Unlock()
	handles.next++
	handles.live[handles.next] = &entry{p: p}
	return handles.next
}

func lookup(h Handle) *entry {
	if h == 0 {
		return nil
	}
	handles.Lock()
	defer handles.Unlock()
	return handles.live[h]
}

// Live gibt die Anzahl offener Handles zurueck
func Live() int {
	handles.Lock()
	defer handles.Unlock()
	return len(handles.live)
}

// guard faengt Panics der Engine ab und meldet sie als Fehler
func guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
			slog.Error("recovered panic", "op", op, "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			slog.Error("call failed", "op", op, "error", err)
		}
		setLastError(err)
	}()
	return fn()
}

// with fuehrt fn mit dem gesperrten Predictor von h aus
func with(h Handle, op string, fn func(p *predictor.Predictor) error) error {
	e := lookup(h)
	if e == nil {
		err := fmt.Errorf("%s: %w: handle %d", op, predictor.ErrMemoryFault, h)
		setLastError(err)
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return guard(op, func() error { return fn(e.p) })
}

func code(err error) Code {
	if err == nil {
		return Success
	}
	if Errno(err) == errnoFault {
		return InvalidMemory
	}
	return Exception
}

// =============================================================================
// Lebenszyklus
// =============================================================================

// GlobalInit initialisiert die Prozess-Runtime fuer kind; idempotent
func GlobalInit(kind ml.DeviceKind) bool {
	err := guard("global init", func() error {
		return predictor.Default().Init(kind)
	})
	return err == nil
}

// Create laedt ein NetDef-Paar; 0 bei Fehler (siehe LastErrno)
func Create(initPath, predictPath string, kind ml.DeviceKind) Handle {
	var p *predictor.Predictor
	err := guard("create", func() (err error) {
		p, err = predictor.Default().New(initPath, predictPath, predictor.WithDevice(kind))
		return err
	})
	if err != nil {
		return 0
	}
	return register(p)
}

// CreateFromONNX uebersetzt ein ONNX-Modell; 0 bei Fehler
func CreateFromONNX(payload []byte, kind ml.DeviceKind) Handle {
	var p *predictor.Predictor
	err := guard("create from onnx", func() (err error) {
		p, err = predictor.Default().NewFromONNX(payload, predictor.WithDevice(kind))
		return err
	})
	if err != nil {
		return 0
	}
	return register(p)
}

// Delete schliesst den Predictor; 0 und unbekannte Handles werden ignoriert
func Delete(h Handle) {
	if h == 0 {
		return
	}
	handles.Lock()
	e, ok := handles.live[h]
	delete(handles.live, h)
	handles.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_ = guard("delete", func() error {
		e.p.Close()
		return nil
	})
}

// =============================================================================
// Ausfuehrung
// =============================================================================

func BindInput(h Handle, index int, dtype ml.DType, data []byte, shape []int) Code {
	return code(with(h, "bind input", func(p *predictor.Predictor) error {
		return p.BindInput(index, dtype, data, shape)
	}))
}

func Predict(h Handle) Code {
	return code(with(h, "predict", func(p *predictor.Predictor) error {
		return p.Run(context.Background())
	}))
}

// Output gibt Ausgabe index zurueck oder nil. Der Tensor gehoert dem Predictor
// und ist bis zum naechsten Predict oder Delete gueltig.
func Output(h Handle, index int) *ml.Tensor {
	var t *ml.Tensor
	_ = with(h, "get output", func(p *predictor.Predictor) (err error) {
		t, err = p.Output(index)
		return err
	})
	return t
}

// OutputLength gibt Elemente pro Batch-Eintrag zurueck (0 fuer ungueltige Handles)
func OutputLength(h Handle) int {
	var n int
	_ = with(h, "get output length", func(p *predictor.Predictor) error {
		n = p.OutputLength()
		return nil
	})
	return n
}

// =============================================================================
// Profiling
// =============================================================================

func StartProfiling(h Handle, name, metadata string) {
	_ = with(h, "start profiling", func(p *predictor.Predictor) error {
		p.StartProfiling(name, metadata)
		return nil
	})
}

func EndProfiling(h Handle) {
	_ = with(h, "end profiling", func(p *predictor.Predictor) error {
		p.EndProfiling()
		return nil
	})
}

func DisableProfiling(h Handle) {
	_ = with(h, "disable profiling", func(p *predictor.Predictor) error {
		p.DisableProfiling()
		return nil
	})
}

// ReadProfile gibt das Profil als JSON zurueck; ungueltige Handles liefern
// das neutrale Dokument
func ReadProfile(h Handle) string {
	var s string
	err := with(h, "read profile", func(p *predictor.Predictor) error {
		s = p.ReadProfile()
		return nil
	})
	if err != nil {
		return profile.Empty().String()
	}
	return s
}
