// netdef.go - Graph-Definitionen (NetDef, OperatorDef, Argument, DeviceOption)
//
// Dieses Modul enthaelt:
// - Die Datentypen der serialisierten Netze (Feldnummern wie caffe2.proto)
// - Argument-Zugriffe auf Operatoren
// - Builder fuer Operatoren und Argumente (Translator, Tests)
// - SetDevice/SetOperatorEngine fuer die Geraete- und Engine-Zuweisung
package netdef

import (
	"slices"
)

// Geraetetypen im DeviceOption-Feld device_type
const (
	DeviceCPU  int32 = 0
	DeviceCUDA int32 = 1
)

// NetDef ist ein gerichteter Berechnungsgraph mit benannten externen Ein- und Ausgaengen.
type NetDef struct {
	Name            string
	Type            string
	NumWorkers      int32
	DeviceOption    *DeviceOption
	Ops             []*OperatorDef
	Args            []*Argument
	ExternalInputs  []string
	ExternalOutputs []string

	unknown []byte
}

// OperatorDef beschreibt eine Operator-Ausfuehrung im Graphen.
type OperatorDef struct {
	Inputs        []string
	Outputs       []string
	Name          string
	Type          string
	Args          []*Argument
	DeviceOption  *DeviceOption
	Engine        string
	ControlInputs []string
	IsGradientOp  bool
	DebugInfo     string
	Domain        string
	OpVersion     int64

	unknown []byte
}

// Argument ist ein benanntes Operator-Argument. Genau eines der Wertefelder ist gesetzt.
type Argument struct {
	Name    string
	F       *float32
	I       *int64
	S       *string
	Floats  []float32
	Ints    []int64
	Strings []string

	unknown []byte
}

// DeviceOption legt Geraetetyp und -index fest.
type DeviceOption struct {
	DeviceType int32
	DeviceID   int32
	RandomSeed uint32
	NodeName   string

	unknown []byte
}

// ============================================================================
// Argument-Zugriffe
// ============================================================================

// Arg gibt das Argument mit dem Namen name zurueck oder nil
func (op *OperatorDef) Arg(name string) *Argument {
	for _, a := range op.Args {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// HasArg meldet, ob das Argument gesetzt ist
func (op *OperatorDef) HasArg(name string) bool {
	return op.Arg(name) != nil
}

// Int liest ein ganzzahliges Argument oder gibt def zurueck
func (op *OperatorDef) Int(name string, def int) int {
	if a := op.Arg(name); a != nil && a.I != nil {
		return int(*a.I)
	}
	return def
}

// Float liest ein Gleitkomma-Argument; ganzzahlige Werte werden akzeptiert
func (op *OperatorDef) Float(name string, def float32) float32 {
	if a := op.Arg(name); a != nil {
		switch {
		case a.F != nil:
			return *a.F
		case a.I != nil:
			return float32(*a.I)
		}
	}
	return def
}

// String liest ein String-Argument oder gibt def zurueck
func (op *OperatorDef) String(name string, def string) string {
	if a := op.Arg(name); a != nil && a.S != nil {
		return *a.S
	}
	return def
}

// Ints liest ein Listen-Argument als []int
func (op *OperatorDef) Ints(name string) []int {
	a := op.Arg(name)
	if a == nil {
		return nil
	}
	out := make([]int, len(a.Ints))
	for i, v := range a.Ints {
		out[i] = int(v)
	}
	return out
}

// Floats liest ein Listen-Argument als []float32
func (op *OperatorDef) Floats(name string) []float32 {
	if a := op.Arg(name); a != nil {
		return a.Floats
	}
	return nil
}

// Strings liest ein Listen-Argument als []string
func (op *OperatorDef) Strings(name string) []string {
	if a := op.Arg(name); a != nil {
		return a.Strings
	}
	return nil
}

// SetArg ersetzt oder ergaenzt ein Argument
func (op *OperatorDef) SetArg(arg *Argument) {
	for i, a := range op.Args {
		if a.Name == arg.Name {
			op.Args[i] = arg
			return
		}
	}
	op.Args = append(op.Args, arg)
}

// ============================================================================
// Builder
// ============================================================================

// NewOp erstellt einen Operator mit Ein-/Ausgaengen und Argumenten
func NewOp(typ string, inputs, outputs []string, args ...*Argument) *OperatorDef {
	return &OperatorDef{
		Type:    typ,
		Inputs:  slices.Clone(inputs),
		Outputs: slices.Clone(outputs),
		Args:    args,
	}
}

func IntArg(name string, v int64) *Argument {
	return &Argument{Name: name, I: &v}
}

func FloatArg(name string, v float32) *Argument {
	return &Argument{Name: name, F: &v}
}

func StringArg(name, v string) *Argument {
	return &Argument{Name: name, S: &v}
}

func IntsArg(name string, v ...int64) *Argument {
	return &Argument{Name: name, Ints: v}
}

func FloatsArg(name string, v ...float32) *Argument {
	return &Argument{Name: name, Floats: v}
}

func StringsArg(name string, v ...string) *Argument {
	return &Argument{Name: name, Strings: v}
}

// ShapeArg ist eine Abkuerzung fuer ein "shape"-Argument aus []int
func ShapeArg(shape ...int) *Argument {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return IntsArg("shape", dims...)
}

// ============================================================================
// Geraete- und Engine-Zuweisung
// ============================================================================

// SetDevice setzt den Geraetetyp fuer das Netz und jeden Operator
func SetDevice(net *NetDef, deviceType int32) {
	if net.DeviceOption == nil {
		net.DeviceOption = &DeviceOption{}
	}
	net.DeviceOption.DeviceType = deviceType

	for _, op := range net.Ops {
		if op.DeviceOption == nil {
			op.DeviceOption = &DeviceOption{}
		}
		op.DeviceOption.DeviceType = deviceType
	}
}

// SetOperatorEngine setzt Geraetetyp und Engine fuer jeden Operator
func SetOperatorEngine(net *NetDef, deviceType int32, engine string) {
	SetDevice(net, deviceType)
	for _, op := range net.Ops {
		op.Engine = engine
	}
}

// Clone erstellt eine tiefe Kopie ueber den Wire-Codec
func (n *NetDef) Clone() *NetDef {
	c, err := Unmarshal(Marshal(n))
	if err != nil {
		// Marshal erzeugt immer gueltige Daten
		panic(err)
	}
	return c
}
