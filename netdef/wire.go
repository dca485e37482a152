// wire.go - Protobuf-Wire-Codec fuer NetDef
//
// Kodiert und dekodiert die Nachrichten direkt mit protowire, ohne
// generierten Code. Unbekannte Felder werden beim Lesen gesammelt und beim
// Schreiben unveraendert angehaengt.
package netdef

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrCorrupt = errors.New("netdef: corrupt message")

// Feldnummern (caffe2.proto)
const (
	netName           protowire.Number = 1
	netOp             protowire.Number = 2
	netType           protowire.Number = 3
	netNumWorkers     protowire.Number = 4
	netDeviceOption   protowire.Number = 5
	netArg            protowire.Number = 6
	netExternalInput  protowire.Number = 7
	netExternalOutput protowire.Number = 8

	opInput        protowire.Number = 1
	opOutput       protowire.Number = 2
	opName         protowire.Number = 3
	opType         protowire.Number = 4
	opArg          protowire.Number = 5
	opDeviceOption protowire.Number = 6
	opEngine       protowire.Number = 7
	opControlInput protowire.Number = 8
	opIsGradient   protowire.Number = 9
	opDebugInfo    protowire.Number = 10
	opDomain       protowire.Number = 11
	opVersion      protowire.Number = 12

	argName    protowire.Number = 1
	argF       protowire.Number = 2
	argI       protowire.Number = 3
	argS       protowire.Number = 4
	argFloats  protowire.Number = 5
	argInts    protowire.Number = 6
	argStrings protowire.Number = 7

	devType     protowire.Number = 1
	devID       protowire.Number = 2
	devSeed     protowire.Number = 3
	devNodeName protowire.Number = 4
)

// ============================================================================
// Dekodieren
// ============================================================================

// field ist ein gelesenes Feld mit seinem rohen Inhalt
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64 // Varint/Fixed-Wert
	b   []byte // BytesType-Inhalt
	raw []byte // komplettes Feld inkl. Tag
}

// walk ruft fn fuer jedes Feld in b auf
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		start := b
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
		}
		b = b[n:]
		f.raw = start[:len(start)-len(b)]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrCorrupt, f.num, f.typ, typ)
	}
	return nil
}

func (f field) str() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.b), nil
}

func (f field) varint() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.v, nil
}

// Unmarshal dekodiert einen serialisierten NetDef
func Unmarshal(b []byte) (*NetDef, error) {
	net := &NetDef{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case netName:
			net.Name, err = f.str()
		case netType:
			net.Type, err = f.str()
		case netNumWorkers:
			var v uint64
			v, err = f.varint()
			net.NumWorkers = int32(v)
		case netOp:
			var op *OperatorDef
			if err = f.expect(protowire.BytesType); err == nil {
				op, err = unmarshalOp(f.b)
				net.Ops = append(net.Ops, op)
			}
		case netDeviceOption:
			if err = f.expect(protowire.BytesType); err == nil {
				net.DeviceOption, err = unmarshalDevice(f.b)
			}
		case netArg:
			var a *Argument
			if err = f.expect(protowire.BytesType); err == nil {
				a, err = unmarshalArg(f.b)
				net.Args = append(net.Args, a)
			}
		case netExternalInput:
			var s string
			s, err = f.str()
			net.ExternalInputs = append(net.ExternalInputs, s)
		case netExternalOutput:
			var s string
			s, err = f.str()
			net.ExternalOutputs = append(net.ExternalOutputs, s)
		default:
			net.unknown = append(net.unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

func unmarshalOp(b []byte) (*OperatorDef, error) {
	op := &OperatorDef{}
	err := walk(b, func(f field) error {
		var err error
		var s string
		var v uint64
		switch f.num {
		case opInput:
			s, err = f.str()
			op.Inputs = append(op.Inputs, s)
		case opOutput:
			s, err = f.str()
			op.Outputs = append(op.Outputs, s)
		case opName:
			op.Name, err = f.str()
		case opType:
			op.Type, err = f.str()
		case opArg:
			var a *Argument
			if err = f.expect(protowire.BytesType); err == nil {
				a, err = unmarshalArg(f.b)
				op.Args = append(op.Args, a)
			}
		case opDeviceOption:
			if err = f.expect(protowire.BytesType); err == nil {
				op.DeviceOption, err = unmarshalDevice(f.b)
			}
		case opEngine:
			op.Engine, err = f.str()
		case opControlInput:
			s, err = f.str()
			op.ControlInputs = append(op.ControlInputs, s)
		case opIsGradient:
			v, err = f.varint()
			op.IsGradientOp = v != 0
		case opDebugInfo:
			op.DebugInfo, err = f.str()
		case opDomain:
			op.Domain, err = f.str()
		case opVersion:
			v, err = f.varint()
			op.OpVersion = int64(v)
		default:
			op.unknown = append(op.unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("operator: %w", err)
	}
	return op, nil
}

func unmarshalArg(b []byte) (*Argument, error) {
	a := &Argument{}
	err := walk(b, func(f field) error {
		switch f.num {
		case argName:
			s, err := f.str()
			a.Name = s
			return err
		case argF:
			if err := f.expect(protowire.Fixed32Type); err != nil {
				return err
			}
			v := math.Float32frombits(uint32(f.v))
			a.F = &v
		case argI:
			v, err := f.varint()
			if err != nil {
				return err
			}
			i := int64(v)
			a.I = &i
		case argS:
			s, err := f.str()
			if err != nil {
				return err
			}
			a.S = &s
		case argFloats:
			// repeated float: gepackt oder einzeln
			switch f.typ {
			case protowire.Fixed32Type:
				a.Floats = append(a.Floats, math.Float32frombits(uint32(f.v)))
			case protowire.BytesType:
				p := f.b
				for len(p) > 0 {
					v, n := protowire.ConsumeFixed32(p)
					if n < 0 {
						return fmt.Errorf("%w: packed floats: %v", ErrCorrupt, protowire.ParseError(n))
					}
					a.Floats = append(a.Floats, math.Float32frombits(v))
					p = p[n:]
				}
			default:
				return f.expect(protowire.Fixed32Type)
			}
		case argInts:
			switch f.typ {
			case protowire.VarintType:
				a.Ints = append(a.Ints, int64(f.v))
			case protowire.BytesType:
				p := f.b
				for len(p) > 0 {
					v, n := protowire.ConsumeVarint(p)
					if n < 0 {
						return fmt.Errorf("%w: packed ints: %v", ErrCorrupt, protowire.ParseError(n))
					}
					a.Ints = append(a.Ints, int64(v))
					p = p[n:]
				}
			default:
				return f.expect(protowire.VarintType)
			}
		case argStrings:
			s, err := f.str()
			a.Strings = append(a.Strings, s)
			return err
		default:
			a.unknown = append(a.unknown, f.raw...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("argument: %w", err)
	}
	return a, nil
}

func unmarshalDevice(b []byte) (*DeviceOption, error) {
	d := &DeviceOption{}
	err := walk(b, func(f field) error {
		var err error
		var v uint64
		switch f.num {
		case devType:
			v, err = f.varint()
			d.DeviceType = int32(v)
		case devID:
			v, err = f.varint()
			d.DeviceID = int32(v)
		case devSeed:
			v, err = f.varint()
			d.RandomSeed = uint32(v)
		case devNodeName:
			d.NodeName, err = f.str()
		default:
			d.unknown = append(d.unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("device option: %w", err)
	}
	return d, nil
}

// ============================================================================
// Kodieren
// ============================================================================

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStrings(b []byte, num protowire.Number, ss []string) []byte {
	for _, s := range ss {
		b = appendString(b, num, s)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// Marshal serialisiert net; optionale leere Felder werden ausgelassen
func Marshal(net *NetDef) []byte {
	var b []byte
	if net.Name != "" {
		b = appendString(b, netName, net.Name)
	}
	for _, op := range net.Ops {
		b = appendMessage(b, netOp, marshalOp(op))
	}
	if net.Type != "" {
		b = appendString(b, netType, net.Type)
	}
	if net.NumWorkers != 0 {
		b = appendVarint(b, netNumWorkers, uint64(int64(net.NumWorkers)))
	}
	if net.DeviceOption != nil {
		b = appendMessage(b, netDeviceOption, marshalDevice(net.DeviceOption))
	}
	for _, a := range net.Args {
		b = appendMessage(b, netArg, marshalArg(a))
	}
	b = appendStrings(b, netExternalInput, net.ExternalInputs)
	b = appendStrings(b, netExternalOutput, net.ExternalOutputs)
	return append(b, net.unknown...)
}

func marshalOp(op *OperatorDef) []byte {
	var b []byte
	b = appendStrings(b, opInput, op.Inputs)
	b = appendStrings(b, opOutput, op.Outputs)
	if op.Name != "" {
		b = appendString(b, opName, op.Name)
	}
	if op.Type != "" {
		b = appendString(b, opType, op.Type)
	}
	for _, a := range op.Args {
		b = appendMessage(b, opArg, marshalArg(a))
	}
	if op.DeviceOption != nil {
		b = appendMessage(b, opDeviceOption, marshalDevice(op.DeviceOption))
	}
	if op.Engine != "" {
		b = appendString(b, opEngine, op.Engine)
	}
	b = appendStrings(b, opControlInput, op.ControlInputs)
	if op.IsGradientOp {
		b = appendVarint(b, opIsGradient, 1)
	}
	if op.DebugInfo != "" {
		b = appendString(b, opDebugInfo, op.DebugInfo)
	}
	if op.Domain != "" {
		b = appendString(b, opDomain, op.Domain)
	}
	if op.OpVersion != 0 {
		b = appendVarint(b, opVersion, uint64(op.OpVersion))
	}
	return append(b, op.unknown...)
}

func marshalArg(a *Argument) []byte {
	var b []byte
	b = appendString(b, argName, a.Name)
	if a.F != nil {
		b = protowire.AppendTag(b, argF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(*a.F))
	}
	if a.I != nil {
		b = appendVarint(b, argI, uint64(*a.I))
	}
	if a.S != nil {
		b = appendString(b, argS, *a.S)
	}
	// proto2: repeated Skalare ungepackt
	for _, v := range a.Floats {
		b = protowire.AppendTag(b, argFloats, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	for _, v := range a.Ints {
		b = appendVarint(b, argInts, uint64(v))
	}
	b = appendStrings(b, argStrings, a.Strings)
	return append(b, a.unknown...)
}

func marshalDevice(d *DeviceOption) []byte {
	var b []byte
	b = appendVarint(b, devType, uint64(int64(d.DeviceType)))
	if d.DeviceID != 0 {
		b = appendVarint(b, devID, uint64(int64(d.DeviceID)))
	}
	if d.RandomSeed != 0 {
		b = appendVarint(b, devSeed, uint64(d.RandomSeed))
	}
	if d.NodeName != "" {
		b = appendString(b, devNodeName, d.NodeName)
	}
	return append(b, d.unknown...)
}
