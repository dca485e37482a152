// dump.go - Lesbare Darstellung von Tensor-Inhalten
// Wird vom Workspace auf TRACE-Level fuer Operator-Ausgaben benutzt.
package ml

import (
	"strconv"
	"strings"
)

// DumpOption aendert die Darstellung von Dump
type DumpOption func(*dumpConfig)

type dumpConfig struct {
	precision int
	limit     int // ab dieser Elementzahl wird gekuerzt
	edge      int // Elemente am Anfang und Ende jeder Achse
}

// DumpWithPrecision setzt die Nachkommastellen fuer Gleitkommawerte
func DumpWithPrecision(n int) DumpOption {
	return func(c *dumpConfig) { c.precision = n }
}

// DumpWithLimit setzt die Elementzahl, bis zu der alles ausgegeben wird
func DumpWithLimit(n int) DumpOption {
	return func(c *dumpConfig) { c.limit = n }
}

// DumpWithEdge setzt die Anzahl Randelemente pro Achse bei gekuerzter Ausgabe
func DumpWithEdge(n int) DumpOption {
	return func(c *dumpConfig) { c.edge = n }
}

// Dump formatiert t verschachtelt nach seiner Shape. Grosse Tensoren werden
// pro Achse auf die Randelemente gekuerzt.
func Dump(t *Tensor, opts ...DumpOption) string {
	c := dumpConfig{precision: 4, limit: 1000, edge: 3}
	for _, opt := range opts {
		opt(&c)
	}
	if t.Numel() <= c.limit {
		c.edge = -1
	}

	var format func(int) string
	switch t.DType() {
	case DTypeF32:
		vals := t.Floats()
		format = func(i int) string { return strconv.FormatFloat(float64(vals[i]), 'f', c.precision, 32) }
	case DTypeF16, DTypeF64:
		vals, err := t.AsFloat32()
		if err != nil {
			return "<" + err.Error() + ">"
		}
		format = func(i int) string { return strconv.FormatFloat(float64(vals[i]), 'f', c.precision, 32) }
	case DTypeI32:
		vals := t.Int32s()
		format = func(i int) string { return strconv.FormatInt(int64(vals[i]), 10) }
	case DTypeI64:
		vals := t.Int64s()
		format = func(i int) string { return strconv.FormatInt(vals[i], 10) }
	case DTypeU8:
		vals := t.Uint8s()
		format = func(i int) string { return strconv.FormatUint(uint64(vals[i]), 10) }
	case DTypeI8:
		vals := t.Int8s()
		format = func(i int) string { return strconv.FormatInt(int64(vals[i]), 10) }
	default:
		return "<" + t.DType().String() + ">"
	}

	shape := t.Shape()
	if len(shape) == 0 {
		if t.Numel() == 0 {
			return "[]"
		}
		return format(0)
	}

	d := dumper{shape: shape, edge: c.edge, format: format}
	d.axis(0, 0)
	return d.sb.String()
}

type dumper struct {
	sb     strings.Builder
	shape  []int
	edge   int
	format func(int) string
}

// axis schreibt die Achse a ab dem flachen Offset offset
func (d *dumper) axis(a, offset int) {
	n := d.shape[a]
	inner := Numel(d.shape[a+1:])
	last := a == len(d.shape)-1
	sep := ", "
	if !last {
		sep = "," + strings.Repeat("\n", len(d.shape)-a-1) + strings.Repeat(" ", a+1)
	}

	d.sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if d.edge >= 0 && i == d.edge && n > 2*d.edge {
			d.sb.WriteString("...")
			d.sb.WriteString(sep)
			i = n - d.edge - 1
			continue
		}
		if last {
			text := d.format(offset + i)
			if !strings.HasPrefix(text, "-") {
				d.sb.WriteByte(' ')
			}
			d.sb.WriteString(text)
		} else {
			d.axis(a+1, offset+i*inner)
		}
		if i < n-1 {
			d.sb.WriteString(sep)
		}
	}
	d.sb.WriteByte(']')
}
