// cmd_display.go - Ausgabe von Ergebnissen und Profilen
// Hauptfunktionen: collectResult, displayResult, displayJSON, topK
package cmd

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/go-caffe2/predictor/predictor"
	"github.com/go-caffe2/predictor/profile"
)

// maxNameWidth begrenzt Operator-Namen in der Profil-Tabelle
const maxNameWidth = 32

type scored struct {
	Index int     `json:"index"`
	Value float32 `json:"value"`
}

type outputResult struct {
	Name  string   `json:"name"`
	DType string   `json:"dtype"`
	Shape []int    `json:"shape"`
	Top   []scored `json:"top"`
	Numel int      `json:"numel"`
}

type runResult struct {
	Name             string            `json:"name"`
	Device           string            `json:"device"`
	Runs             int               `json:"runs"`
	Duration         time.Duration     `json:"duration"`
	PredictionLength int               `json:"prediction_length"`
	Outputs          []outputResult    `json:"outputs"`
	Profile          *profile.Snapshot `json:"profile,omitempty"`
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// topK - Die k groessten Werte mit ihrem Index, absteigend
func topK(values []float32, k int) []scored {
	all := make([]scored, len(values))
	for i, v := range values {
		all[i] = scored{Index: i, Value: v}
	}
	slices.SortStableFunc(all, func(a, b scored) int { return cmp.Compare(b.Value, a.Value) })
	if k >= 0 && k < len(all) {
		all = all[:k]
	}
	return all
}

// collectResult - Liest alle Ausgaben und das Profil des letzten Laufs
func collectResult(p *predictor.Predictor, k int, avg time.Duration) (*runResult, error) {
	res := &runResult{
		Name:     p.Name(),
		Device:   p.Device().String(),
		Duration: avg,
	}

	for i, name := range p.OutputNames() {
		t, err := p.Output(i)
		if err != nil {
			return nil, err
		}
		values, err := t.AsFloat32()
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		res.Outputs = append(res.Outputs, outputResult{
			Name:  name,
			DType: t.DType().String(),
			Shape: t.Shape(),
			Top:   topK(values, k),
			Numel: t.Numel(),
		})
	}
	res.PredictionLength = p.OutputLength()

	if prof := p.Profile(); prof != nil {
		snap := prof.Snapshot()
		res.Profile = &snap
	}
	return res, nil
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// displayResult - Tabellen fuer Ausgaben und Profil
func displayResult(w io.Writer, res *runResult) {
	printer := message.NewPrinter(language.English)

	printer.Fprintf(w, "%s on %s: %d run(s), %v per run, prediction length %d\n\n",
		res.Name, res.Device, res.Runs, res.Duration.Round(time.Microsecond), res.PredictionLength)

	for _, out := range res.Outputs {
		printer.Fprintf(w, "%s %s %v (%d elements)\n", out.Name, out.DType, out.Shape, out.Numel)

		table := newTable(w, []string{"RANK", "INDEX", "VALUE"})
		for rank, s := range out.Top {
			table.Append([]string{strconv.Itoa(rank + 1), strconv.Itoa(s.Index), strconv.FormatFloat(float64(s.Value), 'g', 6, 32)})
		}
		table.Render()
		fmt.Fprintln(w)
	}

	if res.Profile != nil {
		displayProfile(w, *res.Profile)
	}
}

// displayProfile - Ein Eintrag pro Operator in Ausfuehrungsreihenfolge
func displayProfile(w io.Writer, snap profile.Snapshot) {
	fmt.Fprintf(w, "profile %s (%s): %v\n", snap.Name, snap.Metadata, time.Duration(snap.EndNS-snap.StartNS))

	table := newTable(w, []string{"#", "OPERATOR", "NAME", "DURATION", "THREAD", "INPUT SHAPES"})
	for _, e := range snap.Elements {
		table.Append([]string{
			strconv.Itoa(e.Index),
			e.Name,
			runewidth.Truncate(e.Metadata, maxNameWidth, "..."),
			time.Duration(e.EndNS - e.StartNS).String(),
			strconv.FormatInt(e.ThreadID, 10),
			fmt.Sprint(e.Shapes),
		})
	}
	table.Render()
}

func displayJSON(w io.Writer, res *runResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
