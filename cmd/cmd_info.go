// cmd_info.go - Info Command
// Hauptfunktionen: InfoHandler
package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/ml/backend"
	"github.com/go-caffe2/predictor/predictor"
)

// InfoHandler - Zeigt Geraete, Engines und die Umgebung
func InfoHandler(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	table := newTable(w, []string{"DEVICE", "ID", "NAME", "FEATURES"})
	for _, d := range backend.Devices() {
		table.Append([]string{d.Kind.String(), fmt.Sprint(d.DeviceID), d.DeviceName, strings.Join(d.Features, " ")})
	}
	table.Render()
	fmt.Fprintln(w)

	table = newTable(w, []string{"BACKEND", "ENGINE"})
	for _, name := range backend.Backends() {
		table.Append([]string{name, backend.Engine(name)})
	}
	table.Render()
	fmt.Fprintln(w)

	if ops, _ := cmd.Flags().GetBool("operators"); ops {
		types := predictor.Default().Registry().Types()
		fmt.Fprintf(w, "%d operators: %s\n\n", len(types), strings.Join(types, ", "))
	}

	env := envconfig.AsMap()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	table = newTable(w, []string{"VARIABLE", "VALUE"})
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprintf("%v", env[k].Value)})
	}
	table.Render()
	return nil
}
