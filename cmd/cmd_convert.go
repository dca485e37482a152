// cmd_convert.go - ONNX nach NetDef uebersetzen
// Hauptfunktionen: ConvertHandler
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/fetch"
	"github.com/go-caffe2/predictor/netdef"
	"github.com/go-caffe2/predictor/onnx"
)

// ConvertHandler - Schreibt init_net.pb und predict_net.pb nach --output
func ConvertHandler(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("output")

	path, err := fetch.Resolve(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	model, err := onnx.ParseFile(path)
	if err != nil {
		return err
	}
	initNet, predictNet, err := onnx.Translate(model)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	initPath := filepath.Join(dir, "init_net.pb")
	predictPath := filepath.Join(dir, "predict_net.pb")
	if err := netdef.WriteFile(initPath, initNet); err != nil {
		return err
	}
	if err := netdef.WriteFile(predictPath, predictNet); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d ops) and %s (%d ops)\n", initPath, len(initNet.Ops), predictPath, len(predictNet.Ops))
	return nil
}
