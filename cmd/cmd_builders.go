// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newRunCmd, newConvertCmd, newInfoCmd, newServeCmd
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/envconfig"
)

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load a network, bind one input and run it",
		Example: `  predictor run --init init_net.pb --predict predict_net.pb --input 1,3,227,227 --image cat.jpg
  predictor run --onnx gs://bucket/squeezenet.onnx --input 1,3,224,224 --fill 0.5 --profile`,
		Args: cobra.NoArgs,
		RunE: RunHandler,
	}

	runCmd.Flags().String("init", "", "Init network (path, http(s):// or gs:// URL)")
	runCmd.Flags().String("predict", "", "Predict network (path, http(s):// or gs:// URL)")
	runCmd.Flags().String("onnx", "", "ONNX model instead of --init/--predict")
	runCmd.Flags().String("input", "", "Shape of input 0, comma separated (e.g. 1,3,224,224)")
	runCmd.Flags().String("dtype", "float32", "Element type of input 0")
	runCmd.Flags().Float32("fill", 1, "Value for every input element")
	runCmd.Flags().String("image", "", "Image file for an NCHW input (resized to H x W)")
	runCmd.Flags().String("norm", "imagenet", "Image normalization: imagenet or none")
	runCmd.Flags().String("device", envconfig.Device(), "Device kind: cpu or cuda")
	runCmd.Flags().String("engine", "", "Operator engine (eigen, nnpack, mkl, dnnlowp, default)")
	runCmd.Flags().Int("workers", int(envconfig.NumThreads()), "Parallel operator workers, 0 runs operators in order")
	runCmd.Flags().Int("repeat", 1, "Number of runs")
	runCmd.Flags().Int("top-k", 5, "Entries shown per output")
	runCmd.Flags().Bool("profile", envconfig.Profile(), "Record and show per-operator timings")
	runCmd.Flags().String("format", "", "Output format: table or json (default: table on terminals)")
	runCmd.MarkFlagsMutuallyExclusive("onnx", "init")
	runCmd.MarkFlagsMutuallyExclusive("onnx", "predict")
	runCmd.MarkFlagsMutuallyExclusive("image", "fill")

	return runCmd
}

// newConvertCmd - Erstellt den convert Command
func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert MODEL.onnx",
		Short: "Translate an ONNX model into init_net.pb and predict_net.pb",
		Args:  cobra.ExactArgs(1),
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().StringP("output", "o", ".", "Output directory")
	return convertCmd
}

// newInfoCmd - Erstellt den info Command
func newInfoCmd() *cobra.Command {
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show devices, engines, operators and configuration",
		Args:  cobra.NoArgs,
		RunE:  InfoHandler,
	}

	infoCmd.Flags().Bool("operators", false, "List registered operator types")
	return infoCmd
}

// newPsCmd - Erstellt den ps Command
func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ps [PREFIX]",
		Short:   "List predictors loaded by the server",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ListRunningHandler,
	}
}

// newStopCmd - Erstellt den stop Command
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop ID",
		Short:   "Close a predictor loaded by the server",
		Args:    cobra.ExactArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    StopHandler,
	}
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
