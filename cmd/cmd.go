// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "predictor",
		Short:         "Run Caffe2 and ONNX networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	runCmd := newRunCmd()
	convertCmd := newConvertCmd()
	infoCmd := newInfoCmd()
	serveCmd := newServeCmd()
	psCmd := newPsCmd()
	stopCmd := newStopCmd()

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{runCmd, infoCmd, serveCmd, psCmd, stopCmd} {
		switch cmd {
		case runCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["PREDICTOR_DEBUG"],
				envVars["PREDICTOR_DEVICE"],
				envVars["PREDICTOR_ENGINE"],
				envVars["PREDICTOR_NUM_THREADS"],
				envVars["PREDICTOR_MODELS"],
				envVars["PREDICTOR_FETCH_TIMEOUT"],
				envVars["PREDICTOR_PROFILE"],
			})
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["PREDICTOR_DEBUG"],
				envVars["PREDICTOR_HOST"],
				envVars["PREDICTOR_ORIGINS"],
				envVars["PREDICTOR_DEVICE"],
				envVars["PREDICTOR_ENGINE"],
				envVars["PREDICTOR_NUM_THREADS"],
				envVars["PREDICTOR_MODELS"],
				envVars["PREDICTOR_FETCH_TIMEOUT"],
				envVars["PREDICTOR_PROFILE"],
				envVars["PREDICTOR_MAX_LOADED"],
			})
		case psCmd, stopCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["PREDICTOR_HOST"]})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["PREDICTOR_DEBUG"]})
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		runCmd,
		convertCmd,
		infoCmd,
		psCmd,
		stopCmd,
	)

	return rootCmd
}
