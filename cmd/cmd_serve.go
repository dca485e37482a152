// cmd_serve.go - Server starten
// Hauptfunktionen: RunServer
package cmd

import (
	"errors"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/server"
)

// RunServer - Startet den HTTP-Server auf PREDICTOR_HOST
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
