// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/logutil"
	"github.com/go-caffe2/predictor/ml"
	"github.com/go-caffe2/predictor/ml/backend"
)

// Serve startet den HTTP-Server auf ln und blockiert bis SIGINT/SIGTERM
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	s := New(ln.Addr())

	device, err := ml.ParseDeviceKind(envconfig.Device())
	if err != nil {
		return err
	}
	if err := s.runtime.Init(device); err != nil {
		return err
	}
	for _, d := range backend.Devices() {
		slog.Info("device", "kind", d.Kind, "name", d.DeviceName, "features", d.Features)
	}

	ctx, done := context.WithCancel(context.Background())
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	// bei Ctrl+C alle Predictoren schliessen
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		s.models.closeAll()
		done()
	}()

	slog.Info(fmt.Sprintf("Listening on %s", ln.Addr()))
	err = srvr.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}
