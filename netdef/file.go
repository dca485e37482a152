package netdef

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ReadFile liest einen serialisierten NetDef von path
func ReadFile(path string) (*NetDef, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	net, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Debug("netdef loaded", "path", path, "name", net.Name, "ops", len(net.Ops))
	return net, nil
}

// WriteFile schreibt net atomar nach path (temporaere Datei + Rename)
func WriteFile(path string, net *NetDef) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".netdef-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(Marshal(net)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
