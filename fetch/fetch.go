// fetch.go - Aufloesung von Modellquellen in lokale Dateien
//
// MODUL: fetch
// ZWECK: Lokale Pfade, http(s)- und gs://-URLs in Dateien im Modell-Cache
//        (PREDICTOR_MODELS) aufloesen
// INPUT: Quellangaben aus CLI und Server
// OUTPUT: Lokaler Dateipfad
// NEBENEFFEKTE: Schreibt heruntergeladene Dateien in den Cache
// ABHAENGIGKEITEN: cloud.google.com/go/storage, x/sync/errgroup, envconfig
// HINWEISE: Cache-Schluessel ist der sha256 der Quelle; vorhandene Dateien
//           werden wiederverwendet.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/go-caffe2/predictor/envconfig"
)

var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Fetcher laedt entfernte Quellen in ein Cache-Verzeichnis
type Fetcher struct {
	Dir     string
	Client  *http.Client
	Timeout time.Duration // pro Download, 0 = unbegrenzt

	// openGCS oeffnet ein Objekt in Cloud Storage (ersetzbar in Tests)
	openGCS func(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// New erstellt einen Fetcher fuer dir; leer bedeutet envconfig.Models()
func New(dir string) *Fetcher {
	if dir == "" {
		dir = envconfig.Models()
	}
	return &Fetcher{Dir: dir, Client: http.DefaultClient, Timeout: envconfig.FetchTimeout(), openGCS: openGCS}
}

// Resolve verwendet den Standard-Cache
func Resolve(ctx context.Context, src string) (string, error) {
	return New("").Resolve(ctx, src)
}

// Resolve gibt einen lokalen Pfad fuer src zurueck
func (f *Fetcher) Resolve(ctx context.Context, src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// kein Schema (oder Windows-Laufwerk): lokale Datei
		if _, err := os.Stat(src); err != nil {
			return "", err
		}
		return src, nil
	}

	switch u.Scheme {
	case "file":
		return f.Resolve(ctx, u.Path)
	case "http", "https", "gs":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	dst := f.cachePath(src)
	if _, err := os.Stat(dst); err == nil {
		slog.Debug("model source cached", "source", src, "path", dst)
		return dst, nil
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", err
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var r io.ReadCloser
	switch u.Scheme {
	case "gs":
		r, err = f.openGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		r, err = f.openHTTP(ctx, src)
	}
	if err != nil {
		return "", err
	}
	defer r.Close()

	started := time.Now()
	n, err := writeToFile(r, dst)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", src, err)
	}
	slog.Info("downloaded model source", "source", src, "path", dst, "bytes", n, "duration", time.Since(started))
	return dst, nil
}

// ResolveAll loest alle Quellen parallel auf; die Reihenfolge bleibt erhalten
func (f *Fetcher) ResolveAll(ctx context.Context, srcs ...string) ([]string, error) {
	paths := make([]string, len(srcs))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		g.Go(func() error {
			p, err := f.Resolve(ctx, src)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// cachePath: <dir>/<sha256(src)>[.ext]
func (f *Fetcher) cachePath(src string) string {
	sum := sha256.Sum256([]byte(src))
	name := hex.EncodeToString(sum[:])
	if u, err := url.Parse(src); err == nil {
		name += path.Ext(u.Path)
	}
	return filepath.Join(f.Dir, name)
}

func (f *Fetcher) openHTTP(ctx context.Context, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: %s", src, resp.Status)
	}
	return resp.Body, nil
}

type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (r gcsReader) Close() error {
	return errors.Join(r.Reader.Close(), r.client.Close())
}

func openGCS(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, object, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening object gs://%s/%s: %w", bucket, object, err)
	}
	return gcsReader{Reader: r, client: client}, nil
}

// writeToFile schreibt src atomar nach dst (temporaere Datei + Rename)
func writeToFile(src io.Reader, dst string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), dst)
}
