// config.go - Haupt-Konfigurationsfunktionen fuer den Predictor
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host des HTTP-Servers zurueck (PREDICTOR_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (PREDICTOR_ORIGINS)
// - Models: Gibt das Cache-Verzeichnis fuer geladene Modelle zurueck (PREDICTOR_MODELS)
// - FetchTimeout: Gibt das Download-Timeout zurueck (PREDICTOR_FETCH_TIMEOUT)
// - Device: Gibt das Standard-Geraet zurueck (PREDICTOR_DEVICE)
// - LogLevel: Gibt Log-Level zurueck (PREDICTOR_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags, Engine und Parallelitaet
// - config_utils.go: Utility-Funktionen und AsMap
package envconfig

import (
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-caffe2/predictor/logutil"
)

// Host gibt die Basis-URL des HTTP-Servers zurueck
// Konfigurierbar via PREDICTOR_HOST ("[scheme://]host[:port][/pfad]")
// Default: http://127.0.0.1:8765; mit Schema ohne Port gilt dessen Standardport
func Host() *url.URL {
	raw := Var("PREDICTOR_HOST")

	port := "8765"
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	} else if strings.HasPrefix(raw, "https://") {
		port = "443"
	} else {
		port = "80"
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		slog.Warn("invalid PREDICTOR_HOST, using default", "value", Var("PREDICTOR_HOST"), "error", err)
		u, port = &url.URL{Scheme: "http"}, "8765"
	}

	host := u.Hostname()
	if host == "" && u.Port() == "" {
		host = "127.0.0.1"
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.ParseUint(p, 10, 16); err == nil && n > 0 {
			port = p
		} else {
			slog.Warn("invalid port, using default", "port", p, "default", port)
		}
	}

	return &url.URL{Scheme: u.Scheme, Host: net.JoinHostPort(host, port), Path: strings.TrimSuffix(u.Path, "/")}
}

// AllowedOrigins gibt die CORS-Origins des Servers zurueck
// Konfigurierbar via PREDICTOR_ORIGINS (komma-separiert, leere Eintraege
// werden ignoriert); lokale Origins sind immer erlaubt
func AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(Var("PREDICTOR_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	for _, host := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		for _, scheme := range []string{"http", "https"} {
			origins = append(origins, scheme+"://"+host, scheme+"://"+host+":*")
		}
	}
	return origins
}

// Models gibt das Cache-Verzeichnis fuer heruntergeladene Netze zurueck
// Konfigurierbar via PREDICTOR_MODELS
// Default: $HOME/.predictor/models
func Models() string {
	if s := Var("PREDICTOR_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "predictor", "models")
	}

	return filepath.Join(home, ".predictor", "models")
}

// FetchTimeout begrenzt einen einzelnen Modell-Download
// Konfigurierbar via PREDICTOR_FETCH_TIMEOUT (Dauer wie "90s" oder Sekunden)
// 0 oder negative Werte = unbegrenzt
// Default: 5 Minuten
func FetchTimeout() time.Duration {
	timeout := 5 * time.Minute
	if s := Var("PREDICTOR_FETCH_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			timeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			timeout = time.Duration(n) * time.Second
		} else {
			slog.Warn("invalid environment variable, using default", "key", "PREDICTOR_FETCH_TIMEOUT", "value", s, "default", timeout)
		}
	}

	if timeout < 0 {
		return 0
	}
	return timeout
}

// Device gibt das Standard-Geraet zurueck ("cpu" oder "cuda")
// Konfigurierbar via PREDICTOR_DEVICE
// Default: cpu
func Device() string {
	return device()
}

var device = OneOf("PREDICTOR_DEVICE", "cpu", "cpu", "cuda", "gpu")

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via PREDICTOR_DEBUG
// Werte: leer/0/false = INFO, 1/true = DEBUG, 2 = TRACE (mit Operator-
// Ausgaben); ausserdem die Namen info, debug, trace, warn, error
func LogLevel() slog.Level {
	s := strings.ToLower(Var("PREDICTOR_DEBUG"))
	switch s {
	case "", "0", "false", "info":
		return slog.LevelInfo
	case "1", "true", "debug":
		return slog.LevelDebug
	case "trace":
		return logutil.LevelTrace
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// hoehere Zahlen gehen in Viererschritten unter DEBUG
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return slog.Level(-4 * n)
	}
	slog.Warn("invalid PREDICTOR_DEBUG, using info", "value", s)
	return slog.LevelInfo
}

// Var liest key ohne umgebende Leerzeichen und Anfuehrungszeichen
func Var(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}
