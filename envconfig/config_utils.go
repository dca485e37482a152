// config_utils.go - Getter-Bausteine und Export der Konfiguration
//
// Dieses Modul enthaelt:
// - Bool: Boolean-Getter (Default: false)
// - StringWithDefault: String-Getter mit Default
// - OneOf: String-Getter mit fester Werteliste (Geraet, Engine)
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar/AsMap/Values: Export fuer Hilfetexte und Startup-Logging
package envconfig

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// =============================================================================
// Getter
// =============================================================================

// Bool liest key als Bool. Ein gesetzter, aber unlesbarer Wert gilt als true.
func Bool(key string) func() bool {
	return func() bool {
		s := Var(key)
		if s == "" {
			return false
		}
		b, err := strconv.ParseBool(s)
		return err != nil || b
	}
}

// StringWithDefault liest key, leer ergibt defaultValue
func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if v := Var(key); v != "" {
			return v
		}
		return defaultValue
	}
}

// OneOf liest key klein geschrieben. Werte ausserhalb von allowed werden mit
// einer Warnung durch defaultValue ersetzt.
func OneOf(key, defaultValue string, allowed ...string) func() string {
	return func() string {
		v := strings.ToLower(Var(key))
		switch {
		case v == "":
			return defaultValue
		case slices.Contains(allowed, v):
			return v
		}
		slog.Warn("unknown value for environment variable, using default", "key", key, "value", v, "allowed", allowed, "default", defaultValue)
		return defaultValue
	}
}

// Uint liest key als Dezimalzahl, Fehler fallen auf defaultValue zurueck
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		s := Var(key)
		if s == "" {
			return defaultValue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		return uint(n)
	}
}

// =============================================================================
// Export
// =============================================================================

// EnvVar beschreibt eine Umgebungsvariable mit aktuellem Wert
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle PREDICTOR_*-Variablen mit Wert und Beschreibung zurueck
func AsMap() map[string]EnvVar {
	vars := []EnvVar{
		{"PREDICTOR_DEBUG", LogLevel(), "Show additional debug information (1 = debug, 2 = trace with operator outputs)"},
		{"PREDICTOR_DEVICE", Device(), "Default device kind: cpu or cuda (default: cpu)"},
		{"PREDICTOR_ENGINE", Engine(), "Operator engine: " + strings.Join(engines, ", ") + " (default: eigen)"},
		{"PREDICTOR_NUM_THREADS", NumThreads(), "Parallel operator workers, 0 runs operators in order"},
		{"PREDICTOR_HOST", Host(), "IP Address for the predictor server (default 127.0.0.1:8765)"},
		{"PREDICTOR_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		{"PREDICTOR_MODELS", Models(), "Cache directory for downloaded networks"},
		{"PREDICTOR_FETCH_TIMEOUT", FetchTimeout(), "Timeout for one network download, 0 disables it (default 5m)"},
		{"PREDICTOR_PROFILE", Profile(), "Record per-operator timings for every run"},
		{"PREDICTOR_MAX_LOADED", MaxLoaded(), "Maximum number of predictors held by the server"},
	}

	m := make(map[string]EnvVar, len(vars))
	for _, v := range vars {
		m[v.Name] = v
	}
	return m
}

// Values gibt alle Werte als Strings zurueck (Startup-Logging, /api/info)
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprint(v.Value)
	}
	return vals
}
