// config_features.go - Feature-Flags, Engine und Parallelitaet
//
// Dieses Modul enthaelt:
// - Feature-Flags (Profile)
// - Engine-Auswahl fuer CPU-Operatoren
// - Parallelitaets- und Server-Einstellungen
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// Profile aktiviert das Profiling fuer CLI- und Server-Laeufe
	Profile = Bool("PREDICTOR_PROFILE")
)

// =============================================================================
// Engine-Konfiguration
// =============================================================================

// engines sind die Backend-Namen, die PREDICTOR_ENGINE annimmt
var engines = []string{"eigen", "nnpack", "mkl", "dnnlowp", "dnnlowp_acc16", "builtin", "default"}

var (
	// Engine ueberschreibt das Backend der CPU-Operatoren
	Engine = OneOf("PREDICTOR_ENGINE", "eigen", engines...)
)

// =============================================================================
// Parallelitaets- und Server-Einstellungen
// =============================================================================

var (
	// NumThreads setzt die Anzahl paralleler Operator-Worker
	// 0 oder 1 = sequentielle Ausfuehrung in Definitionsreihenfolge
	NumThreads = Uint("PREDICTOR_NUM_THREADS", 0)

	// MaxLoaded setzt die maximale Anzahl geladener Predictoren im Server
	MaxLoaded = Uint("PREDICTOR_MAX_LOADED", 4)
)
