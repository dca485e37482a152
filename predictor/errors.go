// errors.go - Fehlerklassen des Predictors
//
// Jeder Fehler der oeffentlichen API wrappt genau eine dieser Klassen und die
// urspruengliche Ursache, so dass errors.Is fuer beide funktioniert.
package predictor

import "errors"

var (
	// ErrInvalidArgument: ungueltiger Index oder fehlerhafte Shape
	ErrInvalidArgument = errors.New("invalid argument")

	ErrUnsupportedDataType = errors.New("unsupported data type")

	// ErrUnsupportedDevice: Beschleuniger angefordert, aber nicht einkompiliert
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrGraphLoadFailed: Netzdatei fehlt, ist korrupt oder nicht uebersetzbar
	ErrGraphLoadFailed = errors.New("graph load failed")

	ErrExecutionFailed = errors.New("execution failed")

	ErrOutputNotFound = errors.New("output not found")

	// ErrMemoryFault: Aufruf auf einem geschlossenen oder ungueltigen Predictor
	ErrMemoryFault = errors.New("memory fault")
)
