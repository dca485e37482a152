// engine.go - Abbildung von Backend-Namen auf Operator-Engines
package backend

import "github.com/go-caffe2/predictor/ml"

// Engine bildet einen Backend-Namen auf den Engine-Tag der Operatoren ab.
// "builtin" bleibt unveraendert, "default" bedeutet keine Engine,
// unbekannte Namen werden zu "NONE".
func Engine(backend string) string {
	switch backend {
	case "builtin":
		return backend
	case "nnpack":
		return "NNPACK"
	case "eigen":
		return "EIGEN"
	case "mkl":
		return "MKLDNN"
	case "cuda":
		return "CUDA"
	case "dnnlowp":
		return "DNNLOWP"
	case "dnnlowp_acc16":
		return "DNNLOWP_ACC16"
	case "default":
		return ""
	default:
		return "NONE"
	}
}

// DefaultEngine gibt den Engine-Tag fuer ein Geraet zurueck
func DefaultEngine(kind ml.DeviceKind) string {
	if kind == ml.CUDA {
		return Engine("cuda")
	}
	return Engine("eigen")
}

// Backends gibt alle bekannten Backend-Namen zurueck
func Backends() []string {
	return []string{"builtin", "default", "eigen", "nnpack", "mkl", "cuda", "dnnlowp", "dnnlowp_acc16"}
}
