// MODUL: cuda_stub
// ZWECK: Stub-Implementierung wenn CUDA nicht einkompiliert ist
// INPUT: Keine
// OUTPUT: ErrUnsupported fuer alle Beschleuniger-Operationen
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: backend.go
// HINWEISE: Wird kompiliert wenn Build-Tag "cuda" NICHT gesetzt

//go:build !cuda

package backend

import "fmt"

func cudaAvailable() bool { return false }

func cudaDevices() []DeviceInfo { return nil }

func newCUDAAccelerator(int) (Accelerator, error) {
	return nil, fmt.Errorf("cuda: %w (build with -tags cuda)", ErrUnsupported)
}
