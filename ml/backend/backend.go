// MODUL: backend
// ZWECK: Abstraktion fuer Compute-Geraete (CPU/CUDA) und Beschleuniger-Speicher
// INPUT: DeviceKind des Predictors
// OUTPUT: Accelerator fuer Upload/Download, DeviceInfo, Verfuegbarkeit
// NEBENEFFEKTE: Keine (Detection ist lesend)
// ABHAENGIGKEITEN: ml, golang.org/x/sys/cpu
// HINWEISE: CUDA-Implementierung in cuda.go (Build-Tag "cuda"), sonst cuda_stub.go

package backend

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"golang.org/x/sys/cpu"

	"github.com/go-caffe2/predictor/ml"
)

// ErrUnsupported wird zurueckgegeben, wenn ein Geraet nicht einkompiliert ist
var ErrUnsupported = errors.New("device support not compiled in")

// ============================================================================
// DeviceInfo - Hardware-Informationen
// ============================================================================

// DeviceInfo enthaelt Informationen ueber ein verfuegbares Compute-Geraet.
type DeviceInfo struct {
	Kind        ml.DeviceKind `json:"kind"`
	DeviceID    int           `json:"device_id"`
	DeviceName  string        `json:"name"`
	MemoryTotal uint64        `json:"memory_total,omitempty"`
	MemoryFree  uint64        `json:"memory_free,omitempty"`
	ComputeCap  string        `json:"compute_capability,omitempty"`
	Features    []string      `json:"features,omitempty"`
}

// ============================================================================
// Accelerator Interface
// ============================================================================

// Accelerator verschiebt Tensoren zwischen Host und Geraet.
// Implementierungen: cudaAccelerator (cuda.go).
type Accelerator interface {
	// Upload kopiert einen Host-Tensor in neuen Geraetespeicher
	Upload(t *ml.Tensor) (*ml.Tensor, error)

	// Download kopiert einen Geraete-Tensor in einen neuen Host-Tensor
	Download(t *ml.Tensor) (*ml.Tensor, error)

	// Synchronize wartet, bis alle ausstehenden Kopien abgeschlossen sind
	Synchronize() error

	Info() DeviceInfo
}

// NewAccelerator erstellt den Beschleuniger fuer kind.
// Fuer CPU gibt es keinen Beschleuniger.
func NewAccelerator(kind ml.DeviceKind) (Accelerator, error) {
	switch kind {
	case ml.CUDA:
		return newCUDAAccelerator(0)
	default:
		return nil, fmt.Errorf("no accelerator for device %s", kind)
	}
}

// ============================================================================
// Detection
// ============================================================================

// Available prueft ob ein Geraet in diesem Build nutzbar ist.
func Available(kind ml.DeviceKind) bool {
	switch kind {
	case ml.CPU:
		return true
	case ml.CUDA:
		return cudaAvailable()
	default:
		return false
	}
}

// Devices gibt alle verfuegbaren Geraete zurueck, CPU zuerst.
func Devices() []DeviceInfo {
	devices := []DeviceInfo{cpuDeviceInfo()}
	return append(devices, cudaDevices()...)
}

// cpuDeviceInfo gibt Informationen ueber die CPU zurueck.
func cpuDeviceInfo() DeviceInfo {
	var features []string
	switch runtime.GOARCH {
	case "amd64":
		for name, ok := range map[string]bool{
			"avx":     cpu.X86.HasAVX,
			"avx2":    cpu.X86.HasAVX2,
			"avx512f": cpu.X86.HasAVX512F,
			"fma":     cpu.X86.HasFMA,
			"sse4.2":  cpu.X86.HasSSE42,
		} {
			if ok {
				features = append(features, name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "neon")
		}
		if cpu.ARM64.HasSVE {
			features = append(features, "sve")
		}
	}
	slices.Sort(features)

	return DeviceInfo{
		Kind:       ml.CPU,
		DeviceName: fmt.Sprintf("CPU (%s, %d cores)", runtime.GOARCH, runtime.NumCPU()),
		Features:   features,
	}
}
