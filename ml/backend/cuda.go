// MODUL: cuda
// ZWECK: CUDA-Beschleuniger auf Basis von Unified Memory
// INPUT: Host-Tensoren
// OUTPUT: Geraete-Tensoren in cudaMallocManaged-Speicher
// NEBENEFFEKTE: CGO-Aufrufe zur CUDA Runtime, Geraetespeicher
// ABHAENGIGKEITEN: libcudart
// HINWEISE: Build-Tag "cuda"; Managed Memory ist auch vom Host lesbar, daher
// koennen die CPU-Kernel direkt auf Geraete-Tensoren arbeiten

//go:build cuda

package backend

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"strconv"
	"sync"
	"unsafe"

	"github.com/go-caffe2/predictor/ml"
)

// ============================================================================
// Detection
// ============================================================================

func cudaAvailable() bool {
	var count C.int
	return C.cudaGetDeviceCount(&count) == C.cudaSuccess && count > 0
}

func cudaDevices() []DeviceInfo {
	var count C.int
	if C.cudaGetDeviceCount(&count) != C.cudaSuccess {
		return nil
	}

	devices := make([]DeviceInfo, 0, int(count))
	for i := 0; i < int(count); i++ {
		devices = append(devices, queryDevice(i))
	}
	return devices
}

func queryDevice(id int) DeviceInfo {
	var prop C.struct_cudaDeviceProp
	C.cudaGetDeviceProperties(&prop, C.int(id))

	info := DeviceInfo{
		Kind:        ml.CUDA,
		DeviceID:    id,
		DeviceName:  C.GoString(&prop.name[0]),
		MemoryTotal: uint64(prop.totalGlobalMem),
		ComputeCap:  strconv.Itoa(int(prop.major)) + "." + strconv.Itoa(int(prop.minor)),
	}

	var free, total C.size_t
	if C.cudaSetDevice(C.int(id)) == C.cudaSuccess && C.cudaMemGetInfo(&free, &total) == C.cudaSuccess {
		info.MemoryFree = uint64(free)
	}
	return info
}

// ============================================================================
// cudaAccelerator
// ============================================================================

type cudaAccelerator struct {
	mu   sync.Mutex
	info DeviceInfo
}

func newCUDAAccelerator(id int) (Accelerator, error) {
	if !cudaAvailable() {
		return nil, fmt.Errorf("cuda: no device found: %w", ErrUnsupported)
	}
	if err := check("set_device", C.cudaSetDevice(C.int(id))); err != nil {
		return nil, err
	}
	return &cudaAccelerator{info: queryDevice(id)}, nil
}

func (a *cudaAccelerator) Info() DeviceInfo { return a.info }

func (a *cudaAccelerator) Upload(t *ml.Tensor) (*ml.Tensor, error) {
	n := t.NBytes()
	if n == 0 {
		return ml.NewDeviceTensor(ml.CUDA, t.DType(), nil, nil, t.Shape()...), nil
	}

	var ptr unsafe.Pointer
	if err := check("malloc_managed", C.cudaMallocManaged(&ptr, C.size_t(n), C.cudaMemAttachGlobal)); err != nil {
		return nil, err
	}

	src := t.Bytes()
	if err := check("memcpy_h2d", C.cudaMemcpy(ptr, unsafe.Pointer(&src[0]), C.size_t(n), C.cudaMemcpyHostToDevice)); err != nil {
		C.cudaFree(ptr)
		return nil, err
	}

	data := unsafe.Slice((*byte)(ptr), n)
	release := func() { C.cudaFree(ptr) }
	return ml.NewDeviceTensor(ml.CUDA, t.DType(), data, release, t.Shape()...), nil
}

func (a *cudaAccelerator) Download(t *ml.Tensor) (*ml.Tensor, error) {
	out := ml.NewTensor(t.DType(), t.Shape()...)
	n := t.NBytes()
	if n == 0 {
		return out, nil
	}

	if err := a.Synchronize(); err != nil {
		return nil, err
	}

	dst, src := out.Bytes(), t.Bytes()
	if err := check("memcpy_d2h", C.cudaMemcpy(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), C.size_t(n), C.cudaMemcpyDefault)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *cudaAccelerator) Synchronize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return check("synchronize", C.cudaDeviceSynchronize())
}

// ============================================================================
// Fehlertypen
// ============================================================================

// BackendError repraesentiert einen Fehler der CUDA Runtime.
type BackendError struct {
	Op   string
	Code int
	Msg  string
}

func (e *BackendError) Error() string {
	return "cuda: " + e.Op + " failed: " + e.Msg
}

func check(op string, status C.cudaError_t) error {
	if status == C.cudaSuccess {
		return nil
	}
	return &BackendError{Op: op, Code: int(status), Msg: C.GoString(C.cudaGetErrorString(status))}
}
