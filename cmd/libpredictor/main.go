// main.go - C-Bibliothek (go build -buildmode=c-shared)
//
// MODUL: libpredictor
// ZWECK: Exportiert die capi-Fassade als C-Funktionen
// INPUT: C-Strings, C-Puffer und Handles
// OUTPUT: Handles, Fehlercodes, C-Puffer fuer Ausgaben und Profile
// NEBENEFFEKTE: Setzt errno bei fehlgeschlagener Erstellung; alloziert
//               C-Speicher fuer Ausgaben (gehoert dem Kontext)
// ABHAENGIGKEITEN: capi, envconfig, logutil
// HINWEISE: Ausgabepuffer von PredictorGetOutput gehoeren dem Kontext und
//           sind bis zum naechsten PredictorPredict oder PredictorDelete
//           gueltig. Strings von PredictorReadProfile gibt der Aufrufer mit
//           PredictorFree frei.
package main

/*
#include <errno.h>
#include <stdint.h>
#include <stdlib.h>

typedef uintptr_t PredictorContext;

typedef enum {
	PREDICTOR_CPU  = 0,
	PREDICTOR_CUDA = 1,
} PredictorDeviceKind;

typedef enum {
	PREDICTOR_OTHER  = 0,
	PREDICTOR_UINT8  = 1,
	PREDICTOR_INT8   = 2,
	PREDICTOR_INT32  = 3,
	PREDICTOR_INT64  = 4,
	PREDICTOR_HALF   = 5,
	PREDICTOR_FLOAT  = 6,
	PREDICTOR_DOUBLE = 7,
} PredictorDataType;

typedef enum {
	PREDICTOR_SUCCESS        = 0,
	PREDICTOR_INVALID_MEMORY = 1,
	PREDICTOR_EXCEPTION      = 2,
} PredictorError;

static void set_errno(int e) { errno = e; }
*/
import "C"

import (
	"log/slog"
	"math"
	"os"
	"sync"
	"unsafe"

	"github.com/go-caffe2/predictor/capi"
	"github.com/go-caffe2/predictor/envconfig"
	"github.com/go-caffe2/predictor/logutil"
	"github.com/go-caffe2/predictor/ml"
)

var initLogger sync.Once

func setupLogger() {
	initLogger.Do(func() {
		slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	})
}

// =============================================================================
// Ausgabepuffer pro Kontext
// =============================================================================

// bufferCache haelt hoechstens einen Puffer pro (Kontext, Ausgabe). Wiederholtes
// Lesen derselben Ausgabe liefert denselben Puffer.
type bufferCache struct {
	mu    sync.Mutex
	m     map[capi.Handle]map[int]unsafe.Pointer
	alloc func(n int) unsafe.Pointer
	free  func(unsafe.Pointer)
}

func newBufferCache(alloc func(int) unsafe.Pointer, free func(unsafe.Pointer)) *bufferCache {
	return &bufferCache{m: make(map[capi.Handle]map[int]unsafe.Pointer), alloc: alloc, free: free}
}

// get gibt den Puffer fuer (h, index) zurueck; fresh ist true, wenn er neu
// alloziert wurde und noch befuellt werden muss
func (c *bufferCache) get(h capi.Handle, index, n int) (p unsafe.Pointer, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.m[h][index]; ok {
		return p, false
	}
	p = c.alloc(n)
	if p == nil {
		return nil, false
	}
	if c.m[h] == nil {
		c.m[h] = make(map[int]unsafe.Pointer)
	}
	c.m[h][index] = p
	return p, true
}

// release gibt alle Puffer von h frei (vor Predict und bei Delete)
func (c *bufferCache) release(h capi.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.m[h] {
		c.free(p)
	}
	delete(c.m, h)
}

func (c *bufferCache) count(h capi.Handle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m[h])
}

var buffers = newBufferCache(
	func(n int) unsafe.Pointer { return C.malloc(C.size_t(n)) },
	func(p unsafe.Pointer) { C.free(p) },
)

func releaseBuffers(h capi.Handle) { buffers.release(h) }

// validPayloadLen: C.GoBytes nimmt die Laenge als C.int
func validPayloadLen(n uint64) bool {
	return n > 0 && n <= math.MaxInt32
}

func fail(h capi.Handle) C.PredictorContext {
	if h == 0 {
		C.set_errno(C.int(capi.LastErrno()))
	}
	return C.PredictorContext(h)
}

// =============================================================================
// Exporte
// =============================================================================

//export PredictorGlobalInit
func PredictorGlobalInit(kind C.PredictorDeviceKind) C.int {
	setupLogger()
	if capi.GlobalInit(ml.DeviceKind(kind)) {
		return 1
	}
	return 0
}

//export PredictorCreate
func PredictorCreate(initPath, predictPath *C.char, kind C.PredictorDeviceKind) C.PredictorContext {
	setupLogger()
	if initPath == nil || predictPath == nil {
		C.set_errno(C.EINVAL)
		return 0
	}
	return fail(capi.Create(C.GoString(initPath), C.GoString(predictPath), ml.DeviceKind(kind)))
}

//export PredictorCreateFromONNX
func PredictorCreateFromONNX(payload unsafe.Pointer, length C.size_t, kind C.PredictorDeviceKind) C.PredictorContext {
	setupLogger()
	if payload == nil || !validPayloadLen(uint64(length)) {
		C.set_errno(C.EINVAL)
		return 0
	}
	b := C.GoBytes(payload, C.int(length))
	return fail(capi.CreateFromONNX(b, ml.DeviceKind(kind)))
}

//export PredictorBindInput
func PredictorBindInput(ctx C.PredictorContext, index C.int, dtype C.PredictorDataType, data unsafe.Pointer, shape *C.int64_t, ndims C.int) C.PredictorError {
	if ctx == 0 || (data == nil && ndims > 0) || (shape == nil && ndims > 0) || ndims < 0 {
		return C.PREDICTOR_INVALID_MEMORY
	}

	dims := make([]int, int(ndims))
	numel := 1
	if ndims > 0 {
		for i, d := range unsafe.Slice((*int64)(unsafe.Pointer(shape)), int(ndims)) {
			dims[i] = int(d)
			numel *= max(int(d), 0)
		}
	}

	dt := ml.DType(dtype)
	var buf []byte
	if n := numel * dt.Size(); n > 0 && data != nil {
		// der Blob teilt sich den Speicher des Aufrufers
		buf = unsafe.Slice((*byte)(data), n)
	}
	return C.PredictorError(capi.BindInput(capi.Handle(ctx), int(index), dt, buf, dims))
}

//export PredictorPredict
func PredictorPredict(ctx C.PredictorContext) C.PredictorError {
	releaseBuffers(capi.Handle(ctx))
	return C.PredictorError(capi.Predict(capi.Handle(ctx)))
}

//export PredictorGetOutput
func PredictorGetOutput(ctx C.PredictorContext, index C.int) unsafe.Pointer {
	t := capi.Output(capi.Handle(ctx), int(index))
	if t == nil || t.NBytes() == 0 {
		return nil
	}

	p, fresh := buffers.get(capi.Handle(ctx), int(index), t.NBytes())
	if fresh {
		copy(unsafe.Slice((*byte)(p), t.NBytes()), t.Bytes())
	}
	return p
}

//export PredictorGetOutputLength
func PredictorGetOutputLength(ctx C.PredictorContext) C.int {
	return C.int(capi.OutputLength(capi.Handle(ctx)))
}

//export PredictorDelete
func PredictorDelete(ctx C.PredictorContext) {
	if ctx == 0 {
		return
	}
	releaseBuffers(capi.Handle(ctx))
	capi.Delete(capi.Handle(ctx))
}

//export PredictorStartProfiling
func PredictorStartProfiling(ctx C.PredictorContext, name, metadata *C.char) {
	var n, m string
	if name != nil {
		n = C.GoString(name)
	}
	if metadata != nil {
		m = C.GoString(metadata)
	}
	capi.StartProfiling(capi.Handle(ctx), n, m)
}

//export PredictorEndProfiling
func PredictorEndProfiling(ctx C.PredictorContext) {
	capi.EndProfiling(capi.Handle(ctx))
}

//export PredictorDisableProfiling
func PredictorDisableProfiling(ctx C.PredictorContext) {
	capi.DisableProfiling(capi.Handle(ctx))
}

// PredictorReadProfile gibt einen mit malloc allozierten String zurueck
//
//export PredictorReadProfile
func PredictorReadProfile(ctx C.PredictorContext) *C.char {
	return C.CString(capi.ReadProfile(capi.Handle(ctx)))
}

//export PredictorFree
func PredictorFree(p unsafe.Pointer) {
	C.free(p)
}

func main() {}
