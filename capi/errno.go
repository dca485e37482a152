package capi

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/go-caffe2/predictor/predictor"
)

const errnoFault = unix.EFAULT

var last struct {
	sync.Mutex
	err error
}

func setLastError(err error) {
	last.Lock()
	defer last.Unlock()
	last.err = err
}

// LastError gibt den Fehler des letzten Aufrufs zurueck (nil bei Erfolg)
func LastError() error {
	last.Lock()
	defer last.Unlock()
	return last.err
}

// LastErrno gibt den errno-Wert des letzten Aufrufs zurueck
func LastErrno() unix.Errno {
	return Errno(LastError())
}

// Errno bildet einen Fehler auf einen errno-Wert ab (0 fuer nil)
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, predictor.ErrMemoryFault):
		return unix.EFAULT
	case errors.Is(err, predictor.ErrUnsupportedDevice):
		return unix.ENODEV
	case errors.Is(err, os.ErrNotExist), errors.Is(err, predictor.ErrOutputNotFound):
		return unix.ENOENT
	case errors.Is(err, predictor.ErrInvalidArgument),
		errors.Is(err, predictor.ErrUnsupportedDataType),
		errors.Is(err, predictor.ErrGraphLoadFailed):
		return unix.EINVAL
	default:
		return unix.EIO
	}
}
