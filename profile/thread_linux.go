//go:build linux

package profile

import "golang.org/x/sys/unix"

// threadID gibt die OS-Thread-ID der aufrufenden Goroutine zurueck
func threadID() int64 {
	return int64(unix.Gettid())
}
