//go:build !linux

package profile

import "os"

// threadID faellt ohne gettid auf die Prozess-ID zurueck
func threadID() int64 {
	return int64(os.Getpid())
}
