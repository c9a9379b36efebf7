//go:build unix

package native

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// maxSignal bounds the scan of the host signal range, real time signals
// have no names and are skipped.
const maxSignal = 65

func hostSignals() []SignalEntry {
	var r []SignalEntry
	for v := 1; v < maxSignal; v++ {
		if name := unix.SignalName(syscall.Signal(v)); name != "" {
			r = append(r, SignalEntry{Value: v, Name: name})
		}
	}
	return r
}
