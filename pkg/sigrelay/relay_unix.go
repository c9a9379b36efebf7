//go:build unix

package sigrelay

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/archdbg/archdbg/pkg/logflags"
)

var childSignal os.Signal = unix.SIGCHLD

const defaultStrategy = Pipe

func wake(wfd int) {
	// A full pipe already holds a pending wake up.
	if _, err := Write(wfd, []byte{0}); err != nil && err != unix.EAGAIN {
		logflags.RelayLogger().WithError(err).Errorf("could not write signal pipe")
	}
}

func waitPipe(rfd int, timeoutMs int) bool {
	fds := []unix.PollFd{{Fd: int32(rfd), Events: unix.POLLIN}}
	n, err := Poll(fds, timeoutMs)
	if err != nil {
		logflags.RelayLogger().WithError(err).Errorf("poll on signal pipe")
		return true
	}
	if n == 0 {
		return true
	}
	var b [1]byte
	if _, err := Read(rfd, b[:]); err != nil && err != unix.EAGAIN {
		logflags.RelayLogger().WithError(err).Errorf("could not read signal pipe")
	}
	return false
}

func drainPipe(rfd int) int {
	var b [64]byte
	total := 0
	for {
		n, err := Read(rfd, b[:])
		if n > 0 {
			total += n
		}
		if err != nil || n < len(b) {
			return total
		}
	}
}

// RetryEINTR calls f until it returns something other than EINTR.
func RetryEINTR(f func() error) error {
	for {
		if err := f(); err != unix.EINTR {
			return err
		}
	}
}

// Read is unix.Read retried on EINTR.
func Read(fd int, p []byte) (n int, err error) {
	err = RetryEINTR(func() error {
		n, err = unix.Read(fd, p)
		return err
	})
	return n, err
}

// Write is unix.Write retried on EINTR.
func Write(fd int, p []byte) (n int, err error) {
	err = RetryEINTR(func() error {
		n, err = unix.Write(fd, p)
		return err
	})
	return n, err
}

// Poll is unix.Poll retried on EINTR. An interrupted poll is restarted
// with the time left, timeoutMs of 0 blocks forever.
func Poll(fds []unix.PollFd, timeoutMs int) (n int, err error) {
	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		t := -1
		if timeoutMs > 0 {
			t = int(time.Until(deadline) / time.Millisecond)
			if t < 0 {
				t = 0
			}
		}
		n, err = unix.Poll(fds, t)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// Wait4 is unix.Wait4 retried on EINTR.
func Wait4(pid int, status *unix.WaitStatus, options int, rusage *unix.Rusage) (wpid int, err error) {
	err = RetryEINTR(func() error {
		wpid, err = unix.Wait4(pid, status, options, rusage)
		return err
	})
	return wpid, err
}
