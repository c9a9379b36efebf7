package native

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAttached is matched by every error reporting that there is no
	// stopped inferior to operate on.
	ErrNotAttached = errors.New("not attached to a stopped process")
	// ErrUnsupportedArch is returned for register access on hosts whose
	// register layout is not known.
	ErrUnsupportedArch = errors.New("register access not supported on this architecture")
	// ErrStepUnsupported is returned by Step where the kernel has no
	// single step support (ARM).
	ErrStepUnsupported = errors.New("single step not supported on this architecture")
	// ErrUnsupportedOS is returned by Launch and Attach on hosts without a
	// native backend.
	ErrUnsupportedOS = errors.New("native debugging not supported on this operating system")
)

// NoSuchProcessError indicates that the inferior is not in a state where
// the request makes sense: never started, running or gone.
type NoSuchProcessError struct {
	Pid int
}

func (e NoSuchProcessError) Error() string {
	if e.Pid == 0 {
		return "no process"
	}
	return fmt.Sprintf("process %d is not stopped", e.Pid)
}

// Is makes NoSuchProcessError match ErrNotAttached.
func (e NoSuchProcessError) Is(target error) bool {
	return target == ErrNotAttached
}

// ProcessExitedError indicates that the inferior has exited.
type ProcessExitedError struct {
	Pid    int
	Status int
}

func (pe ProcessExitedError) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// LaunchError is returned when the child could not change to its working
// directory or execute the program.
type LaunchError struct {
	Path string
	Dir  string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Dir != "" {
		return fmt.Sprintf("could not launch %s in %s: %v", e.Path, e.Dir, e.Err)
	}
	return fmt.Sprintf("could not launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// PartialReadError is returned by ReadMemory together with the bytes that
// could be read.
type PartialReadError struct {
	Addr      uint64
	Requested int
	Read      int
	Err       error
}

func (e *PartialReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("read %d of %d bytes at %#x: %v", e.Read, e.Requested, e.Addr, e.Err)
	}
	return fmt.Sprintf("read %d of %d bytes at %#x", e.Read, e.Requested, e.Addr)
}

func (e *PartialReadError) Unwrap() error { return e.Err }
