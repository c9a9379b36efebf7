// Package native controls an inferior process through the host's
// debugging interface (ptrace on Linux): launching, attaching, resuming,
// waiting for stops, and reading registers and memory.
//
// A Process has a single owner and is not safe for concurrent use. All
// ptrace requests are executed on one locked OS thread.
package native

import (
	"fmt"
	"os"
)

// State is the lifecycle state of an inferior.
type State uint8

const (
	Unloaded State = iota
	Running
	Stopped
	Exited
	Terminated
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exited:
		return "exited"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StopReason says why WaitForStop returned.
type StopReason uint8

const (
	ReasonTimeout StopReason = iota
	ReasonStopped
	ReasonExited
	ReasonTerminated
)

func (r StopReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonStopped:
		return "stopped"
	case ReasonExited:
		return "exited"
	case ReasonTerminated:
		return "terminated"
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

// StopEvent describes a state change observed by WaitForStop.
type StopEvent struct {
	Reason StopReason
	// Signal is the stop signal for ReasonStopped and the fatal signal for
	// ReasonTerminated.
	Signal   int
	ExitCode int
}

func (e StopEvent) String() string {
	switch e.Reason {
	case ReasonStopped:
		return fmt.Sprintf("stopped by %s", signalText(e.Signal))
	case ReasonExited:
		return fmt.Sprintf("exited with status %d", e.ExitCode)
	case ReasonTerminated:
		return fmt.Sprintf("terminated by %s", signalText(e.Signal))
	}
	return e.Reason.String()
}

func signalText(sig int) string {
	if name := SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", sig)
}

// LaunchOptions configures Launch.
type LaunchOptions struct {
	// TTY is the path of a terminal that becomes the inferior's
	// controlling terminal and standard streams.
	TTY string
	// Standard streams of the inferior, nil inherits the debugger's.
	Stdin, Stdout, Stderr *os.File
	// DisableASLR turns off address space randomization for the inferior.
	DisableASLR bool
}
