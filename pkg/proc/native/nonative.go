//go:build !linux

package native

import (
	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

// Process is a traced inferior. Only Linux has a native backend, every
// operation here fails.
type Process struct {
	pid int
}

// Launch returns ErrUnsupportedOS.
func Launch(path, wd string, args []string, opts LaunchOptions) (*Process, error) {
	return nil, ErrUnsupportedOS
}

// Attach returns ErrUnsupportedOS.
func Attach(pid int) (*Process, error) {
	return nil, ErrUnsupportedOS
}

func (dbp *Process) Pid() int { return dbp.pid }
func (dbp *Process) State() State { return Unloaded }
func (dbp *Process) Executable() string { return "" }
func (dbp *Process) ExitStatus() int { return 0 }
func (dbp *Process) Continue(sig int) error { return ErrUnsupportedOS }
func (dbp *Process) Step() error { return ErrUnsupportedOS }
func (dbp *Process) Interrupt() error { return ErrUnsupportedOS }
func (dbp *Process) Detach(kill bool) error { return ErrUnsupportedOS }
func (dbp *Process) Kill() error { return ErrUnsupportedOS }
func (dbp *Process) ReadRegisters() (*regs.State, error) { return nil, ErrUnsupportedOS }
func (dbp *Process) WriteRegisters(*regs.State) error { return ErrUnsupportedOS }
func (dbp *Process) Regions() (Regions, error) { return nil, ErrUnsupportedOS }
func (dbp *Process) Mode() (asm.Mode, error) { return asm.ModeInvalid, ErrUnsupportedOS }

func (dbp *Process) WaitForStop(timeoutMs int) (StopEvent, error) {
	return StopEvent{}, ErrUnsupportedOS
}

func (dbp *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	return nil, ErrUnsupportedOS
}

func (dbp *Process) WriteMemory(addr uint64, data []byte) error {
	return ErrUnsupportedOS
}

func (dbp *Process) RegionAt(addr uint64) (uint64, uint64, bool) {
	return 0, 0, false
}
