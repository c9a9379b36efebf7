package native

import (
	"debug/elf"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/logflags"
	"github.com/archdbg/archdbg/pkg/regs"
	"github.com/archdbg/archdbg/pkg/sigrelay"
)

const (
	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

// Process is a traced inferior.
type Process struct {
	pid   int
	state State
	exe   string

	pt    *ptracer
	relay *sigrelay.Relay
	ctty  *os.File

	childProcess bool
	exitStatus   int

	regs       *regs.State
	generation uint64
	regions    Regions
}

func newProcess(pid int) (*Process, error) {
	relay, err := sigrelay.Init(sigrelay.Default)
	if err != nil {
		return nil, err
	}
	return &Process{pid: pid, pt: newPtracer(), relay: relay}, nil
}

// Launch starts path under the debugger in directory wd with arguments
// args. path is executed as given, without searching PATH. On success the
// process is stopped at its first instruction.
func Launch(path, wd string, args []string, opts LaunchOptions) (*Process, error) {
	dbp, err := newProcess(0)
	if err != nil {
		return nil, err
	}

	process := &exec.Cmd{
		Path:   path,
		Args:   append([]string{path}, args...),
		Dir:    wd,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		SysProcAttr: &syscall.SysProcAttr{
			Ptrace:    true,
			Setpgid:   true,
			Pdeathsig: syscall.SIGKILL,
		},
	}
	if opts.Stdin != nil {
		process.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		process.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		process.Stderr = opts.Stderr
	}

	dbp.pt.exec(func() {
		if opts.DisableASLR {
			oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if err == syscall.Errno(0) {
				newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
				syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
				defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
			}
		}
		if opts.TTY != "" {
			dbp.ctty, err = attachProcessToTTY(process, opts.TTY)
			if err != nil {
				return
			}
		}
		err = process.Start()
	})
	if err != nil {
		dbp.pt.close()
		if dbp.ctty != nil {
			dbp.ctty.Close()
		}
		return nil, launchError(path, wd, err)
	}
	dbp.pid = process.Process.Pid
	dbp.childProcess = true
	dbp.exe = path

	var ws sys.WaitStatus
	if _, err := sigrelay.Wait4(dbp.pid, &ws, sys.WALL, nil); err != nil {
		dbp.kill()
		return nil, fmt.Errorf("waiting for target execve failed: %w", err)
	}
	if !ws.Stopped() {
		dbp.postExit(Exited)
		return nil, &LaunchError{Path: path, Dir: wd, Err: fmt.Errorf("process exited before the exec trap (status %#x)", uint32(ws))}
	}
	dbp.stopped()
	if logflags.Native() {
		logflags.NativeLogger().Debugf("launched %s as %d", path, dbp.pid)
	}
	return dbp, nil
}

// launchError turns the error os/exec reports for a failed chdir or
// execve in the child into a LaunchError.
func launchError(path, wd string, err error) error {
	var perr *fs.PathError
	if errors.As(err, &perr) {
		err = perr.Err
	}
	if wd != "" {
		if fi, serr := os.Stat(wd); serr != nil || !fi.IsDir() {
			return &LaunchError{Path: path, Dir: wd, Err: err}
		}
	}
	return &LaunchError{Path: path, Err: err}
}

// Attach stops and traces the running process pid.
func Attach(pid int) (*Process, error) {
	dbp, err := newProcess(pid)
	if err != nil {
		return nil, err
	}
	dbp.pt.exec(func() { err = sys.PtraceAttach(pid) })
	if err != nil {
		dbp.pt.close()
		return nil, fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}
	var ws sys.WaitStatus
	if _, err := sigrelay.Wait4(pid, &ws, sys.WALL, nil); err != nil {
		dbp.pt.close()
		return nil, err
	}
	if !ws.Stopped() {
		dbp.postExit(Exited)
		return nil, ProcessExitedError{Pid: pid, Status: ws.ExitStatus()}
	}
	dbp.exe, _ = os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	dbp.stopped()
	if logflags.Native() {
		logflags.NativeLogger().Debugf("attached to %d (%s)", pid, dbp.exe)
	}
	return dbp, nil
}

// Pid returns the process id of the inferior.
func (dbp *Process) Pid() int { return dbp.pid }

// State returns the lifecycle state of the inferior.
func (dbp *Process) State() State { return dbp.state }

// Executable returns the path of the inferior's executable.
func (dbp *Process) Executable() string { return dbp.exe }

// ExitStatus returns the exit code or fatal signal of an inferior that is
// no longer alive.
func (dbp *Process) ExitStatus() int { return dbp.exitStatus }

func (dbp *Process) checkStopped() error {
	if dbp.state != Stopped {
		return NoSuchProcessError{Pid: dbp.pid}
	}
	return nil
}

func (dbp *Process) checkAlive() error {
	switch dbp.state {
	case Exited, Terminated:
		return ProcessExitedError{Pid: dbp.pid, Status: dbp.exitStatus}
	case Unloaded:
		return NoSuchProcessError{Pid: dbp.pid}
	}
	return nil
}

func (dbp *Process) stopped() {
	dbp.state = Stopped
	dbp.generation++
	dbp.regs = nil
	dbp.regions = nil
}

func (dbp *Process) resumed() {
	dbp.state = Running
	dbp.regs = nil
	dbp.regions = nil
}

func (dbp *Process) postExit(s State) {
	if dbp.pt != nil {
		dbp.pt.close()
		dbp.pt = nil
	}
	if dbp.ctty != nil {
		dbp.ctty.Close()
		dbp.ctty = nil
	}
	dbp.state = s
	dbp.regs = nil
	dbp.regions = nil
}

// Continue resumes the inferior, delivering sig if it is not zero.
func (dbp *Process) Continue(sig int) error {
	if err := dbp.checkStopped(); err != nil {
		return err
	}
	var err error
	dbp.pt.exec(func() { err = sys.PtraceCont(dbp.pid, sig) })
	if err != nil {
		return fmt.Errorf("could not continue %d: %w", dbp.pid, err)
	}
	dbp.resumed()
	return nil
}

// Step executes a single instruction. The process is Running until the
// trap is collected with WaitForStop.
func (dbp *Process) Step() error {
	if runtime.GOARCH == "arm" {
		return ErrStepUnsupported
	}
	if err := dbp.checkStopped(); err != nil {
		return err
	}
	var err error
	dbp.pt.exec(func() { err = ptraceSingleStep(dbp.pid, 0) })
	if err != nil {
		return fmt.Errorf("could not single step %d: %w", dbp.pid, err)
	}
	dbp.resumed()
	return nil
}

// Interrupt asks a running inferior to stop.
func (dbp *Process) Interrupt() error {
	if err := dbp.checkAlive(); err != nil {
		return err
	}
	return sys.Tgkill(dbp.pid, dbp.pid, sys.SIGSTOP)
}

// WaitForStop waits up to timeoutMs milliseconds (0 forever) for the
// inferior to stop or exit.
func (dbp *Process) WaitForStop(timeoutMs int) (StopEvent, error) {
	if err := dbp.checkAlive(); err != nil {
		return StopEvent{}, err
	}
	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		// Bytes written before this reap belong to events it will see.
		dbp.relay.Pending()

		var ws sys.WaitStatus
		wpid, err := sigrelay.Wait4(dbp.pid, &ws, sys.WNOHANG|sys.WALL, nil)
		if err != nil {
			if err == sys.ECHILD {
				dbp.postExit(Exited)
				return StopEvent{Reason: ReasonExited}, nil
			}
			return StopEvent{}, fmt.Errorf("wait4(%d): %w", dbp.pid, err)
		}
		if wpid == dbp.pid {
			return dbp.event(ws), nil
		}

		remaining := 0
		if timeoutMs > 0 {
			remaining = int(time.Until(deadline) / time.Millisecond)
			if remaining <= 0 {
				return StopEvent{Reason: ReasonTimeout}, nil
			}
		}
		dbp.relay.Wait(remaining)
	}
}

func (dbp *Process) event(ws sys.WaitStatus) StopEvent {
	var ev StopEvent
	switch {
	case ws.Exited():
		ev = StopEvent{Reason: ReasonExited, ExitCode: ws.ExitStatus()}
		dbp.exitStatus = ev.ExitCode
		dbp.postExit(Exited)
	case ws.Signaled():
		ev = StopEvent{Reason: ReasonTerminated, Signal: int(ws.Signal())}
		dbp.exitStatus = ev.Signal
		dbp.postExit(Terminated)
	default:
		ev = StopEvent{Reason: ReasonStopped, Signal: int(ws.StopSignal())}
		dbp.stopped()
	}
	if logflags.Native() {
		logflags.NativeLogger().Debugf("process %d: %v", dbp.pid, ev)
	}
	return ev
}

// Detach stops tracing the inferior, killing it if kill is set.
func (dbp *Process) Detach(kill bool) error {
	if kill {
		return dbp.Kill()
	}
	if err := dbp.checkStopped(); err != nil {
		return err
	}
	var err error
	dbp.pt.exec(func() { err = ptraceDetach(dbp.pid, 0) })
	if err != nil {
		return fmt.Errorf("could not detach from %d: %w", dbp.pid, err)
	}
	dbp.postExit(Unloaded)
	return nil
}

// Kill kills the inferior and reaps it.
func (dbp *Process) Kill() error {
	if err := dbp.checkAlive(); err != nil {
		return err
	}
	return dbp.kill()
}

func (dbp *Process) kill() error {
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil && err != sys.ESRCH {
		return fmt.Errorf("could not deliver signal: %w", err)
	}
	for {
		var ws sys.WaitStatus
		wpid, err := sigrelay.Wait4(dbp.pid, &ws, sys.WALL, nil)
		if err != nil {
			if err == sys.ECHILD {
				dbp.postExit(Terminated)
				return nil
			}
			return err
		}
		if wpid == dbp.pid && ws.Exited() {
			dbp.exitStatus = ws.ExitStatus()
			dbp.postExit(Exited)
			return nil
		}
		if wpid == dbp.pid && ws.Signaled() {
			dbp.exitStatus = int(ws.Signal())
			dbp.postExit(Terminated)
			return nil
		}
	}
}

// ReadRegisters returns the register state of the stopped inferior. The
// state is captured once per stop.
func (dbp *Process) ReadRegisters() (*regs.State, error) {
	if err := dbp.checkStopped(); err != nil {
		return nil, err
	}
	if dbp.regs != nil {
		return dbp.regs, nil
	}
	var (
		st  *regs.State
		err error
	)
	dbp.pt.exec(func() { st, err = readRegisters(dbp.pid, dbp.generation) })
	if err != nil {
		return nil, err
	}
	dbp.regs = st
	return st, nil
}

// WriteRegisters writes the general purpose registers of st back to the
// stopped inferior.
func (dbp *Process) WriteRegisters(st *regs.State) error {
	if err := dbp.checkStopped(); err != nil {
		return err
	}
	var err error
	dbp.pt.exec(func() { err = writeRegisters(dbp.pid, st) })
	dbp.regs = nil
	return err
}

// ReadMemory reads n bytes at addr. When only part of the range is
// readable the bytes read are returned with a *PartialReadError.
func (dbp *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	if err := dbp.checkAlive(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	data := make([]byte, n)
	got, err := processVMRead(dbp.pid, addr, data)
	if got < 0 {
		got = 0
	}
	if got < n && dbp.state == Stopped {
		// process_vm_readv stops at the first unreadable page and is not
		// available everywhere, PTRACE_PEEKDATA reads what the tracer can.
		var m int
		var perr error
		dbp.pt.exec(func() { m, perr = sys.PtracePeekData(dbp.pid, uintptr(addr)+uintptr(got), data[got:]) })
		if m > 0 {
			got += m
		}
		err = perr
	}
	if got < n {
		return data[:got], &PartialReadError{Addr: addr, Requested: n, Read: got, Err: err}
	}
	return data, nil
}

// WriteMemory writes data at addr, including read only text pages.
func (dbp *Process) WriteMemory(addr uint64, data []byte) error {
	if err := dbp.checkStopped(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var (
		n   int
		err error
	)
	dbp.pt.exec(func() { n, err = sys.PtracePokeData(dbp.pid, uintptr(addr), data) })
	if err != nil {
		return fmt.Errorf("could not write %d bytes at %#x: %w", len(data), addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("short write at %#x: %d of %d bytes", addr, n, len(data))
	}
	return nil
}

// Regions returns the memory map of the inferior. The map is cached until
// the process resumes.
func (dbp *Process) Regions() (Regions, error) {
	if err := dbp.checkAlive(); err != nil {
		return nil, err
	}
	if dbp.regions != nil {
		return dbp.regions, nil
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", dbp.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rs, err := ParseMaps(f)
	if err != nil {
		return nil, err
	}
	if dbp.state == Stopped {
		dbp.regions = rs
	}
	return rs, nil
}

// RegionAt returns the bounds of the mapping containing addr.
func (dbp *Process) RegionAt(addr uint64) (uint64, uint64, bool) {
	rs, err := dbp.Regions()
	if err != nil {
		return 0, 0, false
	}
	return rs.RegionAt(addr)
}

// Mode returns the instruction set the inferior executes at the current
// stop: the ELF machine of its executable, refined to Thumb by the CPSR T
// bit on ARM.
func (dbp *Process) Mode() (asm.Mode, error) {
	f, err := elf.Open(fmt.Sprintf("/proc/%d/exe", dbp.pid))
	if err != nil {
		return asm.ModeInvalid, err
	}
	defer f.Close()
	switch f.Machine {
	case elf.EM_X86_64:
		return asm.ModeAMD64, nil
	case elf.EM_386:
		return asm.ModeX86_32, nil
	case elf.EM_ARM:
		st, err := dbp.ReadRegisters()
		if err == nil {
			if cpsr, err := st.FlagsValue(); err == nil && cpsr&(1<<5) != 0 {
				return asm.ModeThumb, nil
			}
		}
		return asm.ModeARM, nil
	}
	return asm.ModeInvalid, fmt.Errorf("%w: ELF machine %v", ErrUnsupportedArch, f.Machine)
}
