package terminal

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/config"
	"github.com/archdbg/archdbg/pkg/disasm"
	"github.com/archdbg/archdbg/pkg/proc/native"
	"github.com/archdbg/archdbg/pkg/regs"
	"github.com/archdbg/archdbg/pkg/symbols"
)

// testProgram is loaded at 0x1000:
//
//	0x1000 push rbp
//	0x1001 mov rbp, rsp
//	0x1004 call 0x1010
//	0x1009 nop
//	0x100a leave
//	0x100b ret
//	0x1010 ret
var testProgram = []byte{
	0x55,
	0x48, 0x89, 0xe5,
	0xe8, 0x07, 0x00, 0x00, 0x00,
	0x90,
	0xc9,
	0xc3,
	0x90, 0x90, 0x90, 0x90,
	0xc3,
	0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90,
}

// fakeTarget runs testProgram without executing it: Step advances by one
// instruction and Continue runs to the next int3.
type fakeTarget struct {
	img     *disasm.Image
	state   native.State
	rip     uint64
	rax     uint64
	gen     uint64
	pending native.StopEvent
	killed  bool

	// timeouts is the number of waits that report a timeout before the
	// pending event is delivered.
	timeouts int
	// waitErr fails the next wait, leaving the process stopped.
	waitErr error
}

func newFakeTarget(rip uint64) *fakeTarget {
	data := append([]byte(nil), testProgram...)
	return &fakeTarget{img: &disasm.Image{Base: 0x1000, Data: data}, state: native.Stopped, rip: rip, gen: 1}
}

func (f *fakeTarget) Pid() int            { return 42 }
func (f *fakeTarget) State() native.State { return f.state }

func (f *fakeTarget) Continue(sig int) error {
	if f.state != native.Stopped {
		return native.NoSuchProcessError{Pid: 42}
	}
	f.state = native.Running
	f.rax++
	for a := f.rip; a < f.img.Base+uint64(len(f.img.Data)); a++ {
		if f.img.Data[a-f.img.Base] == 0xcc {
			f.rip = a + 1
			f.pending = native.StopEvent{Reason: native.ReasonStopped, Signal: 5}
			return nil
		}
	}
	f.pending = native.StopEvent{Reason: native.ReasonExited}
	return nil
}

func (f *fakeTarget) Step() error {
	if f.state != native.Stopped {
		return native.NoSuchProcessError{Pid: 42}
	}
	dec, _ := asm.NewDecoder(asm.ModeAMD64)
	b, _ := f.img.ReadMemory(f.rip, 15)
	f.rip += uint64(dec.Decode(b, f.rip).Len)
	f.state = native.Running
	f.pending = native.StopEvent{Reason: native.ReasonStopped, Signal: 5}
	return nil
}

func (f *fakeTarget) Interrupt() error {
	if f.state == native.Running {
		f.pending = native.StopEvent{Reason: native.ReasonStopped, Signal: 19}
	}
	return nil
}

func (f *fakeTarget) WaitForStop(timeoutMs int) (native.StopEvent, error) {
	if f.state != native.Running {
		return native.StopEvent{}, native.NoSuchProcessError{Pid: 42}
	}
	if f.waitErr != nil {
		err := f.waitErr
		f.waitErr = nil
		f.state = native.Stopped
		f.gen++
		return native.StopEvent{}, err
	}
	if f.timeouts > 0 {
		f.timeouts--
		return native.StopEvent{Reason: native.ReasonTimeout}, nil
	}
	ev := f.pending
	if ev.Reason == native.ReasonStopped {
		f.state = native.Stopped
		f.gen++
	} else {
		f.state = native.Exited
	}
	return ev, nil
}

func (f *fakeTarget) Detach(kill bool) error {
	f.killed = kill
	f.state = native.Unloaded
	return nil
}

func (f *fakeTarget) Kill() error {
	f.killed = true
	f.state = native.Terminated
	return nil
}

func (f *fakeTarget) ReadRegisters() (*regs.State, error) {
	if f.state != native.Stopped {
		return nil, native.NoSuchProcessError{Pid: 42}
	}
	return regs.NewBuilder(regs.ArchAMD64, f.gen).
		Uint("rax", regs.General, 64, f.rax).
		Uint("rsp", regs.General, 64, 0x7ff0).
		Uint("rip", regs.General, 64, f.rip).
		Uint("eflags", regs.Flags, 64, 0x246).
		State(), nil
}

func (f *fakeTarget) WriteRegisters(st *regs.State) error {
	pc, err := st.PC()
	if err != nil {
		return err
	}
	f.rip = pc
	return nil
}

func (f *fakeTarget) ReadMemory(addr uint64, n int) ([]byte, error) {
	b, err := f.img.ReadMemory(addr, n)
	b = append([]byte(nil), b...)
	if err != nil {
		return b, &native.PartialReadError{Addr: addr, Requested: n, Read: len(b), Err: err}
	}
	return b, nil
}

func (f *fakeTarget) WriteMemory(addr uint64, data []byte) error {
	copy(f.img.Data[addr-f.img.Base:], data)
	return nil
}

func (f *fakeTarget) RegionAt(addr uint64) (uint64, uint64, bool) { return f.img.RegionAt(addr) }
func (f *fakeTarget) Mode() (asm.Mode, error)                   { return asm.ModeAMD64, nil }

type fakeTerminal struct {
	*Term
	t      testing.TB
	out    *bytes.Buffer
	target *fakeTarget
}

func newFakeTerminal(t testing.TB, rip uint64) *fakeTerminal {
	target := newFakeTarget(rip)
	out := new(bytes.Buffer)
	syms := symbols.NewTable([]symbols.Symbol{
		{Name: "main", Addr: 0x1000, Size: 0x10},
		{Name: "callee", Addr: 0x1010, Size: 1},
	})
	term, err := New(target, &config.Config{}, Options{Symbols: syms, Stdout: out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fakeTerminal{Term: term, t: t, out: out, target: target}
}

func (ft *fakeTerminal) Exec(cmdstr string) (string, error) {
	ft.out.Reset()
	err := ft.cmds.Call(cmdstr, ft.Term)
	return ft.out.String(), err
}

func (ft *fakeTerminal) MustExec(cmdstr string) string {
	out, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return out
}

func TestCommandLookup(t *testing.T) {
	c := DebugCommands()
	for _, name := range []string{"continue", "cont", "c", "si", "stepo", "sig", "disasm", "dis", "x", "q"} {
		if _, err := c.Find(name); err != nil {
			t.Errorf("Find(%q): %v", name, err)
		}
	}
	_, err := c.Find("s")
	var amb *AmbiguousCommandError
	if !errors.As(err, &amb) {
		t.Fatalf("Find(s) = %v", err)
	}
	if diff := cmp.Diff([]string{"signal", "step", "stepover"}, amb.Candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	if _, err := c.Find("frobnicate"); err != errNoCmd {
		t.Errorf("Find(frobnicate) = %v", err)
	}
	if diff := cmp.Diff([]string{"regs"}, c.Complete("re")); diff != "" {
		t.Errorf("Complete mismatch (-want +got):\n%s", diff)
	}

	c.Merge(map[string][]string{"regs": {"rr"}})
	if _, err := c.Find("rr"); err != nil {
		t.Errorf("alias from config not found: %v", err)
	}
	c.Merge(map[string][]string{})
	if _, err := c.Find("rr"); err == nil {
		t.Errorf("alias survived a second merge")
	}
}

func TestExitCommand(t *testing.T) {
	ft := newFakeTerminal(t, 0x1000)
	if _, err := ft.Exec("quit"); !errors.As(err, new(ExitRequestError)) {
		t.Fatalf("quit returned %v", err)
	}
	if code, err := ft.handleExit(); code != 0 || err != nil {
		t.Fatalf("handleExit = %d, %v", code, err)
	}
	if !ft.target.killed {
		t.Errorf("launched process not killed on exit")
	}
}

func TestDisassembleCommand(t *testing.T) {
	ft := newFakeTerminal(t, 0x1001)
	out := ft.MustExec("disasm 3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[0], "=>") || !strings.Contains(lines[0], "<main+0x1>") || !strings.Contains(lines[0], "mov") {
		t.Errorf("first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "call") {
		t.Errorf("second line %q", lines[1])
	}

	out = ft.MustExec("disasm 1")
	if !strings.Contains(out, "0x100a") || !strings.Contains(out, "leave") {
		t.Errorf("listing did not continue: %q", out)
	}

	out = ft.MustExec("disasm 0x1010 1")
	if !strings.Contains(out, "<callee>") || !strings.Contains(out, "ret") {
		t.Errorf("explicit address: %q", out)
	}
}

func TestBackCommand(t *testing.T) {
	ft := newFakeTerminal(t, 0x1009)
	out := ft.MustExec("back 2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got:\n%s", out)
	}
	for i, addr := range []string{"0x1001", "0x1004", "0x1009"} {
		if !strings.Contains(lines[i], addr) {
			t.Errorf("line %d = %q, want %s", i, lines[i], addr)
		}
	}
	if !strings.HasPrefix(lines[2], "=>") {
		t.Errorf("pc not marked: %q", lines[2])
	}
}

func TestInfoCommand(t *testing.T) {
	ft := newFakeTerminal(t, 0x1004)
	out := ft.MustExec("info")
	for _, want := range []string{"class: call", "; 0x1010 = 0x0000000000001010 <callee>", "stepover runs to 0x1009"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}

func TestStepAndRegs(t *testing.T) {
	ft := newFakeTerminal(t, 0x1000)
	ft.MustExec("regs")
	out := ft.MustExec("step")
	if !strings.Contains(out, "0x1001") {
		t.Errorf("step output %q", out)
	}
	out = ft.MustExec("regs")
	if !strings.Contains(out, "rip") || !strings.Contains(out, "0x0000000000001001") {
		t.Errorf("regs output %q", out)
	}
	if !strings.Contains(out, "[") {
		t.Errorf("eflags not described: %q", out)
	}
	if _, err := ft.Exec("regs -z"); err == nil {
		t.Errorf("regs accepted a bad flag")
	}
}

func TestStepOverCall(t *testing.T) {
	ft := newFakeTerminal(t, 0x1004)
	out := ft.MustExec("stepover")
	if ft.target.rip != 0x1009 {
		t.Fatalf("rip = %#x after stepover", ft.target.rip)
	}
	if ft.target.img.Data[9] != 0x90 {
		t.Errorf("breakpoint not removed: %#x", ft.target.img.Data[9])
	}
	if !strings.Contains(out, "=>") || !strings.Contains(out, "nop") {
		t.Errorf("stepover output %q", out)
	}

	// Not a call, single stepped.
	ft.MustExec("stepover")
	if ft.target.rip != 0x100a {
		t.Errorf("rip = %#x after stepping a nop", ft.target.rip)
	}
}

func TestStepOverRestoresAfterTimeout(t *testing.T) {
	ft := newFakeTerminal(t, 0x1004)
	ft.target.timeouts = 1
	ft.MustExec("stepover")
	if ft.target.state != native.Stopped {
		t.Fatalf("state = %v after interrupted stepover", ft.target.state)
	}
	if ft.target.img.Data[9] != 0x90 {
		t.Errorf("breakpoint not removed after interrupt: %#x", ft.target.img.Data[9])
	}
}

func TestStepOverKillsWhenStuck(t *testing.T) {
	ft := newFakeTerminal(t, 0x1004)
	ft.target.timeouts = 2
	if _, err := ft.Exec("stepover"); err == nil {
		t.Fatal("stepover of a stuck process succeeded")
	}
	if !ft.target.killed || ft.target.state != native.Terminated {
		t.Errorf("stuck process not killed: killed=%v state=%v", ft.target.killed, ft.target.state)
	}
}

func TestStepOverRestoresAfterWaitError(t *testing.T) {
	ft := newFakeTerminal(t, 0x1004)
	werr := errors.New("wait failed")
	ft.target.waitErr = werr
	if _, err := ft.Exec("stepover"); !errors.Is(err, werr) {
		t.Fatalf("stepover error = %v, want %v", err, werr)
	}
	if ft.target.img.Data[9] != 0x90 {
		t.Errorf("breakpoint not removed after wait error: %#x", ft.target.img.Data[9])
	}
}

func TestContinueToExit(t *testing.T) {
	ft := newFakeTerminal(t, 0x1000)
	out := ft.MustExec("continue")
	if !strings.Contains(out, "has exited with status 0") {
		t.Errorf("continue output %q", out)
	}
	if _, err := ft.Exec("regs"); !errors.Is(err, native.ErrNotAttached) {
		t.Errorf("regs after exit: %v", err)
	}
	if _, err := ft.Exec("continue NOTASIGNAL"); err == nil {
		t.Errorf("bad signal accepted")
	}
}

func TestExamineMemory(t *testing.T) {
	ft := newFakeTerminal(t, 0x1000)
	out := ft.MustExec("x 0x1000 4")
	want := "0x0000000000001000:  55 48 89 e5"
	if !strings.HasPrefix(out, want) {
		t.Errorf("x output %q, want prefix %q", out, want)
	}
	out = ft.MustExec("x rip 1")
	if !strings.HasPrefix(out, "0x0000000000001000:  55") {
		t.Errorf("x rip output %q", out)
	}
	out = ft.MustExec("x 0x101e 8")
	if !strings.Contains(out, "short read") {
		t.Errorf("partial read not reported: %q", out)
	}
	if _, err := ft.Exec("x"); err == nil {
		t.Errorf("x without arguments accepted")
	}
}

func TestSignalCommand(t *testing.T) {
	ft := newFakeTerminal(t, 0x1000)
	if out := ft.MustExec("signal kill"); out != "9\tSIGKILL\n" {
		t.Errorf("signal kill = %q", out)
	}
	if out := ft.MustExec("signal 11"); out != "11\tSIGSEGV\n" {
		t.Errorf("signal 11 = %q", out)
	}
	if out := ft.MustExec("signal"); !strings.Contains(out, "SIGTERM") {
		t.Errorf("signal list missing SIGTERM")
	}
}

func TestHelp(t *testing.T) {
	ft := newFakeTerminal(t, 0x1000)
	out := ft.MustExec("help")
	for _, want := range []string{"Running the program", "stepover (alias: next | n)", "Viewing code"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
	if out := ft.MustExec("help back"); !strings.Contains(out, "back [count]") {
		t.Errorf("help back = %q", out)
	}
}
