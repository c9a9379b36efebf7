package native

import (
	"fmt"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/archdbg/archdbg/pkg/logflags"
	"github.com/archdbg/archdbg/pkg/regs"
)

const (
	_NT_X86_XSTATE     = 0x202
	debugRegUserOffset = 848 // offset of debug registers in the user struct, see source/arch/x86/kernel/ptrace.c
)

type gpr struct {
	name string
	ptr  func(r *sys.PtraceRegs) *uint64
	cls  regs.Class
}

var amd64GPRs = []gpr{
	{"rax", func(r *sys.PtraceRegs) *uint64 { return &r.Rax }, regs.General},
	{"rbx", func(r *sys.PtraceRegs) *uint64 { return &r.Rbx }, regs.General},
	{"rcx", func(r *sys.PtraceRegs) *uint64 { return &r.Rcx }, regs.General},
	{"rdx", func(r *sys.PtraceRegs) *uint64 { return &r.Rdx }, regs.General},
	{"rsi", func(r *sys.PtraceRegs) *uint64 { return &r.Rsi }, regs.General},
	{"rdi", func(r *sys.PtraceRegs) *uint64 { return &r.Rdi }, regs.General},
	{"rbp", func(r *sys.PtraceRegs) *uint64 { return &r.Rbp }, regs.General},
	{"rsp", func(r *sys.PtraceRegs) *uint64 { return &r.Rsp }, regs.General},
	{"r8", func(r *sys.PtraceRegs) *uint64 { return &r.R8 }, regs.General},
	{"r9", func(r *sys.PtraceRegs) *uint64 { return &r.R9 }, regs.General},
	{"r10", func(r *sys.PtraceRegs) *uint64 { return &r.R10 }, regs.General},
	{"r11", func(r *sys.PtraceRegs) *uint64 { return &r.R11 }, regs.General},
	{"r12", func(r *sys.PtraceRegs) *uint64 { return &r.R12 }, regs.General},
	{"r13", func(r *sys.PtraceRegs) *uint64 { return &r.R13 }, regs.General},
	{"r14", func(r *sys.PtraceRegs) *uint64 { return &r.R14 }, regs.General},
	{"r15", func(r *sys.PtraceRegs) *uint64 { return &r.R15 }, regs.General},
	{"rip", func(r *sys.PtraceRegs) *uint64 { return &r.Rip }, regs.General},
	{"eflags", func(r *sys.PtraceRegs) *uint64 { return &r.Eflags }, regs.Flags},
	{"orig_rax", func(r *sys.PtraceRegs) *uint64 { return &r.Orig_rax }, regs.Other},
	{"cs", func(r *sys.PtraceRegs) *uint64 { return &r.Cs }, regs.Segment},
	{"ss", func(r *sys.PtraceRegs) *uint64 { return &r.Ss }, regs.Segment},
	{"ds", func(r *sys.PtraceRegs) *uint64 { return &r.Ds }, regs.Segment},
	{"es", func(r *sys.PtraceRegs) *uint64 { return &r.Es }, regs.Segment},
	{"fs", func(r *sys.PtraceRegs) *uint64 { return &r.Fs }, regs.Segment},
	{"gs", func(r *sys.PtraceRegs) *uint64 { return &r.Gs }, regs.Segment},
	{"fs_base", func(r *sys.PtraceRegs) *uint64 { return &r.Fs_base }, regs.Segment},
	{"gs_base", func(r *sys.PtraceRegs) *uint64 { return &r.Gs_base }, regs.Segment},
}

// readRegisters captures the registers of pid. It must run on the
// ptrace thread.
func readRegisters(pid int, gen uint64) (*regs.State, error) {
	var r sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &r); err != nil {
		return nil, fmt.Errorf("could not read registers of %d: %w", pid, err)
	}
	b := regs.NewBuilder(regs.ArchAMD64, gen)
	for _, g := range amd64GPRs {
		bits := 64
		if g.cls == regs.Segment && g.name != "fs_base" && g.name != "gs_base" {
			bits = 16
		}
		b.Uint(g.name, g.cls, bits, *g.ptr(&r))
	}

	if x, err := readFPRegisters(pid); err == nil {
		x.addTo(b, 16)
	} else if logflags.Native() {
		logflags.NativeLogger().WithError(err).Debugf("floating point registers of %d", pid)
	}

	for i := 0; i < 8; i++ {
		if i == 4 || i == 5 {
			// Linux will return EIO for DR4 and DR5
			continue
		}
		v, err := ptracePeekUser(pid, debugRegUserOffset+uintptr(i)*8)
		if err != nil {
			if logflags.Native() {
				logflags.NativeLogger().WithError(err).Debugf("debug register %d of %d", i, pid)
			}
			break
		}
		b.Uint(fmt.Sprintf("dr%d", i), regs.Debug, 64, v)
	}
	return b.State(), nil
}

func readFPRegisters(pid int) (*x86Xstate, error) {
	buf := make([]byte, xstateMaxSize)
	area, err := ptraceGetRegset(pid, _NT_X86_XSTATE, buf)
	if err == nil {
		return readXstate(area)
	}
	if err != syscall.ENODEV && err != syscall.EIO && err != syscall.EINVAL {
		return nil, err
	}
	// No XSTATE support, fall back to the FXSAVE layout.
	var fp x86FpRegs
	_, _, e := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(pid), 0, uintptr(unsafe.Pointer(&fp)), 0, 0)
	if e != 0 {
		return nil, e
	}
	return &x86Xstate{x86FpRegs: fp}, nil
}

// writeRegisters stores the general purpose and debug registers of st
// into pid. Registers missing from st keep their current value.
func writeRegisters(pid int, st *regs.State) error {
	var r sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &r); err != nil {
		return err
	}
	for _, g := range amd64GPRs {
		if reg, ok := st.Get(g.name); ok {
			*g.ptr(&r) = reg.Value.Uint64()
		}
	}
	if err := sys.PtraceSetRegs(pid, &r); err != nil {
		return fmt.Errorf("could not write registers of %d: %w", pid, err)
	}
	for i := 0; i < 8; i++ {
		if i == 4 || i == 5 {
			continue
		}
		if reg, ok := st.Get(fmt.Sprintf("dr%d", i)); ok {
			if err := ptracePokeUser(pid, debugRegUserOffset+uintptr(i)*8, reg.Value.Uint64()); err != nil {
				return fmt.Errorf("could not write dr%d of %d: %w", i, pid, err)
			}
		}
	}
	return nil
}
