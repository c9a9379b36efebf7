package native

import (
	"fmt"

	sys "golang.org/x/sys/unix"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

// Uregs layout of struct pt_regs: r0-r15, cpsr, orig_r0.
const (
	armCPSR   = 16
	armOrigR0 = 17
)

func readRegisters(pid int, gen uint64) (*regs.State, error) {
	var r sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &r); err != nil {
		return nil, fmt.Errorf("could not read registers of %d: %w", pid, err)
	}
	b := regs.NewBuilder(regs.ArchARM, gen)
	for i := 0; i < 16; i++ {
		b.Uint(asm.ARMRegName(i), regs.General, 32, uint64(r.Uregs[i]))
	}
	b.Uint("cpsr", regs.Flags, 32, uint64(r.Uregs[armCPSR]))
	b.Uint("orig_r0", regs.Other, 32, uint64(r.Uregs[armOrigR0]))
	return b.State(), nil
}

func writeRegisters(pid int, st *regs.State) error {
	var r sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &r); err != nil {
		return err
	}
	for i := 0; i < 16; i++ {
		if reg, ok := st.Get(asm.ARMRegName(i)); ok {
			r.Uregs[i] = uint32(reg.Value.Uint64())
		}
	}
	if reg, ok := st.Get("cpsr"); ok {
		r.Uregs[armCPSR] = uint32(reg.Value.Uint64())
	}
	if err := sys.PtraceSetRegs(pid, &r); err != nil {
		return fmt.Errorf("could not write registers of %d: %w", pid, err)
	}
	return nil
}
