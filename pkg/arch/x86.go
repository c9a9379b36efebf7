package arch

import (
	"fmt"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

const (
	x86CF = 1 << 0
	x86PF = 1 << 2
	x86ZF = 1 << 6
	x86SF = 1 << 7
	x86OF = 1 << 11
)

// X86Condition evaluates one of the sixteen flag conditions against
// eflags. Counter conditions are evaluated by X86CounterCondition.
func X86Condition(eflags uint64, cc asm.Cond) bool {
	if cc < asm.CondO || cc > asm.CondG {
		panic(fmt.Sprintf("X86Condition: not a flag condition %d", cc))
	}
	cf := eflags&x86CF != 0
	pf := eflags&x86PF != 0
	zf := eflags&x86ZF != 0
	sf := eflags&x86SF != 0
	of := eflags&x86OF != 0

	var taken bool
	switch cc &^ 1 {
	case asm.CondO:
		taken = of
	case asm.CondB:
		taken = cf
	case asm.CondE:
		taken = zf
	case asm.CondBE:
		taken = cf || zf
	case asm.CondS:
		taken = sf
	case asm.CondP:
		taken = pf
	case asm.CondL:
		taken = sf != of
	case asm.CondLE:
		taken = zf || sf != of
	}
	// Odd codes are the negation of the preceding even code.
	if cc&1 != 0 {
		taken = !taken
	}
	return taken
}

// X86CounterCondition evaluates the JCXZ and LOOP families. counter is
// the count register already truncated to the width the instruction uses.
// LOOP decrements before testing so a counter of one falls through.
func X86CounterCondition(counter, eflags uint64, cc asm.Cond) bool {
	zf := eflags&x86ZF != 0
	switch cc {
	case asm.CondCXZ, asm.CondECXZ, asm.CondRCXZ:
		return counter == 0
	case asm.CondLoop:
		return counter != 1
	case asm.CondLoopE:
		return counter != 1 && zf
	case asm.CondLoopNE:
		return counter != 1 && !zf
	}
	panic(fmt.Sprintf("X86CounterCondition: not a counter condition %d", cc))
}

type x86Processor struct {
	common
}

func (p *x86Processor) checkMode(inst *asm.Instruction) error {
	if !inst.Mode.IsX86() {
		return fmt.Errorf("%w: %v instruction on x86", ErrUnsupportedMode, inst.Mode)
	}
	return nil
}

func (p *x86Processor) addrMask() uint64 {
	switch p.mode {
	case asm.ModeAMD64:
		return ^uint64(0)
	case asm.ModeX86_16:
		return 0xffff
	}
	return 0xffffffff
}

// reg returns the value and width of a register, extracting partial
// registers from their parent when the state only holds the full width.
func (p *x86Processor) reg(state *regs.State, name asm.Reg) (uint64, int, error) {
	if r, ok := state.Get(string(name)); ok {
		return r.Value.Uint64(), r.Value.Bits(), nil
	}
	sub, ok := asm.X86SubRegister(string(name), p.mode)
	if !ok {
		return 0, 0, badRegister(name)
	}
	r, ok := state.Get(sub.Parent)
	if !ok {
		return 0, 0, badRegister(name)
	}
	v := r.Value.Uint64() >> sub.Shift
	if sub.Bits < 64 {
		v &= 1<<sub.Bits - 1
	}
	return v, int(sub.Bits), nil
}

func isIP(r asm.Reg) bool {
	return r == "rip" || r == "eip" || r == "ip"
}

func (p *x86Processor) segmentBase(seg asm.Reg, state *regs.State) (uint64, error) {
	if seg == "" {
		return 0, nil
	}
	if p.mode == asm.ModeAMD64 && seg != "fs" && seg != "gs" {
		return 0, nil
	}
	v, err := state.Uint64(string(seg) + "_base")
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrSegmentBase, seg)
	}
	return v, nil
}

// EffectiveAddress resolves arg. Instruction pointer relative operands
// use the address following inst, independently of the captured rip.
func (p *x86Processor) EffectiveAddress(inst *asm.Instruction, arg asm.Arg, state *regs.State) (uint64, error) {
	if err := p.checkMode(inst); err != nil {
		return 0, err
	}
	switch a := arg.(type) {
	case asm.Reg:
		if isIP(a) {
			return inst.End() & p.addrMask(), nil
		}
		v, _, err := p.reg(state, a)
		return v, err
	case asm.Mem:
		var ea uint64
		if a.Base != "" {
			if isIP(a.Base) {
				ea = inst.End()
			} else {
				v, _, err := p.reg(state, a.Base)
				if err != nil {
					return 0, err
				}
				ea = v
			}
		}
		if a.Index != "" {
			v, _, err := p.reg(state, a.Index)
			if err != nil {
				return 0, err
			}
			scale := uint64(a.Scale)
			if scale == 0 {
				scale = 1
			}
			ea += v * scale
		}
		ea += uint64(a.Disp)
		seg, err := p.segmentBase(a.Segment, state)
		if err != nil {
			return 0, err
		}
		return (ea + seg) & p.addrMask(), nil
	case asm.Abs:
		seg, err := p.segmentBase(a.Segment, state)
		if err != nil {
			return 0, err
		}
		return (a.Addr + seg) & p.addrMask(), nil
	case asm.Rel:
		return a.Target, nil
	case asm.Imm:
		return 0, &OperandError{Op: a.String(), Err: ErrBadOperand}
	}
	return 0, &OperandError{Op: fmt.Sprint(arg), Err: ErrBadOperand}
}

func (p *x86Processor) counter(state *regs.State, cc asm.Cond) (uint64, error) {
	name := asm.Reg("ecx")
	switch cc {
	case asm.CondCXZ:
		name = "cx"
	case asm.CondRCXZ:
		name = "rcx"
	case asm.CondECXZ:
	default:
		switch p.mode {
		case asm.ModeAMD64:
			name = "rcx"
		case asm.ModeX86_16:
			name = "cx"
		}
	}
	v, _, err := p.reg(state, name)
	return v, err
}

func (p *x86Processor) ConditionTaken(state *regs.State, cond asm.Cond) (bool, error) {
	switch {
	case cond == asm.CondNone:
		return true, nil
	case cond >= asm.CondO && cond <= asm.CondG:
		fl, err := state.FlagsValue()
		if err != nil {
			return false, badRegister("eflags")
		}
		return X86Condition(fl, cond), nil
	case cond >= asm.CondCXZ && cond <= asm.CondLoopNE:
		c, err := p.counter(state, cond)
		if err != nil {
			return false, err
		}
		var fl uint64
		if cond == asm.CondLoopE || cond == asm.CondLoopNE {
			if fl, err = state.FlagsValue(); err != nil {
				return false, badRegister("eflags")
			}
		}
		return X86CounterCondition(c, fl, cond), nil
	}
	return false, fmt.Errorf("%w %d", ErrBadCondition, cond)
}

func (p *x86Processor) BranchTaken(inst *asm.Instruction, state *regs.State) (bool, error) {
	if !inst.Conditional() {
		return true, nil
	}
	return p.ConditionTaken(state, inst.Cond)
}

func (p *x86Processor) Classify(inst *asm.Instruction) Class {
	if p.isFiller(inst) {
		return Filler
	}
	if !inst.Valid {
		return Other
	}
	switch inst.Op {
	case "CALL", "LCALL":
		return Call
	case "RET", "LRET", "IRET", "IRETD", "IRETQ":
		return Return
	case "JMP", "LJMP":
		return Jump
	case "JCC":
		return ConditionalJump
	case "CMOVCC":
		return ConditionalMove
	case "SYSCALL", "SYSENTER":
		return Syscall
	case "INT":
		if len(inst.Args) == 1 {
			if imm, ok := inst.Args[0].(asm.Imm); ok && imm&0xff == 0x80 {
				return Syscall
			}
		}
		return Interrupt
	case "INTO", "ICEBP":
		return Interrupt
	}
	if inst.Cond >= asm.CondCXZ && inst.Cond <= asm.CondLoopNE {
		return ConditionalJump
	}
	return Other
}

func (p *x86Processor) isFiller(inst *asm.Instruction) bool {
	if !inst.Valid {
		return inst.Len == 1 && len(inst.Bytes) == 1 && inst.Bytes[0] == 0x00
	}
	switch inst.Op {
	case "NOP":
		return true
	case "INT":
		if inst.Len == 1 && inst.Bytes[0] == 0xcc {
			return true
		}
	case "MOV":
		if len(inst.Args) == 2 {
			r1, ok1 := inst.Args[0].(asm.Reg)
			r2, ok2 := inst.Args[1].(asm.Reg)
			if ok1 && ok2 && r1 == r2 {
				return true
			}
		}
	case "LEA":
		if len(inst.Args) == 2 {
			r, ok1 := inst.Args[0].(asm.Reg)
			m, ok2 := inst.Args[1].(asm.Mem)
			if ok1 && ok2 && m.Disp == 0 && m.Segment == "" {
				switch {
				case m.Index == "" && m.Base == r:
					return true
				case m.Base == "" && m.Index == r && m.Scale <= 1:
					return true
				}
			}
		}
	}
	if p.cfg.ZerosAreFilling && len(inst.Bytes) == 2 && inst.Bytes[0] == 0 && inst.Bytes[1] == 0 {
		return true
	}
	return false
}

func (p *x86Processor) CanStepOver(inst *asm.Instruction) bool {
	if !inst.Valid {
		return false
	}
	return p.Classify(inst) == Call || inst.Prefix&(asm.PrefixRep|asm.PrefixRepne) != 0
}

func (p *x86Processor) argRegisters() []asm.Reg {
	if p.mode == asm.ModeAMD64 {
		return []asm.Reg{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	}
	return nil
}

func (p *x86Processor) syscallRegisters() (asm.Reg, []asm.Reg, string) {
	if p.mode == asm.ModeAMD64 {
		return "rax", []asm.Reg{"rdi", "rsi", "rdx", "r10", "r8", "r9"}, "x86-64"
	}
	return "eax", []asm.Reg{"ebx", "ecx", "edx", "esi", "edi", "ebp"}, "x86"
}

func (p *x86Processor) regValue(state *regs.State, name asm.Reg) (string, error) {
	v, bits, err := p.reg(state, name)
	if err != nil {
		return "", err
	}
	if r, ok := state.Get(string(name)); ok {
		return r.Value.String(), nil
	}
	return fmt.Sprintf("0x%0*x", (bits+3)/4, v), nil
}

func (p *x86Processor) ResolveCallArguments(state *regs.State, callee string, stackOffset uint64, mem MemoryReader) []string {
	return p.resolveCallArguments(state, callee, stackOffset, mem, p.argRegisters(), p.reg)
}

func (p *x86Processor) Annotate(inst *asm.Instruction, state *regs.State, env Env) []string {
	return annotate(p, inst, state, env)
}
