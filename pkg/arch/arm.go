package arch

import (
	"fmt"
	"strings"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

const (
	cpsrN = 1 << 31
	cpsrZ = 1 << 30
	cpsrC = 1 << 29
	cpsrV = 1 << 28
)

// ARMCondition evaluates an ARM condition field against cpsr.
func ARMCondition(cpsr uint32, cc asm.Cond) bool {
	n := cpsr&cpsrN != 0
	z := cpsr&cpsrZ != 0
	c := cpsr&cpsrC != 0
	v := cpsr&cpsrV != 0
	switch cc {
	case asm.ArmEQ:
		return z
	case asm.ArmNE:
		return !z
	case asm.ArmCS:
		return c
	case asm.ArmCC:
		return !c
	case asm.ArmMI:
		return n
	case asm.ArmPL:
		return !n
	case asm.ArmVS:
		return v
	case asm.ArmVC:
		return !v
	case asm.ArmHI:
		return c && !z
	case asm.ArmLS:
		return !c || z
	case asm.ArmGE:
		return n == v
	case asm.ArmLT:
		return n != v
	case asm.ArmGT:
		return !z && n == v
	case asm.ArmLE:
		return z || n != v
	case asm.ArmAL:
		return true
	case asm.ArmNV:
		return false
	}
	panic(fmt.Sprintf("ARMCondition: bad condition %d", cc))
}

// ARMShift applies the barrel shifter to x. Unlike x86, shifting right by
// 32 is not a no-op: LSR clears the value and ASR replicates the sign bit.
// carry is only used by RRX.
func ARMShift(x uint32, s asm.Shift, n uint8, carry bool) uint32 {
	switch s {
	case asm.ShiftLSL:
		if n >= 32 {
			return 0
		}
		return x << n
	case asm.ShiftLSR:
		if n >= 32 {
			return 0
		}
		return x >> n
	case asm.ShiftASR:
		if n >= 32 {
			n = 31
		}
		return uint32(int32(x) >> n)
	case asm.ShiftROR:
		n &= 31
		return x>>n | x<<((32-n)&31)
	case asm.ShiftRRX:
		var c uint32
		if carry {
			c = 1 << 31
		}
		return c | x>>1
	}
	return x
}

type armProcessor struct {
	common
}

func (p *armProcessor) checkMode(inst *asm.Instruction) error {
	if !inst.Mode.IsARM() {
		return fmt.Errorf("%w: %v instruction on arm", ErrUnsupportedMode, inst.Mode)
	}
	return nil
}

func (p *armProcessor) reg(state *regs.State, name asm.Reg) (uint64, int, error) {
	key := string(name)
	if n := asm.ARMRegNumber(key); n >= 0 {
		key = asm.ARMRegName(n)
	}
	r, ok := state.Get(key)
	if !ok {
		return 0, 0, badRegister(name)
	}
	return r.Value.Uint64(), r.Value.Bits(), nil
}

// pcValue is the value an instruction reads from the pc: two
// instructions ahead in ARM state, four bytes ahead in Thumb state.
func pcValue(inst *asm.Instruction) uint64 {
	if inst.Mode == asm.ModeThumb {
		return uint64(uint32(inst.Addr + 4))
	}
	return uint64(uint32(inst.Addr + 8))
}

func isPC(r asm.Reg) bool {
	return asm.ARMRegNumber(string(r)) == 15
}

func (p *armProcessor) gpr(inst *asm.Instruction, state *regs.State, r asm.Reg) (uint32, error) {
	if isPC(r) {
		return uint32(pcValue(inst)), nil
	}
	v, _, err := p.reg(state, r)
	return uint32(v), err
}

func (p *armProcessor) EffectiveAddress(inst *asm.Instruction, arg asm.Arg, state *regs.State) (uint64, error) {
	if err := p.checkMode(inst); err != nil {
		return 0, err
	}
	switch a := arg.(type) {
	case asm.Reg:
		v, err := p.gpr(inst, state, a)
		return uint64(v), err
	case asm.Mem:
		base, err := p.gpr(inst, state, a.Base)
		if err != nil {
			return 0, err
		}
		if a.PostIndex {
			return uint64(base), nil
		}
		ea := base + uint32(a.Disp)
		if a.Index != "" {
			idx, err := p.gpr(inst, state, a.Index)
			if err != nil {
				return 0, err
			}
			var carry bool
			if a.Shift == asm.ShiftRRX {
				cpsr, err := state.Uint64("cpsr")
				if err != nil {
					return 0, badRegister("cpsr")
				}
				carry = cpsr&cpsrC != 0
			}
			idx = ARMShift(idx, a.Shift, a.ShiftAmount, carry)
			if a.Scale > 1 {
				idx *= uint32(a.Scale)
			}
			if a.Negative {
				ea -= idx
			} else {
				ea += idx
			}
		}
		return uint64(ea), nil
	case asm.Abs:
		return a.Addr, nil
	case asm.Rel:
		return a.Target, nil
	case asm.Imm:
		return 0, &OperandError{Op: a.String(), Err: ErrBadOperand}
	}
	return 0, &OperandError{Op: fmt.Sprint(arg), Err: ErrBadOperand}
}

func (p *armProcessor) ConditionTaken(state *regs.State, cond asm.Cond) (bool, error) {
	if cond == asm.CondNone || cond == asm.ArmAL {
		return true, nil
	}
	if cond < asm.ArmEQ || cond > asm.ArmNV {
		return false, fmt.Errorf("%w %d", ErrBadCondition, cond)
	}
	cpsr, err := state.Uint64("cpsr")
	if err != nil {
		return false, badRegister("cpsr")
	}
	return ARMCondition(uint32(cpsr), cond), nil
}

func (p *armProcessor) BranchTaken(inst *asm.Instruction, state *regs.State) (bool, error) {
	if inst.Op == "CBZ" || inst.Op == "CBNZ" {
		if len(inst.Args) == 0 {
			return false, &OperandError{Op: inst.Op, Err: ErrBadOperand}
		}
		r, ok := inst.Args[0].(asm.Reg)
		if !ok {
			return false, &OperandError{Op: inst.Args[0].String(), Err: ErrBadOperand}
		}
		v, _, err := p.reg(state, r)
		if err != nil {
			return false, err
		}
		return (uint32(v) == 0) == (inst.Op == "CBZ"), nil
	}
	if !inst.Conditional() {
		return true, nil
	}
	return p.ConditionTaken(state, inst.Cond)
}

// writesPC reports whether inst has the pc as its destination.
func writesPC(inst *asm.Instruction) bool {
	if inst.RegList&(1<<15) != 0 {
		return inst.Op == "POP" || strings.HasPrefix(inst.Op, "LDM")
	}
	if len(inst.Args) == 0 {
		return false
	}
	if r, ok := inst.Args[0].(asm.Reg); !ok || !isPC(r) {
		return false
	}
	switch {
	case strings.HasPrefix(inst.Op, "STR"), strings.HasPrefix(inst.Op, "STM"), strings.HasPrefix(inst.Op, "PLD"):
		return false
	}
	switch inst.Op {
	case "CMP", "CMN", "TST", "TEQ", "PUSH", "BX", "BLX", "BXJ":
		return false
	}
	return true
}

func (p *armProcessor) Classify(inst *asm.Instruction) Class {
	if !inst.Valid || inst.Op == "" {
		return Other
	}
	if p.isFiller(inst) {
		return Filler
	}
	class := p.branchClass(inst)
	switch class {
	case Jump:
		if inst.Conditional() {
			return ConditionalJump
		}
	case Other:
		if inst.Op == "MOV" && inst.Conditional() {
			return ConditionalMove
		}
	}
	return class
}

func (p *armProcessor) branchClass(inst *asm.Instruction) Class {
	switch inst.Op {
	case "BKPT", "UDF", "UNDEF":
		return Interrupt
	case "SVC":
		return Syscall
	case "BL", "BLX":
		return Call
	case "CBZ", "CBNZ":
		return ConditionalJump
	case "B", "TBB", "TBH":
		return Jump
	case "BX", "BXJ":
		if len(inst.Args) == 1 && inst.Args[0] == asm.Reg("lr") {
			return Return
		}
		return Jump
	}
	if !writesPC(inst) {
		return Other
	}
	switch {
	case inst.Op == "POP":
		return Return
	case strings.HasPrefix(inst.Op, "LDM") && len(inst.Args) == 1 && inst.Args[0] == asm.Reg("sp"):
		return Return
	case inst.Op == "MOV" && len(inst.Args) == 2 && inst.Args[1] == asm.Reg("lr") && inst.Flags&asm.FlagShiftedOperand == 0:
		return Return
	}
	return Jump
}

func (p *armProcessor) isFiller(inst *asm.Instruction) bool {
	switch inst.Op {
	case "NOP":
		return true
	case "MOV":
		if len(inst.Args) != 2 || inst.Flags&(asm.FlagShiftedOperand|asm.FlagSetsFlags) != 0 {
			return false
		}
		r1, ok1 := inst.Args[0].(asm.Reg)
		r2, ok2 := inst.Args[1].(asm.Reg)
		return ok1 && ok2 && r1 == r2 && !isPC(r1)
	}
	return false
}

func (p *armProcessor) CanStepOver(inst *asm.Instruction) bool {
	if !inst.Valid {
		return false
	}
	switch p.Classify(inst) {
	case Call, Interrupt:
		return true
	case Return, Jump, ConditionalJump:
		return false
	}
	return !writesPC(inst)
}

func (p *armProcessor) argRegisters() []asm.Reg {
	return []asm.Reg{"r0", "r1", "r2", "r3"}
}

func (p *armProcessor) syscallRegisters() (asm.Reg, []asm.Reg, string) {
	return "r7", []asm.Reg{"r0", "r1", "r2", "r3", "r4", "r5", "r6"}, "arm"
}

func (p *armProcessor) regValue(state *regs.State, name asm.Reg) (string, error) {
	key := string(name)
	if n := asm.ARMRegNumber(key); n >= 0 {
		key = asm.ARMRegName(n)
	}
	r, ok := state.Get(key)
	if !ok {
		return "", badRegister(name)
	}
	return r.Value.String(), nil
}

func (p *armProcessor) ResolveCallArguments(state *regs.State, callee string, stackOffset uint64, mem MemoryReader) []string {
	return p.resolveCallArguments(state, callee, stackOffset, mem, p.argRegisters(), p.reg)
}

func (p *armProcessor) Annotate(inst *asm.Instruction, state *regs.State, env Env) []string {
	return annotate(p, inst, state, env)
}
