package arch

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/logflags"
	"github.com/archdbg/archdbg/pkg/regs"
)

// annotator is implemented by both processors.
type annotator interface {
	Processor
	reg(state *regs.State, name asm.Reg) (uint64, int, error)
	regValue(state *regs.State, name asm.Reg) (string, error)
	syscallRegisters() (nr asm.Reg, args []asm.Reg, table string)
	returnAddress(inst *asm.Instruction, state *regs.State, mem MemoryReader) (uint64, bool)
	branchTarget(inst *asm.Instruction) (asm.Arg, bool)
	jumpArgOffset() uint64

	formatter(mem MemoryReader) *argFormatter
	readPointer(mem MemoryReader, addr uint64) (uint64, bool)
	formatAddr(v uint64) string
	config() Config
}

func (c *common) config() Config { return c.cfg }

func (c *common) formatAddr(v uint64) string {
	if c.PtrSize() == 4 {
		v = uint64(uint32(v))
	}
	return fmt.Sprintf("0x%0*x", c.PtrSize()*2, v)
}

func (p *x86Processor) returnAddress(inst *asm.Instruction, state *regs.State, mem MemoryReader) (uint64, bool) {
	sp, err := state.SP()
	if err != nil {
		return 0, false
	}
	return p.readPointer(mem, sp)
}

func (p *x86Processor) branchTarget(inst *asm.Instruction) (asm.Arg, bool) {
	if len(inst.Args) == 0 {
		return nil, false
	}
	return inst.Args[0], true
}

// A jump to a function start is a tail call, the caller's return address
// is already on the stack.
func (p *x86Processor) jumpArgOffset() uint64 { return uint64(p.PtrSize()) }

func (p *armProcessor) returnAddress(inst *asm.Instruction, state *regs.State, mem MemoryReader) (uint64, bool) {
	if inst.RegList&(1<<15) != 0 {
		sp, err := state.SP()
		if err != nil {
			return 0, false
		}
		below := bits.OnesCount16(inst.RegList &^ (1 << 15))
		return p.readPointer(mem, sp+uint64(below)*4)
	}
	v, _, err := p.reg(state, "lr")
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p *armProcessor) branchTarget(inst *asm.Instruction) (asm.Arg, bool) {
	switch {
	case inst.Op == "CBZ" || inst.Op == "CBNZ":
		if len(inst.Args) == 2 {
			return inst.Args[1], true
		}
	case inst.Op == "B" || inst.Op == "BL" || inst.Op == "BLX" || inst.Op == "BX" || inst.Op == "BXJ":
		if len(inst.Args) > 0 {
			return inst.Args[0], true
		}
	case strings.HasPrefix(inst.Op, "LDR"):
		if len(inst.Args) == 2 {
			return inst.Args[1], true
		}
	}
	return nil, false
}

func (p *armProcessor) jumpArgOffset() uint64 { return 0 }

// annotate describes inst the way the current instruction is explained
// next to a listing: branch outcomes, call targets and arguments, operand
// values, system calls and nearby jumps landing on inst.
func annotate(p annotator, inst *asm.Instruction, state *regs.State, env Env) []string {
	if !inst.Valid || state.Empty() {
		return nil
	}
	var ret []string
	switch class := p.Classify(inst); class {
	case ConditionalMove:
		if taken, err := p.BranchTaken(inst, state); err == nil {
			if taken {
				ret = append(ret, "move performed")
			} else {
				ret = append(ret, "move NOT performed")
			}
		}
	case Return:
		ret = append(ret, analyzeReturn(p, inst, state, env)...)
	case Call, Jump, ConditionalJump:
		if class == ConditionalJump {
			if taken, err := p.BranchTaken(inst, state); err == nil {
				if taken {
					ret = append(ret, "jump taken")
				} else {
					ret = append(ret, "jump NOT taken")
				}
			}
		}
		ret = append(ret, analyzeCall(p, inst, state, env, class)...)
	case Syscall:
		if !p.config().NoSyscalls {
			ret = append(ret, analyzeSyscall(p, state, env)...)
		}
	default:
		ret = append(ret, analyzeOperands(p, inst, state, env)...)
	}
	ret = append(ret, jumpTargets(p, inst, env)...)
	return dedupe(ret)
}

func dedupe(s []string) []string {
	seen := make(map[string]bool, len(s))
	r := s[:0]
	for _, x := range s {
		if !seen[x] {
			seen[x] = true
			r = append(r, x)
		}
	}
	if len(r) == 0 {
		return nil
	}
	return r
}

func symbolText(name string, off uint64) string {
	if off == 0 {
		return name
	}
	return fmt.Sprintf("%s+%#x", name, off)
}

func analyzeReturn(p annotator, inst *asm.Instruction, state *regs.State, env Env) []string {
	ra, ok := p.returnAddress(inst, state, env.Mem)
	if !ok {
		return nil
	}
	if env.Symbols != nil {
		if name, off, ok := env.Symbols.FindFunctionSymbol(ra); ok {
			return []string{fmt.Sprintf("return to %s <%s>", p.formatAddr(ra), symbolText(name, off))}
		}
	}
	return []string{"return to " + p.formatAddr(ra)}
}

func analyzeCall(p annotator, inst *asm.Instruction, state *regs.State, env Env, class Class) []string {
	arg, ok := p.branchTarget(inst)
	if !ok {
		return nil
	}
	ea, err := p.EffectiveAddress(inst, arg, state)
	if err != nil {
		if logflags.Arch() {
			logflags.ArchLogger().WithError(err).Debugf("call target of %s at %#x", inst.Op, inst.Addr)
		}
		return nil
	}
	offset := uint64(0)
	if class != Call {
		offset = p.jumpArgOffset()
	}
	lookup := func(addr uint64) (string, uint64, bool) {
		if env.Symbols == nil {
			return "", 0, false
		}
		return env.Symbols.FindFunctionSymbol(addr)
	}
	withArgs := func(line string, name string, off uint64) []string {
		r := []string{line}
		if off == 0 {
			r = append(r, p.ResolveCallArguments(state, name, offset, env.Mem)...)
		}
		return r
	}

	op := arg.String()
	switch arg.(type) {
	case asm.Rel:
		if name, off, ok := lookup(ea); ok {
			return withArgs(fmt.Sprintf("%s = %s <%s>", op, p.formatAddr(ea), symbolText(name, off)), name, off)
		}
	case asm.Reg:
		if name, off, ok := lookup(ea); ok {
			return withArgs(fmt.Sprintf("%s = %s <%s>", op, p.formatAddr(ea), symbolText(name, off)), name, off)
		}
		return []string{fmt.Sprintf("%s = %s", op, p.formatAddr(ea))}
	case asm.Mem, asm.Abs:
		target, ok := p.readPointer(env.Mem, ea)
		if !ok {
			return []string{fmt.Sprintf("%s = [%s] = ?", op, p.formatAddr(ea))}
		}
		if name, off, ok := lookup(target); ok {
			return withArgs(fmt.Sprintf("%s = [%s] = %s <%s>", op, p.formatAddr(ea), p.formatAddr(target), symbolText(name, off)), name, off)
		}
		return []string{fmt.Sprintf("%s = [%s] = %s", op, p.formatAddr(ea), p.formatAddr(target))}
	case asm.Imm:
	}
	return nil
}

const maxOperandBytes = 32

func analyzeOperands(p annotator, inst *asm.Instruction, state *regs.State, env Env) []string {
	var ret []string
	for _, arg := range inst.Args {
		op := arg.String()
		switch a := arg.(type) {
		case asm.Reg:
			v, err := p.regValue(state, a)
			if err != nil {
				v = "(Error: obtained invalid register value from State)"
			}
			ret = append(ret, op+" = "+v)
		case asm.Mem, asm.Abs:
			ea, err := p.EffectiveAddress(inst, arg, state)
			if err != nil {
				if logflags.Arch() {
					logflags.ArchLogger().WithError(err).Debugf("operand %s of %s at %#x", op, inst.Op, inst.Addr)
				}
				continue
			}
			if inst.Op == "LEA" {
				ret = append(ret, fmt.Sprintf("%s = %s", op, p.formatAddr(ea)))
				continue
			}
			n := operandSize(a, inst, p.PtrSize())
			var b []byte
			if env.Mem != nil {
				b, err = env.Mem.ReadMemory(ea, n)
			}
			if env.Mem == nil || err != nil || len(b) != n {
				ret = append(ret, fmt.Sprintf("%s = [%s] = ?", op, p.formatAddr(ea)))
				continue
			}
			ret = append(ret, fmt.Sprintf("%s = [%s] = %s", op, p.formatAddr(ea), regs.Bytes(n*8, b)))
		case asm.Imm, asm.Rel:
		}
	}
	return ret
}

func operandSize(arg asm.Arg, inst *asm.Instruction, ptrSize int) int {
	n := 0
	switch a := arg.(type) {
	case asm.Mem:
		n = a.Size
	case asm.Abs:
		n = a.Size
	}
	if n == 0 {
		n = inst.MemBytes
	}
	if n <= 0 {
		n = ptrSize
	}
	if n > maxOperandBytes {
		n = maxOperandBytes
	}
	return n
}

func analyzeSyscall(p annotator, state *regs.State, env Env) []string {
	nrReg, argRegs, table := p.syscallRegisters()
	nr, _, err := p.reg(state, nrReg)
	if err != nil {
		return nil
	}
	e, ok := LookupSyscall(table, nr)
	if !ok {
		return nil
	}
	f := p.formatter(env.Mem)
	args := make([]string, 0, len(e.Args))
	for i, typ := range e.Args {
		if i >= len(argRegs) {
			break
		}
		v, _, err := p.reg(state, argRegs[i])
		if err != nil {
			args = append(args, failedValue)
			continue
		}
		args = append(args, f.Argument(typ, v))
	}
	return []string{fmt.Sprintf("SYSCALL: %s(%s)", e.Name, strings.Join(args, ","))}
}

// jumpWindow is how far jumpTargets looks for branches landing on an
// instruction.
const jumpWindow = 128

func jumpTargets(p annotator, inst *asm.Instruction, env Env) []string {
	if env.Mem == nil {
		return nil
	}
	dec, err := asm.NewDecoder(inst.Mode)
	if err != nil {
		return nil
	}
	step := uint64(inst.Mode.Alignment())
	start := uint64(0)
	if inst.Addr >= jumpWindow {
		start = inst.Addr - jumpWindow
	}
	start -= start % step
	end := inst.Addr + jumpWindow - 1
	buf, _ := env.Mem.ReadMemory(start, int(end-start)+inst.Mode.MaxInstructionLength())

	var ret []string
	for addr := start; addr < end && addr-start < uint64(len(buf)); addr += step {
		if addr == inst.Addr {
			continue
		}
		cand := dec.Decode(buf[addr-start:], addr)
		if c := p.Classify(&cand); c != Jump && c != ConditionalJump {
			continue
		}
		if t, ok := p.branchTarget(&cand); ok {
			if rel, ok := t.(asm.Rel); ok && rel.Target == inst.Addr {
				ret = append(ret, "possible jump from "+p.formatAddr(addr))
			}
		}
	}
	return ret
}
