package asm

import (
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

type x86Decoder struct {
	mode Mode
}

func (d x86Decoder) Mode() Mode { return d.mode }

// Decode decodes the x86 instruction at the start of b. Undecodable bytes
// yield a one byte invalid instruction.
func (d x86Decoder) Decode(b []byte, addr uint64) Instruction {
	if len(b) > 15 {
		b = b[:15]
	}
	inst, err := x86asm.Decode(b, d.mode.AddrBits())
	// Truncated input decodes without error as a one byte Op(0).
	if err != nil || inst.Len == 0 || inst.Op == 0 {
		return invalid(b, addr, d.mode)
	}

	r := Instruction{
		Addr:     addr,
		Bytes:    append([]byte(nil), b[:inst.Len]...),
		Len:      inst.Len,
		Valid:    true,
		Mode:     d.mode,
		Cond:     CondNone,
		MemBytes: inst.MemBytes,
	}
	r.Op = inst.Op.String()
	if c, ok := x86Conds[inst.Op]; ok {
		r.Cond = c
		switch {
		case strings.HasPrefix(r.Op, "CMOV"):
			r.Op = "CMOVCC"
		case strings.HasPrefix(r.Op, "SET"):
			r.Op = "SETCC"
		case strings.HasPrefix(r.Op, "J"):
			r.Op = "JCC"
		}
	}
	r.Prefix = x86Prefixes(&inst)

	for _, a := range inst.Args {
		if a == nil {
			break
		}
		r.Args = append(r.Args, x86Arg(a, addr, &inst))
	}

	raw := inst
	r.text = func(flavor Flavor) string {
		switch flavor {
		case GNUFlavor:
			return x86asm.GNUSyntax(raw, addr, nil)
		case GoFlavor:
			return x86asm.GoSyntax(raw, addr, nil)
		}
		return x86asm.IntelSyntax(raw, addr, nil)
	}
	return r
}

// x86Arg converts a decoder argument. Relative targets are resolved against
// the end of the instruction.
func x86Arg(a x86asm.Arg, addr uint64, inst *x86asm.Inst) Arg {
	switch a := a.(type) {
	case x86asm.Reg:
		return Reg(X86RegName(a))
	case x86asm.Imm:
		return Imm(a)
	case x86asm.Rel:
		return Rel{Target: addr + uint64(inst.Len) + uint64(int64(a))}
	case x86asm.Mem:
		seg := Reg("")
		if a.Segment != 0 {
			seg = Reg(X86RegName(a.Segment))
		}
		if a.Base == 0 && a.Index == 0 {
			return Abs{Segment: seg, Addr: uint64(a.Disp) & addrMask(inst.AddrSize), Size: inst.MemBytes}
		}
		m := Mem{Segment: seg, Disp: a.Disp, Size: inst.MemBytes}
		if a.Base != 0 {
			m.Base = Reg(X86RegName(a.Base))
		}
		if a.Index != 0 {
			m.Index = Reg(X86RegName(a.Index))
			m.Scale = int(a.Scale)
		}
		return m
	}
	return Imm(0)
}

func addrMask(bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}

var x86StringOps = map[x86asm.Op]bool{
	x86asm.MOVSB: true, x86asm.MOVSW: true, x86asm.MOVSD: true, x86asm.MOVSQ: true,
	x86asm.STOSB: true, x86asm.STOSW: true, x86asm.STOSD: true, x86asm.STOSQ: true,
	x86asm.LODSB: true, x86asm.LODSW: true, x86asm.LODSD: true, x86asm.LODSQ: true,
	x86asm.CMPSB: true, x86asm.CMPSW: true, x86asm.CMPSD: true, x86asm.CMPSQ: true,
	x86asm.SCASB: true, x86asm.SCASW: true, x86asm.SCASD: true, x86asm.SCASQ: true,
	x86asm.INSB: true, x86asm.INSW: true, x86asm.INSD: true,
	x86asm.OUTSB: true, x86asm.OUTSW: true, x86asm.OUTSD: true,
}

func x86Prefixes(inst *x86asm.Inst) Prefix {
	var p Prefix
	for _, raw := range inst.Prefix {
		if raw == 0 {
			break
		}
		if raw.IsREX() {
			p |= PrefixREX
			continue
		}
		if raw&x86asm.PrefixIgnored != 0 {
			continue
		}
		implicit := raw&x86asm.PrefixImplicit != 0
		switch raw & 0xff {
		case 0xf0:
			p |= PrefixLock
		case 0xf3:
			if x86StringOps[inst.Op] {
				p |= PrefixRep
			}
		case 0xf2:
			if x86StringOps[inst.Op] {
				p |= PrefixRepne
			}
		case 0x66:
			if !implicit {
				p |= PrefixOperandSize
			}
		case 0x67:
			if !implicit {
				p |= PrefixAddrSize
			}
		case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65:
			p |= PrefixSegment
		}
	}
	return p
}

var x86Conds = map[x86asm.Op]Cond{
	x86asm.JO: CondO, x86asm.JNO: CondNO, x86asm.JB: CondB, x86asm.JAE: CondAE,
	x86asm.JE: CondE, x86asm.JNE: CondNE, x86asm.JBE: CondBE, x86asm.JA: CondA,
	x86asm.JS: CondS, x86asm.JNS: CondNS, x86asm.JP: CondP, x86asm.JNP: CondNP,
	x86asm.JL: CondL, x86asm.JGE: CondGE, x86asm.JLE: CondLE, x86asm.JG: CondG,

	x86asm.JCXZ: CondCXZ, x86asm.JECXZ: CondECXZ, x86asm.JRCXZ: CondRCXZ,
	x86asm.LOOP: CondLoop, x86asm.LOOPE: CondLoopE, x86asm.LOOPNE: CondLoopNE,

	x86asm.CMOVO: CondO, x86asm.CMOVNO: CondNO, x86asm.CMOVB: CondB, x86asm.CMOVAE: CondAE,
	x86asm.CMOVE: CondE, x86asm.CMOVNE: CondNE, x86asm.CMOVBE: CondBE, x86asm.CMOVA: CondA,
	x86asm.CMOVS: CondS, x86asm.CMOVNS: CondNS, x86asm.CMOVP: CondP, x86asm.CMOVNP: CondNP,
	x86asm.CMOVL: CondL, x86asm.CMOVGE: CondGE, x86asm.CMOVLE: CondLE, x86asm.CMOVG: CondG,

	x86asm.SETO: CondO, x86asm.SETNO: CondNO, x86asm.SETB: CondB, x86asm.SETAE: CondAE,
	x86asm.SETE: CondE, x86asm.SETNE: CondNE, x86asm.SETBE: CondBE, x86asm.SETA: CondA,
	x86asm.SETS: CondS, x86asm.SETNS: CondNS, x86asm.SETP: CondP, x86asm.SETNP: CondNP,
	x86asm.SETL: CondL, x86asm.SETGE: CondGE, x86asm.SETLE: CondLE, x86asm.SETG: CondG,
}

// X86RegName returns the canonical lower case name of a decoder register.
func X86RegName(r x86asm.Reg) string {
	switch {
	case r >= x86asm.R8L && r <= x86asm.R15L:
		return "r" + strconv.Itoa(int(r-x86asm.R8L)+8) + "d"
	case r >= x86asm.F0 && r <= x86asm.F7:
		return "st" + strconv.Itoa(int(r-x86asm.F0))
	case r >= x86asm.M0 && r <= x86asm.M7:
		return "mm" + strconv.Itoa(int(r-x86asm.M0))
	case r >= x86asm.X0 && r <= x86asm.X15:
		return "xmm" + strconv.Itoa(int(r-x86asm.X0))
	}
	switch r {
	case x86asm.SPB:
		return "spl"
	case x86asm.BPB:
		return "bpl"
	case x86asm.SIB:
		return "sil"
	case x86asm.DIB:
		return "dil"
	}
	return strings.ToLower(r.String())
}

// SubRegister describes where a partial x86 register lives inside its full
// width parent.
type SubRegister struct {
	Parent string
	Shift  uint
	Bits   uint
}

var x86Legacy = []struct {
	b8, b8h, b16, b32, b64 string
}{
	{"al", "ah", "ax", "eax", "rax"},
	{"cl", "ch", "cx", "ecx", "rcx"},
	{"dl", "dh", "dx", "edx", "rdx"},
	{"bl", "bh", "bx", "ebx", "rbx"},
	{"spl", "", "sp", "esp", "rsp"},
	{"bpl", "", "bp", "ebp", "rbp"},
	{"sil", "", "si", "esi", "rsi"},
	{"dil", "", "di", "edi", "rdi"},
}

// X86SubRegister maps a register name to its full width parent in mode.
// Full width registers map to themselves. ok is false for names that are
// not general purpose registers of the mode.
func X86SubRegister(name string, mode Mode) (SubRegister, bool) {
	wide := mode == ModeAMD64
	for _, l := range x86Legacy {
		parent := l.b32
		if wide {
			parent = l.b64
		}
		switch name {
		case l.b8:
			return SubRegister{parent, 0, 8}, true
		case l.b16:
			return SubRegister{parent, 0, 16}, true
		case l.b32:
			return SubRegister{parent, 0, 32}, true
		case l.b64:
			if !wide {
				return SubRegister{}, false
			}
			return SubRegister{parent, 0, 64}, true
		}
		if l.b8h != "" && name == l.b8h {
			return SubRegister{parent, 8, 8}, true
		}
	}
	switch name {
	case "ip":
		if wide {
			return SubRegister{"rip", 0, 16}, true
		}
		return SubRegister{"eip", 0, 16}, true
	case "eip":
		if wide {
			return SubRegister{"rip", 0, 32}, true
		}
		return SubRegister{"eip", 0, 32}, true
	case "rip":
		if wide {
			return SubRegister{"rip", 0, 64}, true
		}
		return SubRegister{}, false
	}
	if wide && len(name) >= 2 && name[0] == 'r' {
		n, suffix := 0, ""
		i := 1
		for ; i < len(name) && name[i] >= '0' && name[i] <= '9'; i++ {
			n = n*10 + int(name[i]-'0')
		}
		suffix = name[i:]
		if i > 1 && n >= 8 && n <= 15 {
			parent := "r" + strconv.Itoa(n)
			switch suffix {
			case "":
				return SubRegister{parent, 0, 64}, true
			case "d":
				return SubRegister{parent, 0, 32}, true
			case "w":
				return SubRegister{parent, 0, 16}, true
			case "b":
				return SubRegister{parent, 0, 8}, true
			}
		}
	}
	return SubRegister{}, false
}
