// Package asm decodes raw machine code into a small architecture neutral
// instruction model shared by the x86 and ARM processors.
package asm

import (
	"fmt"
	"strings"
)

// Mode is the CPU execution mode used to decode a byte window.
type Mode uint8

const (
	ModeInvalid Mode = iota
	ModeX86_16
	ModeX86_32
	ModeAMD64
	ModeARM
	ModeThumb
)

func (m Mode) String() string {
	switch m {
	case ModeX86_16:
		return "x86-16"
	case ModeX86_32:
		return "x86"
	case ModeAMD64:
		return "x86-64"
	case ModeARM:
		return "arm"
	case ModeThumb:
		return "thumb"
	}
	return "invalid"
}

// ParseMode accepts the names printed by Mode.String and a few aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "x86-16", "8086", "i8086":
		return ModeX86_16, nil
	case "x86", "i386", "386", "x86-32":
		return ModeX86_32, nil
	case "x86-64", "amd64", "x64":
		return ModeAMD64, nil
	case "arm", "arm32":
		return ModeARM, nil
	case "thumb", "thumb2":
		return ModeThumb, nil
	}
	return ModeInvalid, fmt.Errorf("unknown mode %q", s)
}

// IsX86 reports whether m is one of the x86 family modes.
func (m Mode) IsX86() bool {
	return m == ModeX86_16 || m == ModeX86_32 || m == ModeAMD64
}

// IsARM reports whether m is ARM or Thumb.
func (m Mode) IsARM() bool {
	return m == ModeARM || m == ModeThumb
}

// MaxInstructionLength is the longest encoding of the mode.
func (m Mode) MaxInstructionLength() int {
	if m.IsX86() {
		return 15
	}
	return 4
}

// Alignment is the length given to an invalid instruction and the unit by
// which instruction starts are aligned.
func (m Mode) Alignment() int {
	switch m {
	case ModeARM:
		return 4
	case ModeThumb:
		return 2
	}
	return 1
}

// AddrBits returns the width of addresses in the mode.
func (m Mode) AddrBits() int {
	switch m {
	case ModeX86_16:
		return 16
	case ModeAMD64:
		return 64
	}
	return 32
}

// Cond is a condition code. The numbering follows the hardware encoding of
// each architecture: the x86 Jcc low nibble and the ARM cond field.
type Cond int8

const CondNone Cond = -1

// x86 condition codes.
const (
	CondO Cond = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG

	// Counter conditions of JCXZ/JECXZ/JRCXZ and the LOOP family.
	CondCXZ
	CondECXZ
	CondRCXZ
	CondLoop
	CondLoopE
	CondLoopNE
)

// ARM condition codes.
const (
	ArmEQ Cond = iota
	ArmNE
	ArmCS
	ArmCC
	ArmMI
	ArmPL
	ArmVS
	ArmVC
	ArmHI
	ArmLS
	ArmGE
	ArmLT
	ArmGT
	ArmLE
	ArmAL
	ArmNV
)

var x86CondNames = [...]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g", "cxz", "ecxz", "rcxz", "loop", "loope", "loopne"}
var armCondNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al", "nv"}

// Name returns the mnemonic suffix of c in mode m.
func (c Cond) Name(m Mode) string {
	if c < 0 {
		return ""
	}
	if m.IsARM() {
		if int(c) < len(armCondNames) {
			return armCondNames[c]
		}
	} else if int(c) < len(x86CondNames) {
		return x86CondNames[c]
	}
	return fmt.Sprintf("cond(%d)", int(c))
}

// Prefix is the set of x86 prefixes that change instruction semantics.
type Prefix uint8

const (
	PrefixLock Prefix = 1 << iota
	PrefixRep
	PrefixRepne
	PrefixOperandSize
	PrefixAddrSize
	PrefixSegment
	PrefixREX
)

// Flag records properties of an instruction that do not fit an operand.
type Flag uint8

const (
	// FlagSetsFlags marks ARM instructions with the S suffix.
	FlagSetsFlags Flag = 1 << iota
	// FlagShiftedOperand marks an ARM register operand shifted by another
	// register (the shift amount is not part of the Mem/Reg encoding).
	FlagShiftedOperand
	// FlagWriteback marks base register writeback (pre-indexed "!" or
	// LDM/STM "!").
	FlagWriteback
	// FlagExchange marks branches that may switch between ARM and Thumb.
	FlagExchange
)

// Arg is an instruction operand: Reg, Imm, Mem, Rel or Abs.
type Arg interface {
	String() string
	isArg()
}

// Reg is a canonical lower case register name ("rax", "r8d", "xmm0",
// "st0", "r3", "pc").
type Reg string

// Imm is an immediate value.
type Imm int64

// Shift is an ARM barrel shifter operation applied to an index register.
type Shift uint8

const (
	ShiftNone Shift = iota
	ShiftLSL
	ShiftLSR
	ShiftASR
	ShiftROR
	ShiftRRX
)

var shiftNames = [...]string{"", "lsl", "lsr", "asr", "ror", "rrx"}

func (s Shift) String() string {
	if int(s) < len(shiftNames) {
		return shiftNames[s]
	}
	return fmt.Sprintf("shift(%d)", int(s))
}

// Mem is a memory expression:
//
//	Segment:[Base + Sign*(Index Shift ShiftAmount)*Scale + Disp]
//
// PostIndex addressing accesses Base only; the index is applied to the base
// register afterwards.
type Mem struct {
	Segment     Reg
	Base        Reg
	Index       Reg
	Scale       int
	Negative    bool
	Disp        int64
	Shift       Shift
	ShiftAmount uint8
	PostIndex   bool
	Size        int
}

// Rel is a PC relative branch target, already resolved to an absolute
// address.
type Rel struct {
	Target uint64
}

// Abs is an absolute memory address, possibly segment relative.
type Abs struct {
	Segment Reg
	Addr    uint64
	Size    int
}

func (Reg) isArg() {}
func (Imm) isArg() {}
func (Mem) isArg() {}
func (Rel) isArg() {}
func (Abs) isArg() {}

func (r Reg) String() string { return string(r) }

func (i Imm) String() string {
	if i < 0 {
		return fmt.Sprintf("-%#x", -int64(i))
	}
	return fmt.Sprintf("%#x", int64(i))
}

func (m Mem) String() string {
	var sb strings.Builder
	if m.Segment != "" {
		sb.WriteString(string(m.Segment))
		sb.WriteByte(':')
	}
	sb.WriteByte('[')
	sep := ""
	if m.Base != "" {
		sb.WriteString(string(m.Base))
		sep = "+"
	}
	if m.PostIndex {
		sb.WriteByte(']')
		sep = ", "
	}
	if m.Index != "" {
		sb.WriteString(sep)
		if m.Negative {
			sb.WriteByte('-')
		}
		sb.WriteString(string(m.Index))
		if m.Scale > 1 {
			fmt.Fprintf(&sb, "*%d", m.Scale)
		}
		if m.Shift == ShiftRRX {
			sb.WriteString(", rrx")
		} else if m.Shift != ShiftNone {
			fmt.Fprintf(&sb, ", %s #%d", m.Shift, m.ShiftAmount)
		}
		sep = "+"
	}
	if m.Disp != 0 || (m.Base == "" && m.Index == "") {
		if m.Disp < 0 {
			fmt.Fprintf(&sb, "-%#x", -m.Disp)
		} else {
			sb.WriteString(sep)
			fmt.Fprintf(&sb, "%#x", m.Disp)
		}
	}
	if !m.PostIndex {
		sb.WriteByte(']')
	}
	return sb.String()
}

func (r Rel) String() string { return fmt.Sprintf("%#x", r.Target) }

func (a Abs) String() string {
	if a.Segment != "" {
		return fmt.Sprintf("%s:[%#x]", a.Segment, a.Addr)
	}
	return fmt.Sprintf("[%#x]", a.Addr)
}

// Flavor is the assembly syntax used by Instruction.Text.
type Flavor int

const (
	IntelFlavor Flavor = iota
	GNUFlavor
	GoFlavor
)

// ParseFlavor maps a configuration value to a Flavor. The empty string is
// Intel syntax.
func ParseFlavor(s string) (Flavor, error) {
	switch s {
	case "", "intel":
		return IntelFlavor, nil
	case "gnu":
		return GNUFlavor, nil
	case "go":
		return GoFlavor, nil
	}
	return IntelFlavor, fmt.Errorf("unknown disassembly flavor %q", s)
}

// Instruction is one decoded instruction. Values are immutable once
// returned by a Decoder.
type Instruction struct {
	Addr  uint64
	Bytes []byte
	Len   int
	Valid bool
	Mode  Mode

	// Op is the upper case base mnemonic, without condition or flag
	// setting suffixes ("JCC" and "CMOVCC" for the x86 conditional
	// families, "B" for every ARM branch condition).
	Op   string
	Args []Arg
	Cond Cond

	Prefix   Prefix
	Flags    Flag
	RegList  uint16 // ARM LDM/STM/PUSH/POP register set, bit n = rn
	MemBytes int

	text func(Flavor) string
}

// End returns the address following the instruction.
func (inst *Instruction) End() uint64 {
	return inst.Addr + uint64(inst.Len)
}

// Conditional reports whether the instruction only executes when a
// condition holds.
func (inst *Instruction) Conditional() bool {
	if inst.Cond == CondNone {
		return false
	}
	if inst.Mode.IsARM() {
		return inst.Cond != ArmAL && inst.Cond != ArmNV
	}
	return true
}

// Text renders the instruction in the requested syntax.
func (inst *Instruction) Text(flavor Flavor) string {
	if !inst.Valid {
		return fmt.Sprintf("(bad) % x", inst.Bytes)
	}
	if inst.text != nil {
		return inst.text(flavor)
	}
	return inst.String()
}

// String renders the instruction from the neutral model.
func (inst *Instruction) String() string {
	if !inst.Valid {
		return "(bad)"
	}
	if inst.Op == "" {
		return fmt.Sprintf(".inst % x", inst.Bytes)
	}
	op := strings.ToLower(inst.Op)
	if inst.Cond != CondNone && inst.Conditional() {
		switch {
		case inst.Op == "JCC":
			op = "j" + inst.Cond.Name(inst.Mode)
		case inst.Op == "CMOVCC":
			op = "cmov" + inst.Cond.Name(inst.Mode)
		case inst.Op == "SETCC":
			op = "set" + inst.Cond.Name(inst.Mode)
		case inst.Mode.IsARM():
			op += inst.Cond.Name(inst.Mode)
		}
	}
	args := make([]string, 0, len(inst.Args)+1)
	for _, a := range inst.Args {
		args = append(args, a.String())
	}
	if inst.RegList != 0 {
		args = append(args, RegListString(inst.RegList))
	}
	if len(args) == 0 {
		return op
	}
	return op + " " + strings.Join(args, ", ")
}

// RegListString renders an ARM register list.
func RegListString(list uint16) string {
	var names []string
	for i := 0; i < 16; i++ {
		if list&(1<<uint(i)) != 0 {
			names = append(names, ARMRegName(i))
		}
	}
	return "{" + strings.Join(names, ", ") + "}"
}

// ReadsReg reports whether register r appears as an operand, including
// as part of a memory expression or ARM register list.
func (inst *Instruction) ReadsReg(r Reg) bool {
	for _, a := range inst.Args {
		switch a := a.(type) {
		case Reg:
			if a == r {
				return true
			}
		case Mem:
			if a.Base == r || a.Index == r {
				return true
			}
		case Imm, Rel, Abs:
		}
	}
	if inst.RegList != 0 && inst.Mode.IsARM() {
		if n := ARMRegNumber(string(r)); n >= 0 {
			return inst.RegList&(1<<uint(n)) != 0
		}
	}
	return false
}

// Decoder turns a byte window starting at addr into an Instruction. A
// decoder never fails: undecodable bytes produce an invalid Instruction
// with Len of at least one.
type Decoder interface {
	Decode(b []byte, addr uint64) Instruction
	Mode() Mode
}

// NewDecoder returns the decoder for mode.
func NewDecoder(mode Mode) (Decoder, error) {
	switch mode {
	case ModeX86_16, ModeX86_32, ModeAMD64:
		return x86Decoder{mode: mode}, nil
	case ModeARM:
		return armDecoder{}, nil
	case ModeThumb:
		return thumbDecoder{}, nil
	}
	return nil, fmt.Errorf("no decoder for mode %v", mode)
}

func invalid(b []byte, addr uint64, mode Mode) Instruction {
	n := mode.Alignment()
	if n > len(b) {
		n = len(b)
	}
	inst := Instruction{Addr: addr, Bytes: append([]byte(nil), b[:n]...), Len: n, Mode: mode, Cond: CondNone}
	if inst.Len == 0 {
		inst.Len = 1
	}
	return inst
}
