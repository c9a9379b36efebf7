package asm

import (
	"encoding/binary"
)

// thumbDecoder decodes Thumb and Thumb-2 code. golang.org/x/arch/arm/armasm
// only implements the ARM instruction set, so lengths, branches, stack and
// load/store operations are decoded here; the remaining valid 32-bit
// encodings are reported with an empty Op.
type thumbDecoder struct{}

func (thumbDecoder) Mode() Mode { return ModeThumb }

// IsThumb32 reports whether hw1 is the first halfword of a 32-bit Thumb-2
// instruction.
func IsThumb32(hw1 uint16) bool {
	return hw1&0xf800 >= 0xe800
}

func (thumbDecoder) Decode(b []byte, addr uint64) Instruction {
	if len(b) < 2 {
		return invalid(b, addr, ModeThumb)
	}
	hw1 := binary.LittleEndian.Uint16(b)
	r := Instruction{Addr: addr, Mode: ModeThumb, Cond: CondNone, Valid: true}
	if IsThumb32(hw1) {
		if len(b) < 4 {
			return invalid(b, addr, ModeThumb)
		}
		r.Len = 4
		r.Bytes = append([]byte(nil), b[:4]...)
		op32 := uint32(hw1)<<16 | uint32(binary.LittleEndian.Uint16(b[2:]))
		decodeT32(&r, op32)
	} else {
		r.Len = 2
		r.Bytes = append([]byte(nil), b[:2]...)
		if !decodeT16(&r, hw1) {
			return invalid(b, addr, ModeThumb)
		}
	}
	return r
}

func signExtend(v uint32, bits uint) int64 {
	return int64(int32(v<<(32-bits)) >> (32 - bits))
}

func lo(n uint16) Reg { return Reg(ARMRegName(int(n & 7))) }
func hi(n uint32) Reg { return Reg(ARMRegName(int(n & 0xf))) }

// thumbPC is the value of PC seen by an instruction at addr.
func thumbPC(addr uint64) uint64 { return addr + 4 }

var thumbDataProc = [16]string{"AND", "EOR", "LSL", "LSR", "ASR", "ADC", "SBC", "ROR", "TST", "RSB", "CMP", "CMN", "ORR", "MUL", "BIC", "MVN"}
var thumbLoadStoreReg = [8]struct {
	op   string
	size int
}{{"STR", 4}, {"STRH", 2}, {"STRB", 1}, {"LDRSB", 1}, {"LDR", 4}, {"LDRH", 2}, {"LDRB", 1}, {"LDRSH", 2}}

func decodeT16(r *Instruction, hw1 uint16) bool {
	addr := r.Addr
	switch {
	case hw1&0xff00 == 0xbf00:
		if hw1&0xf != 0 {
			r.Op = "IT"
			r.Args = []Arg{Imm((hw1 >> 4) & 0xf), Imm(hw1 & 0xf)}
			return true
		}
		switch hw1 {
		case 0xbf10:
			r.Op = "YIELD"
		case 0xbf20:
			r.Op = "WFE"
		case 0xbf30:
			r.Op = "WFI"
		case 0xbf40:
			r.Op = "SEV"
		default:
			r.Op = "NOP"
		}
	case hw1&0xff00 == 0xbe00:
		r.Op = "BKPT"
		r.Args = []Arg{Imm(hw1 & 0xff)}
	case hw1&0xff00 == 0xde00:
		r.Op = "UDF"
		r.Args = []Arg{Imm(hw1 & 0xff)}
	case hw1&0xff00 == 0xdf00:
		r.Op = "SVC"
		r.Args = []Arg{Imm(hw1 & 0xff)}
	case hw1&0xf000 == 0xd000:
		r.Op = "B"
		r.Cond = Cond((hw1 >> 8) & 0xf)
		off := signExtend(uint32(hw1&0xff), 8) << 1
		r.Args = []Arg{Rel{Target: uint64(int64(thumbPC(addr)) + off)}}
	case hw1&0xf800 == 0xe000:
		r.Op = "B"
		off := signExtend(uint32(hw1&0x7ff)<<1, 12)
		r.Args = []Arg{Rel{Target: uint64(int64(thumbPC(addr)) + off)}}
	case hw1&0xf500 == 0xb100:
		r.Op = "CBZ"
		if hw1&0x0800 != 0 {
			r.Op = "CBNZ"
		}
		off := uint64((hw1>>9)&1)<<6 | uint64((hw1>>3)&0x1f)<<1
		r.Args = []Arg{lo(hw1), Rel{Target: thumbPC(addr) + off}}
	case hw1&0xff00 == 0x4700:
		r.Op = "BX"
		if hw1&0x80 != 0 {
			r.Op = "BLX"
		}
		r.Flags |= FlagExchange
		r.Args = []Arg{hi(uint32(hw1 >> 3))}
	case hw1&0xfc00 == 0x4400:
		rd := hi(uint32((hw1>>7)&1)<<3 | uint32(hw1&7))
		rm := hi(uint32(hw1 >> 3))
		switch (hw1 >> 8) & 3 {
		case 0:
			r.Op = "ADD"
		case 1:
			r.Op = "CMP"
		case 2:
			r.Op = "MOV"
		}
		r.Args = []Arg{rd, rm}
	case hw1&0xfe00 == 0xbc00:
		r.Op = "POP"
		r.RegList = hw1&0xff | (hw1&0x100)<<7
	case hw1&0xfe00 == 0xb400:
		r.Op = "PUSH"
		r.RegList = hw1&0xff | (hw1&0x100)<<6
	case hw1&0xf800 == 0x4800:
		r.Op = "LDR"
		r.MemBytes = 4
		r.Args = []Arg{lo(hw1 >> 8), Abs{Addr: thumbPC(addr)&^3 + uint64(hw1&0xff)<<2, Size: 4}}
	case hw1&0xe000 == 0x6000:
		size, scale := 4, 4
		r.Op = "STR"
		if hw1&0x1000 != 0 {
			size, scale = 1, 1
			r.Op += "B"
		}
		if hw1&0x0800 != 0 {
			r.Op = "LD" + r.Op[2:]
		}
		r.MemBytes = size
		r.Args = []Arg{lo(hw1), Mem{Base: lo(hw1 >> 3), Disp: int64((hw1>>6)&0x1f) * int64(scale), Size: size}}
	case hw1&0xf000 == 0x8000:
		r.Op = "STRH"
		if hw1&0x0800 != 0 {
			r.Op = "LDRH"
		}
		r.MemBytes = 2
		r.Args = []Arg{lo(hw1), Mem{Base: lo(hw1 >> 3), Disp: int64((hw1>>6)&0x1f) * 2, Size: 2}}
	case hw1&0xf000 == 0x9000:
		r.Op = "STR"
		if hw1&0x0800 != 0 {
			r.Op = "LDR"
		}
		r.MemBytes = 4
		r.Args = []Arg{lo(hw1 >> 8), Mem{Base: "sp", Disp: int64(hw1&0xff) * 4, Size: 4}}
	case hw1&0xf000 == 0x5000:
		ls := thumbLoadStoreReg[(hw1>>9)&7]
		r.Op = ls.op
		r.MemBytes = ls.size
		r.Args = []Arg{lo(hw1), Mem{Base: lo(hw1 >> 3), Index: lo(hw1 >> 6), Scale: 1, Size: ls.size}}
	case hw1&0xf000 == 0xa000:
		imm := uint64(hw1&0xff) << 2
		if hw1&0x0800 == 0 {
			r.Op = "ADR"
			r.Args = []Arg{lo(hw1 >> 8), Imm(thumbPC(addr)&^3 + imm)}
		} else {
			r.Op = "ADD"
			r.Args = []Arg{lo(hw1 >> 8), Reg("sp"), Imm(imm)}
		}
	case hw1&0xff00 == 0xb000:
		r.Op = "ADD"
		if hw1&0x80 != 0 {
			r.Op = "SUB"
		}
		r.Args = []Arg{Reg("sp"), Reg("sp"), Imm(hw1&0x7f) << 2}
	case hw1&0xf000 == 0xc000:
		rn := (hw1 >> 8) & 7
		r.RegList = hw1 & 0xff
		if hw1&0x0800 != 0 {
			r.Op = "LDM"
			if r.RegList&(1<<rn) == 0 {
				r.Flags |= FlagWriteback
			}
		} else {
			r.Op = "STM"
			r.Flags |= FlagWriteback
		}
		r.Args = []Arg{lo(rn)}
	case hw1&0xe000 == 0x0000:
		r.Flags |= FlagSetsFlags
		rd, rn := lo(hw1), lo(hw1>>3)
		switch (hw1 >> 11) & 3 {
		case 0:
			r.Op = "LSL"
		case 1:
			r.Op = "LSR"
		case 2:
			r.Op = "ASR"
		case 3:
			third := (hw1 >> 6) & 7
			r.Op = "ADD"
			if hw1&0x0200 != 0 {
				r.Op = "SUB"
			}
			if hw1&0x0400 != 0 {
				r.Args = []Arg{rd, rn, Imm(third)}
			} else {
				r.Args = []Arg{rd, rn, lo(third)}
			}
			return true
		}
		r.Args = []Arg{rd, rn, Imm((hw1 >> 6) & 0x1f)}
	case hw1&0xe000 == 0x2000:
		r.Op = [4]string{"MOV", "CMP", "ADD", "SUB"}[(hw1>>11)&3]
		if r.Op != "CMP" {
			r.Flags |= FlagSetsFlags
		}
		r.Args = []Arg{lo(hw1 >> 8), Imm(hw1 & 0xff)}
	case hw1&0xfc00 == 0x4000:
		r.Op = thumbDataProc[(hw1>>6)&0xf]
		switch r.Op {
		case "TST", "CMP", "CMN":
		default:
			r.Flags |= FlagSetsFlags
		}
		r.Args = []Arg{lo(hw1), lo(hw1 >> 3)}
		if r.Op == "RSB" {
			r.Args = append(r.Args, Imm(0))
		}
	case hw1&0xff00 == 0xb200:
		r.Op = [4]string{"SXTH", "SXTB", "UXTH", "UXTB"}[(hw1>>6)&3]
		r.Args = []Arg{lo(hw1), lo(hw1 >> 3)}
	case hw1&0xff00 == 0xba00:
		op := [4]string{"REV", "REV16", "", "REVSH"}[(hw1>>6)&3]
		if op == "" {
			return false
		}
		r.Op = op
		r.Args = []Arg{lo(hw1), lo(hw1 >> 3)}
	case hw1&0xffe8 == 0xb660:
		r.Op = "CPS"
		r.Args = []Arg{Imm(hw1 & 0x17)}
	case hw1&0xfff7 == 0xb650:
		r.Op = "SETEND"
		r.Args = []Arg{Imm((hw1 >> 3) & 1)}
	default:
		return false
	}
	return true
}

func decodeT32(r *Instruction, inst uint32) {
	addr := r.Addr
	s := (inst >> 26) & 1
	j1 := (inst >> 13) & 1
	j2 := (inst >> 11) & 1
	switch {
	case inst == 0xf3af8000:
		r.Op = "NOP"
	case inst&0xfff0f000 == 0xf7f0a000:
		r.Op = "UDF"
		r.Args = []Arg{Imm((inst>>4)&0xf000 | inst&0xfff)}
	case inst&0xf800d000 == 0xf0008000 && inst&0x03800000 != 0x03800000:
		r.Op = "B"
		r.Cond = Cond((inst >> 22) & 0xf)
		off := s<<20 | j2<<19 | j1<<18 | (inst>>16)&0x3f<<12 | (inst&0x7ff)<<1
		r.Args = []Arg{Rel{Target: uint64(int64(thumbPC(addr)) + signExtend(off, 21))}}
	case inst&0xf8009000 == 0xf0009000:
		r.Op = "B"
		if inst&0x4000 != 0 {
			r.Op = "BL"
		}
		i1 := ^(j1 ^ s) & 1
		i2 := ^(j2 ^ s) & 1
		off := s<<24 | i1<<23 | i2<<22 | (inst>>16)&0x3ff<<12 | (inst&0x7ff)<<1
		r.Args = []Arg{Rel{Target: uint64(int64(thumbPC(addr)) + signExtend(off, 25))}}
	case inst&0xf800d001 == 0xf000c000:
		r.Op = "BLX"
		r.Flags |= FlagExchange
		i1 := ^(j1 ^ s) & 1
		i2 := ^(j2 ^ s) & 1
		off := s<<24 | i1<<23 | i2<<22 | (inst>>16)&0x3ff<<12 | (inst>>1)&0x3ff<<2
		r.Args = []Arg{Rel{Target: uint64(int64(thumbPC(addr)&^3) + signExtend(off, 25))}}
	case inst&0xfff0ffe0 == 0xe8d0f000:
		r.Op = "TBB"
		m := Mem{Base: hi(inst >> 16), Index: hi(inst), Scale: 1, Size: 1}
		if inst&0x10 != 0 {
			r.Op = "TBH"
			m.Shift, m.ShiftAmount, m.Size = ShiftLSL, 1, 2
		}
		r.MemBytes = m.Size
		r.Args = []Arg{m}
	case inst&0xfe400000 == 0xe8000000 && ((inst>>23)&3 == 1 || (inst>>23)&3 == 2):
		decodeT32Multiple(r, inst)
	case inst&0xfe000000 == 0xf8000000 && (inst>>21)&3 != 3:
		decodeT32LoadStore(r, inst)
	}
}

func decodeT32Multiple(r *Instruction, inst uint32) {
	rn := (inst >> 16) & 0xf
	load := inst&0x00100000 != 0
	wback := inst&0x00200000 != 0
	increment := (inst>>23)&3 == 1
	r.RegList = uint16(inst)
	if wback {
		r.Flags |= FlagWriteback
	}
	switch {
	case rn == 13 && wback && load && increment:
		r.Op = "POP"
		return
	case rn == 13 && wback && !load && !increment:
		r.Op = "PUSH"
		return
	case load && increment:
		r.Op = "LDM"
	case load:
		r.Op = "LDMDB"
	case increment:
		r.Op = "STM"
	default:
		r.Op = "STMDB"
	}
	r.Args = []Arg{hi(rn)}
}

func decodeT32LoadStore(r *Instruction, inst uint32) {
	size := [3]int{1, 2, 4}[(inst>>21)&3]
	load := inst&0x00100000 != 0
	signed := inst&0x01000000 != 0
	if signed && !load {
		return
	}
	rt := hi(inst >> 12)
	rn := (inst >> 16) & 0xf
	r.Op = "STR"
	if load {
		r.Op = "LDR"
		if signed {
			r.Op += "S"
		}
	}
	r.Op += [3]string{"B", "H", ""}[(inst>>21)&3]
	r.MemBytes = size

	var m Arg
	switch {
	case load && rn == 15:
		imm := uint64(inst & 0xfff)
		base := thumbPC(r.Addr) &^ 3
		if inst&0x00800000 != 0 {
			m = Abs{Addr: base + imm, Size: size}
		} else {
			m = Abs{Addr: base - imm, Size: size}
		}
	case inst&0x00800000 != 0:
		m = Mem{Base: hi(rn), Disp: int64(inst & 0xfff), Size: size}
	case inst&0x800 != 0:
		// P U W encoding: [rn, #+/-imm8]{!} or [rn], #+/-imm8
		disp := int64(inst & 0xff)
		if inst&0x200 == 0 {
			disp = -disp
		}
		mm := Mem{Base: hi(rn), Disp: disp, Size: size, PostIndex: inst&0x400 == 0}
		if inst&0x100 != 0 || mm.PostIndex {
			r.Flags |= FlagWriteback
		}
		m = mm
	case inst&0xfc0 == 0:
		mm := Mem{Base: hi(rn), Index: hi(inst), Scale: 1, Size: size}
		if n := uint8((inst >> 4) & 3); n != 0 {
			mm.Shift, mm.ShiftAmount = ShiftLSL, n
		}
		m = mm
	default:
		r.Op = ""
		r.MemBytes = 0
		return
	}
	if load && size == 1 && !signed && rt == "pc" {
		r.Op = "PLD"
		r.Args = []Arg{m}
		return
	}
	r.Args = []Arg{rt, m}
}
