package asm

import (
	"math"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

type armDecoder struct{}

func (armDecoder) Mode() Mode { return ModeARM }

// Decode decodes the 32-bit ARM instruction at the start of b.
func (armDecoder) Decode(b []byte, addr uint64) Instruction {
	if len(b) < 4 {
		return invalid(b, addr, ModeARM)
	}
	inst, err := armasm.Decode(b[:4], armasm.ModeARM)
	if err != nil {
		return invalid(b, addr, ModeARM)
	}

	r := Instruction{
		Addr:  addr,
		Bytes: append([]byte(nil), b[:4]...),
		Len:   4,
		Valid: true,
		Mode:  ModeARM,
		Cond:  CondNone,
	}
	switch c := int(inst.Op & 15); {
	case c < 14:
		r.Cond = Cond(c)
	case c == 14:
		r.Cond = ArmAL
	}
	r.Op = armBaseOp(inst.Op)
	if strings.HasSuffix(r.Op, ".S") {
		r.Op = strings.TrimSuffix(r.Op, ".S")
		r.Flags |= FlagSetsFlags
	}
	if r.Op == "BX" || r.Op == "BLX" {
		r.Flags |= FlagExchange
	}

	for _, a := range inst.Args {
		if a == nil {
			break
		}
		switch a := a.(type) {
		case armasm.RegList:
			r.RegList = uint16(a)
		case armasm.Mem:
			switch a.Mode {
			case armasm.AddrLDM_WB:
				r.Flags |= FlagWriteback
				r.Args = append(r.Args, Reg(ARMRegName(int(a.Base))))
			case armasm.AddrLDM:
				r.Args = append(r.Args, Reg(ARMRegName(int(a.Base))))
			default:
				if a.Mode == armasm.AddrPreIndex {
					r.Flags |= FlagWriteback
				}
				r.Args = append(r.Args, armMem(a))
			}
		case armasm.RegShift:
			if a.Shift != armasm.ShiftLeft || a.Count != 0 {
				r.Flags |= FlagShiftedOperand
			}
			r.Args = append(r.Args, Reg(armReg(a.Reg)))
		case armasm.RegShiftReg:
			r.Flags |= FlagShiftedOperand
			r.Args = append(r.Args, Reg(armReg(a.Reg)))
		default:
			r.Args = append(r.Args, armArg(a, addr))
		}
	}
	if r.Op == "POP" || r.Op == "PUSH" {
		// Single register forms are encoded as LDR/STR but printed with
		// a register argument.
		if len(r.Args) == 1 {
			if reg, ok := r.Args[0].(Reg); ok {
				if n := ARMRegNumber(string(reg)); n >= 0 {
					r.RegList = 1 << uint(n)
					r.Args = nil
				}
			}
		}
	}

	raw := inst
	r.text = func(flavor Flavor) string {
		if flavor == GoFlavor {
			return armasm.GoSyntax(raw, addr, nil, nil)
		}
		return armasm.GNUSyntax(raw)
	}
	return r
}

// armBaseOp strips the condition from an opcode. Opcodes come in groups of
// sixteen ordered by condition with the unconditional name at offset 14.
func armBaseOp(op armasm.Op) string {
	base := op&^15 + 14
	s := base.String()
	if strings.HasPrefix(s, "Op(") {
		s = op.String()
	}
	return s
}

func armArg(a armasm.Arg, addr uint64) Arg {
	switch a := a.(type) {
	case armasm.Reg:
		return Reg(armReg(a))
	case armasm.RegX:
		return Reg(armReg(a.Reg))
	case armasm.Imm:
		return Imm(a)
	case armasm.ImmAlt:
		return Imm(a.Imm())
	case armasm.PCRel:
		return Rel{Target: uint64(uint32(addr) + 8 + uint32(int32(a)))}
	case armasm.Label:
		return Rel{Target: uint64(a)}
	case armasm.Endian:
		return Imm(a)
	case armasm.Float32Imm:
		return Imm(math.Float32bits(float32(a)))
	case armasm.Float64Imm:
		return Imm(math.Float64bits(float64(a)))
	}
	return Imm(0)
}

func armMem(a armasm.Mem) Mem {
	m := Mem{
		Base:      Reg(ARMRegName(int(a.Base))),
		Disp:      int64(a.Offset),
		PostIndex: a.Mode == armasm.AddrPostIndex,
	}
	if a.Sign != 0 {
		m.Index = Reg(ARMRegName(int(a.Index)))
		m.Scale = 1
		m.Negative = a.Sign < 0
		m.Shift, m.ShiftAmount = armShift(a.Shift, a.Count)
	}
	return m
}

func armShift(s armasm.Shift, count uint8) (Shift, uint8) {
	switch s {
	case armasm.ShiftLeft:
		if count == 0 {
			return ShiftNone, 0
		}
		return ShiftLSL, count
	case armasm.ShiftRight:
		return ShiftLSR, count
	case armasm.ShiftRightSigned:
		return ShiftASR, count
	case armasm.RotateRight:
		return ShiftROR, count
	case armasm.RotateRightExt:
		return ShiftRRX, 1
	}
	return ShiftNone, 0
}

func armReg(r armasm.Reg) string {
	if r <= armasm.R15 {
		return ARMRegName(int(r))
	}
	return strings.ToLower(r.String())
}

var armRegNames = [16]string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc"}

// ARMRegName returns the canonical name of core register n.
func ARMRegName(n int) string {
	if n < 0 || n > 15 {
		return ""
	}
	return armRegNames[n]
}

// ARMRegNumber is the inverse of ARMRegName. It also accepts r13, r14,
// r15, fp and ip. Unknown names return -1.
func ARMRegNumber(name string) int {
	switch name {
	case "r13":
		return 13
	case "r14":
		return 14
	case "r15":
		return 15
	case "fp":
		return 11
	case "ip":
		return 12
	}
	for i, n := range armRegNames {
		if n == name {
			return i
		}
	}
	return -1
}
