package regs

import (
	"fmt"
	"math/bits"
	"strings"
)

type flagRegisterDescr []flagDescr
type flagDescr struct {
	name string
	mask uint64
}

var eflagsDescription flagRegisterDescr = []flagDescr{
	{"CF", 1 << 0},
	{"", 1 << 1},
	{"PF", 1 << 2},
	{"AF", 1 << 4},
	{"ZF", 1 << 6},
	{"SF", 1 << 7},
	{"TF", 1 << 8},
	{"IF", 1 << 9},
	{"DF", 1 << 10},
	{"OF", 1 << 11},
	{"IOPL", 1<<12 | 1<<13},
	{"NT", 1 << 14},
	{"RF", 1 << 16},
	{"VM", 1 << 17},
	{"AC", 1 << 18},
	{"VIF", 1 << 19},
	{"VIP", 1 << 20},
	{"ID", 1 << 21},
}

var mxcsrDescription flagRegisterDescr = []flagDescr{
	{"FZ", 1 << 15},
	{"RZ/RN", 1<<14 | 1<<13},
	{"PM", 1 << 12},
	{"UM", 1 << 11},
	{"OM", 1 << 10},
	{"ZM", 1 << 9},
	{"DM", 1 << 8},
	{"IM", 1 << 7},
	{"DAZ", 1 << 6},
	{"PE", 1 << 5},
	{"UE", 1 << 4},
	{"OE", 1 << 3},
	{"ZE", 1 << 2},
	{"DE", 1 << 1},
	{"IE", 1 << 0},
}

var cpsrDescription flagRegisterDescr = []flagDescr{
	{"N", 1 << 31},
	{"Z", 1 << 30},
	{"C", 1 << 29},
	{"V", 1 << 28},
	{"Q", 1 << 27},
	{"IT[1:0]", 3 << 25},
	{"IT[7:2]", 0x3f << 10},
	{"J", 1 << 24},
	{"GE", 0xf << 16},
	{"E", 1 << 9},
	{"A", 1 << 8},
	{"I", 1 << 7},
	{"F", 1 << 6},
	{"T", 1 << 5},
	{"M", 0x1f},
}

func (descr flagRegisterDescr) Mask() uint64 {
	var r uint64
	for _, f := range descr {
		r = r | f.mask
	}
	return r
}

func (descr flagRegisterDescr) Describe(reg uint64, bitsize int) string {
	var r []string
	for _, f := range descr {
		if f.name == "" {
			continue
		}
		// rbm is f.mask with only the right-most bit set:
		// 0001 1100 -> 0000 0100
		rbm := f.mask & -f.mask
		if rbm == f.mask {
			if reg&f.mask != 0 {
				r = append(r, f.name)
			}
		} else {
			x := (reg & f.mask) >> uint(bits.TrailingZeros64(rbm))
			r = append(r, fmt.Sprintf("%s=%x", f.name, x))
		}
	}
	if reg & ^descr.Mask() != 0 {
		r = append(r, fmt.Sprintf("unknown_flags=%x", reg&^descr.Mask()))
	}
	return fmt.Sprintf("%#0*x\t[%s]", bitsize/4, reg, strings.Join(r, " "))
}

// DescribeEflags renders an EFLAGS value with its set flags.
func DescribeEflags(v uint64, bitsize int) string {
	return eflagsDescription.Describe(v, bitsize)
}

// DescribeMXCSR renders an MXCSR value.
func DescribeMXCSR(v uint64) string {
	return mxcsrDescription.Describe(v, 32)
}

// DescribeCPSR renders an ARM CPSR value.
func DescribeCPSR(v uint64) string {
	return cpsrDescription.Describe(v, 32)
}

// Describe returns the rendering used by register listings: flag
// registers are expanded, everything else is hexadecimal.
func Describe(arch Arch, r Register) string {
	switch r.Name {
	case "eflags", "rflags":
		return DescribeEflags(r.Value.Uint64(), r.Value.Bits())
	case "mxcsr":
		return DescribeMXCSR(r.Value.Uint64())
	case "cpsr":
		return DescribeCPSR(r.Value.Uint64())
	case "fctrl":
		return fmt.Sprintf("%#04x\t%s", r.Value.Uint64(), DescribeX87Control(uint16(r.Value.Uint64())))
	case "fstat":
		return fmt.Sprintf("%#04x\t%s", r.Value.Uint64(), DescribeX87Status(uint16(r.Value.Uint64())))
	}
	if r.Class == FPU && r.Value.Bits() == 80 {
		return FormatFloat80(r.Value.Bytes())
	}
	return r.Value.String()
}

// DescribeX87Control decodes the precision, rounding and exception mask
// fields of an x87 control word.
func DescribeX87Control(cw uint16) string {
	var precision, rounding string
	switch (cw >> 8) & 3 {
	case 0:
		precision = "Single precision (24 bit complete mantissa)"
	case 1:
		precision = "Reserved"
	case 2:
		precision = "Double precision (53 bit complete mantissa)"
	case 3:
		precision = "Extended precision (64 bit mantissa)"
	}
	switch (cw >> 10) & 3 {
	case 0:
		rounding = "Rounding to nearest"
	case 1:
		rounding = "Rounding down"
	case 2:
		rounding = "Rounding up"
	case 3:
		rounding = "Rounding toward zero"
	}
	masks := []string{"I", "D", "Z", "O", "U", "P"}
	var m []string
	for i, name := range masks {
		if cw&(1<<uint(i)) != 0 {
			m = append(m, name+"M")
		} else {
			m = append(m, name+"u")
		}
	}
	return fmt.Sprintf("[%s] PC: %s, RC: %s", strings.Join(m, " "), precision, rounding)
}

// DescribeX87Status decodes the exception, stack fault, busy and TOP fields
// of an x87 status word.
func DescribeX87Status(sw uint16) string {
	var r []string
	for i, name := range []string{"IE", "DE", "ZE", "OE", "UE", "PE"} {
		if sw&(1<<uint(i)) != 0 {
			r = append(r, name)
		}
	}
	if sw&0x40 != 0 {
		r = append(r, "SF")
		if sw&1 != 0 {
			if sw&(1<<9) != 0 {
				r = append(r, "(stack overflow)")
			} else {
				r = append(r, "(stack underflow)")
			}
		}
	}
	if sw&0x8000 != 0 {
		r = append(r, "BUSY")
	}
	return fmt.Sprintf("[%s] TOP: %d", strings.Join(r, " "), (sw>>11)&7)
}
