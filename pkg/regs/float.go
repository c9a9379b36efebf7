package regs

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FloatClass is the IEEE 754 (or x87 extended) category of a floating
// point bit pattern.
type FloatClass uint8

const (
	FloatZero FloatClass = iota
	FloatDenormal
	FloatPseudoDenormal
	FloatNormal
	FloatInfinity
	FloatQNaN
	FloatSNaN
	FloatUnsupported
)

func (c FloatClass) String() string {
	switch c {
	case FloatZero:
		return "zero"
	case FloatDenormal:
		return "denormal"
	case FloatPseudoDenormal:
		return "pseudo-denormal"
	case FloatNormal:
		return "normal"
	case FloatInfinity:
		return "infinity"
	case FloatQNaN:
		return "QNaN"
	case FloatSNaN:
		return "SNaN"
	}
	return "unsupported"
}

// Special reports whether the class should be called out next to the
// numeric rendering.
func (c FloatClass) Special() bool {
	return c != FloatNormal && c != FloatZero
}

func ieeeClassify(v uint64, mantissaLength, expLength uint) FloatClass {
	mantissa := v & (1<<mantissaLength - 1)
	exponent := (v >> mantissaLength) & (1<<expLength - 1)
	expMax := uint64(1<<expLength - 1)
	qnanMask := uint64(1) << (mantissaLength - 1)

	switch exponent {
	case expMax:
		switch {
		case mantissa == 0:
			return FloatInfinity
		case mantissa&qnanMask != 0:
			return FloatQNaN
		default:
			return FloatSNaN
		}
	case 0:
		if mantissa == 0 {
			return FloatZero
		}
		return FloatDenormal
	}
	return FloatNormal
}

// ClassifyFloat32 classifies a single precision bit pattern.
func ClassifyFloat32(v uint32) FloatClass {
	return ieeeClassify(uint64(v), 23, 8)
}

// ClassifyFloat64 classifies a double precision bit pattern.
func ClassifyFloat64(v uint64) FloatClass {
	return ieeeClassify(v, 52, 11)
}

// ClassifyFloat80 classifies an x87 extended precision value given its
// sign+exponent word and 64-bit significand. Unlike the IEEE formats the
// integer bit is explicit, so pseudo-denormals, unnormals, pseudo-NaNs and
// pseudo-infinities can be told apart.
func ClassifyFloat80(exponent uint16, mantissa uint64) FloatClass {
	const (
		integerBit = uint64(1) << 63
		qnanMask   = uint64(3) << 62
		expMax     = 1<<15 - 1
	)
	exponent &= expMax
	integerSet := mantissa&integerBit != 0

	switch exponent {
	case expMax:
		switch {
		case mantissa == integerBit:
			return FloatInfinity
		case mantissa&qnanMask == qnanMask:
			return FloatQNaN
		case mantissa&qnanMask == integerBit:
			return FloatSNaN
		default:
			return FloatUnsupported
		}
	case 0:
		switch {
		case mantissa == 0:
			return FloatZero
		case !integerSet:
			return FloatDenormal
		default:
			return FloatPseudoDenormal
		}
	}
	if integerSet {
		return FloatNormal
	}
	return FloatUnsupported
}

// Float80 converts an x87 extended precision value to the nearest float64.
// Unsupported encodings convert to NaN.
func Float80(exponent uint16, mantissa uint64) float64 {
	const (
		signBit = 1 << 15
		expBias = (1 << 14) - 1 // 2^(n-1) - 1 = 16383
	)
	sign := 1.0
	if exponent&signBit != 0 {
		sign = -1.0
	}
	exp := exponent &^ signBit

	switch ClassifyFloat80(exp, mantissa) {
	case FloatZero:
		return math.Copysign(0, sign)
	case FloatInfinity:
		return math.Inf(int(sign))
	case FloatQNaN, FloatSNaN, FloatUnsupported:
		return math.NaN()
	case FloatDenormal, FloatPseudoDenormal:
		exp = 1
	}
	significand := float64(mantissa) / (1 << 63)
	return sign * math.Ldexp(significand, int(exp)-expBias)
}

// FormatFloat80 renders the 10 byte little endian encoding of an x87
// register as hex, value and, for special values, its class.
func FormatFloat80(b []byte) string {
	if len(b) < 10 {
		return fmt.Sprintf("%#x", b)
	}
	mantissa := binary.LittleEndian.Uint64(b[:8])
	exponent := binary.LittleEndian.Uint16(b[8:10])
	class := ClassifyFloat80(exponent, mantissa)
	s := fmt.Sprintf("%#04x%016x", exponent, mantissa)
	switch class {
	case FloatQNaN, FloatSNaN, FloatUnsupported:
		return s + "\t" + class.String()
	}
	s = fmt.Sprintf("%s\t%g", s, Float80(exponent, mantissa))
	if class.Special() {
		s += " " + class.String()
	}
	return s
}
