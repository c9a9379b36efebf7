package native

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/archdbg/archdbg/pkg/regs"
)

// x86Xstate is an x86 XSAVE area: the legacy FXSAVE region followed by
// the upper halves of the YMM registers. See Section 13.1 (and following)
// of Intel® 64 and IA-32 Architectures Software Developer’s Manual,
// Volume 1: Basic Architecture.
type x86Xstate struct {
	x86FpRegs
	AvxState bool
	YmmSpace [256]byte
}

// x86FpRegs tracks user_fpregs_struct in /usr/include/x86_64-linux-gnu/sys/user.h
type x86FpRegs struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32
	XmmSpace [256]byte
	Padding  [24]uint32
}

const (
	xsaveHeaderStart         = 512
	xsaveHeaderLen           = 64
	xsaveExtendedRegionStart = 576
	xstateMaxSize            = 2969
)

// readXstate decodes an XSAVE area. Areas without an extended header only
// carry the legacy region.
func readXstate(xstateargs []byte) (*x86Xstate, error) {
	var x x86Xstate
	if len(xstateargs) < xsaveHeaderStart {
		return nil, fmt.Errorf("xsave area too short: %d bytes", len(xstateargs))
	}
	rdr := bytes.NewReader(xstateargs[:xsaveHeaderStart])
	if err := binary.Read(rdr, binary.LittleEndian, &x.x86FpRegs); err != nil {
		return nil, err
	}
	if xsaveHeaderStart+xsaveHeaderLen >= len(xstateargs) {
		return &x, nil
	}
	xsaveheader := xstateargs[xsaveHeaderStart : xsaveHeaderStart+xsaveHeaderLen]
	xstateBV := binary.LittleEndian.Uint64(xsaveheader[0:8])
	xcompBV := binary.LittleEndian.Uint64(xsaveheader[8:16])
	if xcompBV&(1<<63) != 0 {
		// compact format not supported
		return &x, nil
	}
	if xstateBV&(1<<2) == 0 {
		return &x, nil
	}
	avx := xstateargs[xsaveExtendedRegionStart:]
	if len(avx) < len(x.YmmSpace) {
		return &x, nil
	}
	x.AvxState = true
	copy(x.YmmSpace[:], avx[:len(x.YmmSpace)])
	return &x, nil
}

// addTo appends the x87, SSE and AVX registers to b. nxmm is 16 for
// 64-bit processes and 8 for 32-bit ones.
func (x *x86Xstate) addTo(b *regs.Builder, nxmm int) {
	b.Uint("fctrl", regs.FPU, 16, uint64(x.Cwd))
	b.Uint("fstat", regs.FPU, 16, uint64(x.Swd))
	b.Uint("ftag", regs.FPU, 16, uint64(x.Ftw))
	b.Uint("fop", regs.FPU, 16, uint64(x.Fop))
	b.Uint("fioff", regs.FPU, 64, x.Rip)
	b.Uint("fooff", regs.FPU, 64, x.Rdp)
	for i := 0; i < len(x.StSpace); i += 4 {
		st := make([]byte, 10)
		binary.LittleEndian.PutUint64(st, uint64(x.StSpace[i+1])<<32|uint64(x.StSpace[i]))
		binary.LittleEndian.PutUint16(st[8:], uint16(x.StSpace[i+2]))
		b.Add(fmt.Sprintf("st%d", i/4), regs.FPU, regs.Bytes(80, st))
	}

	b.Uint("mxcsr", regs.Flags, 32, uint64(x.Mxcsr))
	for n := 0; n < nxmm; n++ {
		xmm := x.XmmSpace[n*16 : n*16+16]
		b.Add(fmt.Sprintf("xmm%d", n), regs.Vector, regs.Bytes(128, xmm))
	}
	if !x.AvxState {
		return
	}
	for n := 0; n < nxmm; n++ {
		ymm := make([]byte, 0, 32)
		ymm = append(ymm, x.XmmSpace[n*16:n*16+16]...)
		ymm = append(ymm, x.YmmSpace[n*16:n*16+16]...)
		b.Add(fmt.Sprintf("ymm%d", n), regs.Vector, regs.Bytes(256, ymm))
	}
}
