// Package disasm moves through raw instruction streams. A Navigator finds
// instruction boundaries inside a byte buffer without any index of
// instruction starts, a Listing does the same over process memory.
package disasm

import (
	"github.com/archdbg/archdbg/pkg/asm"
)

// Navigator locates instruction boundaries in a byte buffer.
type Navigator struct {
	dec  asm.Decoder
	mode asm.Mode
}

// NewNavigator returns a navigator decoding instructions of mode.
func NewNavigator(mode asm.Mode) (*Navigator, error) {
	dec, err := asm.NewDecoder(mode)
	if err != nil {
		return nil, err
	}
	return &Navigator{dec: dec, mode: mode}, nil
}

// Mode returns the instruction set the navigator decodes.
func (n *Navigator) Mode() asm.Mode { return n.mode }

// Decoder returns the underlying decoder.
func (n *Navigator) Decoder() asm.Decoder { return n.dec }

func (n *Navigator) decode(buf []byte, off int) asm.Instruction {
	return n.dec.Decode(buf[off:], uint64(off))
}

// Forward returns the distance from cur to the next instruction boundary.
// An undecodable instruction advances by the alignment unit, so the result
// is always positive.
func (n *Navigator) Forward(buf []byte, cur int) int {
	if cur >= len(buf) {
		return n.mode.Alignment()
	}
	inst := n.decode(buf, cur)
	if !inst.Valid {
		return n.mode.Alignment()
	}
	return inst.Len
}

// Backward returns the distance from cur back to the start of the
// previous instruction, or 0 when no boundary could be found and the
// caller has to step back by a single unit. Bytes before cur are
// candidates, bytes from cur on belong to the instruction at cur.
//
// The result is a guess: without an anchor such as a function start there
// is no way to tell which of several overlapping decodings is the real one.
// In order of preference it is
//
//  1. the longest valid instruction ending exactly at cur,
//  2. the longest valid instruction whose successor ends where the
//     instruction at cur ends (cur itself was a wrong boundary),
//  3. the distance to the nearest offset before cur at which decoding
//     fails, so an invalid byte gets a line of its own.
func (n *Navigator) Backward(buf []byte, cur int) int {
	if cur <= 0 || cur > len(buf) {
		return 0
	}
	step := n.mode.Alignment()
	first := cur - step

	found := 0
	for off := first; off >= 0; off -= step {
		inst := n.dec.Decode(buf[off:cur], uint64(off))
		if inst.Valid && off+inst.Len == cur {
			found = inst.Len
		}
	}
	if found != 0 {
		return found
	}

	if cur < len(buf) {
		orig := n.decode(buf, cur)
		end := cur + orig.Len
		for off := first; off >= 0; off -= step {
			prev := n.dec.Decode(buf[off:cur], uint64(off))
			if !prev.Valid || off+prev.Len >= len(buf) {
				continue
			}
			next := n.decode(buf, off+prev.Len)
			if next.Valid && off+prev.Len+next.Len == end {
				found = cur - off
			}
		}
		if found != 0 {
			return found
		}
	}

	for off := first; off >= 0; off -= step {
		if inst := n.decode(buf, off); !inst.Valid {
			return cur - off
		}
	}
	return 0
}

// Decode decodes every instruction of buf in order, as if buf were loaded
// at base.
func (n *Navigator) Decode(buf []byte, base uint64) []asm.Instruction {
	r := make([]asm.Instruction, 0, len(buf)/n.mode.MaxInstructionLength()+1)
	for off := 0; off < len(buf); {
		inst := n.dec.Decode(buf[off:], base+uint64(off))
		r = append(r, inst)
		off += inst.Len
	}
	return r
}
