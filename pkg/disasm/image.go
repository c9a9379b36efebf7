package disasm

import (
	"fmt"
)

// Image is a flat memory image loaded at Base. It serves as both the
// memory and the region of a Listing over a file.
type Image struct {
	Base uint64
	Data []byte
}

// ReadMemory implements arch.MemoryReader.
func (m *Image) ReadMemory(addr uint64, n int) ([]byte, error) {
	if addr < m.Base || addr-m.Base >= uint64(len(m.Data)) {
		return nil, fmt.Errorf("address %#x outside image [%#x, %#x)", addr, m.Base, m.Base+uint64(len(m.Data)))
	}
	off := addr - m.Base
	if rest := uint64(len(m.Data)) - off; uint64(n) > rest {
		return m.Data[off:], fmt.Errorf("short read at %#x: %d of %d bytes", addr, rest, n)
	}
	return m.Data[off : off+uint64(n)], nil
}

// RegionAt implements RegionFinder.
func (m *Image) RegionAt(addr uint64) (uint64, uint64, bool) {
	end := m.Base + uint64(len(m.Data))
	if addr < m.Base || addr >= end {
		return 0, 0, false
	}
	return m.Base, end, true
}
