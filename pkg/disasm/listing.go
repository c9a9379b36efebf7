package disasm

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/archdbg/archdbg/pkg/arch"
	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/logflags"
)

// DefaultCacheSize is the number of decoded instructions a Listing keeps
// when no size is configured.
const DefaultCacheSize = 4096

// RegionFinder returns the bounds [start, end) of the mapping containing
// addr.
type RegionFinder interface {
	RegionAt(addr uint64) (start, end uint64, ok bool)
}

// FunctionFinder returns the entry point of the function containing addr.
type FunctionFinder interface {
	FindContainingFunction(addr uint64) (uint64, bool)
}

// Listing navigates the instruction stream of a memory image. Decoded
// instructions are cached by address, Invalidate must be called after the
// memory changes.
type Listing struct {
	nav     *Navigator
	mem     arch.MemoryReader
	regions RegionFinder
	funcs   FunctionFinder
	cache   *lru.Cache
}

// NewListing returns a listing of mem. regions and funcs may be nil, a
// cacheSize of zero selects DefaultCacheSize.
func NewListing(nav *Navigator, mem arch.MemoryReader, regions RegionFinder, funcs FunctionFinder, cacheSize int) (*Listing, error) {
	if nav == nil || mem == nil {
		return nil, errors.New("listing needs a navigator and a memory reader")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Listing{nav: nav, mem: mem, regions: regions, funcs: funcs, cache: cache}, nil
}

// Navigator returns the navigator used by the listing.
func (l *Listing) Navigator() *Navigator { return l.nav }

// Invalidate drops every cached instruction.
func (l *Listing) Invalidate() {
	l.cache.Purge()
}

// region returns the bounds of the mapping containing addr, or the whole
// address space when no region finder is set or addr is not mapped.
func (l *Listing) region(addr uint64) (uint64, uint64) {
	if l.regions != nil {
		if start, end, ok := l.regions.RegionAt(addr); ok {
			return start, end
		}
	}
	return 0, ^uint64(0)
}

// read reads up to n bytes at addr. A short read still returns what was
// read.
func (l *Listing) read(addr uint64, n int) []byte {
	if n <= 0 {
		return nil
	}
	b, err := l.mem.ReadMemory(addr, n)
	if err != nil && logflags.Disasm() {
		logflags.DisasmLogger().WithError(err).Debugf("read %d bytes at %#x", n, addr)
	}
	return b
}

// Instruction decodes the instruction at addr without reading past the
// end of its region.
func (l *Listing) Instruction(addr uint64) asm.Instruction {
	if v, ok := l.cache.Get(addr); ok {
		return v.(asm.Instruction)
	}
	n := l.nav.mode.MaxInstructionLength()
	if _, end := l.region(addr); end-addr < uint64(n) {
		n = int(end - addr)
	}
	inst := l.nav.dec.Decode(l.read(addr, n), addr)
	l.cache.Add(addr, inst)
	return inst
}

// Lines returns count instructions starting at addr.
func (l *Listing) Lines(addr uint64, count int) []asm.Instruction {
	r := make([]asm.Instruction, 0, count)
	for i := 0; i < count; i++ {
		inst := l.Instruction(addr)
		r = append(r, inst)
		addr += uint64(inst.Len)
	}
	return r
}

// Following returns the address count instructions after addr. Movement
// stops early at an unreadable or undecodable instruction, which is
// skipped by one alignment unit.
func (l *Listing) Following(addr uint64, count int) uint64 {
	step := uint64(l.nav.mode.Alignment())
	for i := 0; i < count; i++ {
		inst := l.Instruction(addr)
		if !inst.Valid {
			addr += step
			break
		}
		addr += uint64(inst.Len)
	}
	return addr
}

// Previous returns the address count instructions before addr. When the
// function containing addr is known the result is exact, otherwise it is
// the guess of Navigator.Backward.
func (l *Listing) Previous(addr uint64, count int) uint64 {
	step := uint64(l.nav.mode.Alignment())
	for i := 0; i < count; i++ {
		if prev, ok := l.previousInFunction(addr); ok {
			addr = prev
			continue
		}

		start, _ := l.region(addr)
		max := l.nav.mode.MaxInstructionLength()
		before := max
		if addr-start < uint64(before) {
			before = int(addr - start)
		}
		if before == 0 {
			break
		}
		prevBytes := l.read(addr-uint64(before), before)
		curBytes := l.read(addr, max)
		if len(prevBytes) != before {
			addr -= step
			break
		}
		buf := append(append(make([]byte, 0, before+len(curBytes)), prevBytes...), curBytes...)

		delta := l.nav.Backward(buf, before)
		if delta == 0 {
			if logflags.Disasm() {
				logflags.DisasmLogger().Debugf("no instruction boundary before %#x", addr)
			}
			addr -= step
			continue
		}
		addr -= uint64(delta)
	}
	return addr
}

// previousInFunction walks forward from the start of the function
// containing addr and returns the last instruction starting before addr.
func (l *Listing) previousInFunction(addr uint64) (uint64, bool) {
	if l.funcs == nil {
		return 0, false
	}
	pc, ok := l.funcs.FindContainingFunction(addr)
	if !ok || pc == addr || pc > addr {
		return 0, false
	}
	for {
		inst := l.Instruction(pc)
		if !inst.Valid || pc+uint64(inst.Len) >= addr {
			break
		}
		pc += uint64(inst.Len)
	}
	return pc, true
}
