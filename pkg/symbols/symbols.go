// Package symbols maps inferior addresses to the function symbols of an
// ELF executable.
package symbols

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"

	"github.com/archdbg/archdbg/pkg/arch"
)

// Symbol is a function of the executable, relocated to its load address.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// End returns the address following the function.
func (s Symbol) End() uint64 { return s.Addr + s.Size }

// Table is an address ordered set of function symbols.
type Table struct {
	syms   []Symbol
	byName map[string]int
}

// NewTable builds a table from syms. Symbols with the same address keep
// the first name.
func NewTable(syms []Symbol) *Table {
	t := &Table{byName: make(map[string]int)}
	sorted := append([]Symbol(nil), syms...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })
	for _, s := range sorted {
		if n := len(t.syms); n > 0 && t.syms[n-1].Addr == s.Addr {
			continue
		}
		t.byName[s.Name] = len(t.syms)
		t.syms = append(t.syms, s)
	}
	return t
}

// Load reads the function symbols of the ELF file at path. mappedAt is
// the address the first segment of a position independent executable was
// mapped at and is ignored for fixed address executables.
func Load(path string, mappedAt uint64) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromELF(f, mappedAt)
}

// FromELF is Load for an already open file.
func FromELF(f *elf.File, mappedAt uint64) (*Table, error) {
	var bias uint64
	if f.Type == elf.ET_DYN {
		if base, ok := loadBase(f); ok && mappedAt >= base {
			bias = mappedAt - base
		}
	}

	var syms []Symbol
	var found bool
	for _, read := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		list, err := read()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				continue
			}
			return nil, fmt.Errorf("could not read ELF symbols: %w", err)
		}
		found = true
		for _, s := range list {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			syms = append(syms, Symbol{Name: s.Name, Addr: s.Value + bias, Size: s.Size})
		}
	}
	if !found {
		return nil, elf.ErrNoSymbols
	}
	return NewTable(syms), nil
}

func loadBase(f *elf.File) (uint64, bool) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		base := p.Vaddr
		if p.Align > 1 {
			base &^= p.Align - 1
		}
		return base, true
	}
	return 0, false
}

// Len returns the number of symbols.
func (t *Table) Len() int { return len(t.syms) }

func (t *Table) containing(addr uint64) (Symbol, bool) {
	if t == nil {
		return Symbol{}, false
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr }) - 1
	if i < 0 {
		return Symbol{}, false
	}
	s := t.syms[i]
	if s.Size == 0 {
		// Sizeless symbols extend to the next one.
		if i+1 < len(t.syms) && addr >= t.syms[i+1].Addr {
			return Symbol{}, false
		}
		return s, true
	}
	if addr >= s.End() {
		return Symbol{}, false
	}
	return s, true
}

// FindFunctionSymbol returns the name of the function containing addr
// and the offset of addr within it.
func (t *Table) FindFunctionSymbol(addr uint64) (string, uint64, bool) {
	s, ok := t.containing(addr)
	if !ok {
		return "", 0, false
	}
	return arch.CleanSymbol(s.Name), addr - s.Addr, true
}

// FindContainingFunction returns the entry address of the function
// containing addr.
func (t *Table) FindContainingFunction(addr uint64) (uint64, bool) {
	s, ok := t.containing(addr)
	return s.Addr, ok
}

// Lookup finds a symbol by its raw name.
func (t *Table) Lookup(name string) (Symbol, bool) {
	if t == nil {
		return Symbol{}, false
	}
	i, ok := t.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return t.syms[i], true
}
