package arch

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

const failedValue = "(failed to get value)"

type regReader func(state *regs.State, name asm.Reg) (uint64, int, error)

// CleanSymbol reduces a symbol as printed by symbol finders to the bare
// function name used to look up prototypes: a "module::" prefix naming a
// file, a "+offset" suffix and an "@plt" or "@@GLIBC_x" version are
// removed and C++ names are demangled without their parameter list.
func CleanSymbol(sym string) string {
	if i := strings.LastIndexByte(sym, '+'); i > 0 {
		if _, err := strconv.ParseUint(strings.TrimPrefix(sym[i+1:], "0x"), 16, 64); err == nil {
			sym = sym[:i]
		}
	}
	if i := strings.Index(sym, "::"); i > 0 && strings.ContainsAny(sym[:i], "./") {
		sym = sym[i+2:]
	}
	if i := strings.IndexByte(sym, '@'); i > 0 {
		sym = sym[:i]
	}
	return demangle.Filter(sym, demangle.NoParams)
}

// argFormatter renders values according to Itanium style type codes.
type argFormatter struct {
	ptrSize int
	mem     MemoryReader
	minStr  int
	maxStr  int
}

func (f *argFormatter) pointer(v uint64) string {
	if v == 0 {
		return "NULL"
	}
	return fmt.Sprintf("0x%0*x", f.ptrSize*2, f.truncPtr(v))
}

func (f *argFormatter) truncPtr(v uint64) uint64 {
	if f.ptrSize == 4 {
		return uint64(uint32(v))
	}
	return v
}

func (f *argFormatter) integer(level int, v uint64, typ byte) string {
	if level > 0 {
		return f.pointer(v)
	}
	switch typ {
	case 'w':
		return "0x" + strconv.FormatUint(uint64(uint32(v)), 16)
	case 'b':
		if v != 0 {
			return "true"
		}
		return "false"
	case 'c':
		c := byte(v)
		if c < 0x80 && (isPrint(c) || isSpace(c)) {
			return "'" + string(rune(c)) + "'"
		}
		return fmt.Sprintf("'\\x%02x'", c)
	case 'a', 'h':
		return "0x" + strconv.FormatUint(uint64(uint8(v)), 16)
	case 's', 't':
		return "0x" + strconv.FormatUint(uint64(uint16(v)), 16)
	case 'i', 'j':
		return "0x" + strconv.FormatUint(uint64(uint32(v)), 16)
	case 'l', 'm':
		return "0x" + strconv.FormatUint(f.truncPtr(v), 16)
	case 'x', 'y':
		return "0x" + strconv.FormatUint(v, 16)
	}
	return f.pointer(v)
}

func isPrint(c byte) bool { return c >= 0x20 && c < 0x7f }

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// asciiString reads a NUL terminated string of printable characters at
// addr. ok is false when fewer than minStr characters precede the first
// non printable byte.
func (f *argFormatter) asciiString(addr uint64) (s string, ok bool) {
	b, _ := f.mem.ReadMemory(addr, f.maxStr)
	n := 0
	for ; n < len(b); n++ {
		if b[n] == 0 {
			break
		}
		if b[n] >= 0x80 || !(isPrint(b[n]) || isSpace(b[n])) {
			return "", false
		}
	}
	if n < f.minStr || (n == len(b) && len(b) < f.maxStr) {
		return "", false
	}
	return string(b[:n]), true
}

func (f *argFormatter) char(level int, v uint64, typ byte) string {
	if level != 1 {
		return f.integer(level, v, typ)
	}
	if v == 0 {
		return "NULL"
	}
	if f.mem == nil {
		return "?"
	}
	ptr := f.pointer(v)
	if s, ok := f.asciiString(v); ok {
		return "<" + ptr + "> " + strconv.Quote(s)
	}
	if b, err := f.mem.ReadMemory(v, 1); err == nil && len(b) == 1 && b[0] == 0 {
		return "<" + ptr + "> \"\""
	}
	return "<" + ptr + ">"
}

// Argument renders v as the type described by typ. P adds a level of
// indirection, r V and K qualifiers are ignored.
func (f *argFormatter) Argument(typ string, v uint64) string {
	level := 0
	for i := 0; i < len(typ); i++ {
		ch := typ[i]
		switch ch {
		case 'P':
			level++
		case 'r', 'V', 'K':
		case 'v':
			return f.pointer(v)
		case 'c':
			return f.char(level, v, ch)
		case 'w', 'b', 'a', 'h', 's', 't', 'i', 'j', 'l', 'm', 'x', 'y', 'n', 'o':
			return f.integer(level, v, ch)
		default:
			return f.pointer(v)
		}
	}
	return f.pointer(v)
}

func (c *common) formatter(mem MemoryReader) *argFormatter {
	return &argFormatter{
		ptrSize: c.PtrSize(),
		mem:     mem,
		minStr:  c.cfg.minString(),
		maxStr:  c.cfg.maxString(),
	}
}

func (c *common) readPointer(mem MemoryReader, addr uint64) (uint64, bool) {
	if mem == nil {
		return 0, false
	}
	b, err := mem.ReadMemory(addr, c.PtrSize())
	if err != nil || len(b) != c.PtrSize() {
		return 0, false
	}
	if len(b) == 4 {
		return uint64(binary.LittleEndian.Uint32(b)), true
	}
	return binary.LittleEndian.Uint64(b), true
}

// resolveCallArguments reads arguments from argRegs first and then from
// the stack at sp+stackOffset, one pointer sized slot each.
func (c *common) resolveCallArguments(state *regs.State, callee string, stackOffset uint64, mem MemoryReader, argRegs []asm.Reg, reg regReader) []string {
	name := CleanSymbol(callee)
	types, ok := c.cfg.prototypes().Lookup(name)
	if !ok {
		return nil
	}
	f := c.formatter(mem)
	args := make([]string, 0, len(types))
	for i, typ := range types {
		if i < len(argRegs) {
			v, _, err := reg(state, argRegs[i])
			if err != nil {
				args = append(args, failedValue)
				continue
			}
			args = append(args, f.Argument(typ, v))
			continue
		}
		sp, err := state.SP()
		if err != nil {
			args = append(args, failedValue)
			continue
		}
		slot := sp + stackOffset + uint64(i-len(argRegs))*uint64(c.PtrSize())
		v, ok := c.readPointer(mem, slot)
		if !ok {
			args = append(args, "?")
			continue
		}
		args = append(args, f.Argument(typ, v))
	}
	return []string{name + "(" + strings.Join(args, ", ") + ")"}
}
