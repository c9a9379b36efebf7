// Package regs models a snapshot of the CPU registers of a stopped
// inferior.
package regs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRegister is returned when a register name is not part of a
// State.
var ErrUnknownRegister = errors.New("unknown register")

// Arch identifies the register layout of a State.
type Arch uint8

const (
	ArchUnknown Arch = iota
	ArchX86          // 32-bit x86
	ArchAMD64        // x86-64
	ArchARM          // ARM32, both ARM and Thumb execution states
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchAMD64:
		return "x86-64"
	case ArchARM:
		return "arm"
	}
	return "unknown"
}

// PtrSize returns the size of a pointer in bytes.
func (a Arch) PtrSize() int {
	if a == ArchAMD64 {
		return 8
	}
	return 4
}

// Class groups registers the way register views present them.
type Class uint8

const (
	General Class = iota
	Flags
	Segment
	FPU
	Vector
	Debug
	Other
)

func (c Class) String() string {
	switch c {
	case General:
		return "General Purpose"
	case Flags:
		return "Flags"
	case Segment:
		return "Segments"
	case FPU:
		return "FPU"
	case Vector:
		return "Vector"
	case Debug:
		return "Debug"
	}
	return "Other"
}

// Value is an unsigned register value of 8 to 256 bits stored little
// endian.
type Value struct {
	bits int
	b    []byte
}

// Uint returns a Value of the given width holding v truncated to bits.
func Uint(bits int, v uint64) Value {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return Bytes(bits, buf[:])
}

// Bytes returns a Value of the given width. Missing high bytes are zero.
func Bytes(bits int, b []byte) Value {
	n := (bits + 7) / 8
	v := Value{bits: bits, b: make([]byte, n)}
	copy(v.b, b)
	if rem := bits % 8; rem != 0 {
		v.b[n-1] &= byte(1<<uint(rem) - 1)
	}
	return v
}

// Bits returns the width of the value.
func (v Value) Bits() int { return v.bits }

// Bytes returns a copy of the little endian encoding.
func (v Value) Bytes() []byte {
	return append([]byte(nil), v.b...)
}

// Uint64 returns the low 64 bits of the value.
func (v Value) Uint64() uint64 {
	var buf [8]byte
	copy(buf[:], v.b)
	return binary.LittleEndian.Uint64(buf[:])
}

// Equal reports whether two values have the same width and contents.
func (v Value) Equal(o Value) bool {
	if v.bits != o.bits || len(v.b) != len(o.b) {
		return false
	}
	for i := range v.b {
		if v.b[i] != o.b[i] {
			return false
		}
	}
	return true
}

// String formats the value as zero padded hexadecimal.
func (v Value) String() string {
	var sb strings.Builder
	sb.WriteString("0x")
	for i := len(v.b) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", v.b[i])
	}
	return sb.String()
}

// Register is a single named register in a State.
type Register struct {
	Name  string
	Class Class
	Value Value
}

// State is an immutable register snapshot taken at one stop event.
type State struct {
	arch  Arch
	gen   uint64
	regs  []Register
	index map[string]int
}

// Empty reports whether the state holds no registers.
func (s *State) Empty() bool {
	return s == nil || len(s.regs) == 0
}

// Arch returns the register layout of the state.
func (s *State) Arch() Arch {
	if s == nil {
		return ArchUnknown
	}
	return s.arch
}

// Generation returns the stop event counter the state was captured at.
func (s *State) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.gen
}

// Get looks up a register by name, case insensitively.
func (s *State) Get(name string) (Register, bool) {
	if s == nil {
		return Register{}, false
	}
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return Register{}, false
	}
	return s.regs[i], true
}

// Uint64 returns the low 64 bits of the named register.
func (s *State) Uint64(name string) (uint64, error) {
	r, ok := s.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownRegister, name)
	}
	return r.Value.Uint64(), nil
}

// Registers returns all registers in capture order.
func (s *State) Registers() []Register {
	if s == nil {
		return nil
	}
	return append([]Register(nil), s.regs...)
}

// ByClass returns the registers belonging to class c in capture order.
func (s *State) ByClass(c Class) []Register {
	var r []Register
	for _, reg := range s.Registers() {
		if reg.Class == c {
			r = append(r, reg)
		}
	}
	return r
}

// PC returns the instruction pointer.
func (s *State) PC() (uint64, error) {
	switch s.Arch() {
	case ArchAMD64:
		return s.Uint64("rip")
	case ArchX86:
		return s.Uint64("eip")
	case ArchARM:
		return s.Uint64("pc")
	}
	return 0, ErrUnknownRegister
}

// SP returns the stack pointer.
func (s *State) SP() (uint64, error) {
	switch s.Arch() {
	case ArchAMD64:
		return s.Uint64("rsp")
	case ArchX86:
		return s.Uint64("esp")
	case ArchARM:
		return s.Uint64("sp")
	}
	return 0, ErrUnknownRegister
}

// FlagsValue returns the flags register (eflags or cpsr).
func (s *State) FlagsValue() (uint64, error) {
	if s.Arch() == ArchARM {
		return s.Uint64("cpsr")
	}
	return s.Uint64("eflags")
}

// Changed returns the names of registers whose value differs between prev
// and s. Comparing against an empty state yields nothing.
func (s *State) Changed(prev *State) []string {
	if s.Empty() || prev.Empty() {
		return nil
	}
	var r []string
	for _, reg := range s.regs {
		old, ok := prev.Get(reg.Name)
		if !ok || !old.Value.Equal(reg.Value) {
			r = append(r, reg.Name)
		}
	}
	return r
}

// With returns a copy of s with register name set to v. The width of v
// must match the register.
func (s *State) With(name string, v Value) (*State, error) {
	r, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownRegister, name)
	}
	if r.Value.Bits() != v.Bits() {
		return nil, fmt.Errorf("register %s is %d bits, value is %d bits", r.Name, r.Value.Bits(), v.Bits())
	}
	ns := &State{arch: s.arch, gen: s.gen, regs: s.Registers(), index: s.index}
	ns.regs[s.index[strings.ToLower(name)]].Value = v
	return ns, nil
}

// Builder accumulates registers for a new State.
type Builder struct {
	s *State
}

// NewBuilder starts a State for arch captured at stop event gen.
func NewBuilder(arch Arch, gen uint64) *Builder {
	return &Builder{s: &State{arch: arch, gen: gen, index: make(map[string]int)}}
}

// Add appends a register. Adding a name twice replaces the earlier value.
func (b *Builder) Add(name string, class Class, v Value) *Builder {
	name = strings.ToLower(name)
	if i, ok := b.s.index[name]; ok {
		b.s.regs[i] = Register{Name: name, Class: class, Value: v}
		return b
	}
	b.s.index[name] = len(b.s.regs)
	b.s.regs = append(b.s.regs, Register{Name: name, Class: class, Value: v})
	return b
}

// Uint is a shorthand for Add(name, class, Uint(bits, v)).
func (b *Builder) Uint(name string, class Class, bits int, v uint64) *Builder {
	return b.Add(name, class, Uint(bits, v))
}

// State returns the finished snapshot. The builder must not be used
// afterwards.
func (b *Builder) State() *State {
	s := b.s
	b.s = nil
	return s
}
