// Package arch interprets decoded instructions against a register
// snapshot: effective addresses, branch outcomes, control flow classes,
// call arguments and the one line annotations shown next to the current
// instruction.
//
// Every operation is a pure function of its inputs, memory and symbols are
// reached only through the MemoryReader and SymbolFinder collaborators.
package arch

import (
	"errors"
	"fmt"

	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

var (
	// ErrBadOperand is returned for operands that do not denote an
	// address, such as immediates.
	ErrBadOperand = errors.New("operand has no effective address")
	// ErrBadRegister is returned when a register named by an operand is
	// not part of the register state.
	ErrBadRegister = errors.New("register not available")
	// ErrUnsupportedMode is returned when an instruction was decoded in a
	// mode the processor does not model.
	ErrUnsupportedMode = errors.New("unsupported cpu mode")
	// ErrSegmentBase is returned when a segment override is present but
	// the base of the segment is unknown.
	ErrSegmentBase = errors.New("segment base unknown")
	// ErrBadCondition is returned for condition codes outside the
	// architecture's table.
	ErrBadCondition = errors.New("unknown condition code")
)

// OperandError describes an operand that could not be resolved.
type OperandError struct {
	Op  string
	Err error
}

func (e *OperandError) Error() string {
	return fmt.Sprintf("could not resolve operand %s: %v", e.Op, e.Err)
}

func (e *OperandError) Unwrap() error { return e.Err }

// Class is the control flow class of an instruction.
type Class uint8

const (
	Other Class = iota
	Call
	Return
	Jump
	ConditionalJump
	Interrupt
	Syscall
	ConditionalMove
	Filler
)

func (c Class) String() string {
	switch c {
	case Call:
		return "call"
	case Return:
		return "return"
	case Jump:
		return "jump"
	case ConditionalJump:
		return "conditional jump"
	case Interrupt:
		return "interrupt"
	case Syscall:
		return "syscall"
	case ConditionalMove:
		return "conditional move"
	case Filler:
		return "filler"
	}
	return "other"
}

// IsBranch reports whether c transfers control to another address.
func (c Class) IsBranch() bool {
	switch c {
	case Call, Return, Jump, ConditionalJump:
		return true
	}
	return false
}

// MemoryReader reads inferior memory. A short read returns the bytes that
// could be read together with a non nil error.
type MemoryReader interface {
	ReadMemory(addr uint64, n int) ([]byte, error)
}

// SymbolFinder maps an address to the function symbol containing it.
type SymbolFinder interface {
	FindFunctionSymbol(addr uint64) (name string, offset uint64, ok bool)
}

// Env carries the collaborators used by Annotate. Either field may be nil,
// annotations needing it are skipped.
type Env struct {
	Mem     MemoryReader
	Symbols SymbolFinder
}

// Processor interprets instructions of one architecture family.
type Processor interface {
	// Mode returns the mode the processor was created for.
	Mode() asm.Mode
	// PtrSize returns the size in bytes of a pointer.
	PtrSize() int

	EffectiveAddress(inst *asm.Instruction, arg asm.Arg, state *regs.State) (uint64, error)
	ConditionTaken(state *regs.State, cond asm.Cond) (bool, error)
	// BranchTaken evaluates the condition of inst, including conditions
	// that test a register rather than the flags (CBZ, CBNZ).
	// Unconditional instructions are always taken.
	BranchTaken(inst *asm.Instruction, state *regs.State) (bool, error)
	Classify(inst *asm.Instruction) Class
	CanStepOver(inst *asm.Instruction) bool

	// ResolveCallArguments renders the arguments of a call to callee as
	// a single "name(a, b)" line. It returns nil when no prototype is
	// known for callee.
	ResolveCallArguments(state *regs.State, callee string, stackOffset uint64, mem MemoryReader) []string
	// Annotate describes what inst is about to do given state.
	Annotate(inst *asm.Instruction, state *regs.State, env Env) []string
}

// Config tunes a Processor. The zero value is usable.
type Config struct {
	// ZerosAreFilling classifies "00 00" encodings as Filler.
	ZerosAreFilling bool
	// MinStringLength and MaxStringLength bound string arguments, zero
	// selects 4 and 256.
	MinStringLength int
	MaxStringLength int
	// Prototypes used for call arguments, nil selects DefaultPrototypes.
	Prototypes *Prototypes
	// NoSyscalls disables the SYSCALL: annotation.
	NoSyscalls bool
}

func (c Config) minString() int {
	if c.MinStringLength <= 0 {
		return 4
	}
	return c.MinStringLength
}

func (c Config) maxString() int {
	if c.MaxStringLength <= 0 {
		return 256
	}
	return c.MaxStringLength
}

func (c Config) prototypes() *Prototypes {
	if c.Prototypes == nil {
		return DefaultPrototypes()
	}
	return c.Prototypes
}

// New returns the processor for mode. ARM and Thumb share a processor,
// each instruction carries the mode it was decoded in.
func New(mode asm.Mode, cfg Config) (Processor, error) {
	switch {
	case mode.IsX86():
		return &x86Processor{common: common{mode: mode, cfg: cfg}}, nil
	case mode.IsARM():
		return &armProcessor{common: common{mode: mode, cfg: cfg}}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedMode, mode)
}

type common struct {
	mode asm.Mode
	cfg  Config
}

func (c *common) Mode() asm.Mode { return c.mode }

func (c *common) PtrSize() int {
	if c.mode == asm.ModeAMD64 {
		return 8
	}
	return 4
}

func badRegister(name asm.Reg) error {
	return &OperandError{Op: string(name), Err: ErrBadRegister}
}
