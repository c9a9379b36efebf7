package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-delve/liner"
	isatty "github.com/mattn/go-isatty"

	"github.com/archdbg/archdbg/pkg/arch"
	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/config"
	"github.com/archdbg/archdbg/pkg/disasm"
	"github.com/archdbg/archdbg/pkg/logflags"
	"github.com/archdbg/archdbg/pkg/proc/native"
	"github.com/archdbg/archdbg/pkg/regs"
)

const (
	historyFile                 string = ".archdbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Target is the inferior driven by the terminal. *native.Process
// implements it.
type Target interface {
	Pid() int
	State() native.State
	Continue(sig int) error
	Step() error
	Interrupt() error
	WaitForStop(timeoutMs int) (native.StopEvent, error)
	Detach(kill bool) error
	Kill() error
	ReadRegisters() (*regs.State, error)
	WriteRegisters(st *regs.State) error
	ReadMemory(addr uint64, n int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
	RegionAt(addr uint64) (uint64, uint64, bool)
	Mode() (asm.Mode, error)
}

// Symbols resolves addresses to functions for annotations and listings.
type Symbols interface {
	arch.SymbolFinder
	disasm.FunctionFinder
}

// Options configures a Term.
type Options struct {
	// Symbols of the inferior's executable, may be nil.
	Symbols Symbols
	// Attached is set when the inferior was not started by the debugger.
	// Quitting detaches from it instead of killing it.
	Attached bool
	// Stdout receives command output, nil selects the standard output.
	Stdout io.Writer
}

// Term represents the terminal running archdbg.
type Term struct {
	target Target
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	stdout io.Writer
	color  bool

	symbols  Symbols
	attached bool
	flavor   asm.Flavor
	protos   *arch.Prototypes

	mode    asm.Mode
	proc    arch.Processor
	listing *disasm.Listing

	// lastRegs and prevRegs are the register states of the current and
	// the previous stop, used to highlight changes.
	lastRegs *regs.State
	prevRegs *regs.State
	// cursor is where an argument-less disasm continues.
	cursor uint64
}

// New returns a new Term for target.
func New(target Target, conf *config.Config, opts Options) (*Term, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := DebugCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	flavor, err := asm.ParseFlavor(conf.DisassemblyFlavor)
	if err != nil {
		return nil, err
	}
	protos, err := arch.LoadPrototypes(conf.PrototypesFile)
	if err != nil {
		return nil, err
	}

	w := opts.Stdout
	if w == nil {
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			w = os.Stdout
		} else {
			w = getColorableWriter()
		}
	}

	return &Term{
		target:   target,
		conf:     conf,
		prompt:   "(archdbg) ",
		cmds:     cmds,
		stdout:   w,
		color:    useColor(conf.Color, opts.Stdout == nil),
		symbols:  opts.Symbols,
		attached: opts.Attached,
		flavor:   flavor,
		protos:   protos,
	}, nil
}

func useColor(setting string, stdout bool) bool {
	switch setting {
	case "always":
		return true
	case "never":
		return false
	}
	if !stdout || strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// sigintGuard stops a running inferior on SIGINT instead of killing the
// debugger.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		if t.target.State() != native.Running {
			continue
		}
		fmt.Fprintf(t.stdout, "received SIGINT, stopping process (will not forward signal)\n")
		if err := t.target.Interrupt(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running archdbg in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(func(line string) []string {
		return t.cmds.Complete(line)
	})

	fullHistoryFile := historyPath()
	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")
	t.printLocation()

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			var exited native.ProcessExitedError
			if errors.As(err, &exited) {
				fmt.Fprintln(os.Stderr, err.Error())
				continue
			}
			if logflags.Terminal() {
				logflags.TerminalLogger().WithError(err).Debugf("command %q", cmdstr)
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, historyFile)
}

// Println prints a line to the terminal, highlighting prefix when color
// is enabled.
func (t *Term) Println(prefix, str string) {
	if t.color && prefix != "" {
		prefix = t.colorize(ansiBlue, prefix)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) colorize(code int, s string) string {
	if !t.color {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, code) + s + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	if t.line != nil {
		if f, err := os.OpenFile(historyPath(), os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			if _, err := t.line.WriteHistory(f); err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	switch t.target.State() {
	case native.Exited, native.Terminated, native.Unloaded:
		return 0, nil
	case native.Running:
		if err := t.target.Interrupt(); err == nil {
			t.target.WaitForStop(1000)
		}
	}

	kill := !t.attached
	if t.attached && t.line != nil {
		answer, err := yesno(t.line, "Would you like to kill the process? [Y/n] ")
		if err != nil {
			return 2, io.EOF
		}
		kill = answer
	}
	if err := t.target.Detach(kill); err != nil {
		return 1, err
	}
	return 0, nil
}

// setup makes the processor and listing match the current mode of the
// inferior. ARM processes switch between ARM and Thumb at any stop.
func (t *Term) setup() error {
	mode, err := t.target.Mode()
	if err != nil {
		return err
	}
	if mode == t.mode && t.proc != nil {
		return nil
	}
	proc, err := arch.New(mode, arch.Config{
		ZerosAreFilling: t.conf.ZerosAreFilling,
		MinStringLength: t.conf.MinString(),
		MaxStringLength: t.conf.MaxString(),
		Prototypes:      t.protos,
		NoSyscalls:      !t.conf.Syscalls(),
	})
	if err != nil {
		return err
	}
	nav, err := disasm.NewNavigator(mode)
	if err != nil {
		return err
	}
	var funcs disasm.FunctionFinder
	if t.symbols != nil {
		funcs = t.symbols
	}
	listing, err := disasm.NewListing(nav, t.target, t.target, funcs, t.conf.ListingCacheSize)
	if err != nil {
		return err
	}
	if logflags.Terminal() {
		logflags.TerminalLogger().Debugf("switching to %v", mode)
	}
	t.mode, t.proc, t.listing = mode, proc, listing
	return nil
}

func (t *Term) env() arch.Env {
	env := arch.Env{Mem: t.target}
	if t.symbols != nil {
		env.Symbols = t.symbols
	}
	return env
}

// stopped records a new stop: register history moves on and cached
// instructions are dropped.
func (t *Term) stopped() error {
	if t.listing != nil {
		t.listing.Invalidate()
	}
	st, err := t.target.ReadRegisters()
	if err != nil {
		return err
	}
	t.prevRegs, t.lastRegs = t.lastRegs, st
	pc, err := st.PC()
	if err != nil {
		return err
	}
	t.cursor = pc
	return nil
}

// printLocation prints the instruction at the program counter together
// with its annotations.
func (t *Term) printLocation() {
	if t.target.State() != native.Stopped {
		return
	}
	if t.lastRegs == nil {
		if err := t.stopped(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return
		}
	}
	if err := t.setup(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return
	}
	pc, _ := t.lastRegs.PC()
	inst := t.listing.Instruction(pc)
	t.printInstruction(inst, pc)
	for _, a := range t.proc.Annotate(&inst, t.lastRegs, t.env()) {
		fmt.Fprintf(t.stdout, "\t; %s\n", a)
	}
	t.cursor = inst.End()
}
