// Package terminal implements functions for responding to user
// input and dispatching to the inferior controller.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/archdbg/archdbg/pkg/arch"
	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/proc/native"
	"github.com/archdbg/archdbg/pkg/regs"
)

const (
	defaultListingLines = 10
	defaultExamineBytes = 64
	// stepOverStopTimeout bounds the wait for an interrupted inferior.
	stepOverStopTimeout = 1000

	sigTrap = syscall.SIGTRAP
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the archdbg terminal. A command
// can be named by any unambiguous prefix of one of its aliases.
type Commands struct {
	cmds  []command
	names *trie.Trie
}

// ExitRequestError is returned when the user asks to quit.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// AmbiguousCommandError is returned when a prefix names more than one
// command.
type AmbiguousCommandError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousCommandError) Error() string {
	return fmt.Sprintf("ambiguous command %q: %s", e.Prefix, strings.Join(e.Candidates, ", "))
}

var errNoCmd = errors.New("command not available")

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Run until the next stop event.

	continue [signal]

The optional signal, given by name (SIGUSR1, usr1) or number, is delivered
to the process as it resumes.`},
		{aliases: []string{"step", "si"}, group: runCmds, cmdFn: step, helpMsg: `Single step a single cpu instruction.`},
		{aliases: []string{"stepover", "next", "n"}, group: runCmds, cmdFn: stepOver, helpMsg: `Step over calls, repeated string instructions and software interrupts.

Any other instruction is single stepped.`},
		{aliases: []string{"kill"}, group: runCmds, cmdFn: kill, helpMsg: `Kill the process.`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regsCmd, helpMsg: `Print contents of CPU registers.

	regs [-a]

Registers that changed since the previous stop are highlighted. The -a
flag adds the FPU, vector and debug registers.`},
		{aliases: []string{"examine", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory.

	x <address> [count]

Address is a number or a register name. Count defaults to 64 bytes.`},
		{aliases: []string{"signal"}, group: dataCmds, cmdFn: signalCmd, helpMsg: `Look up signals.

	signal [name|number]

Without arguments every signal of the host is listed.`},
		{aliases: []string{"disassemble", "disasm"}, group: codeCmds, cmdFn: disassembleCmd, helpMsg: `Disassembler.

	disasm [count]
	disasm <address> [count]

Without an address the listing continues where the previous one ended,
starting at the program counter after a stop.`},
		{aliases: []string{"back"}, group: codeCmds, cmdFn: backCmd, helpMsg: `Disassemble backwards.

	back [count]

Lists the count instructions preceding the program counter. Without a known
function start the boundaries are a best guess.`},
		{aliases: []string{"info"}, group: codeCmds, cmdFn: infoCmd, helpMsg: `Describe the instruction at the program counter.

Prints the control flow class of the instruction and what it is about to do.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.index()
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

func (c *Commands) index() {
	c.names = trie.New()
	for i, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, i)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}
	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.names.Add(cmdstr, len(c.cmds)-1)
}

// Find will look up the command function for the given command input:
// an exact alias, or a prefix of aliases that all belong to one command.
func (c *Commands) Find(cmdstr string) (cmdfunc, error) {
	if cmdstr == "" {
		return nullCommand, nil
	}
	if n, ok := c.names.Find(cmdstr); ok {
		return c.cmds[n.Meta().(int)].cmdFn, nil
	}
	seen := map[int]bool{}
	var candidates []string
	for _, alias := range c.names.PrefixSearch(cmdstr) {
		n, ok := c.names.Find(alias)
		if !ok {
			continue
		}
		i := n.Meta().(int)
		if !seen[i] {
			seen[i] = true
			candidates = append(candidates, c.cmds[i].aliases[0])
		}
	}
	switch len(candidates) {
	case 0:
		return nil, errNoCmd
	case 1:
		for i := range seen {
			return c.cmds[i].cmdFn, nil
		}
	}
	sort.Strings(candidates)
	return nil, &AmbiguousCommandError{Prefix: cmdstr, Candidates: candidates}
}

// Complete returns the aliases starting with line, sorted.
func (c *Commands) Complete(line string) []string {
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	fn, err := c.Find(cmdname)
	if err != nil {
		return err
	}
	return fn(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.index()
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

// splitArgs splits a command argument string with shell quoting rules.
func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal arguments '%s'", args)
	}
	return v[0], nil
}

func parseCount(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return n, nil
}

// parseAddress accepts a number in Go syntax or the name of a register
// of the current stop, optionally prefixed with '$'.
func (t *Term) parseAddress(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	if t.lastRegs != nil {
		if v, err := t.lastRegs.Uint64(strings.TrimPrefix(s, "$")); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("invalid address %q", s)
}

func parseSignal(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid signal %d", n)
		}
		return n, nil
	}
	if v := native.SignalValue(s); v >= 0 {
		return v, nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}

// checkStopped refreshes the register state and processor for the
// current stop.
func (t *Term) checkStopped() error {
	if t.target.State() != native.Stopped {
		return native.NoSuchProcessError{Pid: t.target.Pid()}
	}
	if t.lastRegs == nil {
		if err := t.stopped(); err != nil {
			return err
		}
	}
	return t.setup()
}

// wait collects the stop event following a resume.
func (t *Term) wait() error {
	ev, err := t.target.WaitForStop(t.conf.WaitTimeout)
	if err != nil {
		return err
	}
	if ev.Reason == native.ReasonTimeout {
		fmt.Fprintf(t.stdout, "process did not stop within %dms, interrupting\n", t.conf.WaitTimeout)
		if err := t.target.Interrupt(); err != nil {
			return err
		}
		if ev, err = t.target.WaitForStop(stepOverStopTimeout); err != nil {
			return err
		}
	}
	return t.report(ev)
}

func (t *Term) report(ev native.StopEvent) error {
	switch ev.Reason {
	case native.ReasonStopped:
		if err := t.stopped(); err != nil {
			return err
		}
		if ev.Signal != 0 && ev.Signal != int(sigTrap) {
			fmt.Fprintf(t.stdout, "Process %d %v\n", t.target.Pid(), ev)
		}
		t.printLocation()
	case native.ReasonExited, native.ReasonTerminated:
		t.lastRegs, t.prevRegs = nil, nil
		fmt.Fprintf(t.stdout, "Process %d has %v\n", t.target.Pid(), ev)
	case native.ReasonTimeout:
		fmt.Fprintf(t.stdout, "Process %d is still running\n", t.target.Pid())
	}
	return nil
}

func cont(t *Term, args string) error {
	sig := 0
	if args != "" {
		var err error
		if sig, err = parseSignal(args); err != nil {
			return err
		}
	}
	if err := t.target.Continue(sig); err != nil {
		return err
	}
	return t.wait()
}

func step(t *Term, args string) error {
	if err := t.target.Step(); err != nil {
		return err
	}
	return t.wait()
}

func stepOver(t *Term, args string) error {
	if err := t.checkStopped(); err != nil {
		return err
	}
	pc, err := t.lastRegs.PC()
	if err != nil {
		return err
	}
	inst := t.listing.Instruction(pc)
	if !t.proc.CanStepOver(&inst) {
		return step(t, args)
	}
	return t.runTo(inst.End())
}

// runTo continues until execution reaches addr, using a temporary
// software breakpoint. The original bytes are back in place whenever the
// inferior is left stopped. An inferior that cannot be stopped again is
// killed, it would otherwise run into the stale trap later.
func (t *Term) runTo(addr uint64) (err error) {
	bp, adjust := breakpointInstruction(t.mode)
	orig, err := t.target.ReadMemory(addr, len(bp))
	if err != nil {
		return err
	}
	if err := t.target.WriteMemory(addr, bp); err != nil {
		return err
	}
	restored := false
	restore := func() error {
		if restored || t.target.State() != native.Stopped {
			return nil
		}
		restored = true
		return t.target.WriteMemory(addr, orig)
	}
	defer func() {
		if rerr := restore(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if err := t.target.Continue(0); err != nil {
		return err
	}
	ev, err := t.target.WaitForStop(t.conf.WaitTimeout)
	if err != nil {
		return err
	}
	if ev.Reason == native.ReasonTimeout {
		if err := t.target.Interrupt(); err != nil {
			return err
		}
		if ev, err = t.target.WaitForStop(stepOverStopTimeout); err != nil {
			return err
		}
		if ev.Reason == native.ReasonTimeout {
			if kerr := t.target.Kill(); kerr != nil {
				return fmt.Errorf("process did not stop and could not be killed: %w", kerr)
			}
			t.lastRegs, t.prevRegs = nil, nil
			return fmt.Errorf("process %d did not stop at %#x, killed", t.target.Pid(), addr)
		}
	}
	if ev.Reason != native.ReasonStopped {
		return t.report(ev)
	}
	if err := restore(); err != nil {
		return err
	}
	if ev.Signal == int(sigTrap) && adjust != 0 {
		st, err := t.target.ReadRegisters()
		if err != nil {
			return err
		}
		if pc, err := st.PC(); err == nil && pc == addr+adjust {
			if st, err = setPC(st, addr); err != nil {
				return err
			}
			if err := t.target.WriteRegisters(st); err != nil {
				return err
			}
		}
	}
	return t.report(ev)
}

// breakpointInstruction returns the trap encoding for mode and how far
// the program counter has moved past it when the trap is reported.
func breakpointInstruction(mode asm.Mode) ([]byte, uint64) {
	switch mode {
	case asm.ModeARM:
		return []byte{0xf0, 0x01, 0xf0, 0xe7}, 0
	case asm.ModeThumb:
		return []byte{0x01, 0xde}, 0
	}
	return []byte{0xcc}, 1
}

func setPC(st *regs.State, pc uint64) (*regs.State, error) {
	name := "rip"
	switch st.Arch() {
	case regs.ArchX86:
		name = "eip"
	case regs.ArchARM:
		name = "pc"
	}
	r, ok := st.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %s", regs.ErrUnknownRegister, name)
	}
	return st.With(name, regs.Uint(r.Value.Bits(), pc))
}

func kill(t *Term, args string) error {
	if err := t.target.Kill(); err != nil {
		return err
	}
	t.lastRegs, t.prevRegs = nil, nil
	fmt.Fprintf(t.stdout, "Process %d has been killed\n", t.target.Pid())
	return nil
}

func regsCmd(t *Term, args string) error {
	all := false
	switch args {
	case "":
	case "-a":
		all = true
	default:
		return fmt.Errorf("unknown argument %q", args)
	}
	if err := t.checkStopped(); err != nil {
		return err
	}
	changed := map[string]bool{}
	for _, name := range t.lastRegs.Changed(t.prevRegs) {
		changed[name] = true
	}
	classes := []regs.Class{regs.General, regs.Flags, regs.Segment}
	if all {
		classes = append(classes, regs.FPU, regs.Vector, regs.Debug, regs.Other)
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, class := range classes {
		for _, r := range t.lastRegs.ByClass(class) {
			name := r.Name
			if changed[name] {
				name = t.colorize(ansiRed, name)
			}
			fmt.Fprintf(w, "%s\t%s\n", name, regs.Describe(t.lastRegs.Arch(), r))
		}
	}
	return w.Flush()
}

func examineMemoryCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 || len(v) > 2 {
		return errors.New("wrong number of arguments: x <address> [count]")
	}
	if t.target.State() == native.Stopped && t.lastRegs == nil {
		if err := t.stopped(); err != nil {
			return err
		}
	}
	addr, err := t.parseAddress(v[0])
	if err != nil {
		return err
	}
	count := defaultExamineBytes
	if len(v) == 2 {
		if count, err = parseCount(v[1], defaultExamineBytes); err != nil {
			return err
		}
	}
	data, err := t.target.ReadMemory(addr, count)
	var perr *native.PartialReadError
	if err != nil && !errors.As(err, &perr) {
		return err
	}
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		var ascii strings.Builder
		for _, c := range line {
			if c >= 0x20 && c < 0x7f {
				ascii.WriteByte(c)
			} else {
				ascii.WriteByte('.')
			}
		}
		fmt.Fprintf(t.stdout, "0x%016x:  %-47s  %s\n", addr+uint64(off), fmt.Sprintf("% x", line), ascii.String())
	}
	if perr != nil {
		fmt.Fprintf(t.stdout, "(%v)\n", perr)
	}
	return nil
}

func signalCmd(t *Term, args string) error {
	if args == "" {
		w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
		for _, s := range native.Signals() {
			fmt.Fprintf(w, "%d\t%s\n", s.Value, s.Name)
		}
		return w.Flush()
	}
	sig, err := parseSignal(args)
	if err != nil {
		if matches := native.CompleteSignal(args); len(matches) > 0 {
			return fmt.Errorf("%v, did you mean %s?", err, strings.Join(matches, ", "))
		}
		return err
	}
	name := native.SignalName(sig)
	if name == "" {
		name = "unknown"
	}
	fmt.Fprintf(t.stdout, "%d\t%s\n", sig, name)
	return nil
}

func disassembleCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if err := t.checkStopped(); err != nil {
		return err
	}
	addr := t.cursor
	count := defaultListingLines
	switch len(v) {
	case 0:
	case 1:
		if n, err := parseCount(v[0], defaultListingLines); err == nil {
			count = n
		} else if addr, err = t.parseAddress(v[0]); err != nil {
			return err
		}
	case 2:
		if addr, err = t.parseAddress(v[0]); err != nil {
			return err
		}
		if count, err = parseCount(v[1], defaultListingLines); err != nil {
			return err
		}
	default:
		return errors.New("wrong number of arguments: disasm [address] [count]")
	}
	t.printListing(addr, count)
	return nil
}

func backCmd(t *Term, args string) error {
	count, err := parseCount(args, defaultListingLines)
	if err != nil {
		return err
	}
	if err := t.checkStopped(); err != nil {
		return err
	}
	pc, err := t.lastRegs.PC()
	if err != nil {
		return err
	}
	start := t.listing.Previous(pc, count)
	insts := t.listing.Lines(start, count+1)
	t.printInstructions(insts, pc)
	return nil
}

func infoCmd(t *Term, args string) error {
	if err := t.checkStopped(); err != nil {
		return err
	}
	pc, err := t.lastRegs.PC()
	if err != nil {
		return err
	}
	inst := t.listing.Instruction(pc)
	t.printInstruction(inst, pc)
	class := t.proc.Classify(&inst)
	fmt.Fprintf(t.stdout, "\tclass: %v\n", class)
	if inst.Conditional() {
		if taken, err := t.proc.BranchTaken(&inst, t.lastRegs); err == nil {
			fmt.Fprintf(t.stdout, "\tcondition %s: %v\n", inst.Cond.Name(inst.Mode), taken)
		}
	}
	if t.proc.CanStepOver(&inst) {
		fmt.Fprintln(t.stdout, "\tstepover runs to", fmt.Sprintf("%#x", inst.End()))
	}
	for _, a := range t.proc.Annotate(&inst, t.lastRegs, t.env()) {
		fmt.Fprintf(t.stdout, "\t; %s\n", a)
	}
	return nil
}

func (t *Term) printListing(addr uint64, count int) {
	insts := t.listing.Lines(addr, count)
	pc, _ := t.lastRegs.PC()
	t.printInstructions(insts, pc)
	if len(insts) > 0 {
		last := insts[len(insts)-1]
		t.cursor = last.End()
	}
}

func (t *Term) printInstructions(insts []asm.Instruction, pc uint64) {
	w := tabwriter.NewWriter(t.stdout, 1, 8, 1, '\t', 0)
	for _, inst := range insts {
		t.writeInstruction(w, inst, pc)
	}
	w.Flush()
}

func (t *Term) printInstruction(inst asm.Instruction, pc uint64) {
	t.printInstructions([]asm.Instruction{inst}, pc)
}

func (t *Term) writeInstruction(w *tabwriter.Writer, inst asm.Instruction, pc uint64) {
	atpc := ""
	if inst.Addr == pc {
		atpc = "=>"
	}
	loc := ""
	if t.symbols != nil {
		if name, off, ok := t.symbols.FindFunctionSymbol(inst.Addr); ok {
			if off == 0 {
				loc = "<" + name + ">"
			} else {
				loc = fmt.Sprintf("<%s+%#x>", name, off)
			}
		}
	}
	text := inst.Text(t.flavor)
	if t.proc != nil && t.proc.Classify(&inst) == arch.Filler {
		text = t.colorize(ansiYellow, text)
	} else if inst.Addr == pc {
		text = t.colorize(ansiGreen, text)
	}
	fmt.Fprintf(w, "%s\t%#x\t%s\t%x\t%s\n", atpc, inst.Addr, loc, inst.Bytes, text)
}
