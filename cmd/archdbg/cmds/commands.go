package cmds

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/archdbg/archdbg/pkg/arch"
	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/config"
	"github.com/archdbg/archdbg/pkg/disasm"
	"github.com/archdbg/archdbg/pkg/logflags"
	"github.com/archdbg/archdbg/pkg/proc/native"
	"github.com/archdbg/archdbg/pkg/sigrelay"
	"github.com/archdbg/archdbg/pkg/symbols"
	"github.com/archdbg/archdbg/pkg/terminal"
	"github.com/archdbg/archdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// workingDir is the working directory for running the program.
	workingDir string

	// tty is used to provide an alternate TTY for the program you wish to debug.
	tty string
	// usePty allocates a pseudo terminal for the program.
	usePty bool
	// programArgs is a shell quoted argument string for the program.
	programArgs string
	disableASLR bool

	disasmMode   modeFlag
	disasmBase   uint64
	disasmOffset uint64
	disasmCount  int
	disasmBack   int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const archdbgCommandLongDesc = `archdbg is a machine level debugger for x86 and ARM programs.

It controls a process through ptrace, shows its registers and memory, and
disassembles the code around the program counter with annotations of what
the current instruction is about to do.

Pass flags to the program you are debugging using ` + "`--`" + `, for example:

` + "`archdbg exec ./hello -- server --config conf/config.toml`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main archdbg root command.
	rootCommand = &cobra.Command{
		Use:   "archdbg",
		Short: "archdbg is a machine level debugger.",
		Long:  archdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'archdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'archdbg help log').")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", ".", "Working directory for running the program.")

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <path/to/binary> [-- args]",
		Short: "Execute a program and begin debugging it.",
		Long: `Execute a program and begin debugging it.

The program is stopped before its first instruction runs. The binary is
executed as given, the PATH is not searched.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to a binary")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execCmd(args))
		},
	}
	execCommand.Flags().StringVar(&programArgs, "args", "", "Arguments for the program, parsed with shell quoting rules.")
	execCommand.Flags().StringVar(&tty, "tty", "", "TTY to use for the target program.")
	execCommand.Flags().BoolVar(&usePty, "pty", false, "Run the target program in a new pseudo terminal.")
	execCommand.Flags().BoolVar(&disableASLR, "disable-aslr", false, "Disables address space randomization.")
	rootCommand.AddCommand(execCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to running process and begin debugging.",
		Long: `Attach to an already running process and begin debugging it.

Quitting the debugger asks whether the process should be killed or left
running.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a PID")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'disasm' subcommand.
	disasmCommand := &cobra.Command{
		Use:   "disasm <file>",
		Short: "Disassemble a file.",
		Long: `Disassemble a file without running it.

ELF executables are disassembled from their .text section at its link
address, the architecture comes from the ELF header. Any other file is
treated as raw code loaded at --base and decoded in the --arch mode.

--offset selects the first instruction relative to the start of the code,
--back moves the start that many instructions backwards first.`,
		Args: cobra.ExactArgs(1),
		RunE: disasmCmd,
	}
	disasmMode = modeFlag(asm.ModeAMD64)
	disasmCommand.Flags().Var(&disasmMode, "arch", "Decoding mode for raw files: x86-16, x86, x86-64, arm or thumb.")
	disasmCommand.Flags().Uint64Var(&disasmBase, "base", 0, "Load address of a raw file.")
	disasmCommand.Flags().Uint64Var(&disasmOffset, "offset", 0, "Offset of the first instruction.")
	disasmCommand.Flags().IntVar(&disasmCount, "count", 20, "Number of instructions to print.")
	disasmCommand.Flags().IntVar(&disasmBack, "back", 0, "Number of instructions to move back before printing.")
	rootCommand.AddCommand(disasmCommand)

	// 'signals' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "signals [prefix]",
		Short: "Lists signal names and numbers.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  signalsCmd,
	})

	// 'version' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "archdbg\n%s\n", version.ArchdbgVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	relay		Log the child signal relay
	native		Log ptrace requests and process state changes
	arch		Log operand resolution failures
	disasm		Log decoding of listings
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// setup prepares logging and the signal relay, both must exist before
// the first child process is created.
func setup() error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	strategy, err := sigrelay.ParseStrategy(conf.WaitStrategy)
	if err != nil {
		return err
	}
	if _, err := sigrelay.Init(strategy); err != nil {
		return fmt.Errorf("could not install signal relay: %w", err)
	}
	return nil
}

// parseProgramArgs splits s with shell quoting rules.
func parseProgramArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := argv.Argv(s,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("pipes are not supported in program arguments '%s'", s)
	}
	return v[0], nil
}

func execCmd(args []string) int {
	if err := setup(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if tty != "" && usePty {
		fmt.Fprint(os.Stderr, "Error: --tty and --pty are mutually exclusive\n")
		return 1
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	progArgs, err := parseProgramArgs(programArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --args: %v\n", err)
		return 1
	}
	progArgs = append(progArgs, args[1:]...)

	opts := native.LaunchOptions{TTY: tty, DisableASLR: disableASLR}
	if usePty {
		ptmx, pts, err := pty.Open()
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not allocate a pseudo terminal: %v\n", err)
			return 1
		}
		defer ptmx.Close()
		opts.TTY = pts.Name()
		pts.Close()
		fmt.Fprintf(os.Stderr, "program terminal: %s\n", opts.TTY)
		go io.Copy(os.Stdout, ptmx)
	}

	p, err := native.Launch(path, workingDir, progArgs, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return runTerminal(p, false)
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	if err := setup(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer logflags.Close()

	p, err := native.Attach(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	os.Exit(runTerminal(p, true))
}

func runTerminal(p *native.Process, attached bool) int {
	term, err := terminal.New(p, conf, terminal.Options{
		Symbols:  loadSymbols(p),
		Attached: attached,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		p.Detach(!attached)
		return 1
	}
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

// loadSymbols reads the function symbols of the inferior's executable,
// relocated to where the executable is mapped.
func loadSymbols(p *native.Process) terminal.Symbols {
	exe := p.Executable()
	if real, err := filepath.EvalSymlinks(exe); err == nil {
		exe = real
	}
	var base uint64
	if rs, err := p.Regions(); err == nil {
		for _, r := range rs {
			if r.Offset == 0 && r.Path == exe {
				base = r.Start
				break
			}
		}
	}
	tab, err := symbols.Load(exe, base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: no symbols for %s: %v\n", exe, err)
		return nil
	}
	return tab
}

// modeFlag is a pflag.Value selecting a decoding mode.
type modeFlag asm.Mode

var _ pflag.Value = (*modeFlag)(nil)

func (m *modeFlag) String() string { return asm.Mode(*m).String() }

func (m *modeFlag) Set(s string) error {
	mode, err := asm.ParseMode(s)
	if err != nil {
		return err
	}
	*m = modeFlag(mode)
	return nil
}

func (m *modeFlag) Type() string { return "mode" }

// code is a file loaded for disassembly.
type code struct {
	image disasm.Image
	mode  asm.Mode
	funcs *symbols.Table
}

func loadCode(path string) (*code, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := elf.Open(path)
	if err != nil {
		return loadRaw(path)
	}
	defer f.Close()

	var mode asm.Mode
	switch f.Machine {
	case elf.EM_X86_64:
		mode = asm.ModeAMD64
	case elf.EM_386:
		mode = asm.ModeX86_32
	case elf.EM_ARM:
		mode = asm.ModeARM
		if f.Entry&1 != 0 {
			mode = asm.ModeThumb
		}
	default:
		return nil, fmt.Errorf("unsupported machine %v", f.Machine)
	}
	text := f.Section(".text")
	if text == nil {
		return nil, fmt.Errorf("%s has no .text section", path)
	}
	data, err := text.Data()
	if err != nil {
		return nil, err
	}
	c := &code{image: disasm.Image{Base: text.Addr, Data: data}, mode: mode}
	if tab, err := symbols.FromELF(f, 0); err == nil {
		c.funcs = tab
	}
	return c, nil
}

func loadRaw(path string) (*code, error) {
	mode := asm.Mode(disasmMode)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &code{image: disasm.Image{Base: disasmBase, Data: data}, mode: mode}, nil
}

func disasmCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	c, err := loadCode(args[0])
	if err != nil {
		return err
	}
	if len(c.image.Data) == 0 {
		return fmt.Errorf("%s is empty", args[0])
	}
	if disasmOffset >= uint64(len(c.image.Data)) {
		return fmt.Errorf("offset %#x outside of %d bytes of code", disasmOffset, len(c.image.Data))
	}
	flavor, err := asm.ParseFlavor(conf.DisassemblyFlavor)
	if err != nil {
		return err
	}
	proc, err := arch.New(c.mode, arch.Config{ZerosAreFilling: conf.ZerosAreFilling, NoSyscalls: true})
	if err != nil {
		return err
	}
	nav, err := disasm.NewNavigator(c.mode)
	if err != nil {
		return err
	}
	var funcs disasm.FunctionFinder
	if c.funcs != nil {
		funcs = c.funcs
	}
	listing, err := disasm.NewListing(nav, &c.image, &c.image, funcs, conf.ListingCacheSize)
	if err != nil {
		return err
	}

	start := c.image.Base + disasmOffset
	if disasmBack > 0 {
		start = listing.Previous(start, disasmBack)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 1, 8, 1, '\t', 0)
	for _, inst := range listing.Lines(start, disasmCount) {
		loc := ""
		if c.funcs != nil {
			if name, off, ok := c.funcs.FindFunctionSymbol(inst.Addr); ok && off == 0 {
				loc = "<" + name + ">"
			}
		}
		fmt.Fprintf(w, "%#x\t%s\t%x\t%s\t%s\n", inst.Addr, loc, inst.Bytes, proc.Classify(&inst), inst.Text(flavor))
	}
	return w.Flush()
}

func signalsCmd(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, s := range native.Signals() {
			fmt.Fprintf(out, "%d\t%s\n", s.Value, s.Name)
		}
		return nil
	}
	names := native.CompleteSignal(args[0])
	if len(names) == 0 {
		return fmt.Errorf("no signal matches %q", args[0])
	}
	for _, name := range names {
		fmt.Fprintf(out, "%d\t%s\n", native.SignalValue(name), name)
	}
	return nil
}
