package arch_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/archdbg/archdbg/pkg/arch"
	"github.com/archdbg/archdbg/pkg/asm"
)

// fakeSymbols maps function start addresses to names. Functions are
// assumed to be 0x100 bytes long.
type fakeSymbols map[uint64]string

func (s fakeSymbols) FindFunctionSymbol(addr uint64) (string, uint64, bool) {
	for start, name := range s {
		if addr >= start && addr < start+0x100 {
			return name, addr - start, true
		}
	}
	return "", 0, false
}

func TestAnnotate(t *testing.T) {
	code := make([]byte, 0x200)
	code[0x100], code[0x101], code[0x102] = 0xeb, 0x00, 0x90

	tests := []struct {
		name  string
		mode  asm.Mode
		addr  uint64
		bytes []byte
		regs  []interface{}
		env   arch.Env
		cfg   arch.Config
		want  []string
	}{
		{
			name:  "cmove performed",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x0f, 0x44, 0xc1},
			regs:  []interface{}{"eflags", 1 << 6, "rax", 0, "rcx", 1},
			want:  []string{"move performed"},
		},
		{
			name:  "cmove not performed",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x0f, 0x44, 0xc1},
			regs:  []interface{}{"eflags", 0},
			want:  []string{"move NOT performed"},
		},
		{
			name:  "je not taken",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x74, 0x10},
			regs:  []interface{}{"eflags", 0},
			want:  []string{"jump NOT taken"},
		},
		{
			name:  "je taken",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x74, 0x10},
			regs:  []interface{}{"eflags", 1 << 6},
			env:   arch.Env{Symbols: fakeSymbols{0x1000: "loop"}},
			want:  []string{"jump taken", "0x1012 = 0x0000000000001012 <loop+0x12>"},
		},
		{
			name:  "call with arguments",
			mode:  asm.ModeAMD64,
			addr:  0x401000,
			bytes: []byte{0xe8, 0xfb, 0x0f, 0x00, 0x00},
			regs:  []interface{}{"rdi", 0x5000, "rsp", 0x7000},
			env: arch.Env{
				Mem:     fakeMem{{0x5000, cstring("hi there")}},
				Symbols: fakeSymbols{0x402000: "puts@plt"},
			},
			want: []string{
				"0x402000 = 0x0000000000402000 <puts@plt>",
				`puts(<0x0000000000005000> "hi there")`,
			},
		},
		{
			name:  "indirect call through register",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0xff, 0xd0},
			regs:  []interface{}{"rax", 0x1234},
			want:  []string{"rax = 0x0000000000001234"},
		},
		{
			name:  "indirect call through memory",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0xff, 0x13},
			regs:  []interface{}{"rbx", 0x6000},
			env: arch.Env{
				Mem:     fakeMem{{0x6000, le64(0x402010)}},
				Symbols: fakeSymbols{0x402000: "handler"},
			},
			want: []string{"[rbx] = [0x0000000000006000] = 0x0000000000402010 <handler+0x10>"},
		},
		{
			name:  "ret",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0xc3},
			regs:  []interface{}{"rsp", 0x7000},
			env: arch.Env{
				Mem:     fakeMem{{0x7000, le64(0x401234)}},
				Symbols: fakeSymbols{0x401200: "main"},
			},
			want: []string{"return to 0x0000000000401234 <main+0x34>"},
		},
		{
			name:  "syscall",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x0f, 0x05},
			regs:  []interface{}{"rax", 1, "rdi", 1, "rsi", 0x5000, "rdx", 6},
			want:  []string{"SYSCALL: write(0x1,0x0000000000005000,0x6)"},
		},
		{
			name:  "syscall annotations disabled",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x0f, 0x05},
			regs:  []interface{}{"rax", 1, "rdi", 1, "rsi", 0x5000, "rdx", 6},
			cfg:   arch.Config{NoSyscalls: true},
			want:  nil,
		},
		{
			name:  "operand values",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x8b, 0x43, 0x08},
			regs:  []interface{}{"rax", 0x1122334455667788, "rbx", 0x6000},
			env:   arch.Env{Mem: fakeMem{{0x6008, le32(0xcafebabe)}}},
			want:  []string{"eax = 0x55667788", "[rbx+0x8] = [0x0000000000006008] = 0xcafebabe"},
		},
		{
			name:  "unreadable operand",
			mode:  asm.ModeAMD64,
			addr:  0x1000,
			bytes: []byte{0x8b, 0x43, 0x08},
			regs:  []interface{}{"rbx", 0x6000},
			env:   arch.Env{Mem: fakeMem{}},
			want:  []string{"eax = (Error: obtained invalid register value from State)", "[rbx+0x8] = [0x0000000000006008] = ?"},
		},
		{
			name:  "possible jump",
			mode:  asm.ModeAMD64,
			addr:  0x1002,
			bytes: []byte{0x90},
			regs:  []interface{}{"rax", 0},
			env:   arch.Env{Mem: fakeMem{{0xf00, code}}},
			want:  []string{"possible jump from 0x0000000000001000"},
		},
		{
			name:  "arm svc",
			mode:  asm.ModeARM,
			addr:  0x1000,
			bytes: []byte{0x00, 0x00, 0x00, 0xef},
			regs:  []interface{}{"r7", 4, "r0", 1, "r1", 0x5000, "r2", 5},
			env:   arch.Env{Mem: fakeMem{{0x5000, cstring("hello")}}},
			want:  []string{`SYSCALL: write(0x1,<0x00005000> "hello",0x5)`},
		},
		{
			name:  "arm bx lr",
			mode:  asm.ModeARM,
			addr:  0x1000,
			bytes: []byte{0x1e, 0xff, 0x2f, 0xe1},
			regs:  []interface{}{"lr", 0x8124},
			env:   arch.Env{Symbols: fakeSymbols{0x8100: "main"}},
			want:  []string{"return to 0x00008124 <main+0x24>"},
		},
		{
			name:  "arm pop pc",
			mode:  asm.ModeARM,
			addr:  0x1000,
			bytes: []byte{0x10, 0x80, 0xbd, 0xe8},
			regs:  []interface{}{"sp", 0x7000},
			env:   arch.Env{Mem: fakeMem{{0x7000, le32(0x44, 0x8200)}}},
			want:  []string{"return to 0x00008200"},
		},
		{
			name:  "thumb cbz not taken",
			mode:  asm.ModeThumb,
			addr:  0x1000,
			bytes: []byte{0x08, 0xb1},
			regs:  []interface{}{"r0", 1},
			want:  []string{"jump NOT taken"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := mustProcessor(t, tc.mode, tc.cfg)
			inst := decode(t, tc.mode, tc.addr, tc.bytes...)
			st := amd64State(tc.regs...)
			if tc.mode.IsARM() {
				st = armState(tc.regs...)
			}
			got := p.Annotate(inst, st, tc.env)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Annotate(%s) mismatch (-want +got):\n%s", inst.Text(asm.IntelFlavor), diff)
			}
		})
	}
}

func TestAnnotateInvalid(t *testing.T) {
	p := mustProcessor(t, asm.ModeAMD64, arch.Config{})
	inst := decode(t, asm.ModeAMD64, 0x1000, 0x06)
	if got := p.Annotate(inst, amd64State("rax", 0), arch.Env{}); got != nil {
		t.Errorf("invalid instruction annotated: %q", got)
	}
	ok := decode(t, asm.ModeAMD64, 0x1000, 0x90)
	if got := p.Annotate(ok, nil, arch.Env{}); got != nil {
		t.Errorf("empty state annotated: %q", got)
	}
}
