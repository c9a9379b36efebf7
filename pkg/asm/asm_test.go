package asm_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/archdbg/archdbg/pkg/asm"
)

func decode(t *testing.T, mode asm.Mode, addr uint64, b ...byte) asm.Instruction {
	t.Helper()
	d, err := asm.NewDecoder(mode)
	if err != nil {
		t.Fatal(err)
	}
	return d.Decode(b, addr)
}

func TestX86Decode(t *testing.T) {
	tests := []struct {
		name string
		mode asm.Mode
		addr uint64
		code []byte
		op   string
		cond asm.Cond
		args []asm.Arg
		len  int
	}{
		{"rip relative", asm.ModeAMD64, 0x1000, []byte{0x48, 0x8b, 0x05, 0x10, 0, 0, 0}, "MOV", asm.CondNone,
			[]asm.Arg{asm.Reg("rax"), asm.Mem{Base: "rip", Disp: 0x10, Size: 8}}, 7},
		{"call", asm.ModeAMD64, 0x1000, []byte{0xe8, 0, 0, 0, 0}, "CALL", asm.CondNone,
			[]asm.Arg{asm.Rel{Target: 0x1005}}, 5},
		{"je self", asm.ModeAMD64, 0x2000, []byte{0x74, 0xfe}, "JCC", asm.CondE,
			[]asm.Arg{asm.Rel{Target: 0x2000}}, 2},
		{"cmove", asm.ModeAMD64, 0, []byte{0x0f, 0x44, 0xc1}, "CMOVCC", asm.CondE,
			[]asm.Arg{asm.Reg("eax"), asm.Reg("ecx")}, 3},
		{"fs absolute", asm.ModeAMD64, 0, []byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0x28, 0, 0, 0}, "MOV", asm.CondNone,
			[]asm.Arg{asm.Reg("rax"), asm.Abs{Segment: "fs", Addr: 0x28, Size: 8}}, 9},
		{"r8d", asm.ModeAMD64, 0, []byte{0x44, 0x89, 0xc0}, "MOV", asm.CondNone,
			[]asm.Arg{asm.Reg("eax"), asm.Reg("r8d")}, 3},
		{"dil", asm.ModeAMD64, 0, []byte{0x40, 0x88, 0xf7}, "MOV", asm.CondNone,
			[]asm.Arg{asm.Reg("dil"), asm.Reg("sil")}, 3},
		{"jrcxz", asm.ModeAMD64, 0x10, []byte{0xe3, 0x05}, "JCC", asm.CondRCXZ,
			[]asm.Arg{asm.Rel{Target: 0x17}}, 2},
		{"jecxz", asm.ModeX86_32, 0x10, []byte{0xe3, 0x05}, "JCC", asm.CondECXZ,
			[]asm.Arg{asm.Rel{Target: 0x17}}, 2},
		{"loop", asm.ModeX86_32, 0x10, []byte{0xe2, 0xfe}, "LOOP", asm.CondLoop,
			[]asm.Arg{asm.Rel{Target: 0x10}}, 2},
		{"lea same register", asm.ModeX86_32, 0, []byte{0x8d, 0x00}, "LEA", asm.CondNone,
			[]asm.Arg{asm.Reg("eax"), asm.Mem{Base: "eax"}}, 2},
		{"16-bit bx", asm.ModeX86_16, 0, []byte{0x8b, 0x07}, "MOV", asm.CondNone,
			[]asm.Arg{asm.Reg("ax"), asm.Mem{Base: "bx", Size: 2}}, 2},
	}
	for _, tc := range tests {
		inst := decode(t, tc.mode, tc.addr, tc.code...)
		if !inst.Valid || inst.Len != tc.len {
			t.Errorf("%s: valid=%v len=%d, want len %d", tc.name, inst.Valid, inst.Len, tc.len)
			continue
		}
		if inst.Op != tc.op || inst.Cond != tc.cond {
			t.Errorf("%s: op=%s cond=%d, want %s %d", tc.name, inst.Op, inst.Cond, tc.op, tc.cond)
		}
		if diff := cmp.Diff(tc.args, inst.Args); diff != "" {
			t.Errorf("%s: args mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestX86Prefixes(t *testing.T) {
	inst := decode(t, asm.ModeAMD64, 0, 0xf3, 0xa4)
	if inst.Prefix&asm.PrefixRep == 0 {
		t.Errorf("rep movsb: rep prefix missing")
	}
	inst = decode(t, asm.ModeAMD64, 0, 0xf3, 0x0f, 0x10, 0xc1)
	if inst.Prefix&(asm.PrefixRep|asm.PrefixRepne) != 0 {
		t.Errorf("movss: mandatory prefix reported as repeat prefix")
	}
	inst = decode(t, asm.ModeAMD64, 0, 0xf0, 0x48, 0x0f, 0xb1, 0x0a)
	if inst.Prefix&asm.PrefixLock == 0 || inst.Prefix&asm.PrefixREX == 0 {
		t.Errorf("lock cmpxchg: prefix = %#x", inst.Prefix)
	}
}

func TestInvalidInstructionLength(t *testing.T) {
	tests := []struct {
		mode asm.Mode
		code []byte
		want int
	}{
		{asm.ModeAMD64, []byte{0x06, 0x90}, 1},
		{asm.ModeAMD64, []byte{0x48}, 1},
		{asm.ModeAMD64, []byte{0x00}, 1},
		{asm.ModeAMD64, []byte{0xb8, 0x01}, 1},
		{asm.ModeX86_32, []byte{0x0f}, 1},
		{asm.ModeARM, []byte{0x00, 0x00}, 2},
		{asm.ModeThumb, []byte{0x00, 0xb8}, 2},
		{asm.ModeThumb, []byte{0x00, 0xf0}, 2},
		{asm.ModeThumb, []byte{0x00}, 1},
		{asm.ModeAMD64, nil, 1},
	}
	for _, tc := range tests {
		inst := decode(t, tc.mode, 0x100, tc.code...)
		if inst.Valid {
			t.Errorf("%v % x: decoded as valid %s", tc.mode, tc.code, inst.String())
		}
		if inst.Op != "" {
			t.Errorf("%v % x: invalid instruction has op %q", tc.mode, tc.code, inst.Op)
		}
		if inst.Len != tc.want {
			t.Errorf("%v % x: len %d want %d", tc.mode, tc.code, inst.Len, tc.want)
		}
	}
}

func TestARMDecode(t *testing.T) {
	tests := []struct {
		name    string
		addr    uint64
		code    []byte
		op      string
		cond    asm.Cond
		args    []asm.Arg
		regList uint16
		flags   asm.Flag
	}{
		{"ldr pc relative", 0x2000, []byte{0x04, 0x00, 0x9f, 0xe5}, "LDR", asm.ArmAL,
			[]asm.Arg{asm.Reg("r0"), asm.Mem{Base: "pc", Disp: 4}}, 0, 0},
		{"bl", 0x1000, []byte{0x00, 0x00, 0x00, 0xeb}, "BL", asm.ArmAL,
			[]asm.Arg{asm.Rel{Target: 0x1008}}, 0, 0},
		{"beq", 0x1000, []byte{0x01, 0x00, 0x00, 0x0a}, "B", asm.ArmEQ,
			[]asm.Arg{asm.Rel{Target: 0x100c}}, 0, 0},
		{"mov r0, r0", 0, []byte{0x00, 0x00, 0xa0, 0xe1}, "MOV", asm.ArmAL,
			[]asm.Arg{asm.Reg("r0"), asm.Reg("r0")}, 0, 0},
		{"adds", 0, []byte{0x02, 0x00, 0x91, 0xe0}, "ADD", asm.ArmAL,
			[]asm.Arg{asm.Reg("r0"), asm.Reg("r1"), asm.Reg("r2")}, 0, asm.FlagSetsFlags},
		{"pop", 0, []byte{0x10, 0x80, 0xbd, 0xe8}, "POP", asm.ArmAL, nil, 0x8010, 0},
		{"scaled index", 0, []byte{0x02, 0x01, 0x91, 0xe7}, "LDR", asm.ArmAL,
			[]asm.Arg{asm.Reg("r0"), asm.Mem{Base: "r1", Index: "r2", Scale: 1, Shift: asm.ShiftLSL, ShiftAmount: 2}}, 0, 0},
		{"bx lr", 0, []byte{0x1e, 0xff, 0x2f, 0xe1}, "BX", asm.ArmAL,
			[]asm.Arg{asm.Reg("lr")}, 0, asm.FlagExchange},
	}
	for _, tc := range tests {
		inst := decode(t, asm.ModeARM, tc.addr, tc.code...)
		if !inst.Valid || inst.Len != 4 {
			t.Errorf("%s: valid=%v len=%d", tc.name, inst.Valid, inst.Len)
			continue
		}
		if inst.Op != tc.op || inst.Cond != tc.cond || inst.RegList != tc.regList || inst.Flags != tc.flags {
			t.Errorf("%s: got %s cond=%d list=%#x flags=%#x", tc.name, inst.Op, inst.Cond, inst.RegList, inst.Flags)
		}
		if diff := cmp.Diff(tc.args, inst.Args); diff != "" {
			t.Errorf("%s: args mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestThumbDecode(t *testing.T) {
	tests := []struct {
		name    string
		addr    uint64
		code    []byte
		len     int
		op      string
		cond    asm.Cond
		args    []asm.Arg
		regList uint16
	}{
		{"nop", 0, []byte{0x00, 0xbf}, 2, "NOP", asm.CondNone, nil, 0},
		{"push", 0, []byte{0x10, 0xb5}, 2, "PUSH", asm.CondNone, nil, 0x4010},
		{"pop", 0, []byte{0x10, 0xbd}, 2, "POP", asm.CondNone, nil, 0x8010},
		{"bx lr", 0, []byte{0x70, 0x47}, 2, "BX", asm.CondNone, []asm.Arg{asm.Reg("lr")}, 0},
		{"beq self", 0x1000, []byte{0xfe, 0xd0}, 2, "B", asm.ArmEQ, []asm.Arg{asm.Rel{Target: 0x1000}}, 0},
		{"b forward", 0x1000, []byte{0x01, 0xe0}, 2, "B", asm.CondNone, []asm.Arg{asm.Rel{Target: 0x1006}}, 0},
		{"cbz", 0x1000, []byte{0x08, 0xb1}, 2, "CBZ", asm.CondNone, []asm.Arg{asm.Reg("r0"), asm.Rel{Target: 0x1006}}, 0},
		{"bl", 0x1000, []byte{0x00, 0xf0, 0x00, 0xf8}, 4, "BL", asm.CondNone, []asm.Arg{asm.Rel{Target: 0x1004}}, 0},
		{"ldr literal", 0x1002, []byte{0x01, 0x48}, 2, "LDR", asm.CondNone,
			[]asm.Arg{asm.Reg("r0"), asm.Abs{Addr: 0x1008, Size: 4}}, 0},
		{"ldr.w", 0, []byte{0xd1, 0xf8, 0x04, 0x00}, 4, "LDR", asm.CondNone,
			[]asm.Arg{asm.Reg("r0"), asm.Mem{Base: "r1", Disp: 4, Size: 4}}, 0},
		{"pop.w", 0, []byte{0xbd, 0xe8, 0xf0, 0x81}, 4, "POP", asm.CondNone, nil, 0x81f0},
		{"movs", 0, []byte{0x05, 0x20}, 2, "MOV", asm.CondNone, []asm.Arg{asm.Reg("r0"), asm.Imm(5)}, 0},
		{"svc", 0, []byte{0x00, 0xdf}, 2, "SVC", asm.CondNone, []asm.Arg{asm.Imm(0)}, 0},
	}
	for _, tc := range tests {
		inst := decode(t, asm.ModeThumb, tc.addr, tc.code...)
		if !inst.Valid || inst.Len != tc.len {
			t.Errorf("%s: valid=%v len=%d want %d", tc.name, inst.Valid, inst.Len, tc.len)
			continue
		}
		if inst.Op != tc.op || inst.Cond != tc.cond || inst.RegList != tc.regList {
			t.Errorf("%s: got %s cond=%d list=%#x", tc.name, inst.Op, inst.Cond, inst.RegList)
		}
		if diff := cmp.Diff(tc.args, inst.Args); diff != "" {
			t.Errorf("%s: args mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestThumbLength(t *testing.T) {
	for hw1 := 0; hw1 < 0x10000; hw1 += 0x100 {
		want := 2
		if hw1 >= 0xe800 {
			want = 4
		}
		if got := asm.IsThumb32(uint16(hw1)); got != (want == 4) {
			t.Fatalf("IsThumb32(%#04x) = %v", hw1, got)
		}
	}
}

func TestX86SubRegister(t *testing.T) {
	tests := []struct {
		name string
		mode asm.Mode
		want asm.SubRegister
		ok   bool
	}{
		{"ah", asm.ModeAMD64, asm.SubRegister{Parent: "rax", Shift: 8, Bits: 8}, true},
		{"eax", asm.ModeX86_32, asm.SubRegister{Parent: "eax", Bits: 32}, true},
		{"r10w", asm.ModeAMD64, asm.SubRegister{Parent: "r10", Bits: 16}, true},
		{"sil", asm.ModeAMD64, asm.SubRegister{Parent: "rsi", Bits: 8}, true},
		{"rax", asm.ModeX86_32, asm.SubRegister{}, false},
		{"xmm0", asm.ModeAMD64, asm.SubRegister{}, false},
	}
	for _, tc := range tests {
		got, ok := asm.X86SubRegister(tc.name, tc.mode)
		if ok != tc.ok || got != tc.want {
			t.Errorf("X86SubRegister(%s, %v) = %+v, %v", tc.name, tc.mode, got, ok)
		}
	}
}

func TestText(t *testing.T) {
	inst := decode(t, asm.ModeAMD64, 0x1000, 0x90)
	if got := inst.Text(asm.IntelFlavor); got != "nop" {
		t.Errorf("Intel text = %q", got)
	}
	inst = decode(t, asm.ModeThumb, 0, 0x10, 0xb5)
	if got := inst.Text(asm.IntelFlavor); got != "push {r4, lr}" {
		t.Errorf("thumb text = %q", got)
	}
	bad := decode(t, asm.ModeAMD64, 0, 0x06)
	if got := bad.Text(asm.IntelFlavor); got != "(bad) 06" {
		t.Errorf("invalid text = %q", got)
	}
}
