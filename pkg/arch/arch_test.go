package arch_test

import (
	"errors"
	"testing"

	"github.com/archdbg/archdbg/pkg/arch"
	"github.com/archdbg/archdbg/pkg/asm"
	"github.com/archdbg/archdbg/pkg/regs"
)

func mustProcessor(t *testing.T, mode asm.Mode, cfg arch.Config) arch.Processor {
	t.Helper()
	p, err := arch.New(mode, cfg)
	if err != nil {
		t.Fatalf("New(%v): %v", mode, err)
	}
	return p
}

func decode(t *testing.T, mode asm.Mode, addr uint64, b ...byte) *asm.Instruction {
	t.Helper()
	d, err := asm.NewDecoder(mode)
	if err != nil {
		t.Fatal(err)
	}
	inst := d.Decode(b, addr)
	return &inst
}

func amd64State(kv ...interface{}) *regs.State {
	b := regs.NewBuilder(regs.ArchAMD64, 1)
	for i := 0; i < len(kv); i += 2 {
		name := kv[i].(string)
		class := regs.General
		if name == "eflags" {
			class = regs.Flags
		}
		b.Uint(name, class, 64, uint64(kv[i+1].(int)))
	}
	return b.State()
}

func armState(kv ...interface{}) *regs.State {
	b := regs.NewBuilder(regs.ArchARM, 1)
	for i := 0; i < len(kv); i += 2 {
		name := kv[i].(string)
		class := regs.General
		if name == "cpsr" {
			class = regs.Flags
		}
		b.Uint(name, class, 32, uint64(kv[i+1].(int)))
	}
	return b.State()
}

func TestRIPRelative(t *testing.T) {
	p := mustProcessor(t, asm.ModeAMD64, arch.Config{})
	inst := &asm.Instruction{Addr: 0x1000, Len: 4, Valid: true, Mode: asm.ModeAMD64, Op: "MOV", Cond: asm.CondNone}
	st := amd64State("rip", 0x1000)
	ea, err := p.EffectiveAddress(inst, asm.Mem{Base: "rip", Disp: 0x10}, st)
	if err != nil {
		t.Fatal(err)
	}
	if ea != 0x1014 {
		t.Errorf("[rip+0x10] = %#x, expected 0x1014", ea)
	}

	// lea rax, [rip+0x10]
	lea := decode(t, asm.ModeAMD64, 0x1000, 0x48, 0x8d, 0x05, 0x10, 0x00, 0x00, 0x00)
	ea, err = p.EffectiveAddress(lea, lea.Args[1], st)
	if err != nil {
		t.Fatal(err)
	}
	if ea != 0x1017 {
		t.Errorf("lea rax, [rip+0x10] = %#x, expected 0x1017", ea)
	}
}

func TestARMProgramCounter(t *testing.T) {
	p := mustProcessor(t, asm.ModeARM, arch.Config{})
	st := armState("pc", 0x2000, "r0", 0)
	for _, tc := range []struct {
		mode asm.Mode
		want uint64
	}{
		{asm.ModeARM, 0x2008},
		{asm.ModeThumb, 0x2004},
	} {
		inst := &asm.Instruction{Addr: 0x2000, Len: 4, Valid: true, Mode: tc.mode, Op: "LDR", Cond: asm.CondNone}
		ea, err := p.EffectiveAddress(inst, asm.Mem{Base: "pc"}, st)
		if err != nil {
			t.Fatal(err)
		}
		if ea != tc.want {
			t.Errorf("%v: [pc] = %#x, expected %#x", tc.mode, ea, tc.want)
		}
		ea, err = p.EffectiveAddress(inst, asm.Reg("pc"), st)
		if err != nil {
			t.Fatal(err)
		}
		if ea != tc.want {
			t.Errorf("%v: pc = %#x, expected %#x", tc.mode, ea, tc.want)
		}
	}

	// ldr r0, [pc, #4] decoded
	ldr := decode(t, asm.ModeARM, 0x2000, 0x04, 0x00, 0x9f, 0xe5)
	ea, err := p.EffectiveAddress(ldr, ldr.Args[1], st)
	if err != nil {
		t.Fatal(err)
	}
	if ea != 0x200c {
		t.Errorf("ldr r0, [pc, #4] = %#x, expected 0x200c", ea)
	}
}

func TestARMMemoryOperands(t *testing.T) {
	p := mustProcessor(t, asm.ModeARM, arch.Config{})
	inst := &asm.Instruction{Addr: 0x8000, Len: 4, Valid: true, Mode: asm.ModeARM, Op: "LDR", Cond: asm.ArmAL}
	st := armState("r0", 0x1000, "r1", 3, "r2", 0x80000000, "cpsr", 1<<29)

	tests := []struct {
		mem  asm.Mem
		want uint64
	}{
		{asm.Mem{Base: "r0", Disp: 8}, 0x1008},
		{asm.Mem{Base: "r0", Index: "r1", Scale: 1}, 0x1003},
		{asm.Mem{Base: "r0", Index: "r1", Scale: 1, Shift: asm.ShiftLSL, ShiftAmount: 2}, 0x100c},
		{asm.Mem{Base: "r0", Index: "r1", Scale: 1, Negative: true, Shift: asm.ShiftLSL, ShiftAmount: 2}, 0xff4},
		{asm.Mem{Base: "r0", Index: "r1", Scale: 1, PostIndex: true}, 0x1000},
		{asm.Mem{Base: "r0", Index: "r2", Scale: 1, Shift: asm.ShiftLSR, ShiftAmount: 32}, 0x1000},
		{asm.Mem{Base: "r0", Index: "r1", Scale: 1, Shift: asm.ShiftRRX, ShiftAmount: 1}, 0x80001001},
	}
	for _, tc := range tests {
		ea, err := p.EffectiveAddress(inst, tc.mem, st)
		if err != nil {
			t.Errorf("%v: %v", tc.mem, err)
			continue
		}
		if ea != tc.want {
			t.Errorf("%v = %#x, expected %#x", tc.mem, ea, tc.want)
		}
	}

	noFlags := armState("r0", 0x1000, "r1", 3)
	_, err := p.EffectiveAddress(inst, asm.Mem{Base: "r0", Index: "r1", Scale: 1, Shift: asm.ShiftRRX, ShiftAmount: 1}, noFlags)
	if !errors.Is(err, arch.ErrBadRegister) {
		t.Errorf("rrx without cpsr: got %v, expected ErrBadRegister", err)
	}
}

func TestARMShift(t *testing.T) {
	tests := []struct {
		x     uint32
		s     asm.Shift
		n     uint8
		carry bool
		want  uint32
	}{
		{0x1, asm.ShiftLSL, 4, false, 0x10},
		{0x80000000, asm.ShiftLSR, 32, false, 0},
		{0x80000000, asm.ShiftLSR, 31, false, 1},
		{0x80000000, asm.ShiftASR, 32, false, 0xffffffff},
		{0x40000000, asm.ShiftASR, 32, false, 0},
		{0x80000000, asm.ShiftASR, 4, false, 0xf8000000},
		{0x12345678, asm.ShiftROR, 8, false, 0x78123456},
		{0x3, asm.ShiftRRX, 1, true, 0x80000001},
		{0x3, asm.ShiftRRX, 1, false, 0x1},
		{0x3, asm.ShiftNone, 0, true, 0x3},
	}
	for _, tc := range tests {
		if got := arch.ARMShift(tc.x, tc.s, tc.n, tc.carry); got != tc.want {
			t.Errorf("ARMShift(%#x, %v, %d, %v) = %#x, expected %#x", tc.x, tc.s, tc.n, tc.carry, got, tc.want)
		}
	}
}

func TestSegmentBase(t *testing.T) {
	inst32 := &asm.Instruction{Addr: 0x1000, Len: 6, Valid: true, Mode: asm.ModeX86_32, Op: "MOV", Cond: asm.CondNone}
	p32 := mustProcessor(t, asm.ModeX86_32, arch.Config{})
	st32 := regs.NewBuilder(regs.ArchX86, 1).Uint("eax", regs.General, 32, 0x10).State()

	_, err := p32.EffectiveAddress(inst32, asm.Mem{Segment: "fs", Base: "eax"}, st32)
	if !errors.Is(err, arch.ErrSegmentBase) {
		t.Errorf("fs without fs_base: got %v, expected ErrSegmentBase", err)
	}
	_, err = p32.EffectiveAddress(inst32, asm.Abs{Segment: "ds", Addr: 0x20}, st32)
	if !errors.Is(err, arch.ErrSegmentBase) {
		t.Errorf("ds without ds_base in 32-bit mode: got %v, expected ErrSegmentBase", err)
	}

	p64 := mustProcessor(t, asm.ModeAMD64, arch.Config{})
	inst64 := &asm.Instruction{Addr: 0x1000, Len: 9, Valid: true, Mode: asm.ModeAMD64, Op: "MOV", Cond: asm.CondNone}
	st64 := amd64State("rax", 0x10, "fs_base", 0x7f0000)
	ea, err := p64.EffectiveAddress(inst64, asm.Abs{Segment: "fs", Addr: 0x28}, st64)
	if err != nil {
		t.Fatal(err)
	}
	if ea != 0x7f0028 {
		t.Errorf("fs:[0x28] = %#x, expected 0x7f0028", ea)
	}
	ea, err = p64.EffectiveAddress(inst64, asm.Mem{Segment: "ds", Base: "rax", Disp: 4}, st64)
	if err != nil {
		t.Fatal(err)
	}
	if ea != 0x14 {
		t.Errorf("ds:[rax+4] = %#x, expected 0x14", ea)
	}
	_, err = p64.EffectiveAddress(inst64, asm.Abs{Segment: "gs", Addr: 0x28}, st64)
	if !errors.Is(err, arch.ErrSegmentBase) {
		t.Errorf("gs without gs_base: got %v, expected ErrSegmentBase", err)
	}
}

func TestOperandErrors(t *testing.T) {
	p := mustProcessor(t, asm.ModeAMD64, arch.Config{})
	inst := &asm.Instruction{Addr: 0x1000, Len: 3, Valid: true, Mode: asm.ModeAMD64, Op: "MOV", Cond: asm.CondNone}
	st := amd64State("rax", 1)

	_, err := p.EffectiveAddress(inst, asm.Mem{Base: "rbx"}, st)
	var operr *arch.OperandError
	if !errors.As(err, &operr) || operr.Op != "rbx" || !errors.Is(err, arch.ErrBadRegister) {
		t.Errorf("missing rbx: got %v", err)
	}
	if _, err := p.EffectiveAddress(inst, asm.Imm(4), st); !errors.Is(err, arch.ErrBadOperand) {
		t.Errorf("immediate: got %v, expected ErrBadOperand", err)
	}
	armInst := &asm.Instruction{Addr: 0x1000, Len: 4, Valid: true, Mode: asm.ModeARM, Op: "LDR", Cond: asm.ArmAL}
	if _, err := p.EffectiveAddress(armInst, asm.Reg("r0"), st); !errors.Is(err, arch.ErrUnsupportedMode) {
		t.Errorf("arm instruction on x86: got %v, expected ErrUnsupportedMode", err)
	}
	pa := mustProcessor(t, asm.ModeARM, arch.Config{})
	if _, err := pa.EffectiveAddress(inst, asm.Reg("rax"), st); !errors.Is(err, arch.ErrUnsupportedMode) {
		t.Errorf("x86 instruction on arm: got %v, expected ErrUnsupportedMode", err)
	}
	if _, err := arch.New(asm.ModeInvalid, arch.Config{}); !errors.Is(err, arch.ErrUnsupportedMode) {
		t.Errorf("New(invalid): got %v", err)
	}

	// Sub registers are extracted from their parent.
	st = amd64State("rax", 0x1122334455667788)
	for _, tc := range []struct {
		reg  asm.Reg
		want uint64
	}{{"eax", 0x55667788}, {"ax", 0x7788}, {"ah", 0x77}, {"al", 0x88}} {
		v, err := p.EffectiveAddress(inst, tc.reg, st)
		if err != nil || v != tc.want {
			t.Errorf("%s = %#x, %v; expected %#x", tc.reg, v, err, tc.want)
		}
	}
}

func TestX86ConditionTable(t *testing.T) {
	flagBits := []uint64{1 << 0, 1 << 2, 1 << 6, 1 << 7, 1 << 11}
	for cc := asm.CondO; cc <= asm.CondG; cc++ {
		var sawTrue, sawFalse bool
		for combo := 0; combo < 1<<len(flagBits); combo++ {
			var fl uint64
			for i, b := range flagBits {
				if combo&(1<<uint(i)) != 0 {
					fl |= b
				}
			}
			taken := arch.X86Condition(fl, cc)
			if taken == arch.X86Condition(fl, cc^1) {
				t.Errorf("j%s and its negation agree for flags %#x", cc.Name(asm.ModeAMD64), fl)
			}
			if taken {
				sawTrue = true
			} else {
				sawFalse = true
			}
		}
		if !sawTrue || !sawFalse {
			t.Errorf("j%s is constant over all flag combinations", cc.Name(asm.ModeAMD64))
		}
	}

	for _, tc := range []struct {
		fl   uint64
		cc   asm.Cond
		want bool
	}{
		{1 << 6, asm.CondE, true},
		{0, asm.CondE, false},
		{1 << 0, asm.CondA, false},
		{0, asm.CondA, true},
		{1 << 7, asm.CondL, true},
		{1<<7 | 1<<11, asm.CondL, false},
		{1<<7 | 1<<11, asm.CondG, true},
		{1 << 2, asm.CondP, true},
	} {
		if got := arch.X86Condition(tc.fl, tc.cc); got != tc.want {
			t.Errorf("X86Condition(%#x, %s) = %v, expected %v", tc.fl, tc.cc.Name(asm.ModeAMD64), got, tc.want)
		}
	}
}

func TestARMConditionTable(t *testing.T) {
	for cc := asm.ArmEQ; cc <= asm.ArmNV; cc++ {
		var sawTrue, sawFalse bool
		for nzcv := uint32(0); nzcv < 16; nzcv++ {
			if arch.ARMCondition(nzcv<<28, cc) {
				sawTrue = true
			} else {
				sawFalse = true
			}
		}
		switch cc {
		case asm.ArmAL:
			if sawFalse {
				t.Errorf("al is false for some flags")
			}
		case asm.ArmNV:
			if sawTrue {
				t.Errorf("nv is true for some flags")
			}
		default:
			if !sawTrue || !sawFalse {
				t.Errorf("%s is constant over all flag combinations", cc.Name(asm.ModeARM))
			}
		}
	}
	if !arch.ARMCondition(1<<30, asm.ArmEQ) || arch.ARMCondition(1<<30, asm.ArmNE) {
		t.Errorf("eq/ne wrong with Z set")
	}
	if !arch.ARMCondition(1<<29, asm.ArmHI) || arch.ARMCondition(1<<29|1<<30, asm.ArmHI) {
		t.Errorf("hi wrong")
	}
	if !arch.ARMCondition(1<<31|1<<28, asm.ArmGE) || arch.ARMCondition(1<<31, asm.ArmGE) {
		t.Errorf("ge wrong")
	}
}

func TestCounterConditions(t *testing.T) {
	p := mustProcessor(t, asm.ModeAMD64, arch.Config{})
	for _, tc := range []struct {
		rcx, eflags int
		cc          asm.Cond
		want        bool
	}{
		{0, 0, asm.CondRCXZ, true},
		{1, 0, asm.CondRCXZ, false},
		{0x100000000, 0, asm.CondECXZ, true},
		{0x10000, 0, asm.CondCXZ, true},
		{1, 0, asm.CondLoop, false},
		{2, 0, asm.CondLoop, true},
		{2, 1 << 6, asm.CondLoopE, true},
		{2, 0, asm.CondLoopE, false},
		{2, 0, asm.CondLoopNE, true},
		{1, 0, asm.CondLoopNE, false},
	} {
		st := amd64State("rcx", tc.rcx, "eflags", tc.eflags)
		got, err := p.ConditionTaken(st, tc.cc)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("%s with rcx=%#x eflags=%#x: %v, expected %v", tc.cc.Name(asm.ModeAMD64), tc.rcx, tc.eflags, got, tc.want)
		}
	}
	if _, err := p.ConditionTaken(amd64State("rcx", 0), asm.CondE); !errors.Is(err, arch.ErrBadRegister) {
		t.Errorf("missing eflags: got %v", err)
	}
	if _, err := p.ConditionTaken(amd64State("eflags", 0), asm.Cond(40)); !errors.Is(err, arch.ErrBadCondition) {
		t.Errorf("bad condition: got %v", err)
	}
}

func TestThumbCompareBranch(t *testing.T) {
	p := mustProcessor(t, asm.ModeThumb, arch.Config{})
	// cbz r0, .+6
	cbz := decode(t, asm.ModeThumb, 0x1000, 0x08, 0xb1)
	for _, tc := range []struct {
		r0   int
		want bool
	}{{0, true}, {5, false}} {
		got, err := p.BranchTaken(cbz, armState("r0", tc.r0))
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("cbz with r0=%d: %v, expected %v", tc.r0, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		mode  asm.Mode
		bytes []byte
		cfg   arch.Config
		want  arch.Class
	}{
		{"mov eax, eax", asm.ModeX86_32, []byte{0x89, 0xc0}, arch.Config{}, arch.Filler},
		{"lea eax, [eax]", asm.ModeX86_32, []byte{0x8d, 0x00}, arch.Config{}, arch.Filler},
		{"nop", asm.ModeX86_32, []byte{0x90}, arch.Config{}, arch.Filler},
		{"nop dword [rax]", asm.ModeAMD64, []byte{0x0f, 0x1f, 0x00}, arch.Config{}, arch.Filler},
		{"int3", asm.ModeAMD64, []byte{0xcc}, arch.Config{}, arch.Filler},
		{"xchg ebx, ebx", asm.ModeX86_32, []byte{0x87, 0xdb}, arch.Config{}, arch.Other},
		{"xchg eax, eax", asm.ModeAMD64, []byte{0x87, 0xc0}, arch.Config{}, arch.Other},
		{"lea eax, [eax+4]", asm.ModeX86_32, []byte{0x8d, 0x40, 0x04}, arch.Config{}, arch.Other},
		{"mov eax, ebx", asm.ModeX86_32, []byte{0x89, 0xd8}, arch.Config{}, arch.Other},
		{"zeros", asm.ModeAMD64, []byte{0x00, 0x00}, arch.Config{}, arch.Other},
		{"zeros are filling", asm.ModeAMD64, []byte{0x00, 0x00}, arch.Config{ZerosAreFilling: true}, arch.Filler},
		{"lone zero", asm.ModeAMD64, []byte{0x00}, arch.Config{}, arch.Filler},
		{"call", asm.ModeAMD64, []byte{0xe8, 0x00, 0x00, 0x00, 0x00}, arch.Config{}, arch.Call},
		{"call rax", asm.ModeAMD64, []byte{0xff, 0xd0}, arch.Config{}, arch.Call},
		{"ret", asm.ModeAMD64, []byte{0xc3}, arch.Config{}, arch.Return},
		{"jmp", asm.ModeAMD64, []byte{0xeb, 0xfe}, arch.Config{}, arch.Jump},
		{"je", asm.ModeAMD64, []byte{0x74, 0x00}, arch.Config{}, arch.ConditionalJump},
		{"jrcxz", asm.ModeAMD64, []byte{0xe3, 0x00}, arch.Config{}, arch.ConditionalJump},
		{"loop", asm.ModeAMD64, []byte{0xe2, 0xfe}, arch.Config{}, arch.ConditionalJump},
		{"cmove", asm.ModeAMD64, []byte{0x0f, 0x44, 0xc1}, arch.Config{}, arch.ConditionalMove},
		{"syscall", asm.ModeAMD64, []byte{0x0f, 0x05}, arch.Config{}, arch.Syscall},
		{"sysenter", asm.ModeX86_32, []byte{0x0f, 0x34}, arch.Config{}, arch.Syscall},
		{"int 0x80", asm.ModeX86_32, []byte{0xcd, 0x80}, arch.Config{}, arch.Syscall},
		{"int 3", asm.ModeX86_32, []byte{0xcd, 0x03}, arch.Config{}, arch.Interrupt},
		{"into", asm.ModeX86_32, []byte{0xce}, arch.Config{}, arch.Interrupt},
		{"add", asm.ModeAMD64, []byte{0x48, 0x01, 0xd8}, arch.Config{}, arch.Other},

		{"arm mov r0, r0", asm.ModeARM, []byte{0x00, 0x00, 0xa0, 0xe1}, arch.Config{}, arch.Filler},
		{"arm nop", asm.ModeARM, []byte{0x00, 0xf0, 0x20, 0xe3}, arch.Config{}, arch.Filler},
		{"arm bl", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0xeb}, arch.Config{}, arch.Call},
		{"arm blx r3", asm.ModeARM, []byte{0x33, 0xff, 0x2f, 0xe1}, arch.Config{}, arch.Call},
		{"arm bx lr", asm.ModeARM, []byte{0x1e, 0xff, 0x2f, 0xe1}, arch.Config{}, arch.Return},
		{"arm pop {r4, pc}", asm.ModeARM, []byte{0x10, 0x80, 0xbd, 0xe8}, arch.Config{}, arch.Return},
		{"arm mov pc, lr", asm.ModeARM, []byte{0x0e, 0xf0, 0xa0, 0xe1}, arch.Config{}, arch.Return},
		{"arm b", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0xea}, arch.Config{}, arch.Jump},
		{"arm beq", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0x0a}, arch.Config{}, arch.ConditionalJump},
		{"arm ldr pc, [pc, #-4]", asm.ModeARM, []byte{0x04, 0xf0, 0x1f, 0xe5}, arch.Config{}, arch.Jump},
		{"arm svc", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0xef}, arch.Config{}, arch.Syscall},
		{"arm bkpt", asm.ModeARM, []byte{0x70, 0x00, 0x20, 0xe1}, arch.Config{}, arch.Interrupt},
		{"arm movne r0, r1", asm.ModeARM, []byte{0x01, 0x00, 0xa0, 0x11}, arch.Config{}, arch.ConditionalMove},
		{"arm add", asm.ModeARM, []byte{0x01, 0x00, 0x80, 0xe2}, arch.Config{}, arch.Other},

		{"thumb nop", asm.ModeThumb, []byte{0x00, 0xbf}, arch.Config{}, arch.Filler},
		{"thumb bx lr", asm.ModeThumb, []byte{0x70, 0x47}, arch.Config{}, arch.Return},
		{"thumb pop {pc}", asm.ModeThumb, []byte{0x00, 0xbd}, arch.Config{}, arch.Return},
		{"thumb cbz", asm.ModeThumb, []byte{0x08, 0xb1}, arch.Config{}, arch.ConditionalJump},
		{"thumb beq", asm.ModeThumb, []byte{0xfe, 0xd0}, arch.Config{}, arch.ConditionalJump},
		{"thumb b", asm.ModeThumb, []byte{0xfe, 0xe7}, arch.Config{}, arch.Jump},
		{"thumb bl", asm.ModeThumb, []byte{0x00, 0xf0, 0x00, 0xf8}, arch.Config{}, arch.Call},
		{"thumb svc", asm.ModeThumb, []byte{0x00, 0xdf}, arch.Config{}, arch.Syscall},
		{"thumb mov r0, r1", asm.ModeThumb, []byte{0x08, 0x46}, arch.Config{}, arch.Other},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := mustProcessor(t, tc.mode, tc.cfg)
			inst := decode(t, tc.mode, 0x1000, tc.bytes...)
			if got := p.Classify(inst); got != tc.want {
				t.Errorf("Classify(%s) = %v, expected %v", inst.Text(asm.IntelFlavor), got, tc.want)
			}
		})
	}
}

func TestCanStepOver(t *testing.T) {
	tests := []struct {
		name  string
		mode  asm.Mode
		bytes []byte
		want  bool
	}{
		{"call", asm.ModeAMD64, []byte{0xe8, 0x00, 0x00, 0x00, 0x00}, true},
		{"rep movsb", asm.ModeAMD64, []byte{0xf3, 0xa4}, true},
		{"repne scasb", asm.ModeAMD64, []byte{0xf2, 0xae}, true},
		{"mov", asm.ModeAMD64, []byte{0x89, 0xd8}, false},
		{"jmp", asm.ModeAMD64, []byte{0xeb, 0xfe}, false},
		{"invalid", asm.ModeAMD64, []byte{0x06}, false},

		{"arm bl", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0xeb}, true},
		{"arm add", asm.ModeARM, []byte{0x01, 0x00, 0x80, 0xe2}, true},
		{"arm svc", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0xef}, true},
		{"arm bkpt", asm.ModeARM, []byte{0x70, 0x00, 0x20, 0xe1}, true},
		{"arm b", asm.ModeARM, []byte{0x00, 0x00, 0x00, 0xea}, false},
		{"arm bx lr", asm.ModeARM, []byte{0x1e, 0xff, 0x2f, 0xe1}, false},
		{"arm add pc, pc, r0", asm.ModeARM, []byte{0x00, 0xf0, 0x8f, 0xe0}, false},
	}
	for _, tc := range tests {
		p := mustProcessor(t, tc.mode, arch.Config{})
		inst := decode(t, tc.mode, 0x1000, tc.bytes...)
		if got := p.CanStepOver(inst); got != tc.want {
			t.Errorf("%s: CanStepOver = %v, expected %v", tc.name, got, tc.want)
		}
	}
}
