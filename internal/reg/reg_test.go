package reg

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestLookupAliases(t *testing.T) {
	cases := []struct {
		name   string
		parent x86asm.Reg
		lo, hi int
	}{
		{"rax", x86asm.RAX, 0, 7},
		{"eax", x86asm.RAX, 0, 3},
		{"ax", x86asm.RAX, 0, 1},
		{"al", x86asm.RAX, 0, 0},
		{"ah", x86asm.RAX, 1, 1},
		{"bh", x86asm.RBX, 1, 1},
		{"sil", x86asm.RSI, 0, 0},
		{"spl", x86asm.RSP, 0, 0},
		{"r10d", x86asm.R10, 0, 3},
		{"r15b", x86asm.R15, 0, 0},
		{"rip", x86asm.RIP, 0, 7},
	}
	for _, c := range cases {
		a, ok := Lookup(c.name)
		if !ok {
			t.Errorf("Lookup(%q) not found", c.name)
			continue
		}
		if a.Parent != c.parent || a.Lo != c.lo || a.Hi != c.hi {
			t.Errorf("Lookup(%q) = %+v, want parent=%v [%d,%d]", c.name, a, c.parent, c.lo, c.hi)
		}
	}
	if _, ok := Lookup("xyz"); ok {
		t.Error("Lookup(xyz) should fail")
	}
}

func TestCtxIndex(t *testing.T) {
	order := []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rsp", "rbp"}
	for want, name := range order {
		a, _ := Lookup(name)
		got, ok := CtxIndex(a.Parent)
		if !ok || got != want {
			t.Errorf("CtxIndex(%s) = %d,%v want %d", name, got, ok, want)
		}
	}
	if _, ok := CtxIndex(x86asm.R8); ok {
		t.Error("r8 should have no context slot")
	}
}

func TestBits(t *testing.T) {
	for name, want := range map[string]int{"rax": 64, "eax": 32, "ax": 16, "al": 8, "ah": 8} {
		a, _ := Lookup(name)
		if a.Bits() != want {
			t.Errorf("%s bits = %d, want %d", name, a.Bits(), want)
		}
	}
}
