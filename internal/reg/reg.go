// Package reg maps textual x86-64 register names to their canonical 64-bit
// parent and the byte range they alias within it.
package reg

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// CtxOrder is the fixed order in which the tracer records the pre-execution
// register context on every trace line.
var CtxOrder = [8]x86asm.Reg{
	x86asm.RAX, x86asm.RBX, x86asm.RCX, x86asm.RDX,
	x86asm.RSI, x86asm.RDI, x86asm.RSP, x86asm.RBP,
}

// Alias describes a register name as a byte range of its 64-bit parent.
// A 64-bit name covers bytes [0,7], a 32-bit name [0,3], a 16-bit name [0,1],
// an 8-bit low name [0,0] and an 8-bit high name (ah/bh/ch/dh) [1,1].
type Alias struct {
	Parent x86asm.Reg
	Lo, Hi int
}

// Bits returns the alias width in bits.
func (a Alias) Bits() int { return (a.Hi - a.Lo + 1) * 8 }

var aliases = map[string]Alias{}

func init() {
	type family struct {
		parent                x86asm.Reg
		n64, n32, n16, n8, nh string
	}
	fams := []family{
		{x86asm.RAX, "rax", "eax", "ax", "al", "ah"},
		{x86asm.RBX, "rbx", "ebx", "bx", "bl", "bh"},
		{x86asm.RCX, "rcx", "ecx", "cx", "cl", "ch"},
		{x86asm.RDX, "rdx", "edx", "dx", "dl", "dh"},
		{x86asm.RSI, "rsi", "esi", "si", "sil", ""},
		{x86asm.RDI, "rdi", "edi", "di", "dil", ""},
		{x86asm.RSP, "rsp", "esp", "sp", "spl", ""},
		{x86asm.RBP, "rbp", "ebp", "bp", "bpl", ""},
		{x86asm.R8, "r8", "r8d", "r8w", "r8b", ""},
		{x86asm.R9, "r9", "r9d", "r9w", "r9b", ""},
		{x86asm.R10, "r10", "r10d", "r10w", "r10b", ""},
		{x86asm.R11, "r11", "r11d", "r11w", "r11b", ""},
		{x86asm.R12, "r12", "r12d", "r12w", "r12b", ""},
		{x86asm.R13, "r13", "r13d", "r13w", "r13b", ""},
		{x86asm.R14, "r14", "r14d", "r14w", "r14b", ""},
		{x86asm.R15, "r15", "r15d", "r15w", "r15b", ""},
	}
	for _, f := range fams {
		aliases[f.n64] = Alias{f.parent, 0, 7}
		aliases[f.n32] = Alias{f.parent, 0, 3}
		aliases[f.n16] = Alias{f.parent, 0, 1}
		aliases[f.n8] = Alias{f.parent, 0, 0}
		if f.nh != "" {
			aliases[f.nh] = Alias{f.parent, 1, 1}
		}
	}
	aliases["rip"] = Alias{x86asm.RIP, 0, 7}
}

// Lookup resolves a register name (case-insensitive) to its alias record.
func Lookup(name string) (Alias, bool) {
	a, ok := aliases[strings.ToLower(name)]
	return a, ok
}

// IsGPR reports whether name denotes an integer register of any width.
func IsGPR(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// CtxIndex returns the trace context slot of a canonical 64-bit register,
// or false for registers the tracer does not record (r8-r15, rip).
func CtxIndex(r x86asm.Reg) (int, bool) {
	for i, c := range CtxOrder {
		if c == r {
			return i, true
		}
	}
	return 0, false
}

// Name returns the lowercase name of a canonical register.
func Name(r x86asm.Reg) string {
	return strings.ToLower(r.String())
}
