// Package trace holds the instruction-trace data model: one Record per
// executed instruction, carrying the pre-execution register context and the
// effective addresses observed by the tracer.
package trace

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"symtrace/internal/operand"
)

// NoAccess is the sentinel some tracer builds write for an absent memory
// access; older builds write plain 0.
const NoAccess = ^uint64(0)

// Record is one executed instruction from the trace. Operands and the
// parameter sets are derived fields, populated by DecodeOperands and the
// slicer's parameter builder; the rest is immutable after parsing.
type Record struct {
	ID       int
	Addr     string // address as it appeared in the trace
	AddrN    uint64
	Disasm   string
	Mnemonic string
	OprStrs  []string
	Oprs     []operand.Operand

	CtxReg [8]uint64 // rax,rbx,rcx,rdx,rsi,rdi,rsp,rbp before execution
	RAddr  uint64
	WAddr  uint64

	Src, Dst   []Parameter
	Src2, Dst2 []Parameter
}

// noEffect lists mnemonics that carry no data-dependency edges: branches,
// calls, returns and flag-only comparisons. The executor advances past them
// without touching state and the slicer builds no parameters for them.
var noEffect = map[string]bool{
	"test": true, "jmp": true, "jz": true, "jbe": true, "jo": true,
	"jno": true, "js": true, "jns": true, "je": true, "jne": true,
	"jnz": true, "jb": true, "jnae": true, "jc": true, "jnb": true,
	"jae": true, "jnc": true, "jna": true, "ja": true, "jnbe": true,
	"jl": true, "jnge": true, "jge": true, "jnl": true, "jle": true,
	"jng": true, "jg": true, "jnle": true, "jp": true, "jpe": true,
	"jnp": true, "jpo": true, "jcxz": true, "jecxz": true, "jrcxz": true,
	"ret": true, "cmp": true, "call": true,
}

// NoEffect reports whether a mnemonic is in the shared skip set.
func NoEffect(mnemonic string) bool { return noEffect[mnemonic] }

// HasRead reports whether the record observed a memory read.
func (r *Record) HasRead() bool { return r.RAddr != 0 && r.RAddr != NoAccess }

// HasWrite reports whether the record observed a memory write.
func (r *Record) HasWrite() bool { return r.WAddr != 0 && r.WAddr != NoAccess }

// OperandCount returns the number of operands in the disassembly.
func (r *Record) OperandCount() int { return len(r.OprStrs) }

// DecodeOperands fills in the decoded operand forms for every record.
func DecodeOperands(records []*Record) {
	for _, r := range records {
		r.Oprs = make([]operand.Operand, len(r.OprStrs))
		for i, s := range r.OprStrs {
			r.Oprs[i] = operand.Decode(s)
		}
	}
}

// ParamKind classifies a def/use atom.
type ParamKind uint8

const (
	ParamImm ParamKind = iota + 1
	ParamReg
	ParamMem
)

// Parameter is a byte-granular def/use atom. For ParamReg, Reg is the
// canonical 64-bit parent and Index the byte position within it; for
// ParamMem, Index is a single byte address; for ParamImm, Index holds the
// immediate value itself.
type Parameter struct {
	Kind  ParamKind
	Reg   x86asm.Reg
	Index uint64
}

// IsImm reports whether the parameter is an immediate.
func (p Parameter) IsImm() bool { return p.Kind == ParamImm }

// Compare orders parameters by (kind, register, index).
func (p Parameter) Compare(o Parameter) int {
	switch {
	case p.Kind != o.Kind:
		if p.Kind < o.Kind {
			return -1
		}
		return 1
	case p.Reg != o.Reg:
		if p.Reg < o.Reg {
			return -1
		}
		return 1
	case p.Index != o.Index:
		if p.Index < o.Index {
			return -1
		}
		return 1
	}
	return 0
}

// String renders the parameter in the trace dump notation.
func (p Parameter) String() string {
	switch p.Kind {
	case ParamImm:
		return fmt.Sprintf("(IMM 0x%x)", p.Index)
	case ParamReg:
		return fmt.Sprintf("(REG %s.%d)", regName(p.Reg), p.Index)
	case ParamMem:
		return fmt.Sprintf("(MEM 0x%x)", p.Index)
	default:
		return "(UNK)"
	}
}

func regName(r x86asm.Reg) string {
	switch r {
	case x86asm.RAX:
		return "rax"
	case x86asm.RBX:
		return "rbx"
	case x86asm.RCX:
		return "rcx"
	case x86asm.RDX:
		return "rdx"
	case x86asm.RSI:
		return "rsi"
	case x86asm.RDI:
		return "rdi"
	case x86asm.RSP:
		return "rsp"
	case x86asm.RBP:
		return "rbp"
	}
	return r.String()
}
