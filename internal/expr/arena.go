// Package expr implements the symbolic expression DAG shared by the
// executor, the memory model and the register file. Values live in an
// append-only arena and are referenced by dense integer ids, so the graph
// carries no ownership cycles and equality is equality of ids.
package expr

import "fmt"

// ID references a value in an Arena. The zero Arena has no values; None is
// the null reference.
type ID int32

// None is the null value reference.
const None ID = -1

// Kind classifies a value node.
type Kind uint8

const (
	Symbol Kind = iota + 1
	Concrete
	Hybrid
)

func (k Kind) String() string {
	switch k {
	case Symbol:
		return "symbol"
	case Concrete:
		return "concrete"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Op enumerates the bit-vector operators. All carry standard
// two's-complement / bitwise semantics on 64-bit values; Imul stores its
// result modulo 2^64.
type Op uint8

const (
	opNone Op = iota
	Add
	Sub
	Imul
	Xor
	And
	Or
	Shl
	Shr
	Neg
	Inc
	Mov
)

var opNames = [...]string{
	opNone: "?",
	Add:    "add",
	Sub:    "sub",
	Imul:   "imul",
	Xor:    "xor",
	And:    "and",
	Or:     "or",
	Shl:    "shl",
	Shr:    "shr",
	Neg:    "neg",
	Inc:    "inc",
	Mov:    "mov",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "?"
}

// OpFromMnemonic maps an instruction mnemonic to its operator, if the
// operator set models it.
func OpFromMnemonic(m string) (Op, bool) {
	for op, name := range opNames {
		if Op(op) != opNone && name == m {
			return Op(op), true
		}
	}
	return opNone, false
}

// BitRange is a closed range of bit positions within a 64-bit word.
type BitRange struct {
	Lo, Hi int
}

// Child is one component of a hybrid value: the bits [Lo,Hi] of the word are
// held by Val.
type Child struct {
	BitRange
	Val ID
}

type node struct {
	kind  Kind
	width int
	bits  uint64 // concrete payload
	op    Op
	nargs int
	args  [3]ID
	kids  []Child // hybrid payload, sorted by Lo, disjoint, covering [0,63]
}

// Arena owns every value allocated during one analysis run.
type Arena struct {
	nodes []node
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

// Len returns the number of allocated values.
func (a *Arena) Len() int { return len(a.nodes) }

func (a *Arena) alloc(n node) ID {
	a.nodes = append(a.nodes, n)
	return ID(len(a.nodes) - 1)
}

func (a *Arena) at(id ID) *node {
	return &a.nodes[id]
}

// Sym allocates a fresh symbolic value of the given bit width.
func (a *Arena) Sym(width int) ID {
	return a.alloc(node{kind: Symbol, width: width})
}

// Const allocates a concrete value. Widths below 64 are zero-extended.
func (a *Arena) Const(bits uint64, width int) ID {
	return a.alloc(node{kind: Concrete, width: width, bits: bits})
}

// Op1 builds a unary operation node. The result is symbolic if the operand
// is.
func (a *Arena) Op1(op Op, v ID) ID {
	k := Concrete
	if a.isSymbolic(v) {
		k = Symbol
	}
	return a.alloc(node{kind: k, width: 64, op: op, nargs: 1, args: [3]ID{v, None, None}})
}

// Op2 builds a binary operation node.
func (a *Arena) Op2(op Op, v1, v2 ID) ID {
	k := Concrete
	if a.isSymbolic(v1) || a.isSymbolic(v2) {
		k = Symbol
	}
	return a.alloc(node{kind: k, width: 64, op: op, nargs: 2, args: [3]ID{v1, v2, None}})
}

// Op3 builds a ternary operation node.
func (a *Arena) Op3(op Op, v1, v2, v3 ID) ID {
	k := Concrete
	if a.isSymbolic(v1) || a.isSymbolic(v2) || a.isSymbolic(v3) {
		k = Symbol
	}
	return a.alloc(node{kind: k, width: 64, op: op, nargs: 3, args: [3]ID{v1, v2, v3}})
}

func (a *Arena) isSymbolic(v ID) bool {
	n := a.at(v)
	if n.kind == Symbol {
		return true
	}
	if n.kind == Hybrid {
		for _, c := range n.kids {
			if a.isSymbolic(c.Val) {
				return true
			}
		}
	}
	return false
}

// NewHybrid allocates a hybrid value from disjoint children. Children must
// be sorted by Lo and cover [0,63]; the constructor validates and freezes
// them.
func (a *Arena) NewHybrid(kids []Child) (ID, error) {
	if err := checkCover(kids); err != nil {
		return None, err
	}
	cp := make([]Child, len(kids))
	copy(cp, kids)
	return a.alloc(node{kind: Hybrid, width: 64, kids: cp}), nil
}

func checkCover(kids []Child) error {
	next := 0
	for _, c := range kids {
		if c.Lo != next || c.Hi < c.Lo {
			return fmt.Errorf("hybrid children must tile [0,63]: bad range [%d,%d] at bit %d", c.Lo, c.Hi, next)
		}
		next = c.Hi + 1
	}
	if next != 64 {
		return fmt.Errorf("hybrid children cover [0,%d], want [0,63]", next-1)
	}
	return nil
}

// Kind returns the node kind.
func (a *Arena) Kind(v ID) Kind { return a.at(v).kind }

// Width returns the declared bit width.
func (a *Arena) Width(v ID) int { return a.at(v).width }

// Bits returns the concrete payload of a Concrete value.
func (a *Arena) Bits(v ID) uint64 { return a.at(v).bits }

// IsLeaf reports whether the value has no operation.
func (a *Arena) IsLeaf(v ID) bool { return a.at(v).op == opNone }

// Operation returns the operator and operand ids of an operation node; ok is
// false for leaves.
func (a *Arena) Operation(v ID) (op Op, args []ID, ok bool) {
	n := a.at(v)
	if n.op == opNone {
		return opNone, nil, false
	}
	return n.op, n.args[:n.nargs], true
}

// Children returns the frozen child list of a Hybrid value.
func (a *Arena) Children(v ID) []Child {
	return a.at(v).kids
}

// ChildAt returns the hybrid child exactly covering [lo,hi], if present.
func (a *Arena) ChildAt(v ID, lo, hi int) (ID, bool) {
	for _, c := range a.at(v).kids {
		if c.Lo == lo && c.Hi == hi {
			return c.Val, true
		}
	}
	return None, false
}

// Extract masks bits [lo,hi] out of a concrete word and shifts them down.
func Extract(bits uint64, lo, hi int) uint64 {
	return (bits & RangeMask(lo, hi)) >> uint(lo)
}

// RangeMask returns the 64-bit mask with bits [lo,hi] set.
func RangeMask(lo, hi int) uint64 {
	width := hi - lo + 1
	if width >= 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << uint(width)) - 1) << uint(lo)
}

// Inputs collects the symbolic leaves reachable from v, in first-visit
// order.
func (a *Arena) Inputs(v ID) []ID {
	var (
		out  []ID
		seen = map[ID]bool{}
	)
	var walk func(ID)
	walk = func(id ID) {
		if id == None || seen[id] {
			return
		}
		seen[id] = true
		n := a.at(id)
		switch {
		case n.op != opNone:
			for _, arg := range n.args[:n.nargs] {
				walk(arg)
			}
		case n.kind == Symbol:
			out = append(out, id)
		case n.kind == Hybrid:
			for _, c := range n.kids {
				walk(c.Val)
			}
		}
	}
	walk(v)
	return out
}

// SymName returns the display name of a value used across all output
// formats.
func SymName(v ID) string { return fmt.Sprintf("sym%d", v) }
