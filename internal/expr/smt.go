package expr

import (
	"bufio"
	"fmt"
	"io"
)

// SMT-LIB2 / QF_BV emission. The analysis itself never depends on this; it
// exists so formulas can be handed to an external solver.

// WriteSMT emits a complete SMT-LIB2 script declaring every symbolic input
// of root as a 64-bit bit-vector constant and binding the formula to `out`.
func (a *Arena) WriteSMT(w io.Writer, root ID) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "(set-logic QF_BV)")
	for _, in := range a.Inputs(root) {
		fmt.Fprintf(bw, "(declare-const %s (_ BitVec 64))\n", SymName(in))
	}
	bw.WriteString("(define-fun out () (_ BitVec 64) ")
	a.writeSMTExpr(bw, root, "")
	bw.WriteString(")\n(check-sat)\n")
	return bw.Flush()
}

// WriteCheckEq emits a satisfiability query that holds exactly when f1 and
// f2 can differ under the given input-symbol correspondence: an `unsat`
// answer proves the two formulas equivalent.
func (a *Arena) WriteCheckEq(w io.Writer, f1, f2 ID, symmap map[ID]ID) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "(set-logic QF_BV)")
	for s1, s2 := range symmap {
		fmt.Fprintf(bw, "(declare-const %sa (_ BitVec 64))\n", SymName(s1))
		fmt.Fprintf(bw, "(declare-const %sb (_ BitVec 64))\n", SymName(s2))
	}
	for s1, s2 := range symmap {
		fmt.Fprintf(bw, "(assert (= %sa %sb))\n", SymName(s1), SymName(s2))
	}
	bw.WriteString("(assert (not (= ")
	a.writeSMTExpr(bw, f1, "a")
	bw.WriteString(" ")
	a.writeSMTExpr(bw, f2, "b")
	bw.WriteString(")))\n(check-sat)\n(get-model)\n")
	return bw.Flush()
}

var smtOps = map[Op]string{
	Add:  "bvadd",
	Sub:  "bvsub",
	Imul: "bvmul",
	Xor:  "bvxor",
	And:  "bvand",
	Or:   "bvor",
	Shl:  "bvshl",
	Shr:  "bvlshr",
}

func (a *Arena) writeSMTExpr(bw *bufio.Writer, v ID, postfix string) {
	n := a.at(v)
	if n.op != opNone {
		switch n.op {
		case Neg:
			bw.WriteString("(bvneg ")
			a.writeSMTExpr(bw, n.args[0], postfix)
			bw.WriteString(")")
		case Inc:
			bw.WriteString("(bvadd ")
			a.writeSMTExpr(bw, n.args[0], postfix)
			bw.WriteString(" #x0000000000000001)")
		case Mov:
			a.writeSMTExpr(bw, n.args[0], postfix)
		default:
			fmt.Fprintf(bw, "(%s ", smtOps[n.op])
			a.writeSMTExpr(bw, n.args[0], postfix)
			bw.WriteString(" ")
			a.writeSMTExpr(bw, n.args[1], postfix)
			bw.WriteString(")")
		}
		return
	}
	switch n.kind {
	case Concrete:
		fmt.Fprintf(bw, "#x%016x", n.bits)
	case Symbol:
		fmt.Fprintf(bw, "%s%s", SymName(v), postfix)
	case Hybrid:
		// Children tile [0,63]; concat takes high bits first.
		bw.WriteString("(concat")
		kids := n.kids
		for i := len(kids) - 1; i >= 0; i-- {
			bw.WriteString(" ")
			a.writeSMTSlice(bw, kids[i], postfix)
		}
		bw.WriteString(")")
	}
}

// writeSMTSlice narrows a child to its range width so hybrid concat yields
// exactly 64 bits.
func (a *Arena) writeSMTSlice(bw *bufio.Writer, c Child, postfix string) {
	width := c.Hi - c.Lo + 1
	if width == 64 {
		a.writeSMTExpr(bw, c.Val, postfix)
		return
	}
	fmt.Fprintf(bw, "((_ extract %d 0) ", width-1)
	a.writeSMTExpr(bw, c.Val, postfix)
	bw.WriteString(")")
}
