package expr

import (
	"fmt"
	"strings"
)

// Format renders v as a parenthesized prefix formula, e.g.
// "(xor (and sym3 0xff) 0x42)". Hybrid values render as their id.
func (a *Arena) Format(v ID) string {
	var b strings.Builder
	a.format(&b, v, false)
	return b.String()
}

// FormatDeep renders v like Format but expands hybrid values into their
// per-range children, for debugging register dumps.
func (a *Arena) FormatDeep(v ID) string {
	var b strings.Builder
	a.format(&b, v, true)
	return b.String()
}

func (a *Arena) format(b *strings.Builder, v ID, deep bool) {
	if v == None {
		b.WriteString("<nil>")
		return
	}
	n := a.at(v)
	if n.op != opNone {
		b.WriteByte('(')
		b.WriteString(n.op.String())
		for _, arg := range n.args[:n.nargs] {
			b.WriteByte(' ')
			a.format(b, arg, deep)
		}
		b.WriteByte(')')
		return
	}
	switch n.kind {
	case Concrete:
		fmt.Fprintf(b, "0x%x", n.bits)
	case Symbol:
		b.WriteString(SymName(v))
	case Hybrid:
		if !deep {
			fmt.Fprintf(b, "hyb%d", v)
			return
		}
		fmt.Fprintf(b, "[hyb%d", v)
		for _, c := range n.kids {
			fmt.Fprintf(b, " [%d,%d]:", c.Lo, c.Hi)
			a.format(b, c.Val, deep)
		}
		b.WriteByte(']')
	}
}
