package symexec

import (
	"fmt"

	"symtrace/internal/expr"
	"symtrace/internal/reg"
)

// Register file: eight 64-bit slots in trace context order. Sub-register
// reads and writes are lowered to mask-and-shift expressions against the
// parent, except the ah/bh/ch/dh-into-concrete-parent path, which splices a
// hybrid so the untouched concrete bytes survive verbatim.

func (e *Engine) readReg(name string) (expr.ID, error) {
	a, ok := reg.Lookup(name)
	if !ok {
		return expr.None, fmt.Errorf("unknown register %q", name)
	}
	slot, ok := reg.CtxIndex(a.Parent)
	if !ok {
		return expr.None, fmt.Errorf("register %q has no trace context slot", name)
	}
	parent := e.ctx[slot]
	lo, hi := a.Lo*8, a.Hi*8+7

	if lo == 0 && hi == 63 {
		return parent, nil
	}
	if child, ok := e.arena.ChildAt(parent, lo, hi); ok {
		return child, nil
	}
	if lo == 0 {
		mask := e.arena.Const(expr.RangeMask(0, hi), 64)
		return e.arena.Op2(expr.And, parent, mask), nil
	}
	// High-byte alias: mask then shift down.
	mask := e.arena.Const(expr.RangeMask(lo, hi), 64)
	masked := e.arena.Op2(expr.And, parent, mask)
	shift := e.arena.Const(uint64(lo), 64)
	return e.arena.Op2(expr.Shr, masked, shift), nil
}

func (e *Engine) writeReg(name string, v expr.ID) error {
	a, ok := reg.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown register %q", name)
	}
	slot, ok := reg.CtxIndex(a.Parent)
	if !ok {
		return fmt.Errorf("register %q has no trace context slot", name)
	}
	parent := e.ctx[slot]
	lo, hi := a.Lo*8, a.Hi*8+7

	// A sub-register value is cut to the alias width unless it is a concrete
	// leaf that already fits, so a result that carried past the alias (add
	// al, 0x1 with al = 0xff) cannot reach the neighbouring bits.
	if hi-lo < 63 {
		width := expr.RangeMask(0, hi-lo)
		if e.arena.Kind(v) != expr.Concrete || !e.arena.IsLeaf(v) || e.arena.Bits(v)&^width != 0 {
			v = e.arena.Op2(expr.And, v, e.arena.Const(width, 64))
		}
	}

	switch {
	case lo == 0 && hi == 63:
		e.ctx[slot] = v
	case lo == 0:
		// Low alias: clear the target bits of the parent, or the new value
		// in. No bits outside the alias are altered.
		clrMask := e.arena.Const(^expr.RangeMask(0, hi), 64)
		kept := e.arena.Op2(expr.And, parent, clrMask)
		e.ctx[slot] = e.arena.Op2(expr.Or, kept, v)
	default:
		// ah/bh/ch/dh.
		if e.arena.Kind(parent) == expr.Concrete && e.arena.Kind(v) == expr.Symbol {
			spliced, err := e.splice(v, parent, lo, hi)
			if err != nil {
				return err
			}
			e.ctx[slot] = spliced
			return nil
		}
		shifted := e.arena.Op2(expr.Shl, v, e.arena.Const(uint64(lo), 64))
		clrMask := e.arena.Const(^expr.RangeMask(lo, hi), 64)
		kept := e.arena.Op2(expr.And, parent, clrMask)
		e.ctx[slot] = e.arena.Op2(expr.Or, kept, shifted)
	}
	return nil
}

// splice builds a value equal to `to` with bits [lo,hi] replaced by `from`.
// When `to` is concrete the surrounding bits become fresh concrete children,
// preserved verbatim; when `to` is already a hybrid with a child exactly at
// [lo,hi], that child is swapped out.
func (e *Engine) splice(from, to expr.ID, lo, hi int) (expr.ID, error) {
	switch e.arena.Kind(to) {
	case expr.Hybrid:
		old := e.arena.Children(to)
		kids := make([]expr.Child, 0, len(old))
		replaced := false
		for _, c := range old {
			if c.Lo == lo && c.Hi == hi {
				c.Val = from
				replaced = true
			}
			kids = append(kids, c)
		}
		if !replaced {
			return expr.None, fmt.Errorf("hybrid has no child at bits [%d,%d]", lo, hi)
		}
		return e.arena.NewHybrid(kids)
	case expr.Concrete:
		bits := e.arena.Bits(to)
		var kids []expr.Child
		if lo > 0 {
			low := e.arena.Const(expr.Extract(bits, 0, lo-1), lo)
			kids = append(kids, expr.Child{BitRange: expr.BitRange{Lo: 0, Hi: lo - 1}, Val: low})
		}
		kids = append(kids, expr.Child{BitRange: expr.BitRange{Lo: lo, Hi: hi}, Val: from})
		if hi < 63 {
			high := e.arena.Const(expr.Extract(bits, hi+1, 63), 63-hi)
			kids = append(kids, expr.Child{BitRange: expr.BitRange{Lo: hi + 1, Hi: 63}, Val: high})
		}
		return e.arena.NewHybrid(kids)
	default:
		return expr.None, fmt.Errorf("cannot splice bits [%d,%d] into %s value", lo, hi, e.arena.Kind(to))
	}
}
