package symexec

import (
	"sort"

	"symtrace/internal/expr"
)

// AddrRange is a closed byte interval used as a key in the memory model.
type AddrRange struct {
	Lo, Hi uint64
}

func (r AddrRange) contains(o AddrRange) bool { return r.Lo <= o.Lo && r.Hi >= o.Hi }
func (r AddrRange) overlaps(o AddrRange) bool { return r.Lo <= o.Hi && o.Lo <= r.Hi }

// readMem resolves an n-byte read at addr against the memory model:
// exact hit, fresh symbol for untouched memory, or a mask-and-shift
// extraction from a containing range. A partial overlap is unsupported.
func (e *Engine) readMem(addr uint64, nbyte int) (expr.ID, error) {
	r := AddrRange{addr, addr + uint64(nbyte) - 1}

	if v, ok := e.mem[r]; ok {
		return v, nil
	}

	overlapping := e.overlapping(r)
	if len(overlapping) == 0 {
		v := e.arena.Sym(nbyte * 8)
		e.mem[r] = v
		e.memInput[v] = r
		return v, nil
	}

	if len(overlapping) == 1 && overlapping[0].contains(r) {
		s := overlapping[0]
		shiftBytes := r.Lo - s.Lo
		lo := int(shiftBytes) * 8
		hi := int(r.Hi-s.Lo)*8 + 7
		mask := e.arena.Const(expr.RangeMask(lo, hi), 64)
		masked := e.arena.Op2(expr.And, e.mem[s], mask)
		shift := e.arena.Const(shiftBytes*8, 64)
		return e.arena.Op2(expr.Shr, masked, shift), nil
	}

	return expr.None, &AliasingError{ID: e.curID(), Lo: r.Lo, Hi: r.Hi}
}

// writeMem stores an n-byte value at addr: replacing an exact range,
// claiming fresh memory, swallowing fully-contained ranges, or merging into
// a containing range. A partial overlap is unsupported.
func (e *Engine) writeMem(addr uint64, nbyte int, v expr.ID) error {
	r := AddrRange{addr, addr + uint64(nbyte) - 1}

	if _, ok := e.mem[r]; ok {
		e.mem[r] = v
		return nil
	}

	overlapping := e.overlapping(r)
	if len(overlapping) == 0 {
		e.mem[r] = v
		return nil
	}

	if len(overlapping) == 1 && overlapping[0].contains(r) {
		s := overlapping[0]
		shiftBytes := r.Lo - s.Lo
		lo := int(shiftBytes) * 8
		hi := int(r.Hi-s.Lo)*8 + 7
		clrMask := e.arena.Const(^expr.RangeMask(lo, hi), 64)
		kept := e.arena.Op2(expr.And, e.mem[s], clrMask)
		shifted := e.arena.Op2(expr.Shl, v, e.arena.Const(shiftBytes*8, 64))
		e.mem[s] = e.arena.Op2(expr.Or, kept, shifted)
		return nil
	}

	// Superset write: every overlapped range must be fully contained.
	for _, s := range overlapping {
		if !r.contains(s) {
			return &AliasingError{ID: e.curID(), Lo: r.Lo, Hi: r.Hi}
		}
	}
	for _, s := range overlapping {
		delete(e.mem, s)
	}
	e.mem[r] = v
	return nil
}

func (e *Engine) overlapping(r AddrRange) []AddrRange {
	var out []AddrRange
	for k := range e.mem {
		if k.overlaps(r) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lo != out[j].Lo {
			return out[i].Lo < out[j].Lo
		}
		return out[i].Hi < out[j].Hi
	})
	return out
}

// sortedRanges returns the memory keys in address order for deterministic
// output.
func (e *Engine) sortedRanges() []AddrRange {
	out := make([]AddrRange, 0, len(e.mem))
	for k := range e.mem {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Lo != out[j].Lo {
			return out[i].Lo < out[j].Lo
		}
		return out[i].Hi < out[j].Hi
	})
	return out
}
