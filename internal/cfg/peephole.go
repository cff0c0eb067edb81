package cfg

import "symtrace/internal/trace"

var inverse = map[string]string{
	"push": "pop", "pop": "push",
	"add": "sub", "sub": "add",
	"inc": "dec", "dec": "inc",
}

// cancels reports whether two adjacent records undo each other: push/pop of
// the same operand in either order, add/sub with identical operands, or
// inc/dec of the same operand.
func cancels(a, b *trace.Record) bool {
	if inverse[a.Mnemonic] != b.Mnemonic {
		return false
	}
	if len(a.OprStrs) != len(b.OprStrs) || len(a.OprStrs) == 0 {
		return false
	}
	for i := range a.OprStrs {
		if a.OprStrs[i] != b.OprStrs[i] {
			return false
		}
	}
	return true
}

// Peephole removes cancelling adjacent pairs in a single forward scan,
// checking each pair before consuming it and advancing by two on a match.
// The input is not modified.
func Peephole(records []*trace.Record) []*trace.Record {
	out := make([]*trace.Record, 0, len(records))
	for i := 0; i < len(records); {
		if i+1 < len(records) && cancels(records[i], records[i+1]) {
			i += 2
			continue
		}
		out = append(out, records[i])
		i++
	}
	return out
}
