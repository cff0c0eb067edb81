package slice

import (
	"fmt"
	"sort"

	"symtrace/internal/trace"
)

// worklist is a membership set of parameters.
type worklist map[trace.Parameter]bool

func (w worklist) addAll(ps []trace.Parameter) {
	for _, p := range ps {
		w[p] = true
	}
}

func (w worklist) addNonImm(ps []trace.Parameter) {
	for _, p := range ps {
		if !p.IsImm() {
			w[p] = true
		}
	}
}

// removeHits deletes every parameter of ps present in w and reports whether
// any was.
func (w worklist) removeHits(ps []trace.Parameter) bool {
	hit := false
	for _, p := range ps {
		if w[p] {
			hit = true
			delete(w, p)
		}
	}
	return hit
}

// Backward computes the backward data-dependency slice for the record at
// target (negative means the last record). The worklist starts from the
// target's sources; walking the trace in reverse, an instruction joins the
// slice when one of its destinations intersects the worklist, which then
// absorbs its non-immediate sources. For xchg the two dependency edges
// (dst<-src and dst2<-src2) are followed independently. The slice is
// returned in original trace order, target included.
func Backward(records []*trace.Record, target int) ([]*trace.Record, error) {
	out, _, err := BackwardWithResidue(records, target)
	return out, err
}

// BackwardWithResidue is Backward plus the parameters left in the worklist
// when the walk reaches the top of the trace: the slice's external inputs,
// in parameter order.
func BackwardWithResidue(records []*trace.Record, target int) ([]*trace.Record, []trace.Parameter, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty trace")
	}
	if target < 0 {
		target = len(records) - 1
	}
	if target >= len(records) {
		return nil, nil, fmt.Errorf("target %d out of range (%d records)", target, len(records))
	}

	tgt := records[target]
	wl := worklist{}
	wl.addAll(tgt.Src)
	wl.addAll(tgt.Src2)

	rev := []*trace.Record{tgt}

	for i := target - 1; i >= 0; i-- {
		rec := records[i]
		if trace.NoEffect(rec.Mnemonic) {
			continue
		}
		if len(rec.Dst) == 0 && len(rec.Dst2) == 0 {
			continue
		}

		if rec.Mnemonic == "xchg" {
			// Two value flows: dst took src's value, dst2 took src2's.
			depMain := wl.removeHits(rec.Dst)
			depCross := wl.removeHits(rec.Dst2)
			if depMain {
				wl.addNonImm(rec.Src)
			}
			if depCross {
				wl.addNonImm(rec.Src2)
			}
			if depMain || depCross {
				rev = append(rev, rec)
			}
			continue
		}

		if wl.removeHits(rec.Dst) {
			wl.addNonImm(rec.Src)
			wl.addNonImm(rec.Src2)
			rev = append(rev, rec)
		}
	}

	out := make([]*trace.Record, len(rev))
	for i, r := range rev {
		out[len(rev)-1-i] = r
	}
	return out, sortedParams(wl), nil
}

func sortedParams(wl worklist) []trace.Parameter {
	out := make([]trace.Parameter, 0, len(wl))
	for p := range wl {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
