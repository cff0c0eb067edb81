package symexec

import (
	"fmt"
	"io"
	"sort"

	"symtrace/internal/expr"
	"symtrace/internal/reg"
)

// RegValue returns the current value of a canonical 64-bit register.
func (e *Engine) RegValue(name string) (expr.ID, bool) {
	a, ok := reg.Lookup(name)
	if !ok || a.Lo != 0 || a.Hi != 7 {
		return expr.None, false
	}
	slot, ok := reg.CtxIndex(a.Parent)
	if !ok {
		return expr.None, false
	}
	v := e.ctx[slot]
	return v, v != expr.None
}

// Formula renders the formula of a register as prefix text.
func (e *Engine) Formula(name string) (string, error) {
	v, ok := e.RegValue(name)
	if !ok {
		return "", fmt.Errorf("no formula for register %q", name)
	}
	return fmt.Sprintf("%s =\n%s", expr.SymName(v), e.arena.Format(v)), nil
}

// WriteRegFormula writes one register's formula and its input symbols.
func (e *Engine) WriteRegFormula(w io.Writer, name string) error {
	v, ok := e.RegValue(name)
	if !ok {
		return fmt.Errorf("no formula for register %q", name)
	}
	fmt.Fprintf(w, "%s: %s =\n%s\n", name, expr.SymName(v), e.arena.Format(v))
	e.writeInputs(w, v)
	return nil
}

// WriteAllRegFormulas dumps every register formula with its input symbols.
func (e *Engine) WriteAllRegFormulas(w io.Writer) {
	for _, r := range reg.CtxOrder {
		_ = e.WriteRegFormula(w, reg.Name(r))
		fmt.Fprintln(w)
	}
}

// WriteAllMemFormulas dumps the formula held by every memory range, in
// address order.
func (e *Engine) WriteAllMemFormulas(w io.Writer) {
	for _, r := range e.sortedRanges() {
		v := e.mem[r]
		fmt.Fprintf(w, "[0x%x,0x%x]: %s =\n%s\n\n", r.Lo, r.Hi, expr.SymName(v), e.arena.Format(v))
	}
}

// DumpReg writes the hybrid-aware deep rendering of one register.
func (e *Engine) DumpReg(w io.Writer, name string) error {
	v, ok := e.RegValue(name)
	if !ok {
		return fmt.Errorf("no formula for register %q", name)
	}
	fmt.Fprintf(w, "reg %s =\n%s\n", name, e.arena.FormatDeep(v))
	return nil
}

func (e *Engine) writeInputs(w io.Writer, v expr.ID) {
	inputs := e.arena.Inputs(v)
	fmt.Fprintf(w, "%d input symbols:", len(inputs))
	for _, in := range inputs {
		fmt.Fprintf(w, " %s", expr.SymName(in))
	}
	fmt.Fprintln(w)
}

// WriteInputOrigins lists every input symbol feeding v together with where
// it came from: a register slot or a memory range.
func (e *Engine) WriteInputOrigins(w io.Writer, v expr.ID) {
	for _, in := range e.arena.Inputs(v) {
		if r, ok := e.memInput[in]; ok {
			fmt.Fprintf(w, "%s: [0x%x, 0x%x]\n", expr.SymName(in), r.Lo, r.Hi)
		} else if rg, ok := e.regInput[in]; ok {
			fmt.Fprintf(w, "%s: %s\n", expr.SymName(in), reg.Name(rg))
		} else {
			fmt.Fprintf(w, "%s: (derived)\n", expr.SymName(in))
		}
	}
}

// ShowMemInput lists every memory range that became an input symbol.
func (e *Engine) ShowMemInput(w io.Writer) {
	type entry struct {
		v expr.ID
		r AddrRange
	}
	entries := make([]entry, 0, len(e.memInput))
	for v, r := range e.memInput {
		entries = append(entries, entry{v, r})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].r.Lo < entries[j].r.Lo })
	fmt.Fprintln(w, "Inputs in memory:")
	for _, en := range entries {
		fmt.Fprintf(w, "%s: [0x%x, 0x%x]\n", expr.SymName(en.v), en.r.Lo, en.r.Hi)
	}
}

// MemInputRange reports the memory range behind an input symbol.
func (e *Engine) MemInputRange(v expr.ID) (AddrRange, bool) {
	r, ok := e.memInput[v]
	return r, ok
}

// RegInputFor reports the register behind an input symbol.
func (e *Engine) RegInputFor(v expr.ID) (string, bool) {
	r, ok := e.regInput[v]
	if !ok {
		return "", false
	}
	return reg.Name(r), true
}

// Conexec concretely evaluates a formula under an input assignment. Every
// symbolic input of f must be bound.
func (e *Engine) Conexec(f expr.ID, env expr.Env) (uint64, error) {
	for _, in := range e.arena.Inputs(f) {
		if _, ok := env[in]; !ok {
			return 0, fmt.Errorf("input %s has no assignment", expr.SymName(in))
		}
	}
	return e.arena.Eval(f, env)
}
