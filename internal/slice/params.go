// Package slice builds byte-granular def/use parameter sets for each trace
// record and computes backward data-dependency slices over them.
package slice

import (
	"fmt"
	"strconv"
	"strings"

	"symtrace/internal/operand"
	"symtrace/internal/reg"
	"symtrace/internal/trace"
)

// BuildParameters populates Src/Dst (and Src2/Dst2 for xchg) on every
// non-skipped record. A register mention of width w expands to w/8 byte
// entries against its 64-bit parent; a memory access of n bytes expands to n
// single-byte entries. Unknown shapes are fatal: dropping parameters would
// silently break the slicer's soundness.
func BuildParameters(records []*trace.Record) error {
	for _, rec := range records {
		if trace.NoEffect(rec.Mnemonic) {
			continue
		}
		if err := buildOne(rec); err != nil {
			return err
		}
	}
	return nil
}

func buildOne(rec *trace.Record) error {
	switch len(rec.Oprs) {
	case 0:
		return nil
	case 1:
		return buildOneOp(rec, &rec.Oprs[0])
	case 2:
		return buildTwoOp(rec, &rec.Oprs[0], &rec.Oprs[1])
	case 3:
		return buildThreeOp(rec, &rec.Oprs[0], &rec.Oprs[1], &rec.Oprs[2])
	default:
		return fmt.Errorf("instruction %d: %s has %d operands", rec.ID, rec.Mnemonic, len(rec.Oprs))
	}
}

func buildOneOp(rec *trace.Record, op0 *operand.Operand) error {
	switch rec.Mnemonic {
	case "push":
		// A 64-bit push always writes 8 bytes.
		switch op0.Kind {
		case operand.Imm:
			p, err := immParam(rec, op0.Fields[0])
			if err != nil {
				return err
			}
			rec.Src = append(rec.Src, p)
			rec.Dst = appendMem(rec.Dst, rec.WAddr, 8)
		case operand.Reg:
			src, err := regParams(rec, op0.Fields[0])
			if err != nil {
				return err
			}
			rec.Src = append(rec.Src, src...)
			rec.Dst = appendMem(rec.Dst, rec.WAddr, op0.Bit/8)
		case operand.Mem:
			n := op0.Bit / 8
			rec.Src = appendMem(rec.Src, rec.RAddr, n)
			rec.Dst = appendMem(rec.Dst, rec.WAddr, n)
		default:
			return shapeErr(rec, "push operand is not imm/reg/mem")
		}
	case "pop":
		switch op0.Kind {
		case operand.Reg:
			rec.Src = appendMem(rec.Src, rec.RAddr, op0.Bit/8)
			dst, err := regParams(rec, op0.Fields[0])
			if err != nil {
				return err
			}
			rec.Dst = append(rec.Dst, dst...)
		case operand.Mem:
			n := op0.Bit / 8
			rec.Src = appendMem(rec.Src, rec.RAddr, n)
			rec.Dst = appendMem(rec.Dst, rec.WAddr, n)
		default:
			return shapeErr(rec, "pop operand is not reg/mem")
		}
	default:
		// Single-operand updates: the operand is both source and
		// destination.
		switch op0.Kind {
		case operand.Reg:
			ps, err := regParams(rec, op0.Fields[0])
			if err != nil {
				return err
			}
			rec.Src = append(rec.Src, ps...)
			rec.Dst = append(rec.Dst, ps...)
		case operand.Mem:
			n := op0.Bit / 8
			rec.Src = appendMem(rec.Src, rec.RAddr, n)
			rec.Dst = appendMem(rec.Dst, rec.WAddr, n)
		default:
			return shapeErr(rec, rec.Mnemonic+" operand is not reg/mem")
		}
	}
	return nil
}

func buildTwoOp(rec *trace.Record, op0, op1 *operand.Operand) error {
	switch rec.Mnemonic {
	case "mov", "movzx":
		if err := addSource(rec, op1); err != nil {
			return err
		}
		return addDest(rec, op0)
	case "lea":
		return buildLea(rec, op0, op1)
	case "xchg":
		return buildXchg(rec, op0, op1)
	default:
		// Generic 2-operand ALU: op1 is a source; op0 is both source and
		// destination.
		if err := addSource(rec, op1); err != nil {
			return err
		}
		switch op0.Kind {
		case operand.Reg:
			ps, err := regParams(rec, op0.Fields[0])
			if err != nil {
				return err
			}
			rec.Src = append(rec.Src, ps...)
			rec.Dst = append(rec.Dst, ps...)
		case operand.Mem:
			n := op0.Bit / 8
			rec.Src = appendMem(rec.Src, rec.RAddr, n)
			rec.Dst = appendMem(rec.Dst, rec.WAddr, n)
		default:
			return shapeErr(rec, rec.Mnemonic+" destination is not reg/mem")
		}
		return nil
	}
}

// buildLea pulls dependencies from the register components of the
// addressing expression only; the displacement is an immediate and
// contributes no parameter, and no memory is accessed.
func buildLea(rec *trace.Record, op0, op1 *operand.Operand) error {
	if op0.Kind != operand.Reg || op1.Kind != operand.Mem {
		return shapeErr(rec, "lea operands are not reg, mem")
	}
	var srcRegs []string
	f := op1.Fields
	switch op1.Tag {
	case 1:
		// Pure displacement: no register sources.
	case 2, 4:
		srcRegs = []string{f[0]}
	case 3, 6:
		srcRegs = []string{f[0]}
	case 5, 7:
		srcRegs = []string{f[0], f[1]}
	default:
		return shapeErr(rec, fmt.Sprintf("lea addressing tag %d not handled", op1.Tag))
	}
	for _, name := range srcRegs {
		ps, err := regParams(rec, name)
		if err != nil {
			return err
		}
		rec.Src = append(rec.Src, ps...)
	}
	dst, err := regParams(rec, op0.Fields[0])
	if err != nil {
		return err
	}
	rec.Dst = append(rec.Dst, dst...)
	return nil
}

// buildXchg records two independent dependency edges: (src <- op1, dst <-
// op0) and (src2 <- op0, dst2 <- op1). The slicer follows each edge on its
// own.
func buildXchg(rec *trace.Record, op0, op1 *operand.Operand) error {
	switch op1.Kind {
	case operand.Reg:
		ps, err := regParams(rec, op1.Fields[0])
		if err != nil {
			return err
		}
		rec.Src = append(rec.Src, ps...)
		rec.Dst2 = append(rec.Dst2, ps...)
	case operand.Mem:
		n := op1.Bit / 8
		rec.Src = appendMem(rec.Src, rec.RAddr, n)
		rec.Dst2 = appendMem(rec.Dst2, rec.RAddr, n)
	default:
		return shapeErr(rec, "xchg second operand is not reg/mem")
	}
	switch op0.Kind {
	case operand.Reg:
		ps, err := regParams(rec, op0.Fields[0])
		if err != nil {
			return err
		}
		rec.Src2 = append(rec.Src2, ps...)
		rec.Dst = append(rec.Dst, ps...)
	case operand.Mem:
		n := op0.Bit / 8
		rec.Src2 = appendMem(rec.Src2, rec.RAddr, n)
		rec.Dst = appendMem(rec.Dst, rec.RAddr, n)
	default:
		return shapeErr(rec, "xchg first operand is not reg/mem")
	}
	return nil
}

func buildThreeOp(rec *trace.Record, op0, op1, op2 *operand.Operand) error {
	if rec.Mnemonic != "imul" ||
		op0.Kind != operand.Reg || op1.Kind != operand.Reg || op2.Kind != operand.Imm {
		return shapeErr(rec, fmt.Sprintf("3-operand %s form not recognized", rec.Mnemonic))
	}
	p, err := immParam(rec, op2.Fields[0])
	if err != nil {
		return err
	}
	rec.Src = append(rec.Src, p)
	for _, name := range []string{op1.Fields[0], op0.Fields[0]} {
		ps, err := regParams(rec, name)
		if err != nil {
			return err
		}
		rec.Src = append(rec.Src, ps...)
	}
	dst, err := regParams(rec, op0.Fields[0])
	if err != nil {
		return err
	}
	rec.Dst = append(rec.Dst, dst...)
	return nil
}

func addSource(rec *trace.Record, op *operand.Operand) error {
	switch op.Kind {
	case operand.Imm:
		p, err := immParam(rec, op.Fields[0])
		if err != nil {
			return err
		}
		rec.Src = append(rec.Src, p)
	case operand.Reg:
		ps, err := regParams(rec, op.Fields[0])
		if err != nil {
			return err
		}
		rec.Src = append(rec.Src, ps...)
	case operand.Mem:
		rec.Src = appendMem(rec.Src, rec.RAddr, op.Bit/8)
	default:
		return shapeErr(rec, "source operand is not imm/reg/mem")
	}
	return nil
}

func addDest(rec *trace.Record, op *operand.Operand) error {
	switch op.Kind {
	case operand.Reg:
		ps, err := regParams(rec, op.Fields[0])
		if err != nil {
			return err
		}
		rec.Dst = append(rec.Dst, ps...)
	case operand.Mem:
		rec.Dst = appendMem(rec.Dst, rec.WAddr, op.Bit/8)
	default:
		return shapeErr(rec, "destination operand is not reg/mem")
	}
	return nil
}

// regParams expands a register name into per-byte parameters against its
// 64-bit parent: a 16-bit alias covers bytes 0-1, an 8-bit low alias byte 0,
// an 8-bit high alias byte 1.
func regParams(rec *trace.Record, name string) ([]trace.Parameter, error) {
	a, ok := reg.Lookup(name)
	if !ok {
		return nil, shapeErr(rec, fmt.Sprintf("unknown register %q", name))
	}
	if _, ok := reg.CtxIndex(a.Parent); !ok {
		return nil, shapeErr(rec, fmt.Sprintf("register %q outside the tracked context", name))
	}
	ps := make([]trace.Parameter, 0, a.Hi-a.Lo+1)
	for i := a.Lo; i <= a.Hi; i++ {
		ps = append(ps, trace.Parameter{Kind: trace.ParamReg, Reg: a.Parent, Index: uint64(i)})
	}
	return ps, nil
}

func appendMem(ps []trace.Parameter, addr uint64, n int) []trace.Parameter {
	for k := 0; k < n; k++ {
		ps = append(ps, trace.Parameter{Kind: trace.ParamMem, Index: addr + uint64(k)})
	}
	return ps
}

func immParam(rec *trace.Record, lit string) (trace.Parameter, error) {
	s := strings.TrimPrefix(strings.ToLower(lit), "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return trace.Parameter{}, shapeErr(rec, fmt.Sprintf("bad immediate %q", lit))
	}
	return trace.Parameter{Kind: trace.ParamImm, Index: v}, nil
}

func shapeErr(rec *trace.Record, detail string) error {
	return fmt.Errorf("instruction %d (%s): %s", rec.ID, rec.Disasm, detail)
}
