// Package symexec steps an instruction trace symbolically, building an
// expression DAG for the final value of every register and memory cell over
// the initial register and memory symbols.
package symexec

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"symtrace/internal/expr"
	"symtrace/internal/operand"
	"symtrace/internal/reg"
	"symtrace/internal/trace"
)

// Engine owns the register file, the memory model and the value arena for
// one run. It is not safe for concurrent use.
type Engine struct {
	arena    *expr.Arena
	ctx      [8]expr.ID
	mem      map[AddrRange]expr.ID
	memInput map[expr.ID]AddrRange
	regInput map[expr.ID]x86asm.Reg
	cur      *trace.Record
}

// New returns an engine with an empty memory model and unset registers;
// call InitAllSymbolic before Run.
func New() *Engine {
	e := &Engine{
		arena:    expr.NewArena(),
		mem:      map[AddrRange]expr.ID{},
		memInput: map[expr.ID]AddrRange{},
		regInput: map[expr.ID]x86asm.Reg{},
	}
	for i := range e.ctx {
		e.ctx[i] = expr.None
	}
	return e
}

// Arena exposes the value arena for formula inspection and evaluation.
func (e *Engine) Arena() *expr.Arena { return e.arena }

// InitAllSymbolic seeds each 64-bit register slot with a fresh symbol and
// records it as a register input.
func (e *Engine) InitAllSymbolic() {
	for i := range e.ctx {
		s := e.arena.Sym(64)
		e.ctx[i] = s
		e.regInput[s] = reg.CtxOrder[i]
	}
}

// Init seeds the register slots with caller-provided values, in trace
// context order.
func (e *Engine) Init(vals [8]expr.ID) {
	e.ctx = vals
}

func (e *Engine) curID() int {
	if e.cur != nil {
		return e.cur.ID
	}
	return 0
}

// Run executes the records in order, stopping at the first error.
func (e *Engine) Run(records []*trace.Record) error {
	for _, rec := range records {
		if err := e.Step(rec); err != nil {
			return err
		}
	}
	return nil
}

// Step executes a single record.
func (e *Engine) Step(rec *trace.Record) error {
	if trace.NoEffect(rec.Mnemonic) {
		return nil
	}
	e.cur = rec
	defer func() { e.cur = nil }()

	switch len(rec.Oprs) {
	case 0:
		return nil
	case 1:
		return e.stepOne(rec, &rec.Oprs[0])
	case 2:
		return e.stepTwo(rec, &rec.Oprs[0], &rec.Oprs[1])
	case 3:
		return e.stepThree(rec, &rec.Oprs[0], &rec.Oprs[1], &rec.Oprs[2])
	default:
		return &ArityError{ID: rec.ID, Mnemonic: rec.Mnemonic, Got: len(rec.Oprs)}
	}
}

func (e *Engine) stepOne(rec *trace.Record, op0 *operand.Operand) error {
	switch rec.Mnemonic {
	case "push":
		switch op0.Kind {
		case operand.Imm:
			v, err := e.immValue(rec, op0.Fields[0])
			if err != nil {
				return err
			}
			return e.writeMem(rec.WAddr, 8, v) // 64-bit push
		case operand.Reg:
			v, err := e.readRegOp(rec, op0)
			if err != nil {
				return err
			}
			return e.writeMem(rec.WAddr, op0.Bit/8, v)
		case operand.Mem:
			v, err := e.readMem(rec.RAddr, op0.Bit/8)
			if err != nil {
				return err
			}
			return e.writeMem(rec.WAddr, op0.Bit/8, v)
		default:
			return &OperandError{ID: rec.ID, Detail: "push operand is not imm/reg/mem"}
		}
	case "pop":
		switch op0.Kind {
		case operand.Reg:
			v, err := e.readMem(rec.RAddr, op0.Bit/8)
			if err != nil {
				return err
			}
			return e.writeRegOp(rec, op0, v)
		case operand.Mem:
			v, err := e.readMem(rec.RAddr, op0.Bit/8)
			if err != nil {
				return err
			}
			return e.writeMem(rec.WAddr, op0.Bit/8, v)
		default:
			return &OperandError{ID: rec.ID, Detail: "pop operand is not reg/mem"}
		}
	default:
		op, ok := expr.OpFromMnemonic(rec.Mnemonic)
		if !ok {
			return &MnemonicError{ID: rec.ID, Mnemonic: rec.Mnemonic}
		}
		switch op0.Kind {
		case operand.Reg:
			v, err := e.readRegOp(rec, op0)
			if err != nil {
				return err
			}
			return e.writeRegOp(rec, op0, e.arena.Op1(op, v))
		case operand.Mem:
			n := op0.Bit / 8
			v, err := e.readMem(rec.RAddr, n)
			if err != nil {
				return err
			}
			return e.writeMem(rec.WAddr, n, e.arena.Op1(op, v))
		default:
			return &OperandError{ID: rec.ID, Detail: fmt.Sprintf("%s operand is not reg/mem", rec.Mnemonic)}
		}
	}
}

func (e *Engine) stepTwo(rec *trace.Record, op0, op1 *operand.Operand) error {
	switch rec.Mnemonic {
	case "mov", "movzx":
		return e.stepMov(rec, op0, op1)
	case "lea":
		return e.stepLea(rec, op0, op1)
	case "xchg":
		return e.stepXchg(rec, op0, op1)
	}

	op, ok := expr.OpFromMnemonic(rec.Mnemonic)
	if !ok {
		return &MnemonicError{ID: rec.ID, Mnemonic: rec.Mnemonic}
	}

	v1, err := e.readOperand(rec, op1)
	if err != nil {
		return err
	}
	switch op0.Kind {
	case operand.Reg:
		v0, err := e.readRegOp(rec, op0)
		if err != nil {
			return err
		}
		return e.writeRegOp(rec, op0, e.arena.Op2(op, v0, v1))
	case operand.Mem:
		n := op0.Bit / 8
		v0, err := e.readMem(rec.RAddr, n)
		if err != nil {
			return err
		}
		return e.writeMem(rec.WAddr, n, e.arena.Op2(op, v0, v1))
	default:
		return &OperandError{ID: rec.ID, Detail: fmt.Sprintf("%s destination is not reg/mem", rec.Mnemonic)}
	}
}

func (e *Engine) stepMov(rec *trace.Record, op0, op1 *operand.Operand) error {
	switch op0.Kind {
	case operand.Reg:
		v, err := e.readOperand(rec, op1)
		if err != nil {
			return err
		}
		return e.writeRegOp(rec, op0, v)
	case operand.Mem:
		if op1.Kind == operand.Mem {
			return &OperandError{ID: rec.ID, Detail: "mov with two memory operands"}
		}
		v, err := e.readOperand(rec, op1)
		if err != nil {
			return err
		}
		return e.writeMem(rec.WAddr, op0.Bit/8, v)
	default:
		return &OperandError{ID: rec.ID, Detail: "mov destination is not reg/mem"}
	}
}

// stepLea folds the addressing expression over the symbolic register values;
// no memory is touched.
func (e *Engine) stepLea(rec *trace.Record, op0, op1 *operand.Operand) error {
	if op0.Kind != operand.Reg || op1.Kind != operand.Mem {
		return &OperandError{ID: rec.ID, Detail: "lea operands are not reg, mem"}
	}
	f := op1.Fields

	base := func(name string) (expr.ID, error) { return e.readRegNamed(rec, name) }
	scaled := func(idxName, scaleStr string) (expr.ID, error) {
		idx, err := e.readRegNamed(rec, idxName)
		if err != nil {
			return expr.None, err
		}
		scale, err := strconv.ParseUint(scaleStr, 10, 8)
		if err != nil {
			return expr.None, &OperandError{ID: rec.ID, Detail: fmt.Sprintf("bad scale %q", scaleStr)}
		}
		return e.arena.Op2(expr.Imul, idx, e.arena.Const(scale, 64)), nil
	}
	displaced := func(v expr.ID, sign, dispStr string) (expr.ID, error) {
		disp, err := e.immValue(rec, dispStr)
		if err != nil {
			return expr.None, err
		}
		op := expr.Add
		if sign == "-" {
			op = expr.Sub
		}
		return e.arena.Op2(op, v, disp), nil
	}

	var (
		res expr.ID
		err error
	)
	switch op1.Tag {
	case 1:
		res, err = e.immValue(rec, f[0])
	case 2:
		res, err = base(f[0])
	case 3:
		res, err = scaled(f[0], f[1])
	case 4:
		res, err = base(f[0])
		if err == nil {
			res, err = displaced(res, f[1], f[2])
		}
	case 5:
		res, err = base(f[0])
		if err == nil {
			var idx expr.ID
			idx, err = scaled(f[1], f[2])
			if err == nil {
				res = e.arena.Op2(expr.Add, res, idx)
			}
		}
	case 6:
		res, err = scaled(f[0], f[1])
		if err == nil {
			res, err = displaced(res, f[2], f[3])
		}
	case 7:
		res, err = base(f[0])
		if err == nil {
			var idx expr.ID
			idx, err = scaled(f[1], f[2])
			if err == nil {
				res = e.arena.Op2(expr.Add, res, idx)
				res, err = displaced(res, f[3], f[4])
			}
		}
	default:
		return &TagError{ID: rec.ID, Tag: op1.Tag, Context: "lea"}
	}
	if err != nil {
		return err
	}
	return e.writeRegOp(rec, op0, res)
}

func (e *Engine) stepXchg(rec *trace.Record, op0, op1 *operand.Operand) error {
	switch {
	case op0.Kind == operand.Reg && op1.Kind == operand.Reg:
		v0, err := e.readRegOp(rec, op0)
		if err != nil {
			return err
		}
		v1, err := e.readRegOp(rec, op1)
		if err != nil {
			return err
		}
		if err := e.writeRegOp(rec, op1, v0); err != nil {
			return err
		}
		return e.writeRegOp(rec, op0, v1)
	case op0.Kind == operand.Mem && op1.Kind == operand.Reg:
		n := op0.Bit / 8
		v0, err := e.readMem(rec.RAddr, n)
		if err != nil {
			return err
		}
		v1, err := e.readRegOp(rec, op1)
		if err != nil {
			return err
		}
		if err := e.writeRegOp(rec, op1, v0); err != nil {
			return err
		}
		return e.writeMem(rec.WAddr, n, v1)
	case op0.Kind == operand.Reg && op1.Kind == operand.Mem:
		n := op1.Bit / 8
		v1, err := e.readMem(rec.RAddr, n)
		if err != nil {
			return err
		}
		v0, err := e.readRegOp(rec, op0)
		if err != nil {
			return err
		}
		if err := e.writeRegOp(rec, op0, v1); err != nil {
			return err
		}
		return e.writeMem(rec.WAddr, n, v0)
	default:
		return &OperandError{ID: rec.ID, Detail: "xchg operands are not reg/mem"}
	}
}

func (e *Engine) stepThree(rec *trace.Record, op0, op1, op2 *operand.Operand) error {
	if rec.Mnemonic == "imul" &&
		op0.Kind == operand.Reg && op1.Kind == operand.Reg && op2.Kind == operand.Imm {
		v1, err := e.readRegOp(rec, op1)
		if err != nil {
			return err
		}
		v2, err := e.immValue(rec, op2.Fields[0])
		if err != nil {
			return err
		}
		return e.writeRegOp(rec, op0, e.arena.Op2(expr.Imul, v1, v2))
	}
	return &OperandError{ID: rec.ID, Detail: fmt.Sprintf("3-operand %s form not recognized", rec.Mnemonic)}
}

// readOperand reads an imm/reg/mem source operand to a value.
func (e *Engine) readOperand(rec *trace.Record, op *operand.Operand) (expr.ID, error) {
	switch op.Kind {
	case operand.Imm:
		return e.immValue(rec, op.Fields[0])
	case operand.Reg:
		return e.readRegOp(rec, op)
	case operand.Mem:
		return e.readMem(rec.RAddr, op.Bit/8)
	default:
		return expr.None, &OperandError{ID: rec.ID, Detail: "source operand is not imm/reg/mem"}
	}
}

func (e *Engine) readRegOp(rec *trace.Record, op *operand.Operand) (expr.ID, error) {
	return e.readRegNamed(rec, op.Fields[0])
}

func (e *Engine) readRegNamed(rec *trace.Record, name string) (expr.ID, error) {
	v, err := e.readReg(name)
	if err != nil {
		return expr.None, &OperandError{ID: rec.ID, Detail: err.Error()}
	}
	return v, nil
}

func (e *Engine) writeRegOp(rec *trace.Record, op *operand.Operand, v expr.ID) error {
	if err := e.writeReg(op.Fields[0], v); err != nil {
		return &OperandError{ID: rec.ID, Detail: err.Error()}
	}
	return nil
}

func (e *Engine) immValue(rec *trace.Record, lit string) (expr.ID, error) {
	n, err := parseHex(lit)
	if err != nil {
		return expr.None, &OperandError{ID: rec.ID, Detail: fmt.Sprintf("bad immediate %q", lit)}
	}
	return e.arena.Const(n, 64), nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// CalcAddr computes the concrete effective address of a memory operand from
// the record's pre-execution register context. Used for diagnostics; the
// engine itself trusts the EAs the tracer observed.
func CalcAddr(rec *trace.Record, op *operand.Operand) (uint64, error) {
	if op.Kind != operand.Mem {
		return 0, fmt.Errorf("instruction %d: operand is not memory", rec.ID)
	}
	f := op.Fields

	regVal := func(name string) (uint64, error) {
		a, ok := reg.Lookup(name)
		if !ok {
			return 0, fmt.Errorf("instruction %d: unknown register %q", rec.ID, name)
		}
		slot, ok := reg.CtxIndex(a.Parent)
		if !ok {
			return 0, fmt.Errorf("instruction %d: register %q has no context slot", rec.ID, name)
		}
		return rec.CtxReg[slot], nil
	}
	scaled := func(idxName, scaleStr string) (uint64, error) {
		v, err := regVal(idxName)
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(scaleStr, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("instruction %d: bad scale %q", rec.ID, scaleStr)
		}
		return v * n, nil
	}
	apply := func(v uint64, sign, dispStr string) (uint64, error) {
		d, err := parseHex(dispStr)
		if err != nil {
			return 0, fmt.Errorf("instruction %d: bad displacement %q", rec.ID, dispStr)
		}
		if sign == "-" {
			return v - d, nil
		}
		return v + d, nil
	}

	switch op.Tag {
	case 1:
		return parseHex(f[0])
	case 2:
		return regVal(f[0])
	case 3:
		return scaled(f[0], f[1])
	case 4:
		v, err := regVal(f[0])
		if err != nil {
			return 0, err
		}
		return apply(v, f[1], f[2])
	case 5:
		b, err := regVal(f[0])
		if err != nil {
			return 0, err
		}
		s, err := scaled(f[1], f[2])
		if err != nil {
			return 0, err
		}
		return b + s, nil
	case 6:
		s, err := scaled(f[0], f[1])
		if err != nil {
			return 0, err
		}
		return apply(s, f[2], f[3])
	case 7:
		b, err := regVal(f[0])
		if err != nil {
			return 0, err
		}
		s, err := scaled(f[1], f[2])
		if err != nil {
			return 0, err
		}
		return apply(b+s, f[3], f[4])
	default:
		return 0, &TagError{ID: rec.ID, Tag: op.Tag, Context: "calc-addr"}
	}
}
