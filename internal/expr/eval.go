package expr

import "fmt"

// Env assigns concrete 64-bit values to symbolic inputs.
type Env map[ID]uint64

// Eval computes the concrete value of v under env. Every symbolic leaf
// reachable from v must be bound.
func (a *Arena) Eval(v ID, env Env) (uint64, error) {
	n := a.at(v)
	if n.op == opNone {
		switch n.kind {
		case Concrete:
			return n.bits, nil
		case Symbol:
			val, ok := env[v]
			if !ok {
				return 0, fmt.Errorf("unbound input %s", SymName(v))
			}
			return val, nil
		case Hybrid:
			var word uint64
			for _, c := range n.kids {
				cv, err := a.Eval(c.Val, env)
				if err != nil {
					return 0, err
				}
				word |= (cv << uint(c.Lo)) & RangeMask(c.Lo, c.Hi)
			}
			return word, nil
		default:
			return 0, fmt.Errorf("value %d has unknown kind", v)
		}
	}

	var arg [3]uint64
	for i, id := range n.args[:n.nargs] {
		av, err := a.Eval(id, env)
		if err != nil {
			return 0, err
		}
		arg[i] = av
	}

	switch n.op {
	case Add:
		return arg[0] + arg[1], nil
	case Sub:
		return arg[0] - arg[1], nil
	case Imul:
		return arg[0] * arg[1], nil
	case Xor:
		return arg[0] ^ arg[1], nil
	case And:
		return arg[0] & arg[1], nil
	case Or:
		return arg[0] | arg[1], nil
	case Shl:
		if arg[1] >= 64 {
			return 0, nil
		}
		return arg[0] << arg[1], nil
	case Shr:
		if arg[1] >= 64 {
			return 0, nil
		}
		return arg[0] >> arg[1], nil
	case Neg:
		return -arg[0], nil
	case Inc:
		return arg[0] + 1, nil
	case Mov:
		return arg[0], nil
	default:
		return 0, fmt.Errorf("operator %s is not interpreted", n.op)
	}
}

// EvalWith is Eval with every input bound to the same constant; useful in
// tests for probing individual bit ranges.
func (a *Arena) EvalWith(v ID, fill uint64) (uint64, error) {
	env := Env{}
	for _, in := range a.Inputs(v) {
		env[in] = fill
	}
	return a.Eval(v, env)
}
