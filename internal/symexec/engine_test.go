package symexec

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symtrace/internal/expr"
	"symtrace/internal/trace"
)

// loadTrace parses trace text where each line only needs the fields the
// executor consumes; zeros elsewhere.
func loadTrace(t *testing.T, text string) []*trace.Record {
	t.Helper()
	records, perrs, err := trace.Parse(strings.NewReader(text))
	require.NoError(t, err)
	require.Empty(t, perrs)
	trace.DecodeOperands(records)
	return records
}

func run(t *testing.T, text string) *Engine {
	t.Helper()
	eng := New()
	eng.InitAllSymbolic()
	require.NoError(t, eng.Run(loadTrace(t, text)))
	return eng
}

// Register-only propagation: two concrete writes fold to a concrete result.
func TestConcretePropagation(t *testing.T) {
	eng := run(t, `
401000;mov rax, 0x10;0,0,0,0,0,0,0,0,0,0
401003;add rax, 0x20;10,0,0,0,0,0,0,0,0,0
`)
	v, ok := eng.RegValue("rax")
	require.True(t, ok)
	assert.Equal(t, expr.Concrete, eng.Arena().Kind(v))
	got, err := eng.Arena().Eval(v, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x30), got)
}

// Symbolic input via memory: the load allocates one fresh input symbol
// covering the accessed range.
func TestSymbolicMemoryInput(t *testing.T) {
	eng := run(t, `
401000;mov rax, qword ptr [0x1000];0,0,0,0,0,0,0,0,1000,0
401008;xor rax, 0xff;0,0,0,0,0,0,0,0,0,0
`)
	v, _ := eng.RegValue("rax")
	inputs := eng.Arena().Inputs(v)
	require.Len(t, inputs, 1)
	r, ok := eng.MemInputRange(inputs[0])
	require.True(t, ok)
	assert.Equal(t, AddrRange{0x1000, 0x1007}, r)
	assert.Equal(t, "(xor "+expr.SymName(inputs[0])+" 0xff)", eng.Arena().Format(v))
}

// Sub-register write then full read: untouched bits of the parent survive.
func TestSubRegisterWrite(t *testing.T) {
	eng := run(t, `
401000;mov al, 0x42;0,0,0,0,0,0,0,0,0,0
`)
	v, _ := eng.RegValue("rax")
	inputs := eng.Arena().Inputs(v)
	require.Len(t, inputs, 1) // the initial rax symbol
	s := inputs[0]
	name, ok := eng.RegInputFor(s)
	require.True(t, ok)
	assert.Equal(t, "rax", name)

	got, err := eng.Arena().Eval(v, expr.Env{s: 0xdeadbeefcafef00d})
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeefcafef042), got)
}

// Writing eax preserves the top half of rax; writing ah touches only bits
// [8,15]; writing al touches only bits [0,7].
func TestRegisterAliasing(t *testing.T) {
	cases := []struct {
		name string
		line string
		want func(init uint64) uint64
	}{
		{"eax", "401000;mov eax, 0x11223344;0,0,0,0,0,0,0,0,0,0",
			func(init uint64) uint64 { return init&0xffffffff00000000 | 0x11223344 }},
		{"ax", "401000;mov ax, 0x5566;0,0,0,0,0,0,0,0,0,0",
			func(init uint64) uint64 { return init&^uint64(0xffff) | 0x5566 }},
		{"al", "401000;mov al, 0x77;0,0,0,0,0,0,0,0,0,0",
			func(init uint64) uint64 { return init&^uint64(0xff) | 0x77 }},
		{"ah", "401000;mov ah, 0x88;0,0,0,0,0,0,0,0,0,0",
			func(init uint64) uint64 { return init&^uint64(0xff00) | 0x8800 }},
	}
	const init = uint64(0x0123456789abcdef)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			eng := run(t, c.line)
			v, _ := eng.RegValue("rax")
			s := eng.Arena().Inputs(v)[0]
			got, err := eng.Arena().Eval(v, expr.Env{s: init})
			require.NoError(t, err)
			assert.Equalf(t, c.want(init), got, "mov %s", c.name)
		})
	}
}

// An ah write into a concrete parent splices a hybrid, so the surrounding
// concrete bytes survive verbatim and the round trip evaluates exactly.
func TestHighByteHybridSplice(t *testing.T) {
	eng := run(t, `
401000;mov rax, 0x1122334455667788;0,0,0,0,0,0,0,0,0,0
401008;mov ah, byte ptr [0x2000];0,0,0,0,0,0,0,0,2000,0
`)
	v, _ := eng.RegValue("rax")
	require.Equal(t, expr.Hybrid, eng.Arena().Kind(v))
	inputs := eng.Arena().Inputs(v)
	require.Len(t, inputs, 1)
	got, err := eng.Arena().Eval(v, expr.Env{inputs[0]: 0xab})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x112233445566ab88), got)
}

// Memory round-trip through an exact range returns the stored value.
func TestPushPopRoundTrip(t *testing.T) {
	eng := run(t, `
401000;push rax;0,0,0,0,0,0,7ff8,0,0,7ff0
401001;pop rbx;0,0,0,0,0,0,7ff0,0,7ff0,0
`)
	rax, _ := eng.RegValue("rax")
	rbx, _ := eng.RegValue("rbx")
	assert.Equal(t, rax, rbx, "pop must return the exact pushed value")
}

// Subset reads after a full-width store extract the addressed byte.
func TestSubsetRead(t *testing.T) {
	eng := run(t, `
401000;mov qword ptr [0x3000], rax;0,0,0,0,0,0,0,0,0,3000
401008;mov bl, byte ptr [0x3003];0,0,0,0,0,0,0,0,3003,0
`)
	rbx, _ := eng.RegValue("rbx")
	inputs := eng.Arena().Inputs(rbx)
	// Initial rax, initial rbx.
	require.Len(t, inputs, 2)
	env := expr.Env{}
	for _, in := range inputs {
		if name, ok := eng.RegInputFor(in); ok && name == "rax" {
			env[in] = 0x8877665544332211
		} else {
			env[in] = 0
		}
	}
	got, err := eng.Arena().Eval(rbx, env)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x44), got&0xff, "byte 3 of the stored value")
}

// A full-width store over previously read single bytes swallows their
// ranges; a later full-width read is an exact hit on the stored value.
func TestSupersetWrite(t *testing.T) {
	eng := run(t, `
401000;mov al, byte ptr [0x4000];0,0,0,0,0,0,0,0,4000,0
401004;mov bl, byte ptr [0x4007];0,0,0,0,0,0,0,0,4007,0
401008;mov qword ptr [0x4000], rcx;0,0,0,0,0,0,0,0,0,4000
40100f;mov rdx, qword ptr [0x4000];0,0,0,0,0,0,0,0,4000,0
`)
	rcx, _ := eng.RegValue("rcx")
	rdx, _ := eng.RegValue("rdx")
	assert.Equal(t, rcx, rdx, "the qword store replaced both byte ranges")
}

// A write overlapping the middle of an existing range is unsupported.
func TestPartialOverlapFails(t *testing.T) {
	eng := New()
	eng.InitAllSymbolic()
	err := eng.Run(loadTrace(t, `
401000;mov rax, qword ptr [0x1000];0,0,0,0,0,0,0,0,1000,0
401008;mov rbx, qword ptr [0x1004];0,0,0,0,0,0,0,0,1004,0
`))
	var ae *AliasingError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.ID)
}

func TestXchg(t *testing.T) {
	eng := run(t, `
401000;mov rax, 0x1;0,0,0,0,0,0,0,0,0,0
401003;mov rbx, 0x2;0,0,0,0,0,0,0,0,0,0
401006;xchg rax, rbx;1,2,0,0,0,0,0,0,0,0
`)
	rax, _ := eng.RegValue("rax")
	rbx, _ := eng.RegValue("rbx")
	a, err := eng.Arena().Eval(rax, nil)
	require.NoError(t, err)
	b, err := eng.Arena().Eval(rbx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), a)
	assert.Equal(t, uint64(1), b)
}

func TestLeaSymbolic(t *testing.T) {
	eng := run(t, `
401000;lea rax, [rbx+rcx*4];0,10,20,0,0,0,0,0,0,0
`)
	v, _ := eng.RegValue("rax")
	inputs := eng.Arena().Inputs(v)
	require.Len(t, inputs, 2)
	env := expr.Env{}
	for _, in := range inputs {
		name, _ := eng.RegInputFor(in)
		switch name {
		case "rbx":
			env[in] = 0x100
		case "rcx":
			env[in] = 0x8
		}
	}
	got, err := eng.Arena().Eval(v, env)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100+0x8*4), got)
}

func TestThreeOpImul(t *testing.T) {
	eng := run(t, `
401000;mov rbx, 0x7;0,0,0,0,0,0,0,0,0,0
401003;imul rax, rbx, 0x3;0,7,0,0,0,0,0,0,0,0
`)
	v, _ := eng.RegValue("rax")
	got, err := eng.Arena().Eval(v, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), got)
}

func TestUnknownMnemonic(t *testing.T) {
	eng := New()
	eng.InitAllSymbolic()
	err := eng.Run(loadTrace(t, `
401000;frobnicate rax;0,0,0,0,0,0,0,0,0,0
`))
	var me *MnemonicError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "frobnicate", me.Mnemonic)
}

func TestSkipSetNoEffect(t *testing.T) {
	eng := run(t, `
401000;mov rax, 0x5;0,0,0,0,0,0,0,0,0,0
401003;cmp rax, 0x5;5,0,0,0,0,0,0,0,0,0
401006;jz 0x401010;5,0,0,0,0,0,0,0,0,0
401010;ret;5,0,0,0,0,0,0,0,0,0
`)
	v, _ := eng.RegValue("rax")
	got, err := eng.Arena().Eval(v, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got)
}

func TestCalcAddr(t *testing.T) {
	records := loadTrace(t, `
401000;mov rax, qword ptr [rbx+rcx*8+0x10];0,100,8,0,0,0,0,0,150,0
`)
	rec := records[0]
	got, err := CalcAddr(rec, &rec.Oprs[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100+0x8*8+0x10), got)
	assert.Equal(t, rec.RAddr, got, "trace EA agrees with computed EA")
}

func TestConexecRequiresAllInputs(t *testing.T) {
	eng := run(t, `
401000;xor rax, rbx;0,0,0,0,0,0,0,0,0,0
`)
	v, _ := eng.RegValue("rax")
	_, err := eng.Conexec(v, expr.Env{})
	require.Error(t, err)
	inputs := eng.Arena().Inputs(v)
	env := expr.Env{}
	for _, in := range inputs {
		env[in] = 0xf0
	}
	got, err := eng.Conexec(v, env)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got, "x xor x")
}

// Init with concrete seeds instead of symbols: the run stays fully
// concrete.
func TestInitConcrete(t *testing.T) {
	eng := New()
	var seed [8]expr.ID
	for i := range seed {
		seed[i] = eng.Arena().Const(uint64(i+1), 64)
	}
	eng.Init(seed)
	require.NoError(t, eng.Run(loadTrace(t, `
401000;add rax, rbx;1,2,0,0,0,0,0,0,0,0
`)))
	v, _ := eng.RegValue("rax")
	got, err := eng.Arena().Eval(v, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got)
}

func TestErrorsAreTyped(t *testing.T) {
	errVal := &AliasingError{ID: 3, Lo: 0x10, Hi: 0x17}
	var ae *AliasingError
	require.True(t, errors.As(error(errVal), &ae))
	assert.Contains(t, errVal.Error(), "instruction 3")
}
