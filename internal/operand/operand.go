// Package operand decodes disassembly operand text into a tagged form.
//
// Memory operands are classified into seven addressing schemas:
//
//	tag 1  disp                    tag 5  base + index*scale
//	tag 2  base                    tag 6  index*scale ± disp
//	tag 3  index*scale             tag 7  base + index*scale ± disp
//	tag 4  base ± disp
package operand

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"symtrace/internal/reg"
)

// Kind classifies an operand.
type Kind uint8

const (
	Unknown Kind = iota
	Imm
	Reg
	Mem
)

func (k Kind) String() string {
	switch k {
	case Imm:
		return "imm"
	case Reg:
		return "reg"
	case Mem:
		return "mem"
	default:
		return "unk"
	}
}

// Operand is one decoded operand. Fields is populated per the tag schema
// above for memory operands; Fields[0] holds the register name or immediate
// literal otherwise.
type Operand struct {
	Kind   Kind
	Bit    int // operand width in bits
	Tag    int // addressing schema for Kind == Mem
	Seg    string
	Fields [5]string
}

const gpr64 = `(?:r(?:1[0-5]|[89])|rax|rbx|rcx|rdx|rsi|rdi|rsp|rbp|rip)`

var (
	reImm  = regexp.MustCompile(`^0x[0-9a-f]+$`)
	reDec  = regexp.MustCompile(`^[0-9]+$`)
	reTag7 = regexp.MustCompile(`^(` + gpr64 + `)\+(` + gpr64 + `)\*([1248])(\+|-)(0x[0-9a-f]+)$`)
	reTag6 = regexp.MustCompile(`^(` + gpr64 + `)\*([1248])(\+|-)(0x[0-9a-f]+)$`)
	reTag5 = regexp.MustCompile(`^(` + gpr64 + `)\+(` + gpr64 + `)\*([1248])$`)
	reTag4 = regexp.MustCompile(`^(` + gpr64 + `)(\+|-)(0x[0-9a-f]+)$`)
	reTag3 = regexp.MustCompile(`^(` + gpr64 + `)\*([1248])$`)
	reTag2 = regexp.MustCompile(`^` + gpr64 + `$`)
	reTag1 = regexp.MustCompile(`^0x[0-9a-f]+$`)

	reWide = regexp.MustCompile(`^(?:[xyz]mm(?:1[0-5]|[0-9])|st[0-7]|[cdefgs]s)$`)
)

var ptrWidth = map[string]int{
	"byte":    8,
	"word":    16,
	"dword":   32,
	"qword":   64,
	"tbyte":   80,
	"xmmword": 128,
	"ymmword": 256,
	"zmmword": 512,
}

// Decode parses one operand string. Unrecognized shapes yield Kind Unknown;
// the decoder itself never fails.
func Decode(s string) Operand {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	if s == "" {
		return Operand{}
	}

	if i := strings.IndexByte(s, '['); i >= 0 {
		return decodeMem(s, i)
	}

	if a, ok := reg.Lookup(s); ok {
		return Operand{Kind: Reg, Bit: a.Bits(), Fields: [5]string{s}}
	}
	if reWide.MatchString(s) {
		return Operand{Kind: Reg, Bit: wideBits(s), Fields: [5]string{s}}
	}
	if reImm.MatchString(s) {
		return Operand{Kind: Imm, Bit: 64, Fields: [5]string{s}}
	}
	if reDec.MatchString(s) {
		n, _ := strconv.ParseUint(s, 10, 64)
		return Operand{Kind: Imm, Bit: 64, Fields: [5]string{fmt.Sprintf("0x%x", n)}}
	}
	return Operand{}
}

func decodeMem(s string, bracket int) Operand {
	opr := Operand{Kind: Mem, Bit: 64}

	prefix := s[:bracket]
	end := strings.IndexByte(s, ']')
	if end < bracket {
		return Operand{}
	}
	expr := s[bracket+1 : end]

	if i := strings.LastIndexByte(prefix, ':'); i >= 2 {
		if seg := prefix[i-2 : i]; isSegName(seg) {
			opr.Seg = seg
			prefix = prefix[:i-2] + prefix[i+1:]
		}
	}
	prefix = strings.TrimSuffix(prefix, "ptr")
	if prefix != "" {
		w, ok := ptrWidth[prefix]
		if !ok {
			return Operand{}
		}
		opr.Bit = w
	}

	switch {
	case reTag7.MatchString(expr):
		m := reTag7.FindStringSubmatch(expr)
		opr.Tag = 7
		copy(opr.Fields[:], m[1:6])
	case reTag6.MatchString(expr):
		m := reTag6.FindStringSubmatch(expr)
		opr.Tag = 6
		copy(opr.Fields[:], m[1:5])
	case reTag5.MatchString(expr):
		m := reTag5.FindStringSubmatch(expr)
		opr.Tag = 5
		copy(opr.Fields[:], m[1:4])
	case reTag4.MatchString(expr):
		m := reTag4.FindStringSubmatch(expr)
		opr.Tag = 4
		copy(opr.Fields[:], m[1:4])
	case reTag3.MatchString(expr):
		m := reTag3.FindStringSubmatch(expr)
		opr.Tag = 3
		copy(opr.Fields[:], m[1:3])
	case reTag1.MatchString(expr):
		opr.Tag = 1
		opr.Fields[0] = expr
	case reTag2.MatchString(expr):
		opr.Tag = 2
		opr.Fields[0] = expr
	default:
		return Operand{}
	}
	return opr
}

func isSegName(s string) bool {
	switch s {
	case "cs", "ds", "es", "fs", "gs", "ss":
		return true
	}
	return false
}

func wideBits(s string) int {
	switch {
	case strings.HasPrefix(s, "xmm"):
		return 128
	case strings.HasPrefix(s, "ymm"):
		return 256
	case strings.HasPrefix(s, "zmm"):
		return 512
	case strings.HasPrefix(s, "st"):
		return 80
	default: // segment register
		return 16
	}
}

var widthName = map[int]string{
	8:   "byte",
	16:  "word",
	32:  "dword",
	64:  "qword",
	80:  "tbyte",
	128: "xmmword",
	256: "ymmword",
	512: "zmmword",
}

// Canonical renders the operand back to a canonical text form that Decode
// maps to the same kind, tag and fields.
func (o Operand) Canonical() string {
	switch o.Kind {
	case Imm, Reg:
		return o.Fields[0]
	case Mem:
		var b strings.Builder
		if w, ok := widthName[o.Bit]; ok {
			b.WriteString(w)
			b.WriteString(" ptr ")
		}
		if o.Seg != "" {
			b.WriteString(o.Seg)
			b.WriteByte(':')
		}
		b.WriteByte('[')
		b.WriteString(o.exprText())
		b.WriteByte(']')
		return b.String()
	default:
		return "<unk>"
	}
}

func (o Operand) exprText() string {
	f := o.Fields
	switch o.Tag {
	case 1:
		return f[0]
	case 2:
		return f[0]
	case 3:
		return f[0] + "*" + f[1]
	case 4:
		return f[0] + f[1] + f[2]
	case 5:
		return f[0] + "+" + f[1] + "*" + f[2]
	case 6:
		return f[0] + "*" + f[1] + f[2] + f[3]
	case 7:
		return f[0] + "+" + f[1] + "*" + f[2] + f[3] + f[4]
	default:
		return ""
	}
}

// String implements fmt.Stringer for diagnostics.
func (o Operand) String() string {
	if o.Kind == Mem {
		return fmt.Sprintf("mem%d(%s)", o.Tag, o.exprText())
	}
	return fmt.Sprintf("%s(%s)", o.Kind, o.Fields[0])
}
