package cfg

import (
	"strings"
	"testing"

	"symtrace/internal/trace"
)

func loadTrace(t *testing.T, lines ...string) []*trace.Record {
	t.Helper()
	records, perrs, err := trace.Parse(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil || len(perrs) != 0 {
		t.Fatalf("parse: %v %v", err, perrs)
	}
	trace.DecodeOperands(records)
	return records
}

func line(addr, disasm string) string {
	return addr + ";" + disasm + ";0,0,0,0,0,0,0,0,0,0"
}

func TestBuildLinear(t *testing.T) {
	records := loadTrace(t,
		line("401000", "mov rax, 0x1"),
		line("401003", "add rax, 0x2"),
		line("401006", "ret"),
	)
	g := Build(records)
	if len(g.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(g.Blocks))
	}
	b := g.Blocks[0]
	if b.BeginAddr != 0x401000 || b.EndAddr != 0x401006 || b.Count != 1 {
		t.Errorf("block = %+v", b)
	}
	if len(g.Edges) != 0 {
		t.Errorf("edges = %d, want 0", len(g.Edges))
	}
}

func TestBuildLoopMergesBlocks(t *testing.T) {
	body := []string{
		line("401000", "add rax, 0x1"),
		line("401003", "jnz 0x401000"),
	}
	var lines []string
	for i := 0; i < 3; i++ {
		lines = append(lines, body...)
	}
	lines = append(lines, line("401005", "ret"))
	records := loadTrace(t, lines...)

	g := Build(records)
	if len(g.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2 (loop body + exit)", len(g.Blocks))
	}
	if g.Blocks[0].Count != 3 {
		t.Errorf("loop body count = %d, want 3", g.Blocks[0].Count)
	}
	// Self edge executed twice, exit edge once.
	var selfCount, exitCount int
	for _, e := range g.Edges {
		switch {
		case e.From == 0 && e.To == 0:
			selfCount = e.Count
		case e.From == 0 && e.To == 1:
			exitCount = e.Count
		}
	}
	if selfCount != 2 || exitCount != 1 {
		t.Errorf("edge counts self=%d exit=%d, want 2,1", selfCount, exitCount)
	}
	if succs := g.Succs(0); len(succs) != 2 {
		t.Errorf("succs(0) = %v", succs)
	}
}

func TestPeephole(t *testing.T) {
	records := loadTrace(t,
		line("401000", "push rax"),
		line("401001", "pop rax"),
		line("401002", "mov rbx, 0x1"),
		line("401005", "add rcx, 0x4"),
		line("401008", "sub rcx, 0x4"),
		line("40100b", "inc rdx"),
		line("40100c", "dec rdx"),
		line("40100d", "push rax"),
		line("40100e", "pop rbx"), // different operand, kept
	)
	out := Peephole(records)
	var kept []string
	for _, r := range out {
		kept = append(kept, r.Disasm)
	}
	want := []string{"mov rbx, 0x1", "push rax", "pop rbx"}
	if len(kept) != len(want) {
		t.Fatalf("kept = %v, want %v", kept, want)
	}
	for i := range want {
		if kept[i] != want[i] {
			t.Errorf("kept[%d] = %q, want %q", i, kept[i], want[i])
		}
	}
}

func TestPeepholeNoRescan(t *testing.T) {
	// push rbx / (push rax / pop rax) / pop rbx: the inner pair cancels,
	// the outer pair is preserved by the single forward scan.
	records := loadTrace(t,
		line("401000", "push rbx"),
		line("401001", "push rax"),
		line("401002", "pop rax"),
		line("401003", "pop rbx"),
	)
	out := Peephole(records)
	if len(out) != 2 {
		t.Fatalf("kept = %d records, want 2", len(out))
	}
}

func TestFunctions(t *testing.T) {
	records := loadTrace(t,
		line("401000", "call 0x402000"),
		line("402000", "ret"),
		line("401005", "call 0x402000"),
		line("402000", "ret"),
		line("40100a", "call 0x403000"),
		line("403000", "ret"),
	)
	funcs := Functions(records)
	if len(funcs) != 2 {
		t.Fatalf("functions = %d, want 2", len(funcs))
	}
	if funcs[0].Addr != 0x402000 || funcs[0].Calls != 2 {
		t.Errorf("funcs[0] = %+v", funcs[0])
	}
	if funcs[1].Addr != 0x403000 || funcs[1].Calls != 1 {
		t.Errorf("funcs[1] = %+v", funcs[1])
	}
}

func TestIndirectJumps(t *testing.T) {
	records := loadTrace(t,
		line("401000", "jmp 0x401005"),
		line("401005", "jmp rax"),
		line("401007", "call qword ptr [rbx]"),
		line("401009", "ret"),
	)
	ind := IndirectJumps(records)
	if len(ind) != 2 {
		t.Fatalf("indirect = %d, want 2", len(ind))
	}
	if ind[0].Disasm != "jmp rax" || ind[1].Disasm != "call qword ptr [rbx]" {
		t.Errorf("indirect = %q, %q", ind[0].Disasm, ind[1].Disasm)
	}
}

func TestDOTOutputs(t *testing.T) {
	records := loadTrace(t,
		line("401000", "call 0x402000"),
		line("402000", "mov rax, 0x1"),
		line("402003", "ret"),
	)
	g := Build(records)
	if dot := g.DOT("t"); !strings.Contains(dot, "digraph") {
		t.Errorf("cfg DOT missing digraph header:\n%s", dot)
	}
	if dot := CallGraphDOT(records, "t"); !strings.Contains(dot, "sub_402000") {
		t.Errorf("callgraph DOT missing callee:\n%s", dot)
	}
}
