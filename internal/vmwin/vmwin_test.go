package vmwin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"symtrace/internal/trace"
)

// traceBuilder renders push/pop lines with an rsp column that moves 8 bytes
// per stack op, starting at the rsp given to newBuilder.
type traceBuilder struct {
	lines []string
	rsp   uint64
	addr  uint64
}

func newBuilder(rsp uint64) *traceBuilder {
	return &traceBuilder{rsp: rsp, addr: 0x401000}
}

func (b *traceBuilder) push(reg string) *traceBuilder {
	b.lines = append(b.lines, fmt.Sprintf("%x;push %s;0,0,0,0,0,0,%x,0,0,%x",
		b.addr, reg, b.rsp, b.rsp-8))
	b.rsp -= 8
	b.addr++
	return b
}

func (b *traceBuilder) pop(reg string) *traceBuilder {
	b.lines = append(b.lines, fmt.Sprintf("%x;pop %s;0,0,0,0,0,0,%x,0,%x,0",
		b.addr, reg, b.rsp, b.rsp))
	b.rsp += 8
	b.addr++
	return b
}

func (b *traceBuilder) raw(disasm string) *traceBuilder {
	b.lines = append(b.lines, fmt.Sprintf("%x;%s;0,0,0,0,0,0,%x,0,0,0", b.addr, disasm, b.rsp))
	b.addr++
	return b
}

func (b *traceBuilder) records(t *testing.T) []*trace.Record {
	t.Helper()
	records, perrs, err := trace.Parse(strings.NewReader(strings.Join(b.lines, "\n")))
	if err != nil || len(perrs) != 0 {
		t.Fatalf("parse: %v %v", err, perrs)
	}
	trace.DecodeOperands(records)
	return records
}

var saveRegs = []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp"}

func TestExtractMatchedWindow(t *testing.T) {
	b := newBuilder(0x8000)
	for _, r := range saveRegs {
		b.push(r)
	}
	b.raw("mov rax, 0x1")
	b.raw("add rax, 0x2")
	for i := len(saveRegs) - 1; i >= 0; i-- {
		b.pop(saveRegs[i])
	}
	records := b.records(t)

	windows := Extract(records, 7)
	if len(windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(windows))
	}
	w := windows[0]
	if w.Save.Begin != 0 || w.Save.End != 7 {
		t.Errorf("save block = [%d,%d)", w.Save.Begin, w.Save.End)
	}
	if w.Restore.Begin != 9 || w.Restore.End != 16 {
		t.Errorf("restore block = [%d,%d)", w.Restore.Begin, w.Restore.End)
	}
	// Stack pointer after the pushes equals the pointer before the pops.
	if w.Save.SD != w.Restore.SD {
		t.Errorf("SD mismatch: 0x%x vs 0x%x", w.Save.SD, w.Restore.SD)
	}
	if w.Save.SD != 0x8000-7*8 {
		t.Errorf("SD = 0x%x, want 0x%x", w.Save.SD, 0x8000-7*8)
	}
}

func TestExtractRejectsRepeatedRegister(t *testing.T) {
	b := newBuilder(0x8000)
	for _, r := range []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rax"} {
		b.push(r)
	}
	records := b.records(t)
	if windows := Extract(records, 7); len(windows) != 0 {
		t.Errorf("repeated register must not form a block, got %d windows", len(windows))
	}
}

func TestExtractRejectsNonRegister(t *testing.T) {
	b := newBuilder(0x8000)
	for _, r := range []string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi"} {
		b.push(r)
	}
	b.raw("push 0x12") // immediate push breaks the block
	records := b.records(t)
	if windows := Extract(records, 7); len(windows) != 0 {
		t.Errorf("immediate push must not count, got %d windows", len(windows))
	}
}

func TestExtractMismatchedStackDepth(t *testing.T) {
	b := newBuilder(0x8000)
	for _, r := range saveRegs {
		b.push(r)
	}
	b.push("r8") // extra push shifts rsp, so the pops pair with nothing
	for i := len(saveRegs) - 1; i >= 0; i-- {
		b.pop(saveRegs[i])
	}
	records := b.records(t)
	if windows := Extract(records, 7); len(windows) != 0 {
		t.Errorf("mismatched rsp must not pair, got %d windows", len(windows))
	}
}

func TestExtractWideRegistersRecognized(t *testing.T) {
	b := newBuilder(0x8000)
	for _, r := range []string{"rax", "r8", "r9", "r15", "xmm0", "rbx", "rcx"} {
		b.push(r)
	}
	b.raw("nop")
	for _, r := range []string{"rcx", "rbx", "xmm0", "r15", "r9", "r8", "rax"} {
		b.pop(r)
	}
	records := b.records(t)
	// rsp bookkeeping in the builder treats xmm pushes as 8 bytes, which is
	// wrong architecturally but fine for the matcher: it only compares the
	// recorded values.
	if windows := Extract(records, 7); len(windows) != 1 {
		t.Errorf("windows = %d, want 1", len(windows))
	}
}

func TestWriteWindowFiles(t *testing.T) {
	b := newBuilder(0x8000)
	for _, r := range saveRegs {
		b.push(r)
	}
	b.raw("xor rax, rbx")
	for i := len(saveRegs) - 1; i >= 0; i-- {
		b.pop(saveRegs[i])
	}
	records := b.records(t)
	windows := Extract(records, 7)
	if len(windows) != 1 {
		t.Fatalf("windows = %d", len(windows))
	}

	dir := t.TempDir()
	names, err := Write(dir, records, windows)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "vm1.txt" {
		t.Fatalf("names = %v", names)
	}
	data, err := os.ReadFile(filepath.Join(dir, "vm1.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 15 {
		t.Errorf("window lines = %d, want 15 (7 pushes + 1 body + 7 pops)", len(lines))
	}
	if !strings.Contains(lines[0], "push rax") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], "pop rax") {
		t.Errorf("last line = %q", lines[len(lines)-1])
	}
}
