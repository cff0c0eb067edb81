// Package vmwin locates context-save/restore windows in a trace: a block of
// K consecutive register pushes paired with a later block of K consecutive
// register pops whose trace-observed stack pointers match. Obfuscator-style
// interpreters bracket their dispatch bodies with exactly this shape.
package vmwin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"symtrace/internal/reg"
	"symtrace/internal/trace"
)

// DefaultBlockLen is the push/pop block length of the obfuscators this
// heuristic was built against.
const DefaultBlockLen = 7

// rspSlot is the index of rsp in the trace context block.
const rspSlot = 6

// Block is a run of K consecutive push-reg or pop-reg records.
type Block struct {
	Begin, End int    // record indexes, half-open [Begin,End)
	SD         uint64 // stack pointer pairing key
}

// Window is one matched save/restore pair.
type Window struct {
	Save    Block
	Restore Block
}

var wideReg = regexp.MustCompile(`^(?:[xyz]mm(?:1[0-5]|[0-9]))$`)

// recognized reports whether the pushed/popped operand is a register the
// matcher accepts: any integer register plus the vector registers.
func recognized(name string) bool {
	return reg.IsGPR(name) || wideReg.MatchString(name)
}

// blockAt checks whether records[i:i+k] is a block of `mnemonic` with
// distinct recognized register operands.
func blockAt(records []*trace.Record, i, k int, mnemonic string) bool {
	if i+k > len(records) {
		return false
	}
	used := map[string]bool{}
	for _, rec := range records[i : i+k] {
		if rec.Mnemonic != mnemonic || len(rec.OprStrs) == 0 {
			return false
		}
		name := rec.OprStrs[0]
		if !recognized(name) || used[name] {
			return false
		}
		used[name] = true
	}
	return true
}

// Extract scans the trace for save and restore blocks of length k and pairs
// every save with every restore whose stack pointer matches: the save's key
// is rsp after its last push, the restore's is rsp before its first pop.
func Extract(records []*trace.Record, k int) []Window {
	if k <= 0 {
		k = DefaultBlockLen
	}
	var saves, restores []Block

	for i := 0; i < len(records); {
		switch {
		case blockAt(records, i, k, "push"):
			b := Block{Begin: i, End: i + k}
			if i+k < len(records) {
				b.SD = records[i+k].CtxReg[rspSlot]
			} else {
				// Last push's rsp minus the slot it wrote.
				b.SD = records[i+k-1].CtxReg[rspSlot] - 8
			}
			saves = append(saves, b)
			i += k
		case blockAt(records, i, k, "pop"):
			b := Block{Begin: i, End: i + k, SD: records[i].CtxReg[rspSlot]}
			restores = append(restores, b)
			i += k
		default:
			i++
		}
	}

	var out []Window
	for _, sv := range saves {
		for _, rs := range restores {
			if sv.SD == rs.SD && sv.End <= rs.Begin {
				out = append(out, Window{Save: sv, Restore: rs})
			}
		}
	}
	return out
}

// Write emits each window to dir as vm1.txt, vm2.txt, ... covering the
// records from the save block's first push through the restore block's last
// pop. It returns the file names written.
func Write(dir string, records []*trace.Record, windows []Window) ([]string, error) {
	var names []string
	for n, win := range windows {
		name := fmt.Sprintf("vm%d.txt", n+1)
		path := filepath.Join(dir, name)
		if err := writeOne(path, records[win.Save.Begin:win.Restore.End]); err != nil {
			return names, fmt.Errorf("write %s: %w", name, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func writeOne(path string, records []*trace.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := trace.WriteWindow(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
