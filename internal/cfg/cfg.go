// Package cfg recovers coarse structure from an instruction trace: dynamic
// basic blocks, control-flow edges between them, call targets and the
// peephole cleanup of cancelling instruction pairs.
package cfg

import (
	"sort"

	"symtrace/internal/trace"
)

// terminators end a dynamic basic block: all conditional jumps, jmp, call
// and ret.
var terminators = map[string]bool{
	"jmp": true, "jz": true, "jbe": true, "jo": true, "jno": true,
	"js": true, "jns": true, "je": true, "jne": true, "jnz": true,
	"jb": true, "jnae": true, "jc": true, "jnb": true, "jae": true,
	"jnc": true, "jna": true, "ja": true, "jnbe": true, "jl": true,
	"jnge": true, "jge": true, "jnl": true, "jle": true, "jng": true,
	"jg": true, "jnle": true, "jp": true, "jpe": true, "jnp": true,
	"jpo": true, "jcxz": true, "jecxz": true, "jrcxz": true,
	"call": true, "ret": true,
}

// IsTerminator reports whether a mnemonic ends a basic block.
func IsTerminator(mnemonic string) bool { return terminators[mnemonic] }

// Block is one dynamic basic block, identified by its begin address.
// Count is the number of times the trace executed it.
type Block struct {
	ID        int
	BeginAddr uint64
	EndAddr   uint64
	Count     int
}

// Edge is one observed control transfer between blocks.
type Edge struct {
	From, To int
	Count    int
}

// Graph is the block-level view of a trace.
type Graph struct {
	Blocks []Block
	Edges  []Edge
}

// Build partitions the trace at terminators and merges the resulting
// segments by begin address. Re-executed blocks raise their count rather
// than duplicating nodes; repeated transfers raise the edge count.
func Build(records []*trace.Record) *Graph {
	g := &Graph{}
	if len(records) == 0 {
		return g
	}

	byAddr := map[uint64]int{}
	edgeCount := map[[2]int]int{}

	prev := -1
	segStart := 0
	flush := func(end int) {
		first, last := records[segStart], records[end-1]
		id, ok := byAddr[first.AddrN]
		if !ok {
			id = len(g.Blocks)
			byAddr[first.AddrN] = id
			g.Blocks = append(g.Blocks, Block{ID: id, BeginAddr: first.AddrN, EndAddr: last.AddrN})
		}
		g.Blocks[id].Count++
		if last.AddrN > g.Blocks[id].EndAddr {
			g.Blocks[id].EndAddr = last.AddrN
		}
		if prev >= 0 {
			edgeCount[[2]int{prev, id}]++
		}
		prev = id
		segStart = end
	}

	for i, rec := range records {
		if terminators[rec.Mnemonic] || i == len(records)-1 {
			flush(i + 1)
		}
	}

	keys := make([][2]int, 0, len(edgeCount))
	for k := range edgeCount {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		g.Edges = append(g.Edges, Edge{From: k[0], To: k[1], Count: edgeCount[k]})
	}
	return g
}

// Succs returns the successor block ids of a block, in id order.
func (g *Graph) Succs(id int) []int {
	var out []int
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e.To)
		}
	}
	return out
}
