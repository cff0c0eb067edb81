package cfg

import (
	"fmt"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"symtrace/internal/trace"
)

// Lattice converts the block graph into a single-function lattice CFG for
// DOT rendering.
func (g *Graph) Lattice(name string) *lattice.FuncCFG {
	lcfg := &lattice.FuncCFG{Name: name}
	for _, b := range g.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: b.ID,
			End:   b.ID + 1,
			Term:  len(g.Succs(b.ID)) == 0,
		}
		for _, s := range g.Succs(b.ID) {
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: s})
		}
		lb.Calls = append(lb.Calls, lattice.CallSite{
			Offset: b.ID,
			Callee: fmt.Sprintf("0x%x..0x%x (%dx)", b.BeginAddr, b.EndAddr, b.Count),
		})
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// DOT renders the block graph as a DOT document.
func (g *Graph) DOT(title string) string {
	cg := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{g.Lattice(title)}}
	return render.DOTCFG(cg, title)
}

// CallGraphDOT renders the caller/callee relation observed in the trace.
// A call pushes the current frame on a stack and makes the callee current;
// ret pops back to the caller. Each call adds an edge from the current frame
// to its callee: sub_<addr> for a direct target, "indirect" otherwise.
func CallGraphDOT(records []*trace.Record, title string) string {
	g := &lattice.Graph{}
	cur := "entry"
	g.Nodes = append(g.Nodes, cur)
	var stack []string

	for _, rec := range records {
		switch rec.Mnemonic {
		case "call":
			callee := "indirect"
			if len(rec.OprStrs) > 0 {
				if addr, ok := parseTarget(rec.OprStrs[0]); ok {
					callee = fmt.Sprintf("sub_%x", addr)
				}
			}
			g.Nodes = append(g.Nodes, callee)
			g.Edges = append(g.Edges, lattice.Edge{Caller: cur, Callee: callee})
			stack = append(stack, cur)
			cur = callee
		case "ret":
			if n := len(stack); n > 0 {
				cur = stack[n-1]
				stack = stack[:n-1]
			}
		}
	}
	g.Dedup()
	return render.DOT(g, title)
}
