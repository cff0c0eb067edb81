// Command tracemap recovers coarse structure from a trace: dynamic basic
// blocks, the call map, indirect dispatch points, and DOT renderings of the
// block graph and call graph.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"symtrace/internal/cfg"
	"symtrace/internal/cli"
	"symtrace/internal/logging"
)

var opts struct {
	outDir   string
	peephole bool
	dot      bool
	strict   bool
}

func main() {
	root := &cobra.Command{
		Use:           "tracemap <tracefile>",
		Short:         "Map the block and call structure of a trace",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVar(&opts.outDir, "out-dir", ".", "directory for DOT output")
	root.Flags().BoolVar(&opts.peephole, "peephole", false, "cancel push/pop-style pairs before mapping")
	root.Flags().BoolVar(&opts.dot, "dot", false, "write cfg.dot and callgraph.dot")
	root.Flags().BoolVar(&opts.strict, "strict", false, "fail on the first malformed trace line")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	lg := logging.Default()

	records, err := cli.LoadTrace(args[0], opts.strict, lg)
	if err != nil {
		return err
	}
	if opts.peephole {
		before := len(records)
		records = cfg.Peephole(records)
		lg.Info("peephole", "removed", before-len(records))
	}

	g := cfg.Build(records)
	fmt.Printf("%d blocks, %d edges\n", len(g.Blocks), len(g.Edges))
	for _, b := range g.Blocks {
		fmt.Printf("  bb%-4d 0x%x..0x%x  %dx\n", b.ID, b.BeginAddr, b.EndAddr, b.Count)
	}

	funcs := cfg.Functions(records)
	fmt.Printf("%d call targets\n", len(funcs))
	for _, f := range funcs {
		fmt.Printf("  sub_%x  %d calls\n", f.Addr, f.Calls)
	}

	ind := cfg.IndirectJumps(records)
	fmt.Printf("%d indirect transfers\n", len(ind))
	for _, rec := range ind {
		fmt.Printf("  %s  %s\n", rec.Addr, rec.Disasm)
	}

	if opts.dot {
		if err := writeText(filepath.Join(opts.outDir, "cfg.dot"), g.DOT("trace")); err != nil {
			return err
		}
		if err := writeText(filepath.Join(opts.outDir, "callgraph.dot"), cfg.CallGraphDOT(records, "trace calls")); err != nil {
			return err
		}
		lg.Info("DOT written", "dir", opts.outDir)
	}
	return nil
}

func writeText(path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
