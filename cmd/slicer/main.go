// Command slicer computes the backward data-dependency slice of a trace and
// writes it in human-readable and replayable forms.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"symtrace/internal/cli"
	"symtrace/internal/logging"
	"symtrace/internal/slice"
	"symtrace/internal/trace"
)

var opts struct {
	target int
	outDir string
	strict bool
}

func main() {
	root := &cobra.Command{
		Use:           "slicer <tracefile>",
		Short:         "Backward-slice a trace from a target instruction",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().IntVar(&opts.target, "target", 0, "target instruction id (default: the last)")
	root.Flags().StringVar(&opts.outDir, "out-dir", ".", "directory for the slice files")
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
	if err := slice.BuildParameters(records); err != nil {
		return err
	}

	target := opts.target - 1 // ids are 1-based; negative selects the last
	sl, residue, err := slice.BackwardWithResidue(records, target)
	if err != nil {
		return err
	}
	lg.Info("slice computed", "kept", len(sl), "of", len(records))
	for _, p := range residue {
		lg.Debug("unresolved input", "param", p.String())
	}

	if err := writeFile(filepath.Join(opts.outDir, "slice.human.trace"), sl, trace.WriteHuman); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(opts.outDir, "slice.llse.trace"), sl, trace.WriteLLSE); err != nil {
		return err
	}
	return nil
}

func writeFile(path string, records []*trace.Record, write func(io.Writer, []*trace.Record) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
