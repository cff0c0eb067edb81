// Command vmextract locates push/pop context-switch windows in a trace and
// writes each matched window to its own file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"symtrace/internal/cli"
	"symtrace/internal/logging"
	"symtrace/internal/vmwin"
)

var opts struct {
	k      int
	outDir string
	strict bool
}

func main() {
	root := &cobra.Command{
		Use:           "vmextract <tracefile>",
		Short:         "Extract VM context-save/restore windows from a trace",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().IntVar(&opts.k, "k", vmwin.DefaultBlockLen, "push/pop block length")
	root.Flags().StringVar(&opts.outDir, "out-dir", ".", "directory for the window files")
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

	windows := vmwin.Extract(records, opts.k)
	if len(windows) == 0 {
		lg.Info("no VM windows found")
		return nil
	}
	for _, w := range windows {
		lg.Info("window",
			"save", fmt.Sprintf("%d-%d", records[w.Save.Begin].ID, records[w.Save.End-1].ID),
			"restore", fmt.Sprintf("%d-%d", records[w.Restore.Begin].ID, records[w.Restore.End-1].ID),
			"rsp", fmt.Sprintf("0x%x", w.Save.SD))
	}

	names, err := vmwin.Write(opts.outDir, records, windows)
	if err != nil {
		return err
	}
	lg.Info("windows written", "count", len(names), "dir", opts.outDir)
	return nil
}
