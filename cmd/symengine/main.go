// Command symengine runs the symbolic executor over a trace and prints the
// formula a chosen register holds at the end of it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"symtrace/internal/cli"
	"symtrace/internal/logging"
	"symtrace/internal/symexec"
)

var opts struct {
	reg     string
	allRegs bool
	mem     bool
	inputs  bool
	smtOut  string
	dump    bool
	strict  bool
}

func main() {
	root := &cobra.Command{
		Use:           "symengine <tracefile>",
		Short:         "Symbolically execute an instruction trace",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVar(&opts.reg, "reg", "rax", "register whose formula is printed")
	root.Flags().BoolVar(&opts.allRegs, "all-regs", false, "print every register formula")
	root.Flags().BoolVar(&opts.mem, "mem", false, "print every memory formula")
	root.Flags().BoolVar(&opts.inputs, "inputs", false, "print the input-symbol origins")
	root.Flags().StringVar(&opts.smtOut, "smt", "", "write the formula as SMT-LIB2 to this file")
	root.Flags().BoolVar(&opts.dump, "dump", false, "dump the hybrid-aware deep form of the register")
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

	eng := symexec.New()
	eng.InitAllSymbolic()
	if err := eng.Run(records); err != nil {
		return err
	}
	lg.Debug("execution done", "values", eng.Arena().Len())

	if opts.allRegs {
		eng.WriteAllRegFormulas(os.Stdout)
	} else {
		if err := eng.WriteRegFormula(os.Stdout, opts.reg); err != nil {
			return err
		}
	}
	if opts.mem {
		eng.WriteAllMemFormulas(os.Stdout)
	}

	v, ok := eng.RegValue(opts.reg)
	if !ok {
		return fmt.Errorf("register %q is not a canonical 64-bit register", opts.reg)
	}
	if opts.dump {
		if err := eng.DumpReg(os.Stdout, opts.reg); err != nil {
			return err
		}
	}
	if opts.inputs {
		eng.WriteInputOrigins(os.Stdout, v)
	}
	if opts.smtOut != "" {
		f, err := os.Create(opts.smtOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", opts.smtOut, err)
		}
		if err := eng.Arena().WriteSMT(f, v); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		lg.Info("wrote SMT-LIB2 formula", "file", opts.smtOut)
	}
	return nil
}
