package trace

import (
	"bufio"
	"fmt"
	"io"
)

// WriteLLSE re-emits records in the input trace format, suitable for feeding
// back into any of the analysis commands.
func WriteLLSE(w io.Writer, records []*Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		fmt.Fprintf(bw, "%s;%s;", r.Addr, r.Disasm)
		for _, c := range r.CtxReg {
			fmt.Fprintf(bw, "%x,", c)
		}
		fmt.Fprintf(bw, "%x,%x\n", r.RAddr, r.WAddr)
	}
	return bw.Flush()
}

// WriteHuman emits records with their resolved def/use parameter sets, one
// instruction per line.
func WriteHuman(w io.Writer, records []*Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		fmt.Fprintf(bw, "%d %s %s\tsrc:", r.ID, r.Addr, r.Disasm)
		for _, p := range r.Src {
			fmt.Fprintf(bw, " %s", p)
		}
		bw.WriteString(", dst:")
		for _, p := range r.Dst {
			fmt.Fprintf(bw, " %s", p)
		}
		if len(r.Src2) > 0 || len(r.Dst2) > 0 {
			bw.WriteString(", src2:")
			for _, p := range r.Src2 {
				fmt.Fprintf(bw, " %s", p)
			}
			bw.WriteString(", dst2:")
			for _, p := range r.Dst2 {
				fmt.Fprintf(bw, " %s", p)
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteWindow emits records in the VM-window file format, with 0x-prefixed
// context and EA fields.
func WriteWindow(w io.Writer, records []*Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		fmt.Fprintf(bw, "%s;%s;", r.Addr, r.Disasm)
		for _, c := range r.CtxReg {
			fmt.Fprintf(bw, "0x%x,", c)
		}
		fmt.Fprintf(bw, "0x%x,0x%x\n", r.RAddr, r.WAddr)
	}
	return bw.Flush()
}
