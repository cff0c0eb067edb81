// Package cli holds the trace-loading step shared by the command binaries.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"symtrace/internal/trace"
)

// LoadTrace parses a trace file and decodes every operand. Malformed lines
// are warnings unless strict is set, in which case the first one is fatal.
func LoadTrace(path string, strict bool, lg *log.Logger) ([]*trace.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	records, perrs, err := trace.Parse(f)
	if err != nil {
		return nil, err
	}
	for i := range perrs {
		if strict {
			return nil, &perrs[i]
		}
		lg.Warn("skipping malformed line", "err", perrs[i].Error())
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("trace %s holds no records", path)
	}

	trace.DecodeOperands(records)
	lg.Debug("trace loaded", "records", len(records))
	return records, nil
}
