package cli

import (
	"io"
	"os"
	"strconv"

	"github.com/lvcoi/m3u8-dl/internal/config"
)

// progressMode resolves "auto" to the TUI on a terminal and to log lines
// everywhere else.
func progressMode(mode string, out io.Writer) string {
	if mode != config.ProgressAuto {
		return mode
	}
	if isTerminal(out) && os.Getenv("TERM") != "dumb" {
		return config.ProgressTUI
	}
	return config.ProgressLog
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func terminalColumns() int {
	if columns := os.Getenv("COLUMNS"); columns != "" {
		if val, err := strconv.Atoi(columns); err == nil && val > 0 {
			return val
		}
	}
	return 0
}
