package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lvcoi/m3u8-dl/internal/db"
)

func newHistoryCommand(configPath *string, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded downloads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if cfg.History == "" {
				return usageError("no history database configured (use --history or M3U8DL_HISTORY)")
			}
			store, err := db.Open(cfg.History)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit, 0)
			if err != nil {
				return err
			}
			writeHistory(stdout, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func writeHistory(out io.Writer, runs []db.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return
	}
	renderer := lipgloss.NewRenderer(out)
	styles := map[string]lipgloss.Style{
		db.StatusOK:      renderer.NewStyle().Foreground(lipgloss.Color("42")),
		db.StatusFailed:  renderer.NewStyle().Foreground(lipgloss.Color("196")),
		db.StatusSkipped: renderer.NewStyle().Foreground(lipgloss.Color("214")),
	}
	for _, run := range runs {
		status := fmt.Sprintf("%-7s", run.Status)
		if style, ok := styles[run.Status]; ok {
			status = style.Render(status)
		}
		detail := run.OutputPath
		if run.Status == db.StatusFailed {
			detail = run.Category + ": " + firstLine(run.Error)
		}
		fmt.Fprintf(out, "%s  %s  %s  %s\n", run.CreatedAt.Local().Format(time.DateTime), status, run.SourceURL, detail)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
