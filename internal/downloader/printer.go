package downloader

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const defaultColumns = 100

// Printer writes one status line per finished acquisition and a closing
// summary. Colors follow the capabilities of the output writer.
type Printer struct {
	mu         sync.Mutex
	out        io.Writer
	columns    int
	titleWidth int
	ok         lipgloss.Style
	fail       lipgloss.Style
	skip       lipgloss.Style
}

func NewPrinter(out io.Writer, columns int) *Printer {
	if columns <= 0 {
		columns = defaultColumns
	}
	titleWidth := min(max(columns-44, 20), 60)

	renderer := lipgloss.NewRenderer(out)
	return &Printer{
		out:        out,
		columns:    columns,
		titleWidth: titleWidth,
		ok:         renderer.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		fail:       renderer.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		skip:       renderer.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// Prefix renders "[ 3/12] label" padded to a fixed width.
func (p *Printer) Prefix(index, total int, label string) string {
	if total <= 0 {
		total = 1
	}
	width := len(strconv.Itoa(total))
	idx := fmt.Sprintf("%*d/%d", width, index, total)
	return fmt.Sprintf("[%s] %-*s", idx, p.titleWidth, truncateLine(label, p.titleWidth))
}

// ItemResult prints OK with the output size and path, or FAIL with the error.
func (p *Printer) ItemResult(prefix string, result Result, err error) {
	status, plain := p.ok.Render("OK"), "OK"
	detail := fmt.Sprintf("%9s %s", humanBytes(result.Bytes), result.Output)
	if result.Strategy == StrategyFallback {
		detail += " (concatenated)"
	}
	if err != nil {
		status, plain = p.fail.Render("FAIL"), "FAIL"
		detail = err.Error()
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			detail = fmt.Sprintf("%d of %d segments failed", len(fetchErr.Failures), fetchErr.Total)
		}
	}
	p.line(prefix, status, plain, detail)
}

// ItemSkipped prints SKIP with a reason.
func (p *Printer) ItemSkipped(prefix, reason string) {
	p.line(prefix, p.skip.Render("SKIP"), "SKIP", reason)
}

func (p *Printer) Summary(total, ok, failed, skipped int, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "Summary: %s %d | %s %d | %s %d | TOTAL %d | SIZE %s\n",
		p.ok.Render("OK"), ok, p.fail.Render("FAIL"), failed, p.skip.Render("SKIP"), skipped, total, humanBytes(bytes))
}

func (p *Printer) line(prefix, status, plainStatus, detail string) {
	maxDetail := max(p.columns-len(prefix)-len(plainStatus)-3, 0)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s %s\n", prefix, status, truncateLine(detail, maxDetail))
}
