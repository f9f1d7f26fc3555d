package downloader

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Reporter observes the progress of a fetch run. Observe is called from a
// single goroutine.
type Reporter interface {
	Start(label string, total int)
	Observe(outcome FetchOutcome)
	Finish()
}

type nopReporter struct{}

func (nopReporter) Start(string, int)    {}
func (nopReporter) Observe(FetchOutcome) {}
func (nopReporter) Finish()              {}

// LogReporter writes progress as log lines, throttled to one line per
// interval plus the final count. It is used when stderr is not a terminal.
type LogReporter struct {
	Logger   *log.Logger
	Interval time.Duration

	mu       sync.Mutex
	label    string
	total    int
	done     int
	failed   int
	bytes    int64
	started  time.Time
	lastLine time.Time
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	return &LogReporter{Logger: logger, Interval: 2 * time.Second}
}

func (r *LogReporter) Start(label string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.label = label
	r.total = total
	r.done, r.failed, r.bytes = 0, 0, 0
	r.started = time.Now()
	r.lastLine = r.started
}

func (r *LogReporter) Observe(outcome FetchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.bytes += outcome.Bytes
	if !outcome.OK {
		r.failed++
		r.Logger.Warn("segment failed", "index", outcome.Index, "url", outcome.URL, "err", outcome.Err)
	}
	if time.Since(r.lastLine) >= r.Interval {
		r.lastLine = time.Now()
		r.Logger.Info("progress", "name", r.label, "done", r.done, "total", r.total, "failed", r.failed, "bytes", humanBytes(r.bytes))
	}
}

func (r *LogReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logger.Info("segments fetched",
		"name", r.label,
		"done", r.done,
		"total", r.total,
		"failed", r.failed,
		"bytes", humanBytes(r.bytes),
		"elapsed", time.Since(r.started).Round(time.Millisecond),
	)
}
