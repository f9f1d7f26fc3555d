// Package app runs batches of acquisitions with a job-level concurrency
// limit.
package app

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/lvcoi/m3u8-dl/internal/config"
	"github.com/lvcoi/m3u8-dl/internal/db"
	"github.com/lvcoi/m3u8-dl/internal/downloader"
)

var mediaExtensions = map[string]bool{".mp4": true, ".m4v": true, ".mkv": true, ".mov": true, ".ts": true}

const (
	defaultExtension = ".mp4"
	workDirSuffix    = "_temp"
	exitInterrupted  = 130
)

// Acquirer runs one acquisition.
type Acquirer interface {
	Acquire(ctx context.Context, req downloader.Request) (downloader.Result, error)
}

// History records finished jobs.
type History interface {
	InsertRun(record db.RunRecord) (int64, error)
	LastSuccess(sourceURL string) (db.RunRecord, bool, error)
}

// Options configures Run.
type Options struct {
	Acquirer     Acquirer
	Logger       *log.Logger
	Jobs         int
	KeepSegments bool
	// WorkRoot, when set, holds the working directories of jobs that do not
	// name their own.
	WorkRoot string
	OnExists downloader.DuplicatePolicy
	// Reporter returns the progress sink for one job. Nil disables progress.
	Reporter func(label string) downloader.Reporter
	// Printer receives one line per finished job. Optional.
	Printer *downloader.Printer
	// History, when set, stores one row per job.
	History History
}

type Result struct {
	RunID    string            `json:"run_id"`
	URL      string            `json:"url"`
	Output   string            `json:"output,omitempty"`
	Skipped  bool              `json:"skipped,omitempty"`
	Download downloader.Result `json:"-"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
	Category string            `json:"category,omitempty"`
}

// Run executes jobs with at most opts.Jobs in flight. Results are returned in
// job order together with the highest exit code seen; an interrupted run
// without other failures exits with 130.
func Run(ctx context.Context, jobs []config.Job, opts Options) ([]Result, int) {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.OnExists == "" {
		opts.OnExists = downloader.DuplicatePolicyOverwrite
	}
	outputs := downloader.NewOutputSet()

	type task struct {
		index int
		job   config.Job
	}
	tasks := make(chan task)
	results := make([]Result, len(jobs))
	ran := make([]bool, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < opts.Jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				res := runJob(ctx, t.job, opts, outputs)
				if opts.History != nil {
					record(opts.History, opts.Logger, res)
				}
				if opts.Printer != nil {
					report(opts.Printer, t.index+1, len(jobs), res)
				}
				results[t.index] = res
				ran[t.index] = true
			}
		}()
	}

submit:
	for i, job := range jobs {
		select {
		case <-ctx.Done():
			break submit
		case tasks <- task{index: i, job: job}:
		}
	}
	close(tasks)
	wg.Wait()

	output := make([]Result, 0, len(jobs))
	exitCode := 0
	for i, res := range results {
		if !ran[i] {
			continue
		}
		output = append(output, res)
		if res.Err != nil {
			if code := downloader.ExitCode(res.Err); code > exitCode {
				exitCode = code
			}
		}
	}
	if ctx.Err() != nil && exitCode == 0 {
		exitCode = exitInterrupted
	}

	if opts.Printer != nil && len(jobs) > 1 {
		summarize(opts.Printer, output)
	}
	return output, exitCode
}

func runJob(ctx context.Context, job config.Job, opts Options, outputs *downloader.OutputSet) Result {
	res := Result{RunID: newRunID(), URL: job.URL}
	logger := opts.Logger.With("run", res.RunID)

	if opts.History != nil {
		if prev, found, err := opts.History.LastSuccess(job.URL); err == nil && found {
			logger.Info("downloaded before", "previous_run", prev.RunID, "output", prev.OutputPath, "at", prev.CreatedAt.Format(time.DateTime))
		}
	}

	output := PlanOutput(job)
	resolved, skip, err := outputs.Resolve(output, opts.OnExists)
	if err != nil {
		return res.failed(err)
	}
	res.Output = resolved
	if skip {
		logger.Info("output exists, skipping", "output", resolved)
		res.Skipped = true
		return res
	}

	workDir := job.WorkDir
	if workDir == "" {
		workDir = PlanWorkDir(resolved)
		if opts.WorkRoot != "" {
			workDir = filepath.Join(opts.WorkRoot, filepath.Base(workDir))
		}
	}

	label := filepath.Base(resolved)
	req := downloader.Request{
		URL:          job.URL,
		Output:       resolved,
		WorkDir:      workDir,
		KeepSegments: opts.KeepSegments,
		Label:        label,
		Logger:       logger,
	}
	if opts.Reporter != nil {
		req.Reporter = opts.Reporter(label)
	}

	download, err := opts.Acquirer.Acquire(ctx, req)
	res.Download = download
	if err != nil {
		logger.Error("acquisition failed", "url", job.URL, "category", downloader.CategoryOf(err), "err", err)
		return res.failed(downloader.MarkReported(err))
	}
	res.Output = download.Output
	return res
}

func (r Result) failed(err error) Result {
	r.Err = err
	r.Error = err.Error()
	r.Category = string(downloader.CategoryOf(err))
	return r
}

// PlanOutput returns the output path for job: its explicit output, else its
// name (or a name derived from the URL) with an .mp4 extension.
func PlanOutput(job config.Job) string {
	if job.Output != "" {
		return job.Output
	}
	name := job.Name
	if name == "" {
		name = downloader.DeriveName(job.URL)
	}
	if !mediaExtensions[strings.ToLower(filepath.Ext(name))] {
		name += defaultExtension
	}
	return name
}

// PlanWorkDir returns "<output without extension>_temp".
func PlanWorkDir(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + workDirSuffix
}

func record(history History, logger *log.Logger, res Result) {
	row := db.RunRecord{
		RunID:          res.RunID,
		SourceURL:      res.URL,
		OutputPath:     res.Output,
		Status:         db.StatusOK,
		Strategy:       res.Download.Strategy,
		Category:       res.Category,
		Error:          res.Error,
		FileSize:       res.Download.Bytes,
		Segments:       res.Download.Segments,
		ReusedSegments: res.Download.Skipped,
		MediaDuration:  res.Download.Duration,
		ElapsedMillis:  res.Download.Elapsed.Milliseconds(),
	}
	switch {
	case res.Skipped:
		row.Status = db.StatusSkipped
	case res.Err != nil:
		row.Status = db.StatusFailed
	}
	if v := res.Download.Variant; v != nil {
		row.Bandwidth = v.Bandwidth
	}
	if _, err := history.InsertRun(row); err != nil {
		logger.Warn("recording history", "run", res.RunID, "err", err)
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// PrintResults writes one line per result and, for more than one job, a
// summary line.
func PrintResults(p *downloader.Printer, results []Result, total int) {
	for i, res := range results {
		report(p, i+1, total, res)
	}
	if total > 1 {
		summarize(p, results)
	}
}

func report(p *downloader.Printer, index, total int, res Result) {
	label := res.Output
	if label == "" {
		label = res.URL
	}
	prefix := p.Prefix(index, total, filepath.Base(label))
	if res.Skipped {
		p.ItemSkipped(prefix, "output exists: "+res.Output)
		return
	}
	p.ItemResult(prefix, res.Download, res.Err)
}

func summarize(p *downloader.Printer, results []Result) {
	var ok, failed, skipped int
	var bytes int64
	for _, res := range results {
		switch {
		case res.Skipped:
			skipped++
		case res.Err != nil:
			failed++
		default:
			ok++
			bytes += res.Download.Bytes
		}
	}
	p.Summary(len(results), ok, failed, skipped, bytes)
}
