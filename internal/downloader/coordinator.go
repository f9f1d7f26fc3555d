package downloader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lvcoi/m3u8-dl/internal/hls"
)

const (
	defaultWorkers  = 16
	maxListedErrors = 10
)

// Fetcher fetches one segment and reports the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, seg Segment) FetchOutcome
}

// FetchError aggregates the failed outcomes of a run.
type FetchError struct {
	Total    int
	Failures []FetchOutcome
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d segments failed", len(e.Failures), e.Total)
	for i, f := range e.Failures {
		if i == maxListedErrors {
			fmt.Fprintf(&b, "\n  ... and %d more", len(e.Failures)-maxListedErrors)
			break
		}
		fmt.Fprintf(&b, "\n  [%d] %s: %v", f.Index, f.URL, f.Err)
	}
	return b.String()
}

// Listed returns the failures shown to the user, lowest indices first.
func (e *FetchError) Listed() []FetchOutcome {
	if len(e.Failures) > maxListedErrors {
		return e.Failures[:maxListedErrors]
	}
	return e.Failures
}

// KeyOnly reports whether every failure was caused by key material.
func (e *FetchError) KeyOnly() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		var keyErr *hls.KeyError
		if !errors.As(f.Err, &keyErr) {
			return false
		}
	}
	return true
}

// Coordinator runs a Fetcher over every segment with bounded concurrency.
type Coordinator struct {
	Fetcher  Fetcher
	Workers  int
	Reporter Reporter
}

// Run fetches all segments. It returns the outcomes indexed by segment and a
// *FetchError when any segment failed. Sibling failures never stop the run.
func (c *Coordinator) Run(ctx context.Context, label string, segments []Segment) ([]FetchOutcome, error) {
	workers := c.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	reporter := c.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}

	reporter.Start(label, len(segments))
	defer reporter.Finish()

	results := make(chan FetchOutcome, workers)
	outcomes := make([]FetchOutcome, len(segments))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for outcome := range results {
			outcomes[outcome.Index] = outcome
			reporter.Observe(outcome)
		}
	}()

	var group errgroup.Group
	group.SetLimit(workers)
	for _, seg := range segments {
		seg := seg
		group.Go(func() error {
			results <- c.Fetcher.Fetch(ctx, seg)
			return nil
		})
	}
	_ = group.Wait()
	close(results)
	<-collected

	var failures []FetchOutcome
	for _, outcome := range outcomes {
		if !outcome.OK {
			failures = append(failures, outcome)
		}
	}
	if len(failures) == 0 {
		return outcomes, nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	return outcomes, &FetchError{Total: len(segments), Failures: failures}
}
