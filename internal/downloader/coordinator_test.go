package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lvcoi/m3u8-dl/internal/hls"
)

type fetcherFunc func(ctx context.Context, seg Segment) FetchOutcome

func (f fetcherFunc) Fetch(ctx context.Context, seg Segment) FetchOutcome {
	return f(ctx, seg)
}

type recordingReporter struct {
	mu       sync.Mutex
	label    string
	total    int
	observed []int
	finished bool
}

func (r *recordingReporter) Start(label string, total int) {
	r.label, r.total = label, total
}

func (r *recordingReporter) Observe(outcome FetchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, outcome.Index)
}

func (r *recordingReporter) Finish() {
	r.finished = true
}

func testSegments(n int) []Segment {
	segments := make([]Segment, n)
	for i := range segments {
		segments[i] = Segment{Index: i, URL: fmt.Sprintf("https://cdn.example.com/%d.ts", i), Path: SegmentName(i)}
	}
	return segments
}

func TestCoordinatorBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	fetcher := fetcherFunc(func(ctx context.Context, seg Segment) FetchOutcome {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return FetchOutcome{Index: seg.Index, URL: seg.URL, OK: true}
	})

	reporter := &recordingReporter{}
	c := &Coordinator{Fetcher: fetcher, Workers: 4, Reporter: reporter}
	outcomes, err := c.Run(context.Background(), "job", testSegments(40))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := atomic.LoadInt32(&peak); p > 4 {
		t.Fatalf("observed %d concurrent fetches, limit is 4", p)
	}
	if len(outcomes) != 40 || len(reporter.observed) != 40 {
		t.Fatalf("expected 40 outcomes and observations, got %d and %d", len(outcomes), len(reporter.observed))
	}
	if reporter.label != "job" || reporter.total != 40 || !reporter.finished {
		t.Fatalf("reporter lifecycle not honoured: %+v", reporter)
	}
}

func TestCoordinatorCollectsEveryOutcomeInAnyOrder(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, seg Segment) FetchOutcome {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond) //nolint:gosec
		return FetchOutcome{Index: seg.Index, URL: seg.URL, OK: true}
	})
	outcomes, err := (&Coordinator{Fetcher: fetcher, Workers: 8}).Run(context.Background(), "x", testSegments(64))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, outcome := range outcomes {
		if outcome.Index != i || !outcome.OK {
			t.Fatalf("outcome %d misplaced: %+v", i, outcome)
		}
	}
}

func TestCoordinatorReportsSingleFailure(t *testing.T) {
	var calls int32
	fetcher := fetcherFunc(func(ctx context.Context, seg Segment) FetchOutcome {
		atomic.AddInt32(&calls, 1)
		if seg.Index == 3 {
			return FetchOutcome{Index: seg.Index, URL: seg.URL, Err: errors.New("unexpected status 404")}
		}
		return FetchOutcome{Index: seg.Index, URL: seg.URL, OK: true}
	})

	_, err := (&Coordinator{Fetcher: fetcher, Workers: 3}).Run(context.Background(), "x", testSegments(10))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if len(fetchErr.Failures) != 1 || fetchErr.Failures[0].Index != 3 {
		t.Fatalf("expected exactly segment 3 to fail, got %+v", fetchErr.Failures)
	}
	if c := atomic.LoadInt32(&calls); c != 10 {
		t.Fatalf("a failure must not cancel siblings: %d of 10 fetched", c)
	}
	if !strings.Contains(err.Error(), "1 of 10 segments failed") || !strings.Contains(err.Error(), "3.ts") {
		t.Fatalf("unexpected message: %s", err)
	}
	if CategoryOf(err) != CategorySegmentFetch || ExitCode(err) != 4 {
		t.Fatalf("unexpected classification %s/%d", CategoryOf(err), ExitCode(err))
	}
}

func TestFetchErrorListsFirstTenByIndex(t *testing.T) {
	fetcher := fetcherFunc(func(ctx context.Context, seg Segment) FetchOutcome {
		if seg.Index%2 == 1 {
			return FetchOutcome{Index: seg.Index, URL: seg.URL, Err: errors.New("timeout")}
		}
		return FetchOutcome{Index: seg.Index, URL: seg.URL, OK: true}
	})
	_, err := (&Coordinator{Fetcher: fetcher, Workers: 16}).Run(context.Background(), "x", testSegments(50))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if len(fetchErr.Failures) != 25 {
		t.Fatalf("expected 25 failures, got %d", len(fetchErr.Failures))
	}
	listed := fetchErr.Listed()
	if len(listed) != 10 {
		t.Fatalf("expected 10 listed failures, got %d", len(listed))
	}
	for i, f := range listed {
		if f.Index != 2*i+1 {
			t.Fatalf("listed failure %d has index %d", i, f.Index)
		}
	}
	if strings.Count(err.Error(), "\n  [") != 10 || !strings.Contains(err.Error(), "and 15 more") {
		t.Fatalf("unexpected message:\n%s", err)
	}
}

func TestFetchErrorKeyOnly(t *testing.T) {
	keyErr := &hls.KeyError{URI: "https://cdn.example.com/k", Err: errors.New("403")}
	err := &FetchError{Total: 2, Failures: []FetchOutcome{{Index: 0, Err: keyErr}, {Index: 1, Err: keyErr}}}
	if CategoryOf(err) != CategoryKeyFetch {
		t.Fatalf("expected key_fetch, got %s", CategoryOf(err))
	}
	err.Failures = append(err.Failures, FetchOutcome{Index: 2, Err: errors.New("reset")})
	if CategoryOf(err) != CategorySegmentFetch {
		t.Fatalf("expected segment_fetch, got %s", CategoryOf(err))
	}
}
