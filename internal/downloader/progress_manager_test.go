package downloader

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestProgressModelTracksOutcomes(t *testing.T) {
	m := newProgressModel(nil)
	m.Update(registerMsg{id: "a", label: "lecture-01", total: 4, start: time.Now()})
	m.Update(updateMsg{id: "a", ok: true, bytes: 1024})
	m.Update(updateMsg{id: "a", ok: true, bytes: 1024})
	m.Update(updateMsg{id: "a", ok: false})

	task := m.tasks["a"]
	if task.done != 3 || task.failed != 1 || task.bytes != 2048 {
		t.Fatalf("unexpected task state: %+v", task)
	}
	if got := task.percent(); got != 0.75 {
		t.Fatalf("percent = %v, want 0.75", got)
	}

	view := m.View()
	for _, want := range []string{"lecture-01", "3/4 segments", "2.0KB", "1 failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestProgressModelStableOrdering(t *testing.T) {
	m := newProgressModel(nil)
	m.Update(registerMsg{id: "1", label: "alpha", total: 1, start: time.Now()})
	m.Update(registerMsg{id: "2", label: "beta", total: 1, start: time.Now()})
	m.Update(registerMsg{id: "1", label: "duplicate", total: 9, start: time.Now()})

	view := m.View()
	if strings.Contains(view, "duplicate") {
		t.Fatal("re-registering an id must not replace the task")
	}
	if strings.Index(view, "alpha") > strings.Index(view, "beta") {
		t.Fatalf("expected alpha before beta:\n%s", view)
	}
}

func TestProgressModelFinishAndResize(t *testing.T) {
	m := newProgressModel(nil)
	m.Update(registerMsg{id: "a", label: "x", total: 0, start: time.Now()})
	m.Update(finishMsg{id: "a"})
	if got := m.tasks["a"].percent(); got != 1 {
		t.Fatalf("finished empty task percent = %v", got)
	}

	m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	if w := m.tasks["a"].bar.Width; w != barWidth(40) {
		t.Fatalf("bar width = %d, want %d", w, barWidth(40))
	}
	if !strings.Contains(m.View(), "✓") {
		t.Fatal("finished task should render a check mark")
	}
}

func TestProgressModelInterruptAndStop(t *testing.T) {
	interrupted := false
	m := newProgressModel(func() { interrupted = true })
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !interrupted {
		t.Fatal("ctrl+c should call the interrupt hook")
	}
	_, cmd := m.Update(stopMsg{})
	if cmd == nil {
		t.Fatal("stop should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("stop should quit the program")
	}
}

func TestProgressManagerWritesDirectlyWhenIdle(t *testing.T) {
	var out bytes.Buffer
	pm := NewProgressManager(&out, nil)
	if _, err := pm.Write([]byte("before start\n")); err != nil {
		t.Fatal(err)
	}
	pm.Stop()
	if out.String() != "before start\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if pm.Reporter() == pm.Reporter() {
		t.Fatal("each reporter must get its own bar")
	}
}

func TestLogReporterCounts(t *testing.T) {
	var buf strings.Builder
	r := NewLogReporter(newTestLogger(&buf))
	r.Interval = time.Hour

	r.Start("job", 3)
	r.Observe(FetchOutcome{Index: 0, OK: true, Bytes: 10})
	r.Observe(FetchOutcome{Index: 1, URL: "https://cdn.example.com/1.ts", Err: errors.New("boom")})
	r.Observe(FetchOutcome{Index: 2, OK: true, Bytes: 5})
	r.Finish()

	out := buf.String()
	if !strings.Contains(out, "segment failed") || !strings.Contains(out, "1.ts") {
		t.Fatalf("expected failure line, got:\n%s", out)
	}
	if !strings.Contains(out, "segments fetched") || !strings.Contains(out, "failed=1") {
		t.Fatalf("expected summary line, got:\n%s", out)
	}
}

func TestHumanBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0B",
		1023:            "1023B",
		1024:            "1.0KB",
		5 * 1024 * 1024: "5.0MB",
		3 << 30:         "3.0GB",
	}
	for in, want := range tests {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
