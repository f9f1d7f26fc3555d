package downloader

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressManager renders one progress bar per acquisition through a Bubble
// Tea program. Several concurrent acquisitions can share one manager.
type ProgressManager struct {
	mu          sync.Mutex
	out         io.Writer
	program     *tea.Program
	done        chan struct{}
	nextID      atomic.Int64
	onInterrupt func()
	stopped     bool
}

// NewProgressManager renders to out. onInterrupt is called when the user
// presses ctrl+c while the program owns the terminal.
func NewProgressManager(out io.Writer, onInterrupt func()) *ProgressManager {
	return &ProgressManager{out: out, onInterrupt: onInterrupt}
}

// Start launches the program. It is a no-op when already started.
func (pm *ProgressManager) Start(ctx context.Context) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.program != nil {
		return
	}

	opts := []tea.ProgramOption{
		tea.WithOutput(pm.out),
		tea.WithoutSignalHandler(),
		tea.WithContext(ctx),
	}
	program := tea.NewProgram(newProgressModel(pm.onInterrupt), opts...)
	pm.program = program
	pm.done = make(chan struct{})

	go func() {
		defer close(pm.done)
		_, _ = program.Run()
	}()
}

// Stop asks the program to exit and waits briefly for the final frame.
func (pm *ProgressManager) Stop() {
	pm.mu.Lock()
	program := pm.program
	done := pm.done
	already := pm.stopped
	pm.stopped = true
	pm.mu.Unlock()

	if program == nil || already {
		return
	}
	program.Send(stopMsg{})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		program.Kill()
	}
}

// Reporter returns a Reporter that draws one bar in this manager.
func (pm *ProgressManager) Reporter() Reporter {
	return &tuiReporter{manager: pm, id: fmt.Sprintf("task-%d", pm.nextID.Add(1))}
}

func (pm *ProgressManager) send(msg tea.Msg) {
	pm.mu.Lock()
	program := pm.program
	pm.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

// Write prints log lines above the progress bars while the program runs and
// straight to the output otherwise.
func (pm *ProgressManager) Write(p []byte) (int, error) {
	pm.mu.Lock()
	program, done := pm.program, pm.done
	running := program != nil && !pm.stopped
	pm.mu.Unlock()
	if running {
		select {
		case <-done:
			running = false
		default:
		}
	}
	if !running {
		return pm.out.Write(p)
	}
	program.Println(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

type tuiReporter struct {
	manager *ProgressManager
	id      string
}

func (r *tuiReporter) Start(label string, total int) {
	r.manager.send(registerMsg{id: r.id, label: label, total: total, start: time.Now()})
}

func (r *tuiReporter) Observe(outcome FetchOutcome) {
	r.manager.send(updateMsg{id: r.id, ok: outcome.OK, bytes: outcome.Bytes})
}

func (r *tuiReporter) Finish() {
	r.manager.send(finishMsg{id: r.id})
}

type registerMsg struct {
	id    string
	label string
	total int
	start time.Time
}

type updateMsg struct {
	id    string
	ok    bool
	bytes int64
}

type finishMsg struct {
	id string
}

type stopMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0B0B0B")).
			Background(lipgloss.Color("#FFE66D")).
			Bold(true).
			Padding(0, 1)

	percentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00F5D4")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")).
			Bold(true)

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6ADC8")).
			Faint(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FDBFF"))
)

type progressModel struct {
	tasks       map[string]*progressTask
	order       []string
	width       int
	quit        bool
	onInterrupt func()
}

type progressTask struct {
	label    string
	total    int
	done     int
	failed   int
	bytes    int64
	started  time.Time
	finished time.Time
	complete bool
	bar      progressbar.Model
	spin     spinner.Model
}

func (t *progressTask) percent() float64 {
	if t.total <= 0 {
		if t.complete {
			return 1
		}
		return 0
	}
	return float64(t.done) / float64(t.total)
}

func newProgressModel(onInterrupt func()) *progressModel {
	return &progressModel{
		tasks:       make(map[string]*progressTask),
		width:       80,
		onInterrupt: onInterrupt,
	}
}

func barWidth(total int) int {
	width := total - 10
	if width < 10 {
		return 10
	}
	return width
}

func (m *progressModel) Init() tea.Cmd {
	return nil
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, task := range m.tasks {
			task.bar.Width = barWidth(m.width)
		}
	case registerMsg:
		if _, exists := m.tasks[msg.id]; exists {
			return m, nil
		}
		spin := spinner.New()
		spin.Spinner = spinner.MiniDot
		spin.Style = spinnerStyle
		task := &progressTask{
			label:   msg.label,
			total:   msg.total,
			started: msg.start,
			bar: progressbar.New(
				progressbar.WithGradient("#FF006E", "#00F5FF"),
				progressbar.WithWidth(barWidth(m.width)),
				progressbar.WithoutPercentage(),
			),
			spin: spin,
		}
		m.tasks[msg.id] = task
		m.order = append(m.order, msg.id)
		return m, task.spin.Tick
	case updateMsg:
		if task, ok := m.tasks[msg.id]; ok {
			task.done++
			task.bytes += msg.bytes
			if !msg.ok {
				task.failed++
			}
		}
	case finishMsg:
		if task, ok := m.tasks[msg.id]; ok {
			task.complete = true
			task.finished = time.Now()
		}
	case spinner.TickMsg:
		var cmds []tea.Cmd
		for _, task := range m.tasks {
			if task.complete {
				continue
			}
			var cmd tea.Cmd
			task.spin, cmd = task.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
		}
	case stopMsg:
		m.quit = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(" Segments"))
	b.WriteString("\n")
	for _, id := range m.order {
		task := m.tasks[id]

		status := task.spin.View()
		elapsed := time.Since(task.started)
		if task.complete {
			status = "✓"
			elapsed = task.finished.Sub(task.started)
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			spinnerStyle.Render(status),
			percentStyle.Render(fmt.Sprintf("%5.1f%%", task.percent()*100)),
			labelStyle.Render(truncateLine(task.label, m.width-10)),
		)
		b.WriteString(task.bar.ViewAs(task.percent()))
		b.WriteString("\n")

		detail := fmt.Sprintf("%d/%d segments · %s · %s", task.done, task.total, humanBytes(task.bytes), formatDurationShort(elapsed))
		b.WriteString("        ")
		b.WriteString(detailStyle.Render(detail))
		if task.failed > 0 {
			b.WriteString(" ")
			b.WriteString(failedStyle.Render(fmt.Sprintf("%d failed", task.failed)))
		}
		b.WriteString("\n")
	}
	if m.quit {
		b.WriteString("\n")
	}
	return b.String()
}
