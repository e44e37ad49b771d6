package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-sandbox/bench"
)

var (
	groupStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))
)

type interactiveModel struct {
	ctx        context.Context
	env        *bench.Env
	workloads  []bench.Workload
	results    []bench.Result
	queue      []bench.Workload
	running    *bench.Workload
	events     chan tea.Msg
	finished   chan struct{}
	quit       chan struct{}
	spinner    spinner.Model
	progress   progress.Model
	iterations int
	done       int
	selected   int
}

type progressMsg int

type resultMsg bench.Result

func newInteractiveModel(ctx context.Context, env *bench.Env, workloads []bench.Workload, iterations int) *interactiveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &interactiveModel{
		ctx:        ctx,
		env:        env,
		workloads:  workloads,
		iterations: iterations,
		spinner:    sp,
		progress:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		quit:       make(chan struct{}),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// start measures w on a background goroutine. Progress and the final
// result arrive as messages on m.events.
func (m *interactiveModel) start(w bench.Workload) tea.Cmd {
	events := make(chan tea.Msg, 16)
	finished := make(chan struct{})
	m.events, m.finished = events, finished
	m.running = &w
	m.done = 0

	go func() {
		defer close(finished)
		res := bench.Measure(m.ctx, m.env, w, m.iterations, func(done int) {
			select {
			case events <- progressMsg(done):
			default:
			}
		})
		select {
		case events <- resultMsg(res):
		case <-m.quit:
		}
	}()
	return waitFor(events)
}

func waitFor(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-events }
}

func (m *interactiveModel) next() tea.Cmd {
	if len(m.queue) == 0 {
		return nil
	}
	w := m.queue[0]
	m.queue = m.queue[1:]
	return m.start(w)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.workloads)-1 {
				m.selected++
			}

		case "enter":
			m.queue = append(m.queue, m.workloads[m.selected])
			if m.running == nil {
				return m, m.next()
			}

		case "a":
			m.queue = append(m.queue, m.workloads...)
			if m.running == nil {
				return m, m.next()
			}

		case "c":
			m.results = nil
		}

	case progressMsg:
		m.done = int(msg)
		return m, waitFor(m.events)

	case resultMsg:
		m.results = append(m.results, bench.Result(msg))
		m.running = nil
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		return m, m.next()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sandbox Bench"))
	b.WriteString(fmt.Sprintf(" %d iterations per workload\n\n", m.iterations))

	for i, w := range m.workloads {
		line := groupStyle.Render(string(w.Group)+"/") + w.Name
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + string(w.Group) + "/" + w.Name))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.running != nil {
		pct := float64(m.done) / float64(max(m.iterations, 1))
		b.WriteString(fmt.Sprintf("%s %s %s", m.spinner.View(), m.running.ID(), m.progress.ViewAs(pct)))
		if len(m.queue) > 0 {
			b.WriteString(helpStyle.Render(fmt.Sprintf("  (%d queued)", len(m.queue))))
		}
		b.WriteString("\n\n")
	}

	if len(m.results) > 0 {
		b.WriteString(renderResults(m.results))
		b.WriteString("\n")
		b.WriteString(renderTotals(m.env.Metrics.Snapshot(), m.env.Runtime.Allocator().Stats()))
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ select • enter run • a run all • c clear • q quit"))
	return b.String()
}

// runInteractive blocks until the user quits. A workload still running
// then stops at its next iteration boundary.
func runInteractive(ctx context.Context, env *bench.Env, workloads []bench.Workload, iterations int) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newInteractiveModel(runCtx, env, workloads, iterations)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	cancel()
	close(m.quit)
	if m.finished != nil {
		<-m.finished
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
