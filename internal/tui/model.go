// Package tui renders a live view of a running loop: the step list of
// the current attempt, streaming output, and per-story outcomes. It only
// observes the event bus; the one action it offers is requesting a stop.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"bmadloop/internal/domain"
	"bmadloop/internal/events"
	"bmadloop/internal/runner"
)

const outputTail = 8

type eventMsg events.Event

// stopObservedMsg reports that the stop sentinel appeared on disk,
// typically written by `bmadloop stop` in another terminal.
type stopObservedMsg struct{}

type stepView struct {
	name   domain.StepName
	status domain.StepStatus
}

type finishedStory struct {
	id    string
	state string
}

// Model is the bubbletea model for the run view.
type Model struct {
	styles      Styles
	signal      *runner.FileSignal
	maxAttempts int

	story       string
	attempt     int
	steps       []stepView
	output      []string
	verdict     *domain.Verdict
	remediation string
	finished    []finishedStory
	stopPending bool
	done        bool
	width       int
}

// NewModel creates the run view model.
func NewModel(signal *runner.FileSignal, maxAttempts int) Model {
	return Model{
		styles:      DefaultStyles(),
		signal:      signal,
		maxAttempts: maxAttempts,
		steps:       freshSteps(),
		width:       80,
	}
}

func freshSteps() []stepView {
	steps := make([]stepView, len(domain.PipelineSteps()))
	for i, name := range domain.PipelineSteps() {
		steps[i] = stepView{name: name, status: domain.StepPending}
	}
	return steps
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if m.signal != nil && !m.stopPending {
				if err := m.signal.Request(); err == nil {
					m.stopPending = true
				}
			}
			return m, nil
		}

	case stopObservedMsg:
		m.stopPending = true
		return m, nil

	case eventMsg:
		return m.applyEvent(events.Event(msg))
	}
	return m, nil
}

func (m Model) applyEvent(ev events.Event) (tea.Model, tea.Cmd) {
	switch ev.Type {
	case events.StoryStarted:
		m.story = ev.StoryID
		m.attempt = 0
		m.steps = freshSteps()
		m.output = nil
		m.verdict = nil
		m.remediation = ""

	case events.AttemptStarted:
		m.attempt = ev.Attempt
		m.steps = freshSteps()
		m.output = nil

	case events.StepStarted:
		m.setStep(ev.Step, domain.StepRunning)

	case events.StepOutput:
		m.output = append(m.output, ev.Line)
		if len(m.output) > outputTail {
			m.output = m.output[len(m.output)-outputTail:]
		}

	case events.StepFinished:
		m.setStep(ev.Step, domain.StepStatus(ev.Status))

	case events.VerdictReady:
		m.verdict = ev.Verdict

	case events.Remediating:
		m.remediation = ev.Status

	case events.StoryFinished:
		m.finished = append(m.finished, finishedStory{id: ev.StoryID, state: ev.Status})

	case events.StopRequested:
		m.stopPending = true

	case events.RunFinished:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) setStep(name string, status domain.StepStatus) {
	for i := range m.steps {
		if string(m.steps[i].name) == name {
			m.steps[i].status = status
			return
		}
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.done {
		return m.summaryView()
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("bmadloop"))
	if m.story != "" {
		b.WriteString(m.styles.Subtle.Render(fmt.Sprintf("  story %s  attempt %d/%d", m.story, m.attempt, m.maxAttempts)))
	}
	if m.stopPending {
		b.WriteString("  " + m.styles.Warning.Render("stopping at next boundary"))
	}
	b.WriteString("\n\n")

	for _, step := range m.steps {
		b.WriteString(m.stepLine(step))
		b.WriteString("\n")
	}

	if m.verdict != nil {
		b.WriteString("\n" + m.verdictLine())
	}
	if m.remediation != "" {
		b.WriteString("\n" + m.styles.Warning.Render("remediation: "+m.remediation))
	}

	if len(m.output) > 0 {
		b.WriteString("\n" + m.styles.OutputBox.Width(m.width-4).Render(strings.Join(m.output, "\n")))
	}

	b.WriteString("\n" + m.styles.Help.Render("s stop after current step • q quit view"))
	return b.String()
}

func (m Model) stepLine(step stepView) string {
	title := step.name.Title()
	switch step.status {
	case domain.StepSuccess:
		return m.styles.StepDone.Render("  ✓ " + title)
	case domain.StepFailed:
		return m.styles.StepFail.Render("  ✗ " + title)
	case domain.StepRunning:
		return m.styles.StepRun.Render("  ▶ " + title)
	case domain.StepSkipped:
		return m.styles.Subtle.Render("  - " + title + " (skipped)")
	default:
		return m.styles.StepIdle.Render("  ○ " + title)
	}
}

func (m Model) verdictLine() string {
	v := m.verdict
	label := fmt.Sprintf("%s verification", v.Mode)
	if v.Passed {
		return m.styles.Success.Render(fmt.Sprintf("%s passed", label))
	}
	return m.styles.Error.Render(fmt.Sprintf("%s failed (%d checks)", label, len(v.FailedChecks())))
}

func (m Model) summaryView() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("run complete") + "\n\n")
	for _, f := range m.finished {
		style := m.styles.Success
		if f.state != string(domain.RunSucceeded) {
			style = m.styles.Error
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", f.id, style.Render(f.state)))
	}
	return b.String()
}

// Run attaches the view to the bus and blocks until the run finishes or
// the user quits. A stop watcher reflects external stop requests in the
// view as soon as the sentinel file appears.
func Run(ctx context.Context, bus *events.Bus, signal *runner.FileSignal, maxAttempts int, logger *zap.Logger) error {
	p := tea.NewProgram(NewModel(signal, maxAttempts), tea.WithContext(ctx))

	ch, cancel := bus.Subscribe()
	defer cancel()
	go func() {
		for ev := range ch {
			p.Send(eventMsg(ev))
		}
	}()

	if watcher, err := runner.NewStopWatcher(signal, logger); err != nil {
		// The view still works without it; boundary checks catch the stop.
		logger.Warn("stop watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-watcher.Notify():
					p.Send(stopObservedMsg{})
				}
			}
		}()
	}

	_, err := p.Run()
	return err
}
