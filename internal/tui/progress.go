package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/delve/internal/orchestrator"
)

// Run phases shown in the header.
const (
	PhaseStarting     = "starting"
	PhaseSupervising  = "supervising"
	PhaseResearching  = "researching"
	PhaseWriting      = "writing report"
	PhaseDone         = "done"
	maxLogEntries     = 200
	visibleLogEntries = 8
)

// ProgressState tracks the current research progress.
type ProgressState struct {
	Topic      string
	Phase      string
	Round      int
	MaxRounds  int
	Iterations int
	Completed  int
	Failed     int
	Rejected   int
	Sources    int
	TokensUsed int64
	Reason     string
	// ActiveWorkers maps directive ID -> worker info
	ActiveWorkers map[string]WorkerInfo
}

// WorkerInfo describes a researcher that is currently running.
type WorkerInfo struct {
	DirectiveID string
	Subtopic    string
	Slug        string
	Started     time.Time
}

// Apply folds an orchestrator event into the state.
func (s *ProgressState) Apply(ev orchestrator.Event) {
	if s.ActiveWorkers == nil {
		s.ActiveWorkers = make(map[string]WorkerInfo)
	}
	switch ev.Type {
	case orchestrator.EventRunStarted:
		s.Phase = PhaseSupervising
	case orchestrator.EventRoundStarted:
		s.Phase = PhaseSupervising
		s.Round = ev.Round
	case orchestrator.EventDirectiveRejected:
		s.Rejected++
	case orchestrator.EventWorkerStarted:
		s.Phase = PhaseResearching
		s.ActiveWorkers[ev.DirectiveID] = WorkerInfo{
			DirectiveID: ev.DirectiveID,
			Subtopic:    ev.Subtopic,
			Slug:        ev.Slug,
			Started:     ev.Timestamp,
		}
	case orchestrator.EventWorkerCompleted:
		delete(s.ActiveWorkers, ev.DirectiveID)
		s.Completed++
	case orchestrator.EventWorkerFailed:
		delete(s.ActiveWorkers, ev.DirectiveID)
		s.Failed++
	case orchestrator.EventRoundCompleted:
		s.Iterations++
		s.Sources = ev.Sources
		s.TokensUsed = ev.TokensUsed
	case orchestrator.EventSupervisorDone:
		s.Reason = ev.Reason
	case orchestrator.EventSynthesisStarted:
		s.Phase = PhaseWriting
	case orchestrator.EventBudgetWarning:
		s.TokensUsed = ev.TokensUsed
	case orchestrator.EventRunDone:
		s.Phase = PhaseDone
		s.Sources = ev.Sources
		s.TokensUsed = ev.TokensUsed
		if ev.Reason != "" {
			s.Reason = ev.Reason
		}
	}
}

// DescribeEvent returns a status symbol and a one-line description of ev.
// ok is false for events that are not worth a log line.
func DescribeEvent(ev orchestrator.Event) (symbol, message string, ok bool) {
	switch ev.Type {
	case orchestrator.EventRunStarted:
		return "→", fmt.Sprintf("Researching %q", ev.Message), true
	case orchestrator.EventRoundStarted:
		return "→", fmt.Sprintf("Round %d: supervisor planning", ev.Round), true
	case orchestrator.EventDirectiveRejected:
		return "⚠", fmt.Sprintf("Delegation rejected: %s", ev.Message), true
	case orchestrator.EventWorkerStarted:
		return "→", fmt.Sprintf("Researching %s", ev.Subtopic), true
	case orchestrator.EventWorkerCompleted:
		return "✓", fmt.Sprintf("%s: %d sources (%s)", ev.Subtopic, ev.Sources, ev.Duration.Round(time.Second)), true
	case orchestrator.EventWorkerFailed:
		reason := ev.Message
		if ev.Error != nil {
			reason = ev.Error.Error()
		}
		return "✗", fmt.Sprintf("%s failed: %s", ev.Subtopic, reason), true
	case orchestrator.EventRoundCompleted:
		return "✓", fmt.Sprintf("Round %d complete: %s, %d sources", ev.Round, ev.Message, ev.Sources), true
	case orchestrator.EventSupervisorDone:
		return "✓", fmt.Sprintf("Supervisor stopped (%s): %s", ev.Reason, ev.Message), true
	case orchestrator.EventSynthesisStarted:
		return "→", fmt.Sprintf("Writing report from %s", ev.Message), true
	case orchestrator.EventRunDone:
		return "✓", fmt.Sprintf("Report ready: %d sources, %d tokens, %s", ev.Sources, ev.TokensUsed, ev.Duration.Round(time.Second)), true
	case orchestrator.EventBudgetWarning:
		return "⚠", fmt.Sprintf("Token budget: %s", ev.Message), true
	}
	return "", "", false
}

// EventMsg wraps an orchestrator event for the TUI.
type EventMsg struct {
	Event orchestrator.Event
}

// ProgressDoneMsg is sent when the run is finished and the report is written.
type ProgressDoneMsg struct {
	OutputPath string
	Err        error
}

// ProgressLogEntry represents a line in the activity log.
type ProgressLogEntry struct {
	Timestamp time.Time
	Symbol    string
	Message   string
}

// ProgressApp is the bubbletea model for the research progress view.
type ProgressApp struct {
	state      ProgressState
	logs       []ProgressLogEntry
	spinner    spinner.Model
	width      int
	height     int
	quitting   bool
	done       bool
	outputPath string
	err        error

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	phaseStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	runningStyle  lipgloss.Style
	failedStyle   lipgloss.Style
	warningStyle  lipgloss.Style
	logStyle      lipgloss.Style
	logTimeStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	hintStyle     lipgloss.Style
}

// NewProgressApp creates a progress view for topic.
func NewProgressApp(topic string, maxRounds int) *ProgressApp {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("205"))),
	)
	return &ProgressApp{
		state: ProgressState{
			Topic:         topic,
			Phase:         PhaseStarting,
			MaxRounds:     maxRounds,
			ActiveWorkers: make(map[string]WorkerInfo),
		},
		spinner: sp,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		warningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// Init implements tea.Model.
func (a *ProgressApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *ProgressApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.state.Apply(msg.Event)
		if symbol, text, ok := DescribeEvent(msg.Event); ok {
			a.addLog(msg.Event.Timestamp, symbol, text)
		}

	case ProgressDoneMsg:
		// Don't quit immediately - let user see final state
		a.done = true
		a.outputPath = msg.OutputPath
		a.err = msg.Err
		a.state.Phase = PhaseDone
	}

	return a, nil
}

func (a *ProgressApp) addLog(ts time.Time, symbol, message string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, ProgressLogEntry{Timestamp: ts, Symbol: symbol, Message: message})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

// State returns the current progress state.
func (a *ProgressApp) State() ProgressState {
	return a.state
}

// Done reports whether the run finished.
func (a *ProgressApp) Done() bool {
	return a.done
}

// Quitting reports whether the user asked to leave the view.
func (a *ProgressApp) Quitting() bool {
	return a.quitting
}

// View implements tea.Model.
func (a *ProgressApp) View() string {
	if a.quitting && !a.done {
		return "Research cancelled.\n"
	}

	var b strings.Builder

	b.WriteString(a.headerStyle.Render("=== delve research ==="))
	b.WriteString("\n")
	b.WriteString(a.valueStyle.Render(a.state.Topic))
	b.WriteString("\n\n")

	b.WriteString(a.renderCounters())
	b.WriteString("\n")
	b.WriteString(a.renderWorkers())
	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.failedStyle.Render(fmt.Sprintf("Finished with errors: %v", a.err)))
		if a.outputPath != "" {
			b.WriteString("\n")
			b.WriteString(a.hintStyle.Render("Partial report: " + a.outputPath))
		}
		b.WriteString("\n")
		b.WriteString(a.hintStyle.Render("Press q to exit"))
	case a.done:
		msg := "Research complete!"
		if a.outputPath != "" {
			msg += " Report written to " + a.outputPath
		}
		b.WriteString(a.doneStyle.Render(msg))
		b.WriteString("\n")
		b.WriteString(a.hintStyle.Render("Press q to exit"))
	default:
		b.WriteString(a.hintStyle.Render("Press q to stop the research (a partial report is still written)"))
	}
	b.WriteString("\n")

	return b.String()
}

func (a *ProgressApp) renderCounters() string {
	var b strings.Builder
	s := a.state

	phase := s.Phase
	if !a.done && phase != PhaseDone {
		phase = a.spinner.View() + " " + phase
	}
	b.WriteString(a.labelStyle.Render("Phase:"))
	b.WriteString(a.phaseStyle.Render(phase))
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Round:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d/%d", s.Round, s.MaxRounds)))
	b.WriteString("  ")
	b.WriteString(a.labelStyle.Render("Iterations:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d", s.Iterations)))
	b.WriteString("\n")

	pct := 0.0
	if s.MaxRounds > 0 {
		pct = float64(s.Iterations) / float64(s.MaxRounds) * 100
	}
	if s.Phase == PhaseDone || s.Phase == PhaseWriting {
		pct = 100
	}
	b.WriteString(renderProgressBar(pct, 30, a.progressFull, a.progressEmpty))
	b.WriteString("\n")

	directives := fmt.Sprintf("%s done, %s failed",
		a.runningStyle.Render(fmt.Sprintf("%d", s.Completed)),
		a.failedStyle.Render(fmt.Sprintf("%d", s.Failed)))
	if s.Rejected > 0 {
		directives += ", " + a.warningStyle.Render(fmt.Sprintf("%d rejected", s.Rejected))
	}
	b.WriteString(a.labelStyle.Render("Subtopics:"))
	b.WriteString(directives)
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Sources:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d", s.Sources)))
	b.WriteString("  ")
	b.WriteString(a.labelStyle.Render("Tokens:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d", s.TokensUsed)))
	b.WriteString("\n")

	if s.Reason != "" {
		b.WriteString(a.labelStyle.Render("Stopped:"))
		b.WriteString(a.warningStyle.Render(s.Reason))
		b.WriteString("\n")
	}
	return b.String()
}

func (a *ProgressApp) renderWorkers() string {
	if len(a.state.ActiveWorkers) == 0 {
		return ""
	}

	workers := make([]WorkerInfo, 0, len(a.state.ActiveWorkers))
	for _, w := range a.state.ActiveWorkers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].DirectiveID < workers[j].DirectiveID })

	var b strings.Builder
	b.WriteString(a.labelStyle.Render("Researching:"))
	b.WriteString("\n")
	for _, w := range workers {
		title := w.Subtopic
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		fmt.Fprintf(&b, "  %s %s %s\n", a.spinner.View(), title, a.hintStyle.Render("/research/"+w.Slug+"/"))
	}
	b.WriteString("\n")
	return b.String()
}

// renderLogs renders the recent log entries.
func (a *ProgressApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > visibleLogEntries {
		start = len(a.logs) - visibleLogEntries
	}

	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		symbol := a.symbolStyle(entry.Symbol).Render(entry.Symbol)
		msg := a.logStyle.Render(entry.Message)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, symbol, msg))
	}

	return b.String()
}

func (a *ProgressApp) symbolStyle(symbol string) lipgloss.Style {
	switch symbol {
	case "✓":
		return a.runningStyle
	case "✗":
		return a.failedStyle
	case "⚠":
		return a.warningStyle
	}
	return a.phaseStyle
}

// renderProgressBar renders a progress bar.
func renderProgressBar(pct float64, width int, full, empty lipgloss.Style) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))

	bar := full.Render(strings.Repeat("█", filled)) +
		empty.Render(strings.Repeat("░", width-filled))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// Sender is the part of tea.Program that Forward needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward sends every event to p until events is closed.
func Forward(p Sender, events <-chan orchestrator.Event) {
	for ev := range events {
		p.Send(EventMsg{Event: ev})
	}
}

// SetRefreshRate sets the spinner frame interval. Non-positive values keep the default.
func (a *ProgressApp) SetRefreshRate(d time.Duration) {
	if d > 0 {
		a.spinner.Spinner.FPS = d
	}
}

// NewProgressProgram creates a new Bubbletea program for the research progress view.
func NewProgressProgram(topic string, maxRounds int, refresh time.Duration) (*tea.Program, *ProgressApp) {
	app := NewProgressApp(topic, maxRounds)
	app.SetRefreshRate(refresh)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
