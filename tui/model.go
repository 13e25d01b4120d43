package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the elapsed timer.
type tickMsg time.Time

// state represents the current phase of the run.
type state int

const (
	stateInit       state = iota
	stateRequesting       // calls in flight
	stateRefreshing       // single-flight refresh in progress
	stateSuccess          // all calls finished
	stateExpired          // session terminated, login required
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the API client demo.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	path     string
	calls    int
	finished int
	started  time.Time
	elapsed  time.Duration
	expired  bool

	summary Summary
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleExpiredBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateRequesting && m.state != stateRefreshing {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case MsgBanner:
		return m, nil

	case MsgCredentialsFound:
		m.addStatus(statusOK, "Found stored credentials in "+msg.Source)
		return m, nil

	case MsgCredentialsNotFound:
		m.addStatus(statusInfo, "No credentials in "+msg.Source+", calls will be unauthenticated")
		return m, nil

	case MsgCredentialsSeeded:
		m.addStatus(statusOK, "Stored the provided credential pair")
		return m, nil

	case MsgRequesting:
		m.path = msg.Path
		m.calls = msg.Calls
		m.started = time.Now()
		m.state = stateRequesting
		m.addStatus(statusInfo, fmt.Sprintf("Issuing %d concurrent calls to %s", msg.Calls, msg.Path))
		return m, tickAfterSecond()

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusWarn, "Access credential rejected (401), refreshing...")
		return m, nil

	case MsgRefreshOK:
		m.state = stateRequesting
		m.addStatus(statusOK, "Credential refreshed, replaying waiting calls")
		return m, nil

	case MsgRefreshFailed:
		m.state = stateRequesting
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgCallOK:
		m.finished++
		m.addStatus(statusOK, fmt.Sprintf("Call #%d OK", msg.ID))
		return m, nil

	case MsgCallFailed:
		m.finished++
		m.addStatus(statusWarn, fmt.Sprintf("Call #%d failed: %v", msg.ID, msg.Err))
		return m, nil

	case MsgSessionExpired:
		m.expired = true
		m.addStatus(statusWarn, "Session expired, credentials cleared")
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		m.elapsed = msg.Summary.Elapsed
		if m.expired {
			m.state = stateExpired
		} else {
			m.state = stateSuccess
		}
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateExpired:
		return tea.NewView(m.viewExpired())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while calls are in flight.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  AuthGate API Client  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateRequesting:
		b.WriteString(m.spinner.View())
		fmt.Fprintf(&b, " Calling %s  %d/%d done  ", m.path, m.finished, m.calls)
		b.WriteString(styleDim.Render(formatDuration(m.elapsed)))
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access credential...  ")
		b.WriteString(styleDim.Render(fmt.Sprintf("%d/%d done", m.finished, m.calls)))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after every call has finished.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.summary.Failed == 0 {
		b.WriteString(styleOK.Render("  ✓ All calls succeeded"))
	} else {
		b.WriteString(styleWarn.Render(fmt.Sprintf("  ⚠ %d of %d calls failed", m.summary.Failed, m.summary.Calls)))
	}
	b.WriteString("\n\n")
	b.WriteString(m.viewSummary())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewExpired is shown when the refresh credential was rejected.
func (m Model) viewExpired() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleExpiredBox.Render("  Session expired, please log in again  "))
	b.WriteString("\n\n")
	b.WriteString(m.viewSummary())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Run failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSummary() string {
	var b strings.Builder

	b.WriteString(styleBold.Render("Calls:      "))
	fmt.Fprintf(&b, "%d (%d ok, %d failed)\n", m.summary.Calls, m.summary.Succeeded, m.summary.Failed)

	b.WriteString(styleBold.Render("Refreshes:  "))
	fmt.Fprintf(&b, "%d\n", m.summary.Refreshes)

	b.WriteString(styleBold.Render("Elapsed:    "))
	b.WriteString(formatDuration(m.summary.Elapsed) + "\n")

	if m.summary.Access != "" {
		b.WriteString(styleBold.Render("Credential: "))
		b.WriteString(m.summary.Access + "\n")
	}
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
