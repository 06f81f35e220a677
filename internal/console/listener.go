package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// QuitReason tells why the listener returned
type QuitReason int

const (
	// QuitKey means the configured quit key was pressed
	QuitKey QuitReason = iota
	// Interrupt means Ctrl+C was pressed on the terminal
	Interrupt
	// Cancelled means the context ended first
	Cancelled
)

// String returns the string representation of the reason
func (r QuitReason) String() string {
	switch r {
	case QuitKey:
		return "QuitKey"
	case Interrupt:
		return "Interrupt"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// StatusFunc renders the live status line
type StatusFunc func() string

type tickMsg time.Time

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenerModel waits for the quit key while refreshing a status line
type listenerModel struct {
	quitKey  string
	status   StatusFunc
	interval time.Duration
	line     string
	reason   QuitReason
	quitting bool
}

func newListenerModel(quitKey string, status StatusFunc, interval time.Duration) listenerModel {
	m := listenerModel{quitKey: quitKey, status: status, interval: interval, reason: Cancelled}
	if status != nil {
		m.line = status()
	}
	return m
}

func (m listenerModel) Init() tea.Cmd {
	if m.status == nil {
		return nil
	}
	return tick(m.interval)
}

func (m listenerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.reason = Interrupt
			m.quitting = true
			return m, tea.Quit
		}
		if msg.String() == m.quitKey {
			m.reason = QuitKey
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.status != nil {
			m.line = m.status()
		}
		return m, tick(m.interval)
	}
	return m, nil
}

func (m listenerModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Press %s to quit. ", strings.ToUpper(m.quitKey))
	if m.line != "" {
		b.WriteString(" ")
		b.WriteString(m.line)
	}
	b.WriteString("\n")
	return b.String()
}

// Listener blocks until the quit key or Ctrl+C is pressed
type Listener struct {
	in       io.Reader
	out      io.Writer
	quitKey  string
	status   StatusFunc
	interval time.Duration
}

// NewListener creates a listener. quitKey uses bubbletea key names such as
// "esc" or "q". status may be nil.
func NewListener(in io.Reader, out io.Writer, quitKey string, status StatusFunc) *Listener {
	return &Listener{
		in:       in,
		out:      out,
		quitKey:  quitKey,
		status:   status,
		interval: 500 * time.Millisecond,
	}
}

// Wait runs until a quit key, Ctrl+C, or ctx cancellation
func (l *Listener) Wait(ctx context.Context) (QuitReason, error) {
	program := tea.NewProgram(
		newListenerModel(l.quitKey, l.status, l.interval),
		tea.WithContext(ctx),
		tea.WithInput(l.in),
		tea.WithOutput(l.out),
		tea.WithoutSignalHandler(),
	)

	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled, nil
		}
		return Cancelled, fmt.Errorf("key listener failed: %w", err)
	}

	m, ok := final.(listenerModel)
	if !ok {
		return Cancelled, fmt.Errorf("key listener returned unexpected model %T", final)
	}
	return m.reason, nil
}
