// Package console holds the terminal collaborators: a line prompt with an
// editable default, and the quit-key listener shown while audio is running.
// Both are bubbletea programs so that raw-mode key handling is shared.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrInterrupted is returned when the user presses Ctrl+C at a prompt or the
// context is cancelled by an interrupt signal.
var ErrInterrupted = errors.New("interrupted")

// promptModel edits a single line that starts out as the default value
type promptModel struct {
	prompt      string
	value       []rune
	done        bool
	interrupted bool
}

func newPromptModel(prompt, def string) promptModel {
	return promptModel{prompt: prompt, value: []rune(def)}
}

func (m promptModel) Init() tea.Cmd {
	return nil
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyEnter:
		m.done = true
		return m, tea.Quit
	case tea.KeyCtrlC:
		m.interrupted = true
		return m, tea.Quit
	case tea.KeyBackspace:
		if len(m.value) > 0 {
			m.value = m.value[:len(m.value)-1]
		}
	case tea.KeyCtrlU:
		m.value = m.value[:0]
	case tea.KeySpace:
		m.value = append(m.value, ' ')
	case tea.KeyRunes:
		m.value = append(m.value, key.Runes...)
	}
	return m, nil
}

func (m promptModel) View() string {
	if m.done || m.interrupted {
		return m.prompt + string(m.value) + "\n"
	}
	return m.prompt + string(m.value) + "█"
}

// Prompter asks questions on a terminal
type Prompter struct {
	in  io.Reader
	out io.Writer
}

// NewPrompter creates a prompter reading keys from in and drawing to out
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// InputWithDefault shows prompt with def already typed in. The user can edit
// it or press Enter to accept it.
func (p *Prompter) InputWithDefault(ctx context.Context, prompt, def string) (string, error) {
	program := tea.NewProgram(
		newPromptModel(prompt, def),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithoutSignalHandler(),
	)

	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrInterrupted
		}
		return "", fmt.Errorf("prompt failed: %w", err)
	}

	m, ok := final.(promptModel)
	if !ok {
		return "", fmt.Errorf("prompt returned unexpected model %T", final)
	}
	if m.interrupted {
		return "", ErrInterrupted
	}
	return string(m.value), nil
}
