// Package device lets the user pick an input or output device from the
// terminal.
//
// Device indices are only valid for one driver enumeration. A Selection
// therefore carries the name seen at selection time, and both the selector
// and the audio driver re-check that name before trusting the index. A
// mismatch is reported as audio.ErrDeviceChanged; there is no retry, because
// the driver cannot reopen a device by name.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/yok-tottii/delayloop/internal/audio"
)

// ErrInvalidSelection is returned when the answer is not a listed index
var ErrInvalidSelection = errors.New("invalid device selection")

// Enumerator lists the devices of a host API
type Enumerator interface {
	Devices(hostAPI int) ([]audio.Device, error)
}

// Prompter reads one line from the user. An empty answer means def.
type Prompter interface {
	InputWithDefault(ctx context.Context, prompt, def string) (string, error)
}

// Selection identifies a chosen device within one enumeration
type Selection struct {
	Direction audio.Direction
	HostAPI   int
	Index     int
	Name      string
}

// StreamConfig builds the stream parameters for opening the selection
func (s Selection) StreamConfig(sampleRate, pageLen int, latency audio.LatencyMode) audio.StreamConfig {
	return audio.StreamConfig{
		Direction:       s.Direction,
		HostAPI:         s.HostAPI,
		DeviceIndex:     s.Index,
		DeviceName:      s.Name,
		SampleRate:      sampleRate,
		FramesPerBuffer: pageLen,
		Latency:         latency,
	}
}

// Relevant filters devices to those with channels for dir, keeping order
func Relevant(devices []audio.Device, dir audio.Direction) []audio.Device {
	var result []audio.Device
	for _, dev := range devices {
		if dev.Supports(dir) {
			result = append(result, dev)
		}
	}
	return result
}

// Guess proposes a default device. Guesses are name substrings tried in
// order; the first one matching exactly one device wins. A guess matching no
// device or several devices is skipped.
func Guess(relevant []audio.Device, guesses []string) (int, bool) {
	for _, guess := range guesses {
		index, matches := 0, 0
		for _, dev := range relevant {
			if strings.Contains(dev.Name, guess) {
				index = dev.Index
				matches++
			}
		}
		if matches == 1 {
			return index, true
		}
	}
	return 0, false
}

// Config holds the selector collaborators
type Config struct {
	Devices  Enumerator
	Prompter Prompter
	Out      io.Writer
	HostAPI  int
	Logger   *slog.Logger
}

// Selector runs the interactive selection flow
type Selector struct {
	devices  Enumerator
	prompter Prompter
	out      io.Writer
	hostAPI  int
	logger   *slog.Logger
}

// New creates a selector
func New(config Config) *Selector {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	out := config.Out
	if out == nil {
		out = io.Discard
	}

	return &Selector{
		devices:  config.Devices,
		prompter: config.Prompter,
		out:      out,
		hostAPI:  config.HostAPI,
		logger:   logger,
	}
}

// relevant enumerates and filters in one step
func (s *Selector) relevant(dir audio.Direction) ([]audio.Device, error) {
	all, err := s.devices.Devices(s.hostAPI)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", dir, err)
	}
	return Relevant(all, dir), nil
}

// Select lists the devices for dir, asks the user to pick one with the
// guessed default pre-filled, and validates the choice.
func (s *Selector) Select(ctx context.Context, dir audio.Direction, guesses []string) (Selection, error) {
	relevant, err := s.relevant(dir)
	if err != nil {
		return Selection{}, err
	}

	def := ""
	if index, ok := Guess(relevant, guesses); ok {
		def = strconv.Itoa(index)
	}
	s.logger.Debug("device candidates", "direction", dir.String(), "count", len(relevant), "default", def)

	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s Devices:\n", dir.Title())
	for _, dev := range relevant {
		fmt.Fprintf(s.out, "%d %s\n", dev.Index, dev.Name)
	}

	answer, err := s.prompter.InputWithDefault(ctx, fmt.Sprintf("select %s device: ", dir), def)
	if err != nil {
		return Selection{}, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = def
	}

	index, err := strconv.Atoi(answer)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: %q is not a device index", ErrInvalidSelection, answer)
	}

	var chosen *audio.Device
	for i := range relevant {
		if relevant[i].Index == index {
			chosen = &relevant[i]
			break
		}
	}
	if chosen == nil {
		return Selection{}, fmt.Errorf("%w: no %s device with index %d", ErrInvalidSelection, dir, index)
	}

	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s device: %s\n", dir.Title(), chosen.Name)

	// Re-fetch to detect topology changes while the prompt was open.
	now, err := s.devices.Devices(s.hostAPI)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to re-enumerate %s devices: %w", dir, err)
	}
	if _, err := audio.ResolveDevice(now, chosen.Index, chosen.Name); err != nil {
		s.logger.Warn("device changed during selection", "direction", dir.String(), "index", chosen.Index, "name", chosen.Name)
		return Selection{}, err
	}

	sel := Selection{
		Direction: dir,
		HostAPI:   s.hostAPI,
		Index:     chosen.Index,
		Name:      chosen.Name,
	}
	s.logger.Info("device selected", "direction", dir.String(), "index", sel.Index, "name", sel.Name)
	return sel, nil
}

// List prints the devices for dir, marking the guessed default
func (s *Selector) List(dir audio.Direction, guesses []string) error {
	relevant, err := s.relevant(dir)
	if err != nil {
		return err
	}

	def, hasDefault := Guess(relevant, guesses)
	fmt.Fprintf(s.out, "%s Devices:\n", dir.Title())
	if len(relevant) == 0 {
		fmt.Fprintln(s.out, "  (none)")
	}
	for _, dev := range relevant {
		marker := ""
		if hasDefault && dev.Index == def {
			marker = " (default)"
		}
		fmt.Fprintf(s.out, "%d %s%s\n", dev.Index, dev.Name, marker)
	}
	return nil
}
