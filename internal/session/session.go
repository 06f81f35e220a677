package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/console"
	"github.com/yok-tottii/delayloop/internal/device"
	"github.com/yok-tottii/delayloop/internal/loopback"
	"golang.org/x/sync/errgroup"
)

// State represents the session lifecycle
type State int

const (
	// Idle means no stream is open yet
	Idle State = iota
	// Running means both streams are started
	Running
	// ShuttingDown means teardown has begun
	ShuttingDown
	// Stopped is terminal
	Stopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Reason tells why Run returned
type Reason int

const (
	// ReasonQuitKey means the quit key was pressed
	ReasonQuitKey Reason = iota
	// ReasonInterrupt means Ctrl+C or an interrupt/terminate signal
	ReasonInterrupt
	// ReasonFatal means a callback hit a fatal configuration error
	ReasonFatal
)

// String returns the string representation of the reason
func (r Reason) String() string {
	switch r {
	case ReasonQuitKey:
		return "QuitKey"
	case ReasonInterrupt:
		return "Interrupt"
	case ReasonFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// QuitWaiter blocks until the user asks to quit
type QuitWaiter interface {
	Wait(ctx context.Context) (console.QuitReason, error)
}

// Config holds the stream parameters shared by both directions
type Config struct {
	SampleRate int
	PageLen    int
	Latency    audio.LatencyMode
}

// Status is the externally visible session snapshot
type Status struct {
	State string         `json:"state"`
	Stats loopback.Stats `json:"stats"`
}

var errQuit = errors.New("quit requested")

// Session owns the two streams and the engine they share
type Session struct {
	driver audio.Driver
	engine *loopback.Engine
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	input  audio.Stream
	output audio.Stream

	closeOnce sync.Once
	closeErr  error
}

// New creates an idle session. Close must be called on every path, whether
// or not Start succeeded; it also terminates the driver.
func New(driver audio.Driver, engine *loopback.Engine, config Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		driver: driver,
		engine: engine,
		config: config,
		logger: logger,
		state:  Idle,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the state and engine counters
func (s *Session) Status() Status {
	return Status{State: s.State().String(), Stats: s.engine.Stats()}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Info("session state changed", "from", prev.String(), "to", state.String())
	}
}

// Start opens and starts the output stream, then the input stream. Streams
// opened before a failure are left for Close to release.
func (s *Session) Start(in, out device.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return fmt.Errorf("cannot start session in state %s", s.state)
	}
	if in.Direction != audio.Input || out.Direction != audio.Output {
		return fmt.Errorf("selections must be input then output, got %s and %s", in.Direction, out.Direction)
	}

	output, err := s.driver.OpenStream(out.StreamConfig(s.config.SampleRate, s.config.PageLen, s.config.Latency), s.engine.Playback)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	s.output = output

	input, err := s.driver.OpenStream(in.StreamConfig(s.config.SampleRate, s.config.PageLen, s.config.Latency), s.engine.Capture)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	s.input = input

	if err := output.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	if err := input.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	s.state = Running
	s.logger.Info("session state changed", "from", Idle.String(), "to", Running.String(),
		"input", in.Name, "output", out.Name, "prefill", s.engine.Prefill())
	return nil
}

// Run blocks until the quit key, an interrupt (ctx cancelled or Ctrl+C), or
// a fatal engine error. It leaves the session in ShuttingDown; the caller's
// deferred Close finishes teardown. The returned error is non-nil only for
// fatal conditions.
func (s *Session) Run(ctx context.Context, waiter QuitWaiter) (Reason, error) {
	if state := s.State(); state != Running {
		return ReasonFatal, fmt.Errorf("cannot run session in state %s", state)
	}

	quit := console.Cancelled
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := waiter.Wait(gctx)
		if err != nil {
			return err
		}
		quit = r
		if r == console.Cancelled {
			return nil
		}
		return errQuit
	})

	g.Go(func() error {
		select {
		case <-s.engine.Fatal():
			return s.engine.Err()
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	if errors.Is(err, errQuit) {
		err = nil
	}
	// A fatal callback error outranks a quit that raced with it.
	if fatal := s.engine.Err(); fatal != nil {
		err = fatal
	}

	reason := ReasonInterrupt
	switch {
	case err != nil:
		reason = ReasonFatal
	case quit == console.QuitKey:
		reason = ReasonQuitKey
	}
	s.setState(ShuttingDown)

	s.logger.Info("session stopping", "reason", reason.String())
	return reason, err
}

// Close stops and closes the input stream, then the output stream, then
// terminates the driver. It is safe to call more than once; later calls
// return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = ShuttingDown
		input, output := s.input, s.output
		s.input, s.output = nil, nil
		s.mu.Unlock()

		var errs []error
		if input != nil {
			errs = append(errs, input.Stop(), input.Close())
		}
		if output != nil {
			errs = append(errs, output.Stop(), output.Close())
		}
		errs = append(errs, s.driver.Terminate())
		s.closeErr = errors.Join(errs...)

		s.setState(Stopped)
		if s.closeErr != nil {
			s.logger.Error("session teardown failed", "error", s.closeErr)
		}
	})
	return s.closeErr
}
