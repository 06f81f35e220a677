package loopback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/delay"
)

// ErrFrameSize is the fatal configuration error raised when the driver
// delivers a buffer whose length differs from the configured page length.
var ErrFrameSize = errors.New("frame size mismatch")

// FrameSizeError records which callback saw the wrong buffer length
type FrameSizeError struct {
	Direction audio.Direction
	Want      int
	Got       int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("frame size mismatch in %s callback: expected %d samples, got %d", e.Direction, e.Want, e.Got)
}

func (e *FrameSizeError) Unwrap() error {
	return ErrFrameSize
}

// Config holds the engine parameters
type Config struct {
	Delay      time.Duration
	SampleRate int
	PageLen    int
	// Capacity bounds the queue; 0 means twice the pre-fill
	Capacity int
}

// DefaultConfig returns one second of delay at 22050 Hz in 1024-sample pages
func DefaultConfig() Config {
	return Config{
		Delay:      time.Second,
		SampleRate: 22050,
		PageLen:    1024,
	}
}

// Stats is a snapshot of the engine counters
type Stats struct {
	Captured  uint64 `json:"captured"`
	Played    uint64 `json:"played"`
	Underruns uint64 `json:"underruns"`
	Overruns  uint64 `json:"overruns"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
}

// Engine bridges the capture and playback callbacks through a delay queue.
// Capture must only be called from the input stream's thread and Playback
// only from the output stream's thread.
type Engine struct {
	queue   *delay.Queue
	pageLen int
	prefill int
	silence *delay.Frame

	// buffers are recycled round-robin by Capture. A buffer comes back
	// around only after capacity+2 captures: at most capacity of the newer
	// ones are queued and one more may be held by Playback.
	buffers []*delay.Frame
	next    int

	captured atomic.Uint64
	played   atomic.Uint64

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error
}

// New creates an engine with its queue pre-filled with silence
func New(config Config) (*Engine, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRate)
	}
	if config.PageLen <= 0 {
		return nil, fmt.Errorf("invalid page length: %d", config.PageLen)
	}
	if config.Delay < 0 {
		return nil, fmt.Errorf("invalid delay: %v", config.Delay)
	}

	prefill := delay.PrefillCount(config.Delay, config.SampleRate, config.PageLen)
	capacity := config.Capacity
	if capacity == 0 {
		capacity = 2 * prefill
	}

	silence := delay.Silence(config.PageLen)
	queue, err := delay.NewPrefilled(capacity, prefill, silence)
	if err != nil {
		return nil, fmt.Errorf("failed to create delay queue: %w", err)
	}

	buffers := make([]*delay.Frame, capacity+2)
	for i := range buffers {
		buffers[i] = delay.Silence(config.PageLen)
	}

	return &Engine{
		queue:   queue,
		pageLen: config.PageLen,
		prefill: prefill,
		silence: silence,
		buffers: buffers,
		fatal:   make(chan struct{}),
	}, nil
}

// fail latches the first fatal error and wakes Fatal() waiters
func (e *Engine) fail(dir audio.Direction, got int) error {
	err := &FrameSizeError{Direction: dir, Want: e.pageLen, Got: got}
	e.fatalOnce.Do(func() {
		e.fatalErr = err
		close(e.fatal)
	})
	return err
}

// Capture is the input stream callback
func (e *Engine) Capture(in []int32) error {
	if len(in) != e.pageLen {
		return e.fail(audio.Input, len(in))
	}

	// The driver reuses its buffer after the callback returns.
	frame := e.buffers[e.next]
	e.next = (e.next + 1) % len(e.buffers)
	frame.Load(in)
	e.queue.Push(frame)
	e.captured.Add(1)
	return nil
}

// Playback is the output stream callback. On underrun it plays silence.
func (e *Engine) Playback(out []int32) error {
	if len(out) != e.pageLen {
		clear(out)
		return e.fail(audio.Output, len(out))
	}

	frame := e.queue.PopOrDefault(e.silence)
	copy(out, frame.Samples())
	e.played.Add(1)
	return nil
}

// Fatal is closed once a callback has hit a fatal error
func (e *Engine) Fatal() <-chan struct{} {
	return e.fatal
}

// Err returns the latched fatal error, or nil
func (e *Engine) Err() error {
	select {
	case <-e.fatal:
		return e.fatalErr
	default:
		return nil
	}
}

// PageLen returns the fixed number of samples per frame
func (e *Engine) PageLen() int {
	return e.pageLen
}

// Prefill returns how many silence frames the queue started with
func (e *Engine) Prefill() int {
	return e.prefill
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (e *Engine) Stats() Stats {
	return Stats{
		Captured:  e.captured.Load(),
		Played:    e.played.Load(),
		Underruns: e.queue.Underruns(),
		Overruns:  e.queue.Overruns(),
		Depth:     e.queue.Len(),
		Capacity:  e.queue.Cap(),
	}
}
