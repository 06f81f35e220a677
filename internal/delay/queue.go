// Package delay implements the frame queue that sits between the capture and
// playback callbacks.
//
// The queue is a bounded lock-free ring for exactly one producer and one
// consumer. Push never waits: when the ring is full the producer discards the
// oldest frame and counts an overrun. PopOrDefault never waits either: on an
// empty ring it hands back the caller's default frame and counts an underrun.
package delay

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCapacity is returned for a queue that cannot hold its pre-fill
var ErrCapacity = errors.New("invalid queue capacity")

// Frame is one driver buffer period of mono samples. A frame is not modified
// while it is queued.
type Frame struct {
	samples []int32
}

// NewFrame wraps samples without copying; the caller gives up ownership
func NewFrame(samples []int32) *Frame {
	return &Frame{samples: samples}
}

// Silence returns a zeroed frame of pageLen samples
func Silence(pageLen int) *Frame {
	return &Frame{samples: make([]int32, pageLen)}
}

// Load copies src into the frame's samples and returns how many were copied.
// Only the producer may call it, and only on a frame that is neither queued
// nor held by the consumer.
func (f *Frame) Load(src []int32) int {
	return copy(f.samples, src)
}

// Samples returns the frame's samples. Callers must not modify them.
func (f *Frame) Samples() []int32 {
	return f.samples
}

// Len returns the number of samples in the frame
func (f *Frame) Len() int {
	return len(f.samples)
}

// PrefillCount returns how many silence frames realise the delay:
// ceil(delay * sampleRate / pageLen) + 1.
func PrefillCount(delay time.Duration, sampleRate, pageLen int) int {
	if delay <= 0 || sampleRate <= 0 || pageLen <= 0 {
		return 1
	}
	num := delay.Nanoseconds() * int64(sampleRate)
	den := int64(time.Second) * int64(pageLen)
	return int((num+den-1)/den) + 1
}

// Queue is a bounded single-producer/single-consumer FIFO of frames.
type Queue struct {
	slots []atomic.Pointer[Frame]

	// head is advanced by the consumer on pop and by the producer when it
	// drops the oldest frame; tail is only written by the producer.
	head atomic.Uint64
	tail atomic.Uint64

	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// New creates an empty queue holding at most capacity frames
func New(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	return &Queue{slots: make([]atomic.Pointer[Frame], capacity)}, nil
}

// NewPrefilled creates a queue already holding prefill copies of silence
func NewPrefilled(capacity, prefill int, silence *Frame) (*Queue, error) {
	if prefill > capacity {
		return nil, fmt.Errorf("%w: %d cannot hold a pre-fill of %d frames", ErrCapacity, capacity, prefill)
	}
	q, err := New(capacity)
	if err != nil {
		return nil, err
	}
	for i := 0; i < prefill; i++ {
		q.Push(silence)
	}
	return q, nil
}

// Push appends f. If the queue is full the oldest frame is discarded.
// Push must only be called from the producer goroutine.
func (q *Queue) Push(f *Frame) {
	size := uint64(len(q.slots))
	t := q.tail.Load()
	for {
		h := q.head.Load()
		if t-h < size {
			break
		}
		if q.head.CompareAndSwap(h, h+1) {
			q.overruns.Add(1)
			break
		}
	}
	q.slots[t%size].Store(f)
	q.tail.Store(t + 1)
}

// PopOrDefault removes and returns the oldest frame, or def when the queue
// is empty. It must only be called from the consumer goroutine.
func (q *Queue) PopOrDefault(def *Frame) *Frame {
	size := uint64(len(q.slots))
	for {
		h := q.head.Load()
		if h == q.tail.Load() {
			q.underruns.Add(1)
			return def
		}
		f := q.slots[h%size].Load()
		// Losing the race means the producer dropped this frame; f may
		// already be a newer frame in a reused slot, so retry.
		if q.head.CompareAndSwap(h, h+1) {
			return f
		}
	}
}

// Len returns the number of queued frames
func (q *Queue) Len() int {
	h := q.head.Load()
	t := q.tail.Load()
	if t < h {
		return 0
	}
	return int(min(t-h, uint64(len(q.slots))))
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Overruns returns how many frames were dropped because the queue was full
func (q *Queue) Overruns() uint64 {
	return q.overruns.Load()
}

// Underruns returns how many pops found the queue empty
func (q *Queue) Underruns() uint64 {
	return q.underruns.Load()
}
