package loopback

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/yok-tottii/delayloop/internal/audio"
)

func smallConfig() Config {
	// 4 samples per page at 8 Hz: a one second delay is 2 pages, pre-fill 3.
	return Config{Delay: time.Second, SampleRate: 8, PageLen: 4}
}

func page(v int32) []int32 {
	return []int32{v, v, v, v}
}

func TestNew_Prefill(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)
	is.Equal(e.Prefill(), 3)

	st := e.Stats()
	is.Equal(st.Depth, 3)
	is.Equal(st.Capacity, 6)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"zero sample rate", Config{Delay: time.Second, PageLen: 4}},
		{"zero page length", Config{Delay: time.Second, SampleRate: 8}},
		{"negative delay", Config{Delay: -time.Second, SampleRate: 8, PageLen: 4}},
		{"capacity below pre-fill", Config{Delay: time.Second, SampleRate: 8, PageLen: 4, Capacity: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPlayback_SilenceDuringPrefillWithoutCapture(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)

	out := page(9)
	for i := 0; i < e.Prefill(); i++ {
		is.NoErr(e.Playback(out))
		is.Equal(out, []int32{0, 0, 0, 0})
		out = page(9)
	}
	is.Equal(e.Stats().Underruns, uint64(0))

	// Queue exhausted: underrun falls back to silence without error.
	is.NoErr(e.Playback(out))
	is.Equal(out, []int32{0, 0, 0, 0})
	is.Equal(e.Stats().Underruns, uint64(1))
}

func TestCaptureToPlayback_Delayed(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)

	for v := int32(1); v <= 3; v++ {
		is.NoErr(e.Capture(page(v)))
	}

	out := make([]int32, 4)
	for i := 0; i < e.Prefill(); i++ {
		is.NoErr(e.Playback(out))
		is.Equal(out, []int32{0, 0, 0, 0})
	}
	for v := int32(1); v <= 3; v++ {
		is.NoErr(e.Playback(out))
		is.Equal(out, page(v))
	}

	st := e.Stats()
	is.Equal(st.Captured, uint64(3))
	is.Equal(st.Played, uint64(6))
}

func TestCapture_CopiesDriverBuffer(t *testing.T) {
	is := is.New(t)

	e, err := New(Config{SampleRate: 8, PageLen: 4})
	is.NoErr(err)

	// Drain the single pre-fill frame.
	out := make([]int32, 4)
	is.NoErr(e.Playback(out))

	buf := page(5)
	is.NoErr(e.Capture(buf))
	copy(buf, page(7))

	is.NoErr(e.Playback(out))
	is.Equal(out, page(5))
}

func TestCallbacks_FrameSizeMismatch(t *testing.T) {
	tests := []struct {
		name string
		call func(*Engine) error
		dir  audio.Direction
	}{
		{"capture short", func(e *Engine) error { return e.Capture(make([]int32, 3)) }, audio.Input},
		{"capture long", func(e *Engine) error { return e.Capture(make([]int32, 5)) }, audio.Input},
		{"playback short", func(e *Engine) error { return e.Playback(make([]int32, 2)) }, audio.Output},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			e, err := New(smallConfig())
			is.NoErr(err)
			is.NoErr(e.Err())

			err = tt.call(e)
			is.True(errors.Is(err, ErrFrameSize))

			var fse *FrameSizeError
			is.True(errors.As(err, &fse))
			is.Equal(fse.Direction, tt.dir)
			is.Equal(fse.Want, 4)

			select {
			case <-e.Fatal():
			default:
				t.Fatal("Fatal channel should be closed")
			}
			is.True(errors.Is(e.Err(), ErrFrameSize))

			// Nothing was queued or played.
			st := e.Stats()
			is.Equal(st.Depth, 3)
			is.Equal(st.Captured, uint64(0))
			is.Equal(st.Played, uint64(0))
		})
	}
}

func TestPlayback_MismatchZeroesBuffer(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)

	out := []int32{1, 2, 3}
	is.True(e.Playback(out) != nil)
	is.Equal(out, []int32{0, 0, 0})
}

func TestFatal_FirstErrorWins(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)

	_ = e.Capture(make([]int32, 1))
	_ = e.Playback(make([]int32, 2))

	var fse *FrameSizeError
	is.True(errors.As(e.Err(), &fse))
	is.Equal(fse.Direction, audio.Input)
	is.Equal(fse.Got, 1)
}

func TestCapture_DoesNotAllocate(t *testing.T) {
	e, err := New(smallConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	in := page(3)
	out := make([]int32, 4)
	allocs := testing.AllocsPerRun(100, func() {
		_ = e.Capture(in)
		_ = e.Playback(out)
	})
	if allocs != 0 {
		t.Errorf("Expected no allocations per callback pair, got %v", allocs)
	}
}

func TestCapture_RecycledBuffersKeepOrder(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)

	out := make([]int32, 4)
	for i := 0; i < e.Prefill(); i++ {
		is.NoErr(e.Playback(out))
	}

	// Many more captures than there are buffers, with the queue kept
	// half full so every buffer is reused while others are queued.
	for v := int32(1); v <= 3; v++ {
		is.NoErr(e.Capture(page(v)))
	}
	for v := int32(4); v <= 40; v++ {
		is.NoErr(e.Capture(page(v)))
		is.NoErr(e.Playback(out))
		is.Equal(out, page(v-3))
	}
	is.Equal(e.Stats().Overruns, uint64(0))
}

func TestCapture_OverrunWithRecycledBuffers(t *testing.T) {
	is := is.New(t)

	e, err := New(smallConfig())
	is.NoErr(err)

	// Capacity 6 already holds 3 silence frames; 10 captures drop the
	// silence and the four oldest captured pages.
	for v := int32(1); v <= 10; v++ {
		is.NoErr(e.Capture(page(v)))
	}
	is.Equal(e.Stats().Overruns, uint64(7))

	out := make([]int32, 4)
	for v := int32(5); v <= 10; v++ {
		is.NoErr(e.Playback(out))
		is.Equal(out, page(v))
	}
}
