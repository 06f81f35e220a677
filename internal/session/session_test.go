package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/yok-tottii/delayloop/internal/audio"
	"github.com/yok-tottii/delayloop/internal/audio/audiotest"
	"github.com/yok-tottii/delayloop/internal/console"
	"github.com/yok-tottii/delayloop/internal/device"
	"github.com/yok-tottii/delayloop/internal/loopback"
)

const pageLen = 4

type waiterFunc func(ctx context.Context) (console.QuitReason, error)

func (f waiterFunc) Wait(ctx context.Context) (console.QuitReason, error) {
	return f(ctx)
}

func returns(r console.QuitReason) QuitWaiter {
	return waiterFunc(func(context.Context) (console.QuitReason, error) { return r, nil })
}

func blocks() QuitWaiter {
	return waiterFunc(func(ctx context.Context) (console.QuitReason, error) {
		<-ctx.Done()
		return console.Cancelled, nil
	})
}

var (
	micSel      = device.Selection{Direction: audio.Input, Index: 0, Name: "Line In"}
	speakersSel = device.Selection{Direction: audio.Output, Index: 1, Name: "Line Out"}
)

func newTestSession(t *testing.T) (*Session, *audiotest.Driver, *loopback.Engine) {
	t.Helper()

	d := audiotest.New(audiotest.InputDevice(0, "Line In"), audiotest.OutputDevice(1, "Line Out"))
	e, err := loopback.New(loopback.Config{Delay: time.Second, SampleRate: 8, PageLen: pageLen})
	if err != nil {
		t.Fatalf("loopback.New failed: %v", err)
	}
	s := New(d, e, Config{SampleRate: 8, PageLen: pageLen}, nil)
	return s, d, e
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Running, "Running"},
		{ShuttingDown, "ShuttingDown"},
		{Stopped, "Stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestReason_String(t *testing.T) {
	tests := []struct {
		reason   Reason
		expected string
	}{
		{ReasonQuitKey, "QuitKey"},
		{ReasonInterrupt, "Interrupt"},
		{ReasonFatal, "Fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.reason.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStart_OpensOutputBeforeInput(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	defer s.Close()

	is.Equal(s.State(), Idle)
	is.NoErr(s.Start(micSel, speakersSel))
	is.Equal(s.State(), Running)

	is.Equal(d.Events(), []string{"open output", "open input", "start output", "start input"})

	in := d.Stream(audio.Input)
	is.Equal(in.Config.FramesPerBuffer, pageLen)
	is.Equal(in.Config.SampleRate, 8)
	is.Equal(in.Config.DeviceName, "Line In")
}

func TestStart_RequiresIdle(t *testing.T) {
	is := is.New(t)

	s, _, _ := newTestSession(t)
	is.NoErr(s.Start(micSel, speakersSel))
	is.True(s.Start(micSel, speakersSel) != nil)

	is.NoErr(s.Close())
	is.True(s.Start(micSel, speakersSel) != nil)
}

func TestStart_RejectsSwappedSelections(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	defer s.Close()

	is.True(s.Start(speakersSel, micSel) != nil)
	is.Equal(len(d.Events()), 0)
}

func TestStart_FailureIsReleasedByClose(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	d.OpenErr = map[audio.Direction]error{audio.Input: errors.New("device busy")}

	is.True(s.Start(micSel, speakersSel) != nil)
	is.Equal(s.State(), Idle)

	is.NoErr(s.Close())
	is.Equal(s.State(), Stopped)
	is.Equal(d.Events(), []string{"open output", "close output", "terminate"})
}

func TestStart_StaleSelection(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	defer s.Close()

	d.Rename(0, "USB Mic")
	err := s.Start(micSel, speakersSel)
	is.True(errors.Is(err, audio.ErrDeviceChanged))
}

func TestRun_QuitKey(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	is.NoErr(s.Start(micSel, speakersSel))

	reason, err := s.Run(context.Background(), returns(console.QuitKey))
	is.NoErr(err)
	is.Equal(reason, ReasonQuitKey)
	is.Equal(s.State(), ShuttingDown)

	is.NoErr(s.Close())
	is.Equal(s.State(), Stopped)
	is.Equal(d.Events(), []string{
		"open output", "open input", "start output", "start input",
		"stop input", "close input", "stop output", "close output", "terminate",
	})
}

func TestRun_CtrlC(t *testing.T) {
	is := is.New(t)

	s, _, _ := newTestSession(t)
	defer s.Close()
	is.NoErr(s.Start(micSel, speakersSel))

	reason, err := s.Run(context.Background(), returns(console.Interrupt))
	is.NoErr(err)
	is.Equal(reason, ReasonInterrupt)
}

func TestRun_InterruptSignal(t *testing.T) {
	is := is.New(t)

	s, _, _ := newTestSession(t)
	defer s.Close()
	is.NoErr(s.Start(micSel, speakersSel))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	reason, err := s.Run(ctx, blocks())
	is.NoErr(err)
	is.Equal(reason, ReasonInterrupt)
}

func TestRun_FatalFrameSize(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	defer s.Close()
	is.NoErr(s.Start(micSel, speakersSel))

	type result struct {
		reason Reason
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := s.Run(context.Background(), blocks())
		done <- result{r, err}
	}()

	err := d.Stream(audio.Input).Pump(make([]int32, pageLen+1))
	is.True(errors.Is(err, loopback.ErrFrameSize))

	select {
	case res := <-done:
		is.Equal(res.reason, ReasonFatal)
		is.True(errors.Is(res.err, loopback.ErrFrameSize))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a fatal callback error")
	}
}

func TestRun_WaiterError(t *testing.T) {
	is := is.New(t)

	s, _, _ := newTestSession(t)
	defer s.Close()
	is.NoErr(s.Start(micSel, speakersSel))

	waitErr := errors.New("terminal gone")
	reason, err := s.Run(context.Background(), waiterFunc(func(context.Context) (console.QuitReason, error) {
		return console.Cancelled, waitErr
	}))
	is.True(errors.Is(err, waitErr))
	is.Equal(reason, ReasonFatal)
}

func TestRun_RequiresRunning(t *testing.T) {
	is := is.New(t)

	s, _, _ := newTestSession(t)
	defer s.Close()

	_, err := s.Run(context.Background(), returns(console.QuitKey))
	is.True(err != nil)
}

func TestClose_Idempotent(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	is.NoErr(s.Start(micSel, speakersSel))

	is.NoErr(s.Close())
	is.NoErr(s.Close())
	is.Equal(d.Terminated(), 1)
	is.True(d.Stream(audio.Input).Closed())
	is.True(d.Stream(audio.Output).Closed())
}

func TestClose_WithoutStart(t *testing.T) {
	is := is.New(t)

	s, d, _ := newTestSession(t)
	is.NoErr(s.Close())
	is.Equal(d.Events(), []string{"terminate"})
	is.Equal(s.State(), Stopped)
}

func TestSession_AudioIsDelayed(t *testing.T) {
	is := is.New(t)

	s, d, e := newTestSession(t)
	defer s.Close()
	is.NoErr(s.Start(micSel, speakersSel))

	in := d.Stream(audio.Input)
	out := d.Stream(audio.Output)

	is.NoErr(in.Pump([]int32{1, 2, 3, 4}))

	buf := make([]int32, pageLen)
	for i := 0; i < e.Prefill(); i++ {
		is.NoErr(out.Pump(buf))
		is.Equal(buf, []int32{0, 0, 0, 0})
	}
	is.NoErr(out.Pump(buf))
	is.Equal(buf, []int32{1, 2, 3, 4})

	st := s.Status()
	is.Equal(st.State, "Running")
	is.Equal(st.Stats.Captured, uint64(1))
	is.Equal(st.Stats.Played, uint64(e.Prefill()+1))
}
