// Package audiotest provides an in-memory audio.Driver for tests. Streams are
// never driven by a clock; tests call Pump to play the driver's role.
package audiotest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yok-tottii/delayloop/internal/audio"
)

// Driver is a fake audio.Driver holding a single mutable device list that is
// returned for every host API index.
type Driver struct {
	mu         sync.Mutex
	devices    []audio.Device
	streams    []*Stream
	events     []string
	terminated int

	// OpenErr, when set, is returned by OpenStream for the given direction
	OpenErr map[audio.Direction]error
	// TerminateErr, when set, is returned by every Terminate call
	TerminateErr error
}

// New creates a driver listing devices
func New(devices ...audio.Device) *Driver {
	return &Driver{devices: append([]audio.Device(nil), devices...)}
}

// InputDevice is shorthand for a mono input-only device
func InputDevice(index int, name string) audio.Device {
	return audio.Device{Index: index, Name: name, MaxInputChannels: 1, DefaultSampleRate: 48000}
}

// OutputDevice is shorthand for a stereo output-only device
func OutputDevice(index int, name string) audio.Device {
	return audio.Device{Index: index, Name: name, MaxOutputChannels: 2, DefaultSampleRate: 48000}
}

// Rename changes the name reported for a device index, simulating a
// topology change.
func (d *Driver) Rename(index int, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.devices {
		if d.devices[i].Index == index {
			d.devices[i].Name = name
		}
	}
}

func (d *Driver) record(event string) {
	d.events = append(d.events, event)
}

// Devices returns a copy of the device list
func (d *Driver) Devices(hostAPI int) ([]audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated > 0 {
		return nil, audio.ErrTerminated
	}
	if hostAPI != 0 {
		return nil, fmt.Errorf("invalid host API index: %d", hostAPI)
	}
	return append([]audio.Device(nil), d.devices...), nil
}

// OpenStream validates the config the same way the PortAudio driver does
func (d *Driver) OpenStream(config audio.StreamConfig, callback audio.Callback) (audio.Stream, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated > 0 {
		return nil, audio.ErrTerminated
	}
	if err := d.OpenErr[config.Direction]; err != nil {
		return nil, err
	}

	dev, err := audio.ResolveDevice(d.devices, config.DeviceIndex, config.DeviceName)
	if err != nil {
		return nil, err
	}
	if !dev.Supports(config.Direction) {
		return nil, fmt.Errorf("device %d has no %s channels", dev.Index, config.Direction)
	}

	s := &Stream{Config: config, driver: d, callback: callback}
	d.streams = append(d.streams, s)
	d.record("open " + config.Direction.String())
	return s, nil
}

// Terminate counts calls; only the first is recorded as an event
func (d *Driver) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.terminated++
	if d.terminated == 1 {
		d.record("terminate")
	}
	return d.TerminateErr
}

// Terminated returns how many times Terminate was called
func (d *Driver) Terminated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminated
}

// Events returns the lifecycle events in order, e.g. "open output",
// "start input", "close input", "terminate".
func (d *Driver) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// Stream returns the most recently opened stream for the direction
func (d *Driver) Stream(dir audio.Direction) *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.streams) - 1; i >= 0; i-- {
		if d.streams[i].Config.Direction == dir {
			return d.streams[i]
		}
	}
	return nil
}

// Stream is a fake audio.Stream
type Stream struct {
	Config audio.StreamConfig

	driver   *Driver
	callback audio.Callback

	mu      sync.Mutex
	started bool
	closed  bool
}

// ErrNotRunning is returned by Pump on a stream that is not started
var ErrNotRunning = errors.New("stream not running")

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%s stream already closed", s.Config.Direction)
	}
	s.started = true
	s.driver.mu.Lock()
	s.driver.record("start " + s.Config.Direction.String())
	s.driver.mu.Unlock()
	return nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.closed {
		return nil
	}
	s.started = false
	s.driver.mu.Lock()
	s.driver.record("stop " + s.Config.Direction.String())
	s.driver.mu.Unlock()
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.started = false
	s.driver.mu.Lock()
	s.driver.record("close " + s.Config.Direction.String())
	s.driver.mu.Unlock()
	return nil
}

// Running reports whether the stream is started and not closed
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Closed reports whether Close has been called
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pump invokes the stream callback once, as the driver thread would
func (s *Stream) Pump(buf []int32) error {
	if !s.Running() {
		return ErrNotRunning
	}
	return s.callback(buf)
}
