package audio

import (
	"errors"
	"fmt"
)

// Channels is fixed: every stream is mono.
const Channels = 1

// SampleFormat names the only sample format streams are opened with.
const SampleFormat = "int32"

// ErrDeviceChanged is returned when a device index no longer refers to the
// device that was enumerated earlier.
var ErrDeviceChanged = errors.New("device list changed during selection")

// Direction is the stream direction a device is used for
type Direction int

const (
	// Input captures audio
	Input Direction = iota
	// Output plays audio
	Output
)

// String returns the lower-case direction name
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Title returns the capitalised direction name used in terminal listings
func (d Direction) Title() string {
	switch d {
	case Input:
		return "Input"
	case Output:
		return "Output"
	default:
		return "Unknown"
	}
}

// Device describes one device of a host API. Index is only meaningful within
// a single enumeration of that host API.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Supports reports whether the device has channels for the direction
func (d Device) Supports(dir Direction) bool {
	switch dir {
	case Input:
		return d.MaxInputChannels > 0
	case Output:
		return d.MaxOutputChannels > 0
	default:
		return false
	}
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// String returns the config name of the mode
func (m LatencyMode) String() string {
	switch m {
	case LowLatency:
		return "low"
	case HighStability:
		return "high"
	default:
		return "unknown"
	}
}

// ParseLatencyMode converts "low" or "high" to a LatencyMode
func ParseLatencyMode(s string) (LatencyMode, error) {
	switch s {
	case "low":
		return LowLatency, nil
	case "high":
		return HighStability, nil
	default:
		return LowLatency, fmt.Errorf("invalid latency mode: %q (must be 'low' or 'high')", s)
	}
}

// StreamConfig holds everything needed to open a one-direction mono stream
type StreamConfig struct {
	Direction       Direction
	HostAPI         int
	DeviceIndex     int
	DeviceName      string
	SampleRate      int
	FramesPerBuffer int
	Latency         LatencyMode
}

// Validate checks the numeric stream parameters
func (c StreamConfig) Validate() error {
	if c.Direction != Input && c.Direction != Output {
		return fmt.Errorf("invalid stream direction: %d", c.Direction)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("invalid frames per buffer: %d", c.FramesPerBuffer)
	}
	return nil
}

// Callback is invoked on the driver's real-time thread once per buffer.
// Input streams pass the captured samples; output streams pass the buffer to
// fill. A non-nil error asks the driver to stop calling.
type Callback func(buf []int32) error

// Stream is an opened one-direction stream
type Stream interface {
	Start() error
	// Stop and Close are idempotent
	Stop() error
	Close() error
}

// Driver is the interface to the native audio layer.
// PortAudio is the production implementation; audiotest provides a fake.
type Driver interface {
	// Devices enumerates every device of the host API
	Devices(hostAPI int) ([]Device, error)

	// OpenStream opens a stream on the configured device. The device is
	// re-resolved by index and must still carry DeviceName.
	OpenStream(config StreamConfig, callback Callback) (Stream, error)

	// Terminate releases the driver context. It is idempotent.
	Terminate() error
}

// ResolveDevice finds the device at index and checks that its name is still
// the one observed at enumeration time.
func ResolveDevice(devices []Device, index int, name string) (Device, error) {
	for _, dev := range devices {
		if dev.Index != index {
			continue
		}
		if dev.Name != name {
			return Device{}, fmt.Errorf("%w: device %d was %q, now %q", ErrDeviceChanged, index, name, dev.Name)
		}
		return dev, nil
	}
	return Device{}, fmt.Errorf("%w: device %d (%q) is gone", ErrDeviceChanged, index, name)
}
