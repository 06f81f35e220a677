package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ErrTerminated is returned by a driver used after Terminate
var ErrTerminated = errors.New("audio driver terminated")

// PortAudioDriver implements Driver using PortAudio
type PortAudioDriver struct {
	mu         sync.Mutex
	terminated bool
}

// NewPortAudioDriver initializes PortAudio and returns a driver.
// Terminate must be called to release it.
func NewPortAudioDriver() (*PortAudioDriver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &PortAudioDriver{}, nil
}

// hostAPI looks up a host API by index
func hostAPI(index int) (*portaudio.HostApiInfo, error) {
	apis, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("failed to list host APIs: %w", err)
	}
	if index < 0 || index >= len(apis) {
		return nil, fmt.Errorf("invalid host API index: %d (%d available)", index, len(apis))
	}
	return apis[index], nil
}

func toDevice(index int, info *portaudio.DeviceInfo) Device {
	return Device{
		Index:             index,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
	}
}

// Devices returns every device of the host API. Indices are positions within
// the host API's device list.
func (d *PortAudioDriver) Devices(hostAPIIndex int) ([]Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated {
		return nil, ErrTerminated
	}

	api, err := hostAPI(hostAPIIndex)
	if err != nil {
		return nil, err
	}

	result := make([]Device, 0, len(api.Devices))
	for i, info := range api.Devices {
		result = append(result, toDevice(i, info))
	}

	return result, nil
}

// OpenStream opens a mono int32 stream for one direction
func (d *PortAudioDriver) OpenStream(config StreamConfig, callback Callback) (Stream, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated {
		return nil, ErrTerminated
	}

	api, err := hostAPI(config.HostAPI)
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(api.Devices))
	for i, info := range api.Devices {
		devices = append(devices, toDevice(i, info))
	}
	dev, err := ResolveDevice(devices, config.DeviceIndex, config.DeviceName)
	if err != nil {
		return nil, err
	}
	if !dev.Supports(config.Direction) {
		return nil, fmt.Errorf("selected device '%s' (ID: %d) has no %s channels",
			dev.Name, dev.Index, config.Direction)
	}
	info := api.Devices[config.DeviceIndex]

	params := portaudio.StreamParameters{
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.FramesPerBuffer,
	}

	// The callback's error is the engine's own fatal latch; PortAudio's Go
	// binding has no per-call stop flag, so the control loop does the stopping.
	var process interface{}
	switch config.Direction {
	case Input:
		latency := info.DefaultHighInputLatency
		if config.Latency == LowLatency {
			latency = info.DefaultLowInputLatency
		}
		params.Input = portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: Channels,
			Latency:  latency,
		}
		process = func(in []int32) { _ = callback(in) }
	case Output:
		latency := info.DefaultHighOutputLatency
		if config.Latency == LowLatency {
			latency = info.DefaultLowOutputLatency
		}
		params.Output = portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: Channels,
			Latency:  latency,
		}
		process = func(out []int32) { _ = callback(out) }
	}

	stream, err := portaudio.OpenStream(params, process)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stream on '%s': %w", config.Direction, dev.Name, err)
	}

	return &portAudioStream{stream: stream, direction: config.Direction}, nil
}

// Terminate releases PortAudio. Calling it again is a no-op.
func (d *PortAudioDriver) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.terminated {
		return nil
	}
	d.terminated = true

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// portAudioStream wraps a PortAudio stream with idempotent Stop/Close
type portAudioStream struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	direction Direction
	started   bool
	closed    bool
}

func (s *portAudioStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%s stream already closed", s.direction)
	}
	if s.started {
		return fmt.Errorf("%s stream already started", s.direction)
	}

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start %s stream: %w", s.direction, err)
	}
	s.started = true
	return nil
}

func (s *portAudioStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.closed {
		return nil
	}
	s.started = false

	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop %s stream: %w", s.direction, err)
	}
	return nil
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.started {
		s.started = false
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s stream: %w", s.direction, err))
		}
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s stream: %w", s.direction, err))
	}
	return errors.Join(errs...)
}
