package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/spl-tray/internal/config"
	"github.com/rs/zerolog"
)

// PortAudioSource captures from a microphone through PortAudio's blocking API.
type PortAudioSource struct {
	log zerolog.Logger

	mu       sync.Mutex
	deviceID string
}

// New initializes PortAudio and returns a source for the configured device
func New(cfg config.AudioConfig, log zerolog.Logger) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioSource{
		log:      log,
		deviceID: cfg.DeviceID,
	}, nil
}

// SetDevice selects the input device used by the next Open. Empty means default.
func (p *PortAudioSource) SetDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deviceID = id
}

func (p *PortAudioSource) Open(cfg config.RecordingConfig) (Stream, error) {
	p.mu.Lock()
	deviceID := p.deviceID
	p.mu.Unlock()

	device, err := findDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	// The stream reads straight into this buffer; one Read fills one window
	buffer := make([]int16, cfg.WindowLength*cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.WindowLength,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open audio stream: %w", ErrDeviceUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: failed to start audio stream: %w", ErrDeviceUnavailable, err)
	}

	p.log.Debug().
		Str("device", device.Name).
		Int("sample_rate", cfg.SampleRate).
		Int("window", cfg.WindowLength).
		Msg("Audio stream opened")

	return &portAudioStream{stream: stream, buffer: buffer, log: p.log}, nil
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

func (p *PortAudioSource) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

// Close releases PortAudio. Streams must be closed first.
func (p *PortAudioSource) Close() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
	log    zerolog.Logger
}

func (s *portAudioStream) Read(buf []int16) (int, error) {
	if err := s.stream.Read(); err != nil {
		// Overflow means samples were lost before this read; the buffer is still a full window
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}
		s.log.Warn().Msg("Audio input overflowed")
	}
	return copy(buf, s.buffer), nil
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return err
	}
	return stopErr
}
