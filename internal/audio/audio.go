package audio

import (
	"errors"
	"fmt"

	"github.com/petems/spl-tray/internal/config"
)

var (
	// ErrDeviceUnavailable is returned when a capture stream cannot be opened
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrIO marks a failed or short read from an open stream
	ErrIO = errors.New("audio read failed")
	// ErrReadTimeout is an ErrIO raised when a read outlives its deadline
	ErrReadTimeout = fmt.Errorf("%w: read timed out", ErrIO)
)

// Source opens capture streams
type Source interface {
	Open(cfg config.RecordingConfig) (Stream, error)
}

// Stream is an open mono 16-bit capture stream
type Stream interface {
	// Read blocks until len(buf) samples were captured, the stream ends or
	// an error occurs. It returns the number of samples written to buf.
	Read(buf []int16) (int, error)
	Close() error
}

// DeviceLister is implemented by sources backed by real input devices
type DeviceLister interface {
	ListDevices() ([]AudioDevice, error)
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}
