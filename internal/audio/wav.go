package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/petems/spl-tray/internal/config"
)

// WAVSource replays a mono 16-bit PCM WAV file as if it were a microphone.
type WAVSource struct {
	Path string
}

// NewWAVSource returns a source reading from the WAV file at path
func NewWAVSource(path string) *WAVSource {
	return &WAVSource{Path: path}
}

func (w *WAVSource) Open(cfg config.RecordingConfig) (Stream, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: invalid WAV file %s", ErrDeviceUnavailable, w.Path)
	}

	if int(dec.NumChans) != cfg.Channels || int(dec.BitDepth) != cfg.BitDepth || int(dec.SampleRate) != cfg.SampleRate {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d Hz/%d ch/%d bit, want %d Hz/%d ch/%d bit",
			ErrDeviceUnavailable, w.Path,
			dec.SampleRate, dec.NumChans, dec.BitDepth,
			cfg.SampleRate, cfg.Channels, cfg.BitDepth)
	}

	return &wavStream{
		file: f,
		dec:  dec,
		pcm:  &goaudio.IntBuffer{Format: dec.Format()},
	}, nil
}

type wavStream struct {
	file    *os.File
	dec     *wav.Decoder
	pcm     *goaudio.IntBuffer
	scratch []int
}

// Read fills buf from the file. When the file ends inside buf the samples
// that were left come back with io.ErrUnexpectedEOF; io.EOF is returned once
// nothing is left.
func (s *wavStream) Read(buf []int16) (int, error) {
	if cap(s.scratch) < len(buf) {
		s.scratch = make([]int, len(buf))
	}
	scratch := s.scratch[:len(buf)]

	total := 0
	for total < len(buf) {
		s.pcm.Data = scratch[total:]
		n, err := s.dec.PCMBuffer(s.pcm)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}

	if total == 0 {
		return 0, io.EOF
	}
	for i := 0; i < total; i++ {
		buf[i] = int16(scratch[i])
	}
	if total < len(buf) {
		return total, io.ErrUnexpectedEOF
	}
	return total, nil
}

func (s *wavStream) Close() error {
	return s.file.Close()
}
