// Package meter runs the capture loop: it reads fixed-size windows from an
// audio stream, turns each into a sound pressure level and publishes it.
package meter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/spl-tray/internal/audio"
	"github.com/petems/spl-tray/internal/config"
	"github.com/petems/spl-tray/internal/dsp"
	"github.com/petems/spl-tray/internal/spl"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Start while a run is active
var ErrAlreadyRunning = errors.New("meter already running")

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

type Config struct {
	Source      audio.Source
	Recording   config.RecordingConfig
	Calculator  spl.Calculator
	Results     *Results
	ReadTimeout time.Duration // 0 lets a read block forever
	Logger      zerolog.Logger
}

// Meter owns the capture worker. Start and Stop may be called from any
// goroutine; the sample window is only ever touched by the worker.
type Meter struct {
	src         audio.Source
	rec         config.RecordingConfig
	calc        spl.Calculator
	out         *Results
	readTimeout time.Duration
	log         zerolog.Logger

	// stop is observed once per cycle, never mid-read
	stop atomic.Bool

	mu       sync.Mutex
	state    State
	starting bool // Open in progress
	done     chan struct{}
	err      error
}

func New(cfg Config) *Meter {
	done := make(chan struct{})
	close(done)

	out := cfg.Results
	if out == nil {
		out = NewResults(1)
	}

	return &Meter{
		src:         cfg.Source,
		rec:         cfg.Recording,
		calc:        cfg.Calculator,
		out:         out,
		readTimeout: cfg.ReadTimeout,
		log:         cfg.Logger,
		done:        done,
	}
}

// Start opens the audio source and launches the worker. Opening failures are
// returned here and the meter stays stopped. The lock is not held while the
// device opens; a second Start meanwhile gets ErrAlreadyRunning and a Stop
// meanwhile ends the new run before its first read.
func (m *Meter) Start() error {
	m.mu.Lock()
	if m.state == Running || m.starting {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !dsp.IsPowerOfTwo(m.rec.WindowLength) {
		m.mu.Unlock()
		return fmt.Errorf("window length %d: %w", m.rec.WindowLength, dsp.ErrNotPowerOfTwo)
	}
	m.starting = true
	m.stop.Store(false)
	m.mu.Unlock()

	stream, err := m.src.Open(m.rec)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false

	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return err
	}

	m.state = Running
	m.err = nil
	m.done = make(chan struct{})

	m.log.Info().
		Int("sample_rate", m.rec.SampleRate).
		Int("window", m.rec.WindowLength).
		Msg("Meter started")

	go m.run(audio.WithTimeout(stream, m.readTimeout), m.done)
	return nil
}

// Stop asks the worker to finish. An in-flight read is not interrupted; the
// worker exits after the current cycle. Stop does not wait, see Wait.
func (m *Meter) Stop() {
	m.stop.Store(true)
}

// Wait blocks until the meter is stopped and returns the error that ended the
// last run, if any
func (m *Meter) Wait() error {
	<-m.Done()
	return m.Err()
}

// Done is closed when the current run has ended
func (m *Meter) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the error that ended the last run
func (m *Meter) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Meter) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Results returns the channel measurements are published on
func (m *Meter) Results() *Results {
	return m.out
}

func (m *Meter) run(stream audio.Stream, done chan struct{}) {
	n := m.rec.WindowLength
	window := make([]int16, n)
	input := make([]dsp.Complex, n)

	var runErr error
	var seq uint64

	defer func() {
		if err := stream.Close(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to close audio stream")
		}

		m.mu.Lock()
		m.state = Stopped
		m.err = runErr
		m.mu.Unlock()

		if runErr != nil {
			m.log.Error().Err(runErr).Uint64("measurements", seq).Msg("Meter run failed")
		} else {
			m.log.Info().
				Uint64("measurements", seq).
				Uint64("superseded", m.out.Dropped()).
				Msg("Meter stopped")
		}
		close(done)
	}()

	for !m.stop.Load() {
		clear(window)

		// A window cut short by an error is never measured
		read, err := stream.Read(window)
		if err != nil {
			runErr = fmt.Errorf("%w: %w", audio.ErrIO, err)
			return
		}
		if read < n {
			runErr = fmt.Errorf("%w: short read of %d/%d samples", audio.ErrIO, read, n)
			return
		}

		reading, err := analyze(m.calc, window, input)
		if err != nil {
			runErr = err
			return
		}

		seq++
		m.out.Publish(Measurement{Seq: seq, At: time.Now(), Reading: reading})

		m.log.Debug().
			Uint64("seq", seq).
			Float64("frequency_hz", reading.Frequency).
			Float64("db_spl", reading.Decibels).
			Msg("Measurement")
	}
}

// Analyze runs one window through the transform, the peak scan and the calculator
func Analyze(calc spl.Calculator, window []int16) (spl.Reading, error) {
	return analyze(calc, window, nil)
}

func analyze(calc spl.Calculator, window []int16, input []dsp.Complex) (spl.Reading, error) {
	spectrum, err := dsp.FFT(dsp.Samples(input, window))
	if err != nil {
		return spl.Reading{}, err
	}
	return calc.Calculate(dsp.DominantPeak(spectrum), len(window)), nil
}
