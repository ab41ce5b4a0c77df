package meter

import (
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/spl-tray/internal/audio"
	"github.com/petems/spl-tray/internal/config"
	"github.com/petems/spl-tray/internal/dsp"
	"github.com/petems/spl-tray/internal/spl"
	"github.com/rs/zerolog"
)

// Mock implementations for testing
type mockSource struct {
	stream  *mockStream
	openErr error
	opens   atomic.Int32
}

func (s *mockSource) Open(cfg config.RecordingConfig) (audio.Stream, error) {
	s.opens.Add(1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

type mockStream struct {
	// read returns what the i-th (0-based) Read produces
	read func(i int, buf []int16) (int, error)

	mu     sync.Mutex
	reads  int
	closed bool
	dirty  bool // a Read saw a buffer that was not zeroed
}

func (s *mockStream) Read(buf []int16) (int, error) {
	s.mu.Lock()
	i := s.reads
	s.reads++
	for _, v := range buf {
		if v != 0 {
			s.dirty = true
		}
	}
	s.mu.Unlock()

	return s.read(i, buf)
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockStream) stats() (reads int, closed, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.closed, s.dirty
}

func recording(window int) config.RecordingConfig {
	return config.RecordingConfig{SampleRate: 8000, Channels: 1, BitDepth: 16, WindowLength: window}
}

func tone(n, bin int, amp float64) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(math.Round(amp * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(n))))
	}
	return pcm
}

func newMeter(src audio.Source, window, depth int) *Meter {
	return New(Config{
		Source:     src,
		Recording:  recording(window),
		Calculator: spl.NewCalculator(8000, spl.Literal),
		Results:    NewResults(depth),
		Logger:     zerolog.Nop(),
	})
}

func drain(r *Results) []Measurement {
	var out []Measurement
	for {
		select {
		case m := <-r.C():
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestPublishesOneMeasurementPerWindowThenStops(t *testing.T) {
	const n = 64
	var m *Meter
	stream := &mockStream{}
	stream.read = func(i int, buf []int16) (int, error) {
		copy(buf, tone(n, i+1, 1000))
		if i == 2 {
			m.Stop()
		}
		return len(buf), nil
	}
	m = newMeter(&mockSource{stream: stream}, n, 8)

	if err := m.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := m.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	got := drain(m.Results())
	if len(got) != 3 {
		t.Fatalf("expected 3 measurements, got %d", len(got))
	}
	for i, r := range got {
		if r.Seq != uint64(i+1) {
			t.Errorf("measurement %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
		if r.Bin != i+1 {
			t.Errorf("measurement %d: expected bin %d, got %d", i, i+1, r.Bin)
		}
	}

	reads, closed, dirty := stream.stats()
	if reads != 3 {
		t.Errorf("expected exactly 3 reads, got %d", reads)
	}
	if !closed {
		t.Error("expected stream to be closed after stop")
	}
	if dirty {
		t.Error("expected the window to be cleared before every read")
	}
	if m.State() != Stopped {
		t.Errorf("expected stopped, got %s", m.State())
	}
}

func TestStopDoesNotInterruptInFlightRead(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	stream := &mockStream{}
	stream.read = func(i int, buf []int16) (int, error) {
		if i == 0 {
			close(started)
			<-release
		}
		copy(buf, tone(len(buf), 3, 500))
		return len(buf), nil
	}
	m := newMeter(&mockSource{stream: stream}, 16, 4)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	<-started
	m.Stop()

	select {
	case <-m.Done():
		t.Fatal("meter stopped while a read was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if m.State() != Running {
		t.Fatalf("expected running during the blocked read, got %s", m.State())
	}
	if got := drain(m.Results()); len(got) != 0 {
		t.Fatalf("expected no measurement before the read returns, got %d", len(got))
	}

	close(release)
	if err := m.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	got := drain(m.Results())
	if len(got) != 1 || got[0].Bin != 3 {
		t.Fatalf("expected the in-flight cycle to complete with one measurement, got %+v", got)
	}
	if reads, _, _ := stream.stats(); reads != 1 {
		t.Fatalf("expected no read after stop, got %d reads", reads)
	}
}

func TestStartFailsWhenDeviceUnavailable(t *testing.T) {
	src := &mockSource{openErr: errors.New("no microphone")}
	m := newMeter(src, 16, 1)

	err := m.Start()
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if m.State() != Stopped {
		t.Fatalf("expected stopped, got %s", m.State())
	}
	select {
	case <-m.Done():
	default:
		t.Fatal("expected Done to be closed when never started")
	}
}

func TestStartWhileRunning(t *testing.T) {
	release := make(chan struct{})
	stream := &mockStream{read: func(i int, buf []int16) (int, error) {
		<-release
		return len(buf), nil
	}}
	src := &mockSource{stream: stream}
	m := newMeter(src, 16, 1)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if src.opens.Load() != 1 {
		t.Fatalf("expected a single open, got %d", src.opens.Load())
	}

	m.Stop()
	close(release)
	if err := m.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	m := newMeter(&mockSource{}, 16, 1)
	m.Stop()
	m.Stop()
	if err := m.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShortReadFailsRun(t *testing.T) {
	stream := &mockStream{read: func(i int, buf []int16) (int, error) {
		copy(buf, tone(len(buf), 2, 800))
		if i == 1 {
			return len(buf) / 2, nil
		}
		return len(buf), nil
	}}
	m := newMeter(&mockSource{stream: stream}, 32, 4)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	err := m.Wait()
	if !errors.Is(err, audio.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}

	if got := drain(m.Results()); len(got) != 1 {
		t.Fatalf("expected only the complete window to be published, got %d", len(got))
	}
	if _, closed, _ := stream.stats(); !closed {
		t.Fatal("expected stream closed after failure")
	}
	if m.State() != Stopped {
		t.Fatalf("expected stopped, got %s", m.State())
	}
}

func TestReadErrorFailsRun(t *testing.T) {
	boom := errors.New("device unplugged")
	stream := &mockStream{read: func(i int, buf []int16) (int, error) {
		return 0, boom
	}}
	m := newMeter(&mockSource{stream: stream}, 32, 1)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	err := m.Wait()
	if !errors.Is(err, audio.ErrIO) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrIO wrapping the read error, got %v", err)
	}
	if got := drain(m.Results()); len(got) != 0 {
		t.Fatalf("expected nothing published, got %d", len(got))
	}
}

func TestPartialWindowAtEndOfInputIsNotMeasured(t *testing.T) {
	stream := &mockStream{read: func(i int, buf []int16) (int, error) {
		copy(buf, tone(len(buf), 3, 800))
		if i == 2 {
			return len(buf) / 4, io.ErrUnexpectedEOF
		}
		return len(buf), nil
	}}
	m := newMeter(&mockSource{stream: stream}, 32, 8)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	err := m.Wait()
	if !errors.Is(err, audio.ErrIO) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrIO wrapping io.ErrUnexpectedEOF, got %v", err)
	}
	if got := drain(m.Results()); len(got) != 2 {
		t.Fatalf("expected the 2 complete windows only, got %d", len(got))
	}
}

func TestReadTimeoutFailsRun(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stream := &mockStream{read: func(i int, buf []int16) (int, error) {
		<-release
		return len(buf), nil
	}}
	m := New(Config{
		Source:      &mockSource{stream: stream},
		Recording:   recording(16),
		Calculator:  spl.NewCalculator(8000, spl.Literal),
		ReadTimeout: 20 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Wait(); !errors.Is(err, audio.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
}

func TestRejectsNonPowerOfTwoWindow(t *testing.T) {
	src := &mockSource{stream: &mockStream{}}
	m := newMeter(src, 1000, 1)

	if err := m.Start(); !errors.Is(err, dsp.ErrNotPowerOfTwo) {
		t.Fatalf("expected ErrNotPowerOfTwo, got %v", err)
	}
	if src.opens.Load() != 0 {
		t.Fatal("expected the source not to be opened")
	}
}

func TestSilentWindowYieldsZeroReading(t *testing.T) {
	var m *Meter
	stream := &mockStream{}
	stream.read = func(i int, buf []int16) (int, error) {
		m.Stop()
		return len(buf), nil
	}
	m = newMeter(&mockSource{stream: stream}, 4, 1)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Wait(); err != nil {
		t.Fatal(err)
	}

	got := drain(m.Results())
	if len(got) != 1 {
		t.Fatalf("expected one measurement, got %d", len(got))
	}
	if got[0].Reading != (spl.Reading{}) {
		t.Fatalf("expected zero reading for silence, got %+v", got[0].Reading)
	}
}

func TestRestartBeginsNewRun(t *testing.T) {
	var m *Meter
	stream := &mockStream{}
	stream.read = func(i int, buf []int16) (int, error) {
		copy(buf, tone(len(buf), 1, 100))
		m.Stop()
		return len(buf), nil
	}
	m = newMeter(&mockSource{stream: stream}, 8, 4)

	for run := 0; run < 2; run++ {
		if err := m.Start(); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if err := m.Wait(); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}

	got := drain(m.Results())
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 1 {
		t.Fatalf("expected each run to start at seq 1, got %+v", got)
	}
}

func TestAnalyzeIsRepeatable(t *testing.T) {
	calc := spl.NewCalculator(8000, spl.Literal)
	window := tone(4096, 440, 12000)

	first, err := Analyze(calc, window)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Analyze(calc, window)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected identical readings, got %+v and %+v", first, second)
	}
	if first.Bin != 440 || first.Frequency != 440*4096 {
		t.Fatalf("unexpected reading %+v", first)
	}
}

type gatedSource struct {
	stream  *mockStream
	opening chan struct{}
	release chan struct{}
}

func (s *gatedSource) Open(cfg config.RecordingConfig) (audio.Stream, error) {
	close(s.opening)
	<-s.release
	return s.stream, nil
}

func TestStateDoesNotWaitForOpen(t *testing.T) {
	stream := &mockStream{read: func(i int, buf []int16) (int, error) {
		return len(buf), nil
	}}
	src := &gatedSource{stream: stream, opening: make(chan struct{}), release: make(chan struct{})}
	m := newMeter(src, 16, 1)

	started := make(chan error, 1)
	go func() { started <- m.Start() }()
	<-src.opening

	stateCh := make(chan State, 1)
	go func() { stateCh <- m.State() }()
	select {
	case st := <-stateCh:
		if st != Stopped {
			t.Fatalf("expected stopped while opening, got %s", st)
		}
	case <-time.After(time.Second):
		t.Fatal("State blocked while the device was opening")
	}

	if err := m.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning while opening, got %v", err)
	}

	// A Stop issued while opening ends the run before it reads
	m.Stop()
	close(src.release)
	if err := <-started; err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := m.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if reads, closed, _ := stream.stats(); reads != 0 || !closed {
		t.Fatalf("expected no reads and a closed stream, got reads=%d closed=%v", reads, closed)
	}
}
