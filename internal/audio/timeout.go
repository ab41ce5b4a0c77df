package audio

import (
	"fmt"
	"time"
)

// WithTimeout bounds every Read of s by d. A timed-out read is abandoned:
// it keeps running against a private buffer and its samples are discarded,
// and every later Read fails. Closing an abandoned stream returns at once and
// closes s only after that read has returned, since capture backends such as
// PortAudio must not be closed under a blocked read. A non-positive d returns
// s unchanged.
func WithTimeout(s Stream, d time.Duration) Stream {
	if d <= 0 {
		return s
	}
	return &timeoutStream{stream: s, timeout: d}
}

type timeoutStream struct {
	stream    Stream
	timeout   time.Duration
	scratch   []int16
	abandoned bool
	pending   <-chan readResult // the abandoned read
}

type readResult struct {
	n   int
	err error
}

func (t *timeoutStream) Read(buf []int16) (int, error) {
	if t.abandoned {
		return 0, fmt.Errorf("%w: stream abandoned after an earlier timeout", ErrReadTimeout)
	}

	if cap(t.scratch) < len(buf) {
		t.scratch = make([]int16, len(buf))
	}
	scratch := t.scratch[:len(buf)]

	done := make(chan readResult, 1)
	go func() {
		n, err := t.stream.Read(scratch)
		done <- readResult{n: n, err: err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		copy(buf, scratch[:r.n])
		return r.n, r.err
	case <-timer.C:
		t.abandoned = true
		t.pending = done
		return 0, fmt.Errorf("%w after %s", ErrReadTimeout, t.timeout)
	}
}

func (t *timeoutStream) Close() error {
	if t.pending == nil {
		return t.stream.Close()
	}
	go func(pending <-chan readResult) {
		<-pending
		_ = t.stream.Close()
	}(t.pending)
	return nil
}
