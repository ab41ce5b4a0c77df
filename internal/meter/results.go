package meter

import (
	"sync/atomic"
	"time"

	"github.com/petems/spl-tray/internal/spl"
)

// Measurement is one published reading. It is never modified after Publish.
type Measurement struct {
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
	spl.Reading
}

// Results hands measurements from the capture loop to a single consumer.
// Publish never blocks: when the consumer lags, the oldest pending
// measurement is dropped so the newest ones win. Order is preserved.
type Results struct {
	ch      chan Measurement
	dropped atomic.Uint64
}

// NewResults returns a channel keeping at most depth pending measurements
func NewResults(depth int) *Results {
	if depth < 1 {
		depth = 1
	}
	return &Results{ch: make(chan Measurement, depth)}
}

// Publish is only safe from a single producer
func (r *Results) Publish(m Measurement) {
	for {
		select {
		case r.ch <- m:
			return
		default:
		}
		// Full: drop the oldest unless the consumer just took it
		select {
		case <-r.ch:
			r.dropped.Add(1)
		default:
		}
	}
}

// C is the receive side for the consumer
func (r *Results) C() <-chan Measurement {
	return r.ch
}

// Dropped counts measurements superseded before the consumer saw them
func (r *Results) Dropped() uint64 {
	return r.dropped.Load()
}
