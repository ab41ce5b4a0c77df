package meter

import (
	"testing"
	"time"
)

func TestResultsLatestWins(t *testing.T) {
	r := NewResults(1)
	for i := uint64(1); i <= 3; i++ {
		r.Publish(Measurement{Seq: i})
	}

	got := drain(r)
	if len(got) != 1 || got[0].Seq != 3 {
		t.Fatalf("expected only the latest measurement, got %+v", got)
	}
	if r.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", r.Dropped())
	}
}

func TestResultsKeepsNewestInOrder(t *testing.T) {
	r := NewResults(3)
	for i := uint64(1); i <= 5; i++ {
		r.Publish(Measurement{Seq: i})
	}

	got := drain(r)
	if len(got) != 3 {
		t.Fatalf("expected 3 measurements, got %d", len(got))
	}
	for i, want := range []uint64{3, 4, 5} {
		if got[i].Seq != want {
			t.Fatalf("position %d: expected seq %d, got %d", i, want, got[i].Seq)
		}
	}
}

func TestResultsPublishNeverBlocks(t *testing.T) {
	r := NewResults(0)

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 10000; i++ {
			r.Publish(Measurement{Seq: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked without a consumer")
	}
}

func TestResultsConcurrentConsumerSeesIncreasingSeq(t *testing.T) {
	r := NewResults(1)
	const total = 5000

	go func() {
		for i := uint64(1); i <= total; i++ {
			r.Publish(Measurement{Seq: i})
		}
	}()

	var last uint64
	deadline := time.After(5 * time.Second)
	for last < total {
		select {
		case m := <-r.C():
			if m.Seq <= last {
				t.Fatalf("out of order: %d after %d", m.Seq, last)
			}
			last = m.Seq
		case <-deadline:
			t.Fatalf("consumer stalled at seq %d", last)
		}
	}
}
