package tracking

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingHandler struct {
	calls     atomic.Int32
	cancelled atomic.Bool
	block     chan struct{}
}

func (h *countingHandler) HandleTimeouts(ctx context.Context) SweepResult {
	h.calls.Add(1)
	if h.block != nil {
		<-h.block
	}
	if ctx.Err() != nil {
		h.cancelled.Store(true)
	}
	return SweepResult{}
}

func TestSweeper_TicksUntilCancelled(t *testing.T) {
	h := &countingHandler{}
	s := NewSweeper(h, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	assert.Eventually(t, func() bool { return h.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_InFlightSweepCompletesWithLiveContext(t *testing.T) {
	h := &countingHandler{block: make(chan struct{})}
	s := NewSweeper(h, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	assert.Eventually(t, func() bool { return h.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-s.Done():
		t.Fatal("sweeper returned during a sweep")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.block)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.False(t, h.cancelled.Load())
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	s := NewSweeper(&countingHandler{}, 0)
	assert.Equal(t, time.Second, s.interval)
}
