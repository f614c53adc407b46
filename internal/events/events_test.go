package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lookout-data/lookout/internal/timeutil"
)

func newTestProcessor(t *testing.T) (*Processor, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewProcessor(5*time.Second, 500*time.Millisecond, clock), clock
}

func expectEvent(t *testing.T, p *Processor, want Event) {
	t.Helper()
	select {
	case got := <-p.Events():
		assert.Equal(t, want, got)
	default:
		t.Fatalf("expected %s event, queue is empty", want)
	}
}

func expectNoEvent(t *testing.T, p *Processor) {
	t.Helper()
	select {
	case got := <-p.Events():
		t.Fatalf("unexpected %s event", got)
	default:
	}
}

func TestMotion_RisingEdgeEmits(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)

	p.HandleMotionEdge(true)
	expectEvent(t, p, Motion)
}

func TestMotion_NonRisingEdgeDiscarded(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)

	p.HandleMotionEdge(false)
	expectNoEvent(t, p)
}

func TestMotion_DebounceSuppressesRetrigger(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	p.HandleMotionEdge(true)
	expectEvent(t, p, Motion)

	clock.Advance(100 * time.Millisecond)
	p.HandleMotionEdge(true)
	expectNoEvent(t, p)

	clock.Advance(500 * time.Millisecond)
	p.HandleMotionEdge(true)
	expectEvent(t, p, Motion)
}

func TestButton_ShortHoldRequestsGracefulShutdown(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	p.HandleButtonEdge(true)
	clock.Advance(2 * time.Second)
	p.HandleButtonEdge(false)

	expectEvent(t, p, ShutdownRequest)
}

func TestButton_LongHoldForcesShutdown(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	p.HandleButtonEdge(true)
	clock.Advance(6 * time.Second)
	p.HandleButtonEdge(false)

	expectEvent(t, p, ForceShutdown)
}

func TestButton_HoldExactlyAtThresholdIsGraceful(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	p.HandleButtonEdge(true)
	clock.Advance(5 * time.Second)
	p.HandleButtonEdge(false)

	expectEvent(t, p, ShutdownRequest)
}

func TestButton_ReleaseWithoutPressIsGraceful(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t)

	p.HandleButtonEdge(false)
	expectEvent(t, p, ShutdownRequest)
}

func TestButton_SecondReleaseDoesNotReuseStaleHold(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	p.HandleButtonEdge(true)
	clock.Advance(6 * time.Second)
	p.HandleButtonEdge(false)
	expectEvent(t, p, ForceShutdown)

	// A lone release after the pair must not measure against the old press.
	clock.Advance(time.Second)
	p.HandleButtonEdge(false)
	expectEvent(t, p, ShutdownRequest)
}

func TestDisable_SuppressesAllEvents(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	p.Disable()
	p.HandleMotionEdge(true)
	p.HandleButtonEdge(true)
	clock.Advance(time.Second)
	p.HandleButtonEdge(false)

	expectNoEvent(t, p)
}

func TestEmit_QueueOverflowDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	p, clock := newTestProcessor(t)

	// Fill the queue well past its depth; the handler must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueDepth*3; i++ {
			p.HandleMotionEdge(true)
			clock.Advance(time.Second)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("edge handler blocked on a full event queue")
	}

	// Everything queued is still valid motion events.
	for i := 0; i < queueDepth; i++ {
		expectEvent(t, p, Motion)
	}
	expectNoEvent(t, p)
}
