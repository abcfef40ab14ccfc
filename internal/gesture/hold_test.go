package gesture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		HoldDuration:  time.Second,
		Cooldown:      time.Second,
		ConfirmDelay:  100 * time.Millisecond,
		ResetDelay:    500 * time.Millisecond,
		FrameInterval: 10 * time.Millisecond,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	clock *clock.Manual
	hold  *Hold
	calls atomic.Int32
	ids   chan string
	err   error
	rec   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: clock.NewManual(epoch), ids: make(chan string, 10), rec: &recorder{}}
	h.hold = New(testConfig(), h.clock, func(_ context.Context, sessionID string) error {
		h.calls.Add(1)
		h.ids <- sessionID
		return h.err
	}, WithEventSink(h.rec))
	t.Cleanup(h.hold.Close)
	return h
}

func TestHold_ProgressTracksElapsedTime(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())

	h.clock.Advance(500 * time.Millisecond)
	snap := h.hold.Snapshot()
	assert.Equal(t, Holding, snap.State)
	assert.InDelta(t, 0.5, snap.Progress, 0.0001)
	assert.Equal(t, int32(0), h.calls.Load())
}

func TestHold_CompletionFiresCallbackOnce(t *testing.T) {
	h := newHarness(t)
	sessionID := h.hold.SessionID()
	require.True(t, h.hold.Start())

	h.clock.Advance(time.Second)
	assert.Equal(t, Completing, h.hold.State())
	assert.Equal(t, 1.0, h.hold.Snapshot().Progress)

	// late ticks after completion must not re-trigger anything
	for i := 0; i < 5; i++ {
		h.hold.Tick()
	}

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, sessionID, <-h.ids)
	assert.Equal(t, Processing, h.hold.State())

	h.hold.Tick()
	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, Idle, h.hold.State())

	snap := h.hold.Snapshot()
	assert.Equal(t, 0.0, snap.Progress)
	assert.False(t, snap.Completed)
	assert.NotEqual(t, sessionID, snap.SessionID, "re-arming mints a new session id")

	assert.Equal(t, []EventType{EventStarted, EventCompleted, EventSucceeded}, h.rec.types())
}

func TestHold_ConcurrentLateTicksFireOnce(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())
	h.clock.Advance(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.hold.Tick()
		}()
	}
	wg.Wait()

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestHold_InterruptBeforeThreshold(t *testing.T) {
	reasons := map[string]func(*Hold) bool{
		"pointer leave":   (*Hold).PointerLeave,
		"pointer up":      (*Hold).PointerUp,
		"touch cancel":    (*Hold).TouchCancel,
		"visibility lost": func(h *Hold) bool { return h.VisibilityChanged(false) },
		"key up":          func(h *Hold) bool { return h.KeyUp(KeyEnter) },
	}
	for name, interrupt := range reasons {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			sessionID := h.hold.SessionID()
			require.True(t, h.hold.Start())
			h.clock.Advance(300 * time.Millisecond)

			require.True(t, interrupt(h.hold))
			h.clock.Advance(5 * time.Second)

			snap := h.hold.Snapshot()
			assert.Equal(t, int32(0), h.calls.Load())
			assert.Equal(t, Idle, snap.State)
			assert.Equal(t, 0.0, snap.Progress)
			assert.NotEqual(t, sessionID, snap.SessionID)
			assert.Equal(t, 0, h.clock.Pending(), "no frame left running after an interruption")
		})
	}
}

func TestHold_StartThenImmediateLeave(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.PointerDown())
	require.True(t, h.hold.PointerLeave())

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, int32(0), h.calls.Load())
	assert.Equal(t, 0.0, h.hold.Snapshot().Progress)

	require.Len(t, h.rec.events, 2)
	assert.Equal(t, EventCancelled, h.rec.events[1].Type)
	assert.Equal(t, ReasonPointerLeave, h.rec.events[1].Reason)
}

func TestHold_VisibleAgainIsIgnored(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())
	assert.False(t, h.hold.VisibilityChanged(true))
	assert.Equal(t, Holding, h.hold.State())
}

func TestHold_CooldownRejectsRapidAttempts(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.hold.Start())
	require.True(t, h.hold.PointerUp())
	assert.False(t, h.hold.Start(), "second attempt inside the cooldown is dropped")

	h.clock.Advance(400 * time.Millisecond)
	assert.False(t, h.hold.Start())

	h.clock.Advance(700 * time.Millisecond)
	assert.True(t, h.hold.Start())

	assert.Equal(t, []EventType{EventStarted, EventCancelled, EventThrottled, EventThrottled, EventStarted}, h.rec.types())
}

func TestHold_StartWhileHoldingIsIgnored(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())
	assert.False(t, h.hold.Start())
	assert.Equal(t, []EventType{EventStarted}, h.rec.types(), "state gate runs before the cooldown gate")
}

func TestHold_StartWhileCompletingOrProcessingIsIgnored(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())
	h.clock.Advance(time.Second)
	assert.False(t, h.hold.Start())

	// past the cooldown, still before the reset delay elapses
	h.clock.Advance(300 * time.Millisecond)
	require.Equal(t, Processing, h.hold.State())
	assert.False(t, h.hold.Start())
}

func TestHold_Keyboard(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.hold.KeyDown("a"))
	require.True(t, h.hold.KeyDown(KeySpace))
	assert.False(t, h.hold.KeyDown(KeySpace), "auto-repeat is absorbed")
	assert.False(t, h.hold.KeyUp("a"))
	require.True(t, h.hold.KeyUp(KeySpace))

	assert.False(t, h.hold.KeyDown(KeyEnter), "keyboard obeys the same cooldown")
	h.clock.Advance(1100 * time.Millisecond)
	require.True(t, h.hold.KeyDown(KeyEnter))
	h.clock.Advance(time.Second + 100*time.Millisecond)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestHold_FailedSubmissionRearms(t *testing.T) {
	h := newHarness(t)
	h.err = errors.New("orders service unavailable")

	require.True(t, h.hold.Start())
	h.clock.Advance(1100 * time.Millisecond)
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, "orders service unavailable", h.hold.Snapshot().LastError)

	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, Idle, h.hold.State())

	h.err = nil
	require.True(t, h.hold.Start(), "shopper can retry by holding again")
	assert.Empty(t, h.hold.Snapshot().LastError)
	h.clock.Advance(1100 * time.Millisecond)
	assert.Equal(t, int32(2), h.calls.Load())

	types := h.rec.types()
	assert.Contains(t, types, EventFailed)
	assert.Equal(t, EventSucceeded, types[len(types)-1])
}

func TestHold_EachAttemptGetsDistinctSession(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.hold.Start())
	h.clock.Advance(1600 * time.Millisecond)
	first := <-h.ids

	require.True(t, h.hold.Start())
	h.clock.Advance(1100 * time.Millisecond)
	second := <-h.ids

	assert.NotEqual(t, first, second)
}

func TestHold_Disabled(t *testing.T) {
	h := newHarness(t)
	h.hold.SetDisabled(true)
	assert.False(t, h.hold.Start())
	assert.True(t, h.hold.Snapshot().Disabled)

	h.hold.SetDisabled(false)
	require.True(t, h.hold.Start())
	h.hold.SetDisabled(true)
	assert.Equal(t, Idle, h.hold.State())

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, int32(0), h.calls.Load())
	assert.Equal(t, ReasonDisabled, h.rec.events[len(h.rec.events)-1].Reason)
}

func TestHold_CloseMidHold(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())
	h.clock.Advance(200 * time.Millisecond)

	h.hold.Close()
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, int32(0), h.calls.Load())
	assert.False(t, h.hold.Start())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, ReasonUnmount, h.rec.events[len(h.rec.events)-1].Reason)
}

func TestHold_CloseDuringCompletingCancelsSubmission(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.hold.Start())
	h.clock.Advance(time.Second)
	require.Equal(t, Completing, h.hold.State())

	h.hold.Close()
	h.clock.Advance(time.Second)
	assert.Equal(t, int32(0), h.calls.Load())
}

func TestHold_RealClock(t *testing.T) {
	var calls atomic.Int32
	cfg := Config{
		HoldDuration:  20 * time.Millisecond,
		Cooldown:      time.Millisecond,
		ConfirmDelay:  time.Millisecond,
		ResetDelay:    10 * time.Millisecond,
		FrameInterval: time.Millisecond,
	}
	hold := New(cfg, clock.Real{}, func(context.Context, string) error {
		calls.Add(1)
		return nil
	})
	defer hold.Close()

	require.True(t, hold.Start())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hold.Tick()
				}
			}
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return hold.State() == Idle }, time.Second, time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
