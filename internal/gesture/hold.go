// Package gesture implements the hold-to-commit control that guards checkout
// submission. A hold must be sustained for the configured duration before the bound
// callback runs, and the callback runs at most once per attempt.
package gesture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type State int

const (
	Idle State = iota
	Holding
	Completing
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Holding:
		return "holding"
	case Completing:
		return "completing"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// Reason names the signal that ended a hold before it completed.
type Reason string

const (
	ReasonPointerUp      Reason = "pointer_up"
	ReasonPointerLeave   Reason = "pointer_leave"
	ReasonTouchCancel    Reason = "touch_cancel"
	ReasonVisibilityLost Reason = "visibility_lost"
	ReasonKeyUp          Reason = "key_up"
	ReasonDisabled       Reason = "disabled"
	ReasonUnmount        Reason = "unmount"
)

// Keys accepted as hold activation, matching DOM KeyboardEvent.code/key values.
const (
	KeySpace = "Space"
	KeyEnter = "Enter"
)

type Config struct {
	HoldDuration  time.Duration
	Cooldown      time.Duration
	ConfirmDelay  time.Duration
	ResetDelay    time.Duration
	FrameInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		HoldDuration:  1500 * time.Millisecond,
		Cooldown:      1000 * time.Millisecond,
		ConfirmDelay:  300 * time.Millisecond,
		ResetDelay:    1500 * time.Millisecond,
		FrameInterval: 16 * time.Millisecond,
	}
}

// CompleteFunc is invoked once per successful hold with the attempt's session id.
type CompleteFunc func(ctx context.Context, sessionID string) error

// Snapshot is what a UI needs to render the control.
type Snapshot struct {
	State     State   `json:"-"`
	StateName string  `json:"state"`
	SessionID string  `json:"session_id"`
	Progress  float64 `json:"progress"`
	Completed bool    `json:"completed"`
	Disabled  bool    `json:"disabled"`
	LastError string  `json:"last_error,omitempty"`
}

type Hold struct {
	cfg        Config
	clock      clock.Clock
	onComplete CompleteFunc
	sink       EventSink
	limiter    *rate.Limiter

	// completed is the completion guard: it flips once per attempt and is checked
	// before any progress update is applied.
	completed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	attempt   uint64
	sessionID string
	startedAt time.Time
	progress  float64
	disabled  bool
	closed    bool
	lastErr   error
	frame     clock.Timer
	confirm   clock.Timer
	reset     clock.Timer
}

type Option func(*Hold)

// WithEventSink routes lifecycle events to sink.
func WithEventSink(sink EventSink) Option {
	return func(h *Hold) { h.sink = sink }
}

func New(cfg Config, clk clock.Clock, onComplete CompleteFunc, opts ...Option) *Hold {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hold{
		cfg:        cfg,
		clock:      clk,
		onComplete: onComplete,
		sink:       nopSink{},
		limiter:    rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		ctx:        ctx,
		cancel:     cancel,
		sessionID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins a hold. It returns false when the control is not armed or when the
// previous accepted start was less than the cooldown ago; rejected starts are dropped.
func (h *Hold) Start() bool {
	h.mu.Lock()
	if h.closed || h.disabled || h.state != Idle || h.completed.Load() {
		h.mu.Unlock()
		return false
	}

	now := h.clock.Now()
	if !h.limiter.AllowN(now, 1) {
		ev := h.eventLocked(EventThrottled, now)
		h.mu.Unlock()
		h.sink.Publish(ev)
		return false
	}

	h.attempt++
	h.state = Holding
	h.startedAt = now
	h.progress = 0
	h.lastErr = nil
	h.scheduleFrameLocked(h.attempt)
	ev := h.eventLocked(EventStarted, now)
	h.mu.Unlock()

	h.sink.Publish(ev)
	return true
}

// End releases a hold before completion. Every interruption source funnels here.
func (h *Hold) End(reason Reason) bool {
	h.mu.Lock()
	ev, ok := h.interruptLocked(reason)
	h.mu.Unlock()

	if ok {
		h.sink.Publish(ev)
	}
	return ok
}

func (h *Hold) PointerDown() bool { return h.Start() }

func (h *Hold) PointerUp() bool { return h.End(ReasonPointerUp) }

func (h *Hold) PointerLeave() bool { return h.End(ReasonPointerLeave) }

func (h *Hold) TouchStart() bool { return h.Start() }

func (h *Hold) TouchEnd() bool { return h.End(ReasonPointerUp) }

func (h *Hold) TouchCancel() bool { return h.End(ReasonTouchCancel) }

// VisibilityChanged interrupts the hold when the page is hidden.
func (h *Hold) VisibilityChanged(visible bool) bool {
	if visible {
		return false
	}
	return h.End(ReasonVisibilityLost)
}

// KeyDown starts a hold for Space or Enter under the same guards as a pointer.
// Auto-repeated key-down events are absorbed by the state gate.
func (h *Hold) KeyDown(key string) bool {
	if !activationKey(key) {
		return false
	}
	return h.Start()
}

func (h *Hold) KeyUp(key string) bool {
	if !activationKey(key) {
		return false
	}
	return h.End(ReasonKeyUp)
}

// Tick applies a progress update for the current attempt. The frame loop calls it;
// it is exported so late or duplicate ticks can be delivered deliberately.
func (h *Hold) Tick() {
	h.mu.Lock()
	attempt := h.attempt
	h.mu.Unlock()
	h.advance(attempt, false)
}

// SetDisabled arms or disarms the control. Disabling mid-hold interrupts it.
func (h *Hold) SetDisabled(disabled bool) {
	h.mu.Lock()
	h.disabled = disabled
	var (
		ev Event
		ok bool
	)
	if disabled {
		ev, ok = h.interruptLocked(ReasonDisabled)
	}
	h.mu.Unlock()

	if ok {
		h.sink.Publish(ev)
	}
}

// Close tears the control down: an active hold is interrupted, pending timers are
// stopped, and an in-flight callback sees its context cancelled.
func (h *Hold) Close() {
	h.mu.Lock()
	ev, ok := h.interruptLocked(ReasonUnmount)
	h.closed = true
	h.attempt++
	h.stopTimersLocked()
	h.mu.Unlock()

	h.cancel()
	if ok {
		h.sink.Publish(ev)
	}
}

func (h *Hold) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := Snapshot{
		State:     h.state,
		StateName: h.state.String(),
		SessionID: h.sessionID,
		Progress:  h.progress,
		Completed: h.completed.Load(),
		Disabled:  h.disabled || h.closed,
	}
	if h.lastErr != nil {
		snap.LastError = h.lastErr.Error()
	}
	return snap
}

func (h *Hold) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

func (h *Hold) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Hold) scheduleFrameLocked(attempt uint64) {
	h.frame = h.clock.AfterFunc(h.cfg.FrameInterval, func() {
		h.advance(attempt, true)
	})
}

// advance recomputes progress from elapsed time since the hold started. Reaching
// 100% flips the completion guard exactly once and schedules the callback.
func (h *Hold) advance(attempt uint64, fromFrame bool) {
	h.mu.Lock()
	if h.completed.Load() || attempt != h.attempt || h.state != Holding {
		h.mu.Unlock()
		return
	}

	now := h.clock.Now()
	elapsed := now.Sub(h.startedAt)
	progress := 1.0
	if h.cfg.HoldDuration > 0 {
		progress = min(float64(elapsed)/float64(h.cfg.HoldDuration), 1)
	}
	h.progress = progress

	if progress < 1 {
		if fromFrame {
			h.scheduleFrameLocked(attempt)
		}
		h.mu.Unlock()
		return
	}

	if !h.completed.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return
	}
	if h.frame != nil {
		h.frame.Stop()
		h.frame = nil
	}
	h.state = Completing
	h.confirm = h.clock.AfterFunc(h.cfg.ConfirmDelay, func() {
		h.process(attempt)
	})
	ev := h.eventLocked(EventCompleted, now)
	h.mu.Unlock()

	h.sink.Publish(ev)
}

func (h *Hold) process(attempt uint64) {
	h.mu.Lock()
	if attempt != h.attempt || h.state != Completing {
		h.mu.Unlock()
		return
	}
	h.state = Processing
	h.confirm = nil
	sessionID := h.sessionID
	ctx := h.ctx
	h.mu.Unlock()

	err := h.onComplete(ctx, sessionID)

	h.mu.Lock()
	if attempt != h.attempt {
		h.mu.Unlock()
		return
	}
	h.lastErr = err
	evType := EventSucceeded
	if err != nil {
		evType = EventFailed
	}
	ev := h.eventLocked(evType, h.clock.Now())
	h.reset = h.clock.AfterFunc(h.cfg.ResetDelay, func() {
		h.rearm(attempt)
	})
	h.mu.Unlock()

	h.sink.Publish(ev)
}

// rearm returns the control to Idle with a fresh session id, whatever the outcome.
func (h *Hold) rearm(attempt uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if attempt != h.attempt {
		return
	}
	h.reset = nil
	h.state = Idle
	h.progress = 0
	h.completed.Store(false)
	h.sessionID = uuid.NewString()
}

func (h *Hold) interruptLocked(reason Reason) (Event, bool) {
	if h.state != Holding {
		return Event{}, false
	}
	if h.frame != nil {
		h.frame.Stop()
		h.frame = nil
	}
	ev := h.eventLocked(EventCancelled, h.clock.Now())
	ev.Reason = reason

	h.attempt++
	h.state = Idle
	h.progress = 0
	h.sessionID = uuid.NewString()
	return ev, true
}

func (h *Hold) stopTimersLocked() {
	for _, t := range []clock.Timer{h.frame, h.confirm, h.reset} {
		if t != nil {
			t.Stop()
		}
	}
	h.frame, h.confirm, h.reset = nil, nil, nil
}

func (h *Hold) eventLocked(typ EventType, at time.Time) Event {
	ev := Event{Type: typ, SessionID: h.sessionID, Progress: h.progress, At: at}
	if h.lastErr != nil {
		ev.Error = h.lastErr.Error()
	}
	return ev
}

func activationKey(key string) bool {
	return key == KeySpace || key == " " || key == KeyEnter
}
