// Package session wires one shopper's cart engine together and keeps a registry of
// live engines.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/clock"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/gesture"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/reconcile"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/rs/zerolog"
)

// Collaborator is the storefront API as the engine sees it.
type Collaborator interface {
	reconcile.StockSource
	pricing.CouponValidator
	checkout.OrderCreator
}

type Config struct {
	Gesture              gesture.Config
	ReconcileConcurrency int
	ReconcileTimeout     time.Duration
	SubmitTimeout        time.Duration
	PersistTimeout       time.Duration
}

// Deps are shared by every engine. Publisher may be nil.
type Deps struct {
	API       Collaborator
	Repo      repository.SlotRepository
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Log       zerolog.Logger
}

// Engine is one shopper's cart, reconciler, coupon service, checkout submitter and
// hold control.
type Engine struct {
	ID         string
	Store      *cart.Store
	Reconciler *reconcile.Reconciler
	Coupons    *pricing.CouponService
	Checkout   *checkout.Submitter
	Hold       *gesture.Hold

	syncer  *repository.Syncer
	detach  []func()
	clock   clock.Clock
	timeout time.Duration
	log     zerolog.Logger

	lastSeen  atomic.Int64 // unix nanos
	wg        sync.WaitGroup
	closeOnce sync.Once

	armMu      sync.Mutex
	armVersion uint64
}

// NewEngine restores the shopper's persisted lines and starts watching the cart.
func NewEngine(ctx context.Context, id string, cfg Config, deps Deps) (*Engine, error) {
	log := deps.Log.With().Str("shopper_id", id).Logger()
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	store := cart.NewStore()
	syncer := repository.NewSyncer(deps.Repo, repository.SlotKey(id), cfg.PersistTimeout, log)
	if err := syncer.Restore(ctx, store); err != nil {
		return nil, fmt.Errorf("restore cart for %s: %w", id, err)
	}

	var opts []reconcile.Option
	if cfg.ReconcileConcurrency > 0 {
		opts = append(opts, reconcile.WithConcurrency(cfg.ReconcileConcurrency))
	}
	if cfg.ReconcileTimeout > 0 {
		opts = append(opts, reconcile.WithTimeout(cfg.ReconcileTimeout))
	}

	submitter := checkout.NewSubmitter(store, deps.API, deps.Metrics, log, cfg.SubmitTimeout)

	sinks := gesture.Fanout{logSink(log), outcomeSink(deps.Metrics)}
	if deps.Publisher != nil {
		sinks = append(sinks, deps.Publisher.Sink(id))
	}

	e := &Engine{
		ID:         id,
		Store:      store,
		Reconciler: reconcile.New(store, deps.API, deps.Metrics, log, opts...),
		Coupons:    pricing.NewCouponService(store, deps.API, deps.Metrics, log),
		Checkout:   submitter,
		Hold:       gesture.New(cfg.Gesture, clk, submitter.Submit, gesture.WithEventSink(sinks)),
		syncer:     syncer,
		clock:      clk,
		timeout:    cfg.ReconcileTimeout,
		log:        log,
	}
	if e.timeout <= 0 {
		e.timeout = 10 * time.Second
	}
	e.Touch()

	e.detach = append(e.detach, syncer.Attach(store), store.Subscribe(e.rearm))
	e.Reconciler.Watch()

	snap := store.Snapshot()
	e.armVersion = snap.Version
	e.Hold.SetDisabled(len(snap.Available()) == 0)

	// restored ceilings may be stale
	if len(snap.Items) > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			refreshCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
			defer cancel()
			e.Reconciler.Refresh(refreshCtx)
		}()
	}
	return e, nil
}

// Refresh runs a stock refresh now, outside the line-count trigger.
func (e *Engine) Refresh(ctx context.Context) reconcile.Report {
	return e.Reconciler.Refresh(ctx)
}

func (e *Engine) SetShipping(sh domain.Shipping) {
	e.Checkout.SetShipping(sh)
}

// Touch marks the engine as used now.
func (e *Engine) Touch() {
	e.lastSeen.Store(e.clock.Now().UnixNano())
}

// IdleFor returns how long the engine has gone unused as of now.
func (e *Engine) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastSeen.Load()))
}

// Busy is true while a completed hold is confirming or submitting.
func (e *Engine) Busy() bool {
	st := e.Hold.State()
	return st == gesture.Completing || st == gesture.Processing
}

// Wait blocks until background refreshes and pending slot writes have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
	e.Reconciler.Wait()
	e.syncer.Wait()
}

// Close tears the engine down. Late stock, coupon and submission responses are
// ignored afterwards; the last cart state is flushed to the slot.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.Hold.Close()
		e.Coupons.Close()
		e.Reconciler.Close()
		for _, fn := range e.detach {
			fn()
		}
		e.syncer.Wait()
		e.log.Debug().Msg("session closed")
	})
}

// rearm keeps the hold disabled while nothing in the cart can be checked out.
func (e *Engine) rearm(snap cart.Snapshot) {
	e.armMu.Lock()
	defer e.armMu.Unlock()
	if snap.Version <= e.armVersion {
		return
	}
	e.armVersion = snap.Version
	e.Hold.SetDisabled(len(snap.Available()) == 0)
}

func logSink(log zerolog.Logger) gesture.EventSink {
	return gesture.SinkFunc(func(ev gesture.Event) {
		var entry *zerolog.Event
		switch ev.Type {
		case gesture.EventFailed:
			entry = log.Warn().Str("error", ev.Error)
		case gesture.EventCompleted, gesture.EventSucceeded:
			entry = log.Info()
		default:
			entry = log.Debug()
		}
		entry.
			Str("session_id", ev.SessionID).
			Str("reason", string(ev.Reason)).
			Float64("progress", ev.Progress).
			Msg(string(ev.Type))
	})
}

func outcomeSink(m *metrics.Metrics) gesture.EventSink {
	return gesture.SinkFunc(func(ev gesture.Event) {
		m.HoldOutcomes.WithLabelValues(string(ev.Type)).Inc()
	})
}
