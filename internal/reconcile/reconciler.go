// Package reconcile keeps cart stock ceilings truthful against the catalog and splits
// the cart into available and unavailable lines.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StockSource is the authoritative stock collaborator.
type StockSource interface {
	Stock(ctx context.Context, productID string) (domain.StockLevel, error)
}

// Report summarises one refresh pass.
type Report struct {
	Checked int
	Updated int
	Failed  int
	Stale   int
}

type Reconciler struct {
	store   *cart.Store
	source  StockSource
	metrics *metrics.Metrics
	log     zerolog.Logger
	limit   int
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	applied map[string]uint64
	closed  bool

	watchMu     sync.Mutex
	lastCount   int
	lastVersion uint64
	unsubscribe func()
	wg          sync.WaitGroup
}

type Option func(*Reconciler)

// WithConcurrency bounds how many lookups run at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) { r.limit = n }
}

// WithTimeout bounds a background refresh pass.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

func New(store *cart.Store, source StockSource, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		source:  source,
		metrics: m,
		log:     log.With().Str("component", "reconciler").Logger(),
		limit:   4,
		timeout: 10 * time.Second,
		applied: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh looks up stock once per distinct product in the cart and writes changed
// ceilings back. A failed lookup leaves that product's ceilings untouched and does
// not stop the others.
func (r *Reconciler) Refresh(ctx context.Context) Report {
	ids := r.store.ProductIDs()

	var (
		reportMu sync.Mutex
		report   = Report{Checked: len(ids)}
	)

	var g errgroup.Group
	g.SetLimit(r.limit)
	for _, id := range ids {
		id := id
		seq := r.issue()
		g.Go(func() error {
			level, err := r.source.Stock(ctx, id)
			updated, stale := r.settle(id, seq, level, err)

			reportMu.Lock()
			defer reportMu.Unlock()
			switch {
			case stale:
				report.Stale++
			case err != nil:
				report.Failed++
			default:
				report.Updated += updated
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// Watch subscribes to the store and starts a background refresh whenever the number
// of cart lines changes. Quantity edits alone do not trigger a refresh.
func (r *Reconciler) Watch() {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.lastCount = r.store.Len()
	r.unsubscribe = r.store.Subscribe(r.onChange)
}

// Wait blocks until background refreshes started by Watch have returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close stops watching. Responses that arrive afterwards are discarded.
func (r *Reconciler) Close() {
	r.watchMu.Lock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.watchMu.Unlock()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Reconciler) onChange(snap cart.Snapshot) {
	r.watchMu.Lock()
	if r.unsubscribe == nil || snap.Version <= r.lastVersion {
		r.watchMu.Unlock()
		return
	}
	r.lastVersion = snap.Version
	count := len(snap.Items)
	changed := count != r.lastCount
	r.lastCount = count
	if !changed || count == 0 {
		r.watchMu.Unlock()
		return
	}
	r.wg.Add(1)
	r.watchMu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		rep := r.Refresh(ctx)
		r.log.Debug().
			Int("checked", rep.Checked).
			Int("updated", rep.Updated).
			Int("failed", rep.Failed).
			Int("stale", rep.Stale).
			Msg("stock refresh finished")
	}()
}

func (r *Reconciler) issue() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// settle applies a lookup result unless a newer request for the same product has
// already been applied.
func (r *Reconciler) settle(productID string, seq uint64, level domain.StockLevel, lookupErr error) (updated int, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.applied[productID] > seq {
		return 0, true
	}
	r.applied[productID] = seq

	if lookupErr != nil {
		r.metrics.StockLookups.WithLabelValues("failed").Inc()
		r.log.Warn().Err(lookupErr).Str("product_id", productID).Msg("stock lookup failed, keeping last known ceiling")
		return 0, false
	}
	r.metrics.StockLookups.WithLabelValues("ok").Inc()

	seen := make(map[string]struct{})
	for _, it := range r.store.Items() {
		if it.ProductID != productID {
			continue
		}
		if _, done := seen[it.VariantID]; done {
			continue
		}
		seen[it.VariantID] = struct{}{}
		updated += r.store.UpdateStockCeiling(productID, it.VariantID, level.For(it.VariantID))
	}
	if updated > 0 {
		r.metrics.CeilingUpdates.Add(float64(updated))
	}
	return updated, false
}

// Partition splits items into lines that can be priced and checked out and lines that
// are out of stock. Order is preserved within each group.
func Partition(items []domain.LineItem) (available, unavailable []domain.LineItem) {
	for _, it := range items {
		if it.Available() {
			available = append(available, it)
		} else {
			unavailable = append(unavailable, it)
		}
	}
	return available, unavailable
}
