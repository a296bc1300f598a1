package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/event"
	"github.com/ud-ai/InvestmentTracker/internal/metrics"
	"github.com/ud-ai/InvestmentTracker/internal/remote"
)

// CollectionSource delivers full-collection snapshots of a path.
type CollectionSource interface {
	Subscribe(path string, onChange func(remote.Snapshot), onError func(error)) (remote.Subscription, error)
}

// PortfolioAggregator derives the portfolio summary from the live investment
// collection. Deliveries are queued in an inbox and applied by a single
// goroutine; each one replaces the previous state entirely.
type PortfolioAggregator struct {
	source CollectionSource
	path   string
	inbox  chan event.Event
	seq    atomic.Uint64

	mu       sync.RWMutex // Used only for external reads
	snapshot domain.PortfolioSnapshot
	lastErr  error
	onUpdate []func(domain.PortfolioSnapshot)
	onError  []func(error)

	started bool
	sub     remote.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPortfolioAggregator creates an aggregator for the user's investments.
func NewPortfolioAggregator(source CollectionSource, userID string, inboxSize int) *PortfolioAggregator {
	if inboxSize <= 0 {
		inboxSize = 16
	}
	return &PortfolioAggregator{
		source:   source,
		path:     remote.InvestmentsPath(userID),
		inbox:    make(chan event.Event, inboxSize),
		snapshot: emptySnapshot(),
	}
}

// OnUpdate registers a handler called from the loop after every recompute.
func (a *PortfolioAggregator) OnUpdate(h func(domain.PortfolioSnapshot)) {
	a.mu.Lock()
	a.onUpdate = append(a.onUpdate, h)
	a.mu.Unlock()
}

// OnError registers a handler for subscription errors.
func (a *PortfolioAggregator) OnError(h func(error)) {
	a.mu.Lock()
	a.onError = append(a.onError, h)
	a.mu.Unlock()
}

// Start runs the loop and subscribes to the collection.
func (a *PortfolioAggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(ctx)

	sub, err := a.source.Subscribe(a.path,
		func(snap remote.Snapshot) {
			ev := &event.CollectionSnapshotEvent{Snapshot: snap}
			ev.Stamp(a.seq.Add(1), time.Now())
			a.post(ctx, ev)
		},
		func(err error) {
			ev := &event.SubscriptionErrorEvent{Path: a.path, Err: err}
			ev.Stamp(a.seq.Add(1), time.Now())
			a.post(ctx, ev)
		})
	if err != nil {
		a.Stop()
		return fmt.Errorf("subscribe %s: %w", a.path, err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	return nil
}

// Stop cancels the subscription and waits for the loop. Idempotent.
func (a *PortfolioAggregator) Stop() {
	a.once.Do(func() {
		a.mu.Lock()
		sub, cancel := a.sub, a.cancel
		a.sub = nil
		a.mu.Unlock()

		if sub != nil {
			sub.Cancel()
		}
		if cancel != nil {
			cancel()
		}
		a.wg.Wait()
	})
}

// Snapshot returns a copy of the latest summary.
func (a *PortfolioAggregator) Snapshot() domain.PortfolioSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := a.snapshot
	snap.Series = append([]domain.SeriesPoint(nil), a.snapshot.Series...)
	return snap
}

// LastError returns the latest subscription error, cleared by the next delivery.
func (a *PortfolioAggregator) LastError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

func (a *PortfolioAggregator) post(ctx context.Context, ev event.Event) {
	select {
	case a.inbox <- ev:
	case <-ctx.Done():
	}
}

// run MUST be the only goroutine writing the snapshot.
func (a *PortfolioAggregator) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.inbox:
			a.process(ev)
		}
	}
}

func (a *PortfolioAggregator) process(ev event.Event) {
	switch e := ev.(type) {
	case *event.CollectionSnapshotEvent:
		snap := Summarize(DecodeInvestments(e.Snapshot.Children))
		a.publish(snap, nil)
		slog.Debug("Portfolio recomputed", slog.Uint64("seq", e.GetSeq()), slog.Int("count", snap.Count))

	case *event.SubscriptionErrorEvent:
		slog.Warn("Portfolio subscription error", slog.String("path", e.Path), slog.Any("error", e.Err))
		a.publish(emptySnapshot(), e.Err)
	}
}

func (a *PortfolioAggregator) publish(snap domain.PortfolioSnapshot, err error) {
	a.mu.Lock()
	a.snapshot = snap
	a.lastErr = err
	updates := append([]func(domain.PortfolioSnapshot){}, a.onUpdate...)
	errs := append([]func(error){}, a.onError...)
	a.mu.Unlock()

	metrics.PortfolioValue.Set(snap.TotalValue)

	if err != nil {
		for _, h := range errs {
			h(err)
		}
	}
	for _, h := range updates {
		h(snap)
	}
}

// DecodeInvestments keeps backend order and skips children that are not
// investment records.
func DecodeInvestments(children []remote.Child) []domain.Investment {
	out := make([]domain.Investment, 0, len(children))
	for _, c := range children {
		var inv domain.Investment
		if err := json.Unmarshal(c.Value, &inv); err != nil {
			slog.Debug("Skipping undecodable investment", slog.String("key", c.Key), slog.Any("error", err))
			continue
		}
		out = append(out, inv)
	}
	return out
}

// Summarize computes value, cost and growth. Cost is the purchase value, so
// growth stays 0 until holdings are priced live.
func Summarize(investments []domain.Investment) domain.PortfolioSnapshot {
	if len(investments) == 0 {
		return emptySnapshot()
	}

	totalValue := decimal.Zero
	totalCost := decimal.Zero
	series := make([]domain.SeriesPoint, 0, len(investments))

	for i, inv := range investments {
		value := inv.Value()
		totalValue = totalValue.Add(value)
		totalCost = totalCost.Add(value)
		series = append(series, domain.SeriesPoint{Index: i, Value: value.InexactFloat64()})
	}

	growth := totalValue.Sub(totalCost)
	pct := decimal.Zero
	if !totalValue.IsZero() {
		pct = growth.Div(totalValue).Mul(decimal.NewFromInt(100))
	}

	return domain.PortfolioSnapshot{
		TotalValue:       totalValue.InexactFloat64(),
		TotalCost:        totalCost.InexactFloat64(),
		Growth:           growth.InexactFloat64(),
		GrowthPercentage: pct.InexactFloat64(),
		Series:           series,
		Count:            len(investments),
	}
}

func emptySnapshot() domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{Series: []domain.SeriesPoint{}}
}
