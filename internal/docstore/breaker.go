package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name         string
	MinRequests  uint32
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerStore fails writes fast while the underlying store keeps failing.
// Reads and subscriptions pass straight through.
type BreakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerStore(inner Store, cfg BreakerSettings) *BreakerStore {
	var st gobreaker.Settings
	st.Name = cfg.Name
	st.Timeout = cfg.OpenTimeout
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
	}
	st.IsSuccessful = func(err error) bool {
		// caller-side outcomes say nothing about store health
		return err == nil ||
			errors.Is(err, ErrNotFound) ||
			errors.Is(err, ErrConflict) ||
			errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("Store circuit breaker state changed", map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
	}

	return &BreakerStore{
		Store: inner,
		cb:    gobreaker.NewCircuitBreaker[struct{}](st),
	}
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerStore) guard(op func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (b *BreakerStore) WriteMerge(ctx context.Context, collection, id string, fields Fields) error {
	return b.guard(func() error { return b.Store.WriteMerge(ctx, collection, id, fields) })
}

func (b *BreakerStore) WriteReplace(ctx context.Context, collection, id string, fields Fields) error {
	return b.guard(func() error { return b.Store.WriteReplace(ctx, collection, id, fields) })
}

func (b *BreakerStore) Delete(ctx context.Context, collection, id string) error {
	return b.guard(func() error { return b.Store.Delete(ctx, collection, id) })
}

func (b *BreakerStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	return b.guard(func() error { return b.Store.Update(ctx, collection, id, fn) })
}
