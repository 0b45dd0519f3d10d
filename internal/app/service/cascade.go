package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// CascadeFailure is one cart that still references the deleted product.
type CascadeFailure struct {
	CartID string
	Err    error
}

// CascadeResult reports how a deleted product was stripped from carts.
// Skipped counts matched carts that no longer held the product when stripped.
type CascadeResult struct {
	ProductID string
	Scanned   int
	Matched   int
	Cleaned   int
	Skipped   int
	Failures  []CascadeFailure
	Duration  time.Duration
}

// Err joins all failures, nil when every matched cart was cleaned.
func (r CascadeResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("cart %s: %w", f.CartID, f.Err))
	}
	return errors.Join(errs...)
}

func (r CascadeResult) Warnings() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, fmt.Sprintf("cart %s: %v", f.CartID, f.Err))
	}
	return out
}

func (r CascadeResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProductID  string   `json:"product_id"`
		Scanned    int      `json:"scanned"`
		Matched    int      `json:"matched"`
		Cleaned    int      `json:"cleaned"`
		Skipped    int      `json:"skipped"`
		Warnings   []string `json:"warnings"`
		DurationMS int64    `json:"duration_ms"`
	}{
		ProductID:  r.ProductID,
		Scanned:    r.Scanned,
		Matched:    r.Matched,
		Cleaned:    r.Cleaned,
		Skipped:    r.Skipped,
		Warnings:   r.Warnings(),
		DurationMS: r.Duration.Milliseconds(),
	})
}

// CascadeHandle tracks a cascade running in the background.
type CascadeHandle struct {
	ProductID string
	done      chan struct{}
	result    CascadeResult
}

func (h *CascadeHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the cascade finished or ctx ends.
func (h *CascadeHandle) Wait(ctx context.Context) (CascadeResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return CascadeResult{ProductID: h.ProductID}, ctx.Err()
	}
}

// CascadeCoordinator removes a deleted product from every stored cart.
type CascadeCoordinator struct {
	carts       repository.CartRepository
	outbox      *Outbox
	concurrency int

	mu       sync.Mutex
	inflight map[*CascadeHandle]struct{}
}

func NewCascadeCoordinator(carts repository.CartRepository, outbox *Outbox, concurrency int) *CascadeCoordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &CascadeCoordinator{
		carts:       carts,
		outbox:      outbox,
		concurrency: concurrency,
		inflight:    make(map[*CascadeHandle]struct{}),
	}
}

// Start runs the cascade in the background. It is not cancelled with ctx;
// Drain waits for it.
func (c *CascadeCoordinator) Start(ctx context.Context, productID string) *CascadeHandle {
	h := &CascadeHandle{ProductID: productID, done: make(chan struct{})}
	bg := context.WithoutCancel(ctx)

	c.mu.Lock()
	c.inflight[h] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, h)
			c.mu.Unlock()
			close(h.done)
		}()
		h.result = c.Run(bg, productID)
	}()
	return h
}

// Drain waits for every cascade begun with Start. Cascades still running when
// ctx ends are queued so an outbox replay finishes them.
func (c *CascadeCoordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	handles := make([]*CascadeHandle, 0, len(c.inflight))
	for h := range c.inflight {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	var unfinished []string
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			select {
			case <-h.done:
			default:
				unfinished = append(unfinished, h.ProductID)
			}
		}
	}
	if len(unfinished) == 0 {
		return nil
	}

	sort.Strings(unfinished)
	for _, productID := range unfinished {
		logger.Warn("Cascade interrupted by shutdown", map[string]interface{}{
			"product_id": productID,
		})
		c.queueCascade(context.WithoutCancel(ctx), productID, ctx.Err())
	}
	return fmt.Errorf("%d cascades unfinished: %w", len(unfinished), ctx.Err())
}

func (c *CascadeCoordinator) queueCascade(ctx context.Context, productID string, cause error) {
	if c.outbox == nil {
		return
	}
	if err := c.outbox.EnqueueCascade(ctx, productID, cause); err != nil {
		logger.Error("Failed to queue cascade", err, map[string]interface{}{
			"product_id": productID,
		})
	}
}

// Run scans all carts and strips productID from those containing it. One
// failing cart never stops the others; failures are queued for retry.
func (c *CascadeCoordinator) Run(ctx context.Context, productID string) (result CascadeResult) {
	started := time.Now()
	result = CascadeResult{ProductID: productID}
	defer func() {
		result.Duration = time.Since(started)
	}()

	carts, err := c.carts.FindAll(ctx)
	if err != nil {
		logger.Error("Cascade scan failed", err, map[string]interface{}{
			"product_id": productID,
		})
		result.Failures = []CascadeFailure{{CartID: "*", Err: fmt.Errorf("scan carts: %w", err)}}
		c.queueCascade(ctx, productID, err)
		return result
	}
	result.Scanned = len(carts)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(c.concurrency)

	for _, cart := range carts {
		if !cart.Contains(productID) {
			continue
		}
		result.Matched++
		ownerID := cart.OwnerID

		g.Go(func() error {
			removed, err := c.carts.StripProduct(ctx, ownerID, productID)
			if err != nil && c.outbox != nil {
				if qerr := c.outbox.EnqueueStrip(ctx, ownerID, productID, err); qerr != nil {
					logger.Error("Failed to queue cart strip", qerr, map[string]interface{}{
						"owner_id":   ownerID,
						"product_id": productID,
					})
				}
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failures = append(result.Failures, CascadeFailure{CartID: ownerID, Err: err})
			case removed:
				result.Cleaned++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].CartID < result.Failures[j].CartID
	})

	fields := map[string]interface{}{
		"product_id": productID,
		"scanned":    result.Scanned,
		"matched":    result.Matched,
		"cleaned":    result.Cleaned,
		"skipped":    result.Skipped,
		"failed":     len(result.Failures),
	}
	if err := result.Err(); err != nil {
		fields["error"] = err.Error()
		logger.Warn("Cascade finished with failures", fields)
	} else {
		logger.Info("Cascade finished", fields)
	}
	return result
}
