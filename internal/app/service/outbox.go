package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/pkg/logger"
	"github.com/oklog/ulid/v2"
)

type cartItemsPayload struct {
	Items []model.CartItem `json:"items"`
}

type cartStripPayload struct {
	ProductID string `json:"product_id"`
}

// ReplayResult summarizes one outbox replay pass.
type ReplayResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Outbox stores cart writes that failed and replays them later.
type Outbox struct {
	repo        repository.OutboxRepository
	carts       repository.CartRepository
	products    repository.ProductRepository
	maxAttempts int
}

func NewOutbox(repo repository.OutboxRepository, carts repository.CartRepository, products repository.ProductRepository, maxAttempts int) *Outbox {
	return &Outbox{
		repo:        repo,
		carts:       carts,
		products:    products,
		maxAttempts: maxAttempts,
	}
}

func cartItemsKey(ownerID string) string {
	return repository.CartsCollection + "/" + ownerID
}

func cartStripKey(ownerID, productID string) string {
	return repository.CartsCollection + "/" + ownerID + "#strip/" + productID
}

func cascadeKey(productID string) string {
	return repository.CartsCollection + "#cascade/" + productID
}

// EnqueueItems records the latest item list of a cart whose write failed.
func (o *Outbox) EnqueueItems(ctx context.Context, ownerID string, items []model.CartItem, cause error) error {
	payload, err := json.Marshal(cartItemsPayload{Items: items})
	if err != nil {
		return err
	}
	return o.enqueue(ctx, &model.OutboxEntry{
		Key:        cartItemsKey(ownerID),
		Kind:       model.OutboxCartItems,
		Collection: repository.CartsCollection,
		DocID:      ownerID,
		Payload:    payload,
		LastError:  errString(cause),
	})
}

// EnqueueStrip records a cascade strip that could not be applied.
func (o *Outbox) EnqueueStrip(ctx context.Context, ownerID, productID string, cause error) error {
	payload, err := json.Marshal(cartStripPayload{ProductID: productID})
	if err != nil {
		return err
	}
	return o.enqueue(ctx, &model.OutboxEntry{
		Key:        cartStripKey(ownerID, productID),
		Kind:       model.OutboxCartStrip,
		Collection: repository.CartsCollection,
		DocID:      ownerID,
		Payload:    payload,
		LastError:  errString(cause),
	})
}

// EnqueueCascade records a cascade that did not get through every cart.
func (o *Outbox) EnqueueCascade(ctx context.Context, productID string, cause error) error {
	payload, err := json.Marshal(cartStripPayload{ProductID: productID})
	if err != nil {
		return err
	}
	return o.enqueue(ctx, &model.OutboxEntry{
		Key:        cascadeKey(productID),
		Kind:       model.OutboxCascade,
		Collection: repository.CartsCollection,
		Payload:    payload,
		LastError:  errString(cause),
	})
}

func (o *Outbox) enqueue(ctx context.Context, entry *model.OutboxEntry) error {
	entry.ID = ulid.Make().String()
	if err := o.repo.Upsert(ctx, entry); err != nil {
		return err
	}
	logger.Warn("Write queued for retry", map[string]interface{}{
		"key":   entry.Key,
		"kind":  entry.Kind,
		"cause": entry.LastError,
	})
	return nil
}

// Resolve drops the pending item write of a cart after a newer write succeeded.
func (o *Outbox) Resolve(ctx context.Context, ownerID string) error {
	return o.repo.DeleteByKey(ctx, cartItemsKey(ownerID))
}

func (o *Outbox) Pending(ctx context.Context) ([]model.OutboxEntry, error) {
	return o.repo.FindAll(ctx)
}

// Replay retries up to limit pending entries, oldest first.
func (o *Outbox) Replay(ctx context.Context, limit int) (ReplayResult, error) {
	var result ReplayResult

	entries, err := o.repo.FindPending(ctx, limit, o.maxAttempts)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Processed++

		if err := o.apply(ctx, entry); err != nil {
			result.Failed++
			logger.Warn("Outbox replay failed", map[string]interface{}{
				"key":      entry.Key,
				"attempts": entry.Attempts + 1,
				"error":    err.Error(),
			})
			if markErr := o.repo.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
				return result, markErr
			}
			continue
		}

		result.Succeeded++
		if err := o.repo.DeleteByID(ctx, entry.ID); err != nil {
			return result, err
		}
	}

	if result.Processed > 0 {
		logger.Info("Outbox replay finished", map[string]interface{}{
			"processed": result.Processed,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		})
	}
	return result, nil
}

func (o *Outbox) apply(ctx context.Context, entry model.OutboxEntry) error {
	switch entry.Kind {
	case model.OutboxCartItems:
		var p cartItemsPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return cartWriter{carts: o.carts, products: o.products}.Save(ctx, entry.DocID, p.Items)

	case model.OutboxCartStrip:
		var p cartStripPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		_, err := o.carts.StripProduct(ctx, entry.DocID, p.ProductID)
		return err

	case model.OutboxCascade:
		var p cartStripPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return o.cascade(ctx, p.ProductID)
	}
	return fmt.Errorf("unknown outbox kind %q", entry.Kind)
}

// cascade strips productID from every cart holding it. Carts that fail get
// their own strip entry so the scan is not repeated for them.
func (o *Outbox) cascade(ctx context.Context, productID string) error {
	carts, err := o.carts.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("scan carts: %w", err)
	}

	stripped := 0
	for _, cart := range carts {
		if !cart.Contains(productID) {
			continue
		}
		removed, err := o.carts.StripProduct(ctx, cart.OwnerID, productID)
		if err != nil {
			if qerr := o.EnqueueStrip(ctx, cart.OwnerID, productID, err); qerr != nil {
				return qerr
			}
			continue
		}
		if removed {
			stripped++
		}
	}

	logger.Info("Queued cascade replayed", map[string]interface{}{
		"product_id": productID,
		"scanned":    len(carts),
		"stripped":   stripped,
	})
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
