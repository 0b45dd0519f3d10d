package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/pkg/logger"
)

const (
	CartsCollection = "carts"

	fieldItems     = "items"
	fieldUpdatedAt = "updatedAt"
	fieldItemID    = "id"
	fieldItemName  = "name"
	fieldItemQty   = "quantity"
)

type CartRepository interface {
	// FindByOwner returns an empty cart when none was stored yet.
	FindByOwner(ctx context.Context, ownerID string) (*model.CartDocument, error)
	FindAll(ctx context.Context) ([]model.CartDocument, error)
	// SaveItems merge-writes the full item list.
	SaveItems(ctx context.Context, ownerID string, items []model.CartItem) error
	// ReplaceItems writes the list with a compare-and-swap update after
	// passing it through keep, and returns the list actually stored. keep
	// runs again on every retry.
	ReplaceItems(ctx context.Context, ownerID string, items []model.CartItem, keep ItemFilter) ([]model.CartItem, error)
	// StripProduct removes productID with a compare-and-swap update. removed
	// is false when the cart did not contain it.
	StripProduct(ctx context.Context, ownerID, productID string) (removed bool, err error)
	Watch(ctx context.Context, ownerID string) (*docstore.Subscription, error)
}

// ItemFilter narrows a list right before it is stored.
type ItemFilter func(ctx context.Context, items []model.CartItem) ([]model.CartItem, error)

type cartRepository struct {
	store docstore.Store
	now   func() time.Time
}

func NewCartRepository(store docstore.Store) CartRepository {
	return &cartRepository{store: store, now: time.Now}
}

func (r *cartRepository) FindByOwner(ctx context.Context, ownerID string) (*model.CartDocument, error) {
	logger.Debug("Finding cart by owner", map[string]interface{}{
		"owner_id": ownerID,
	})

	doc, err := r.store.Get(ctx, CartsCollection, ownerID)
	if errors.Is(err, docstore.ErrNotFound) {
		return &model.CartDocument{OwnerID: ownerID, Items: []model.CartItem{}}, nil
	}
	if err != nil {
		logger.Error("Failed to find cart by owner", err, map[string]interface{}{
			"owner_id": ownerID,
		})
		return nil, err
	}

	cart := DecodeCart(doc)
	return &cart, nil
}

func (r *cartRepository) FindAll(ctx context.Context) ([]model.CartDocument, error) {
	logger.Debug("Scanning all carts")

	docs, err := r.store.ScanAll(ctx, CartsCollection)
	if err != nil {
		logger.Error("Failed to scan carts", err)
		return nil, err
	}

	carts := make([]model.CartDocument, 0, len(docs))
	for _, doc := range docs {
		carts = append(carts, DecodeCart(doc))
	}

	logger.Debug("Carts scanned", map[string]interface{}{
		"count": len(carts),
	})
	return carts, nil
}

func (r *cartRepository) SaveItems(ctx context.Context, ownerID string, items []model.CartItem) error {
	logger.Debug("Saving cart items", map[string]interface{}{
		"owner_id": ownerID,
		"count":    len(items),
	})

	err := r.store.WriteMerge(ctx, CartsCollection, ownerID, docstore.Fields{
		fieldItems:     EncodeItems(items),
		fieldUpdatedAt: r.now().UTC(),
	})
	if err != nil {
		logger.Error("Failed to save cart items", err, map[string]interface{}{
			"owner_id": ownerID,
		})
		return err
	}
	return nil
}

func (r *cartRepository) ReplaceItems(ctx context.Context, ownerID string, items []model.CartItem, keep ItemFilter) ([]model.CartItem, error) {
	logger.Debug("Replacing cart items", map[string]interface{}{
		"owner_id": ownerID,
		"count":    len(items),
	})

	var written []model.CartItem
	err := r.store.Update(ctx, CartsCollection, ownerID, func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		written = model.CloneItems(items)
		if keep != nil {
			kept, err := keep(ctx, written)
			if err != nil {
				return nil, err
			}
			written = kept
		}

		next := docstore.Fields{}
		if exists {
			next = cur.Fields.Clone()
		}
		next[fieldItems] = EncodeItems(written)
		next[fieldUpdatedAt] = r.now().UTC()
		return next, nil
	})
	if err != nil {
		logger.Error("Failed to replace cart items", err, map[string]interface{}{
			"owner_id": ownerID,
		})
		return nil, err
	}
	return written, nil
}

func (r *cartRepository) StripProduct(ctx context.Context, ownerID, productID string) (bool, error) {
	removed := false
	err := r.store.Update(ctx, CartsCollection, ownerID, func(cur docstore.Document, exists bool) (docstore.Fields, error) {
		removed = false
		if !exists {
			return nil, docstore.ErrSkipUpdate
		}
		items, ok := model.RemoveProduct(DecodeItems(cur.Fields[fieldItems]), productID)
		if !ok {
			return nil, docstore.ErrSkipUpdate
		}
		removed = true

		next := cur.Fields.Clone()
		next[fieldItems] = EncodeItems(items)
		next[fieldUpdatedAt] = r.now().UTC()
		return next, nil
	})
	if err != nil {
		logger.Error("Failed to strip product from cart", err, map[string]interface{}{
			"owner_id":   ownerID,
			"product_id": productID,
		})
		return false, err
	}

	logger.Debug("Cart strip finished", map[string]interface{}{
		"owner_id":   ownerID,
		"product_id": productID,
		"removed":    removed,
	})
	return removed, nil
}

func (r *cartRepository) Watch(ctx context.Context, ownerID string) (*docstore.Subscription, error) {
	return r.store.Subscribe(ctx, docstore.DocQuery(CartsCollection, ownerID))
}

// DecodeCart never fails: malformed items are dropped.
func DecodeCart(doc docstore.Document) model.CartDocument {
	cart := model.CartDocument{
		OwnerID:   doc.ID,
		Items:     DecodeItems(doc.Fields[fieldItems]),
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}
	if t, ok := asTime(doc.Fields[fieldUpdatedAt]); ok {
		cart.UpdatedAt = t
	}
	return cart
}

// DecodeCartSnapshot returns the items of a cart snapshot, empty when the
// document does not exist.
func DecodeCartSnapshot(snap docstore.Snapshot) []model.CartItem {
	doc, ok := snap.Doc()
	if !ok {
		return []model.CartItem{}
	}
	return DecodeItems(doc.Fields[fieldItems])
}

// DecodeItems reads a stored item list. A value that is not a list yields no
// items; entries without an id or with a quantity below one are dropped, and
// repeated ids are folded into the first occurrence.
func DecodeItems(raw interface{}) []model.CartItem {
	items := []model.CartItem{}
	list, ok := raw.([]interface{})
	if !ok {
		return items
	}

	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		id := asString(m[fieldItemID])
		qty, ok := asInt(m[fieldItemQty])
		if id == "" || !ok || qty < 1 {
			continue
		}
		if i := model.IndexOf(items, id); i >= 0 {
			items[i].Quantity += qty
			continue
		}
		items = append(items, model.CartItem{
			ProductID: id,
			Name:      asString(m[fieldItemName]),
			Quantity:  qty,
		})
	}
	return items
}

// EncodeItems produces the stored list layout.
func EncodeItems(items []model.CartItem) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]interface{}{
			fieldItemID:   item.ProductID,
			fieldItemName: item.Name,
			fieldItemQty:  item.Quantity,
		})
	}
	return out
}
