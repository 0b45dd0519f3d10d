package service

import (
	"context"
	"errors"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/pkg/logger"
)

// cartWriter stores whole item lists without bringing back deleted products.
type cartWriter struct {
	carts    repository.CartRepository
	products repository.ProductRepository
}

// Save writes items minus the products whose document no longer exists.
func (w cartWriter) Save(ctx context.Context, ownerID string, items []model.CartItem) error {
	if w.products == nil {
		return w.carts.SaveItems(ctx, ownerID, items)
	}

	written, err := w.carts.ReplaceItems(ctx, ownerID, items, w.dropDeletedProducts)
	if err != nil {
		return err
	}

	// a product deleted after the check above may have had its carts
	// scanned before this write landed
	gone, err := w.deletedProducts(ctx, written)
	if err != nil {
		return err
	}
	for _, productID := range gone {
		logger.Warn("Product deleted during cart write, stripping", map[string]interface{}{
			"owner_id":   ownerID,
			"product_id": productID,
		})
		if _, err := w.carts.StripProduct(ctx, ownerID, productID); err != nil {
			return err
		}
	}
	return nil
}

func (w cartWriter) dropDeletedProducts(ctx context.Context, items []model.CartItem) ([]model.CartItem, error) {
	gone, err := w.deletedProducts(ctx, items)
	if err != nil {
		return nil, err
	}
	out := items
	for _, productID := range gone {
		out, _ = model.RemoveProduct(out, productID)
	}
	return out, nil
}

func (w cartWriter) deletedProducts(ctx context.Context, items []model.CartItem) ([]string, error) {
	var gone []string
	for _, item := range items {
		_, err := w.products.FindByID(ctx, item.ProductID)
		if errors.Is(err, docstore.ErrNotFound) {
			gone = append(gone, item.ProductID)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return gone, nil
}
