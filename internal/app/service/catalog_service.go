package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/logger"
)

// ProductInput carries a new product. Image is uploaded when present;
// otherwise ImageURL is stored as given.
type ProductInput struct {
	Name        string
	Description string
	ImageName   string
	ContentType string
	Image       []byte
	ImageURL    string
}

type CatalogService interface {
	CreateProduct(ctx context.Context, ownerID string, input ProductInput) (*model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	// ListProducts returns the owner's products, newest first.
	ListProducts(ctx context.Context, ownerID string) ([]model.Product, error)
	WatchCatalog(ctx context.Context, ownerID string) (*CatalogListener, error)
	// DeleteProduct returns once the product document is deleted. The cascade
	// over carts continues in the background.
	DeleteProduct(ctx context.Context, ownerID, productID string) (*CascadeHandle, error)
}

type catalogService struct {
	products repository.ProductRepository
	assets   storage.AssetStore
	cascade  *CascadeCoordinator
}

func NewCatalogService(products repository.ProductRepository, assets storage.AssetStore, cascade *CascadeCoordinator) CatalogService {
	return &catalogService{
		products: products,
		assets:   assets,
		cascade:  cascade,
	}
}

func (s *catalogService) CreateProduct(ctx context.Context, ownerID string, input ProductInput) (*model.Product, error) {
	if ownerID == "" {
		return nil, ErrMissingIdentity
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if input.Name == "" || input.Description == "" {
		return nil, ErrInvalidProduct
	}

	product := &model.Product{
		Name:        input.Name,
		Description: input.Description,
		ImageURL:    input.ImageURL,
		OwnerID:     ownerID,
	}

	if len(input.Image) > 0 {
		if s.assets == nil {
			return nil, errors.New("asset storage not configured")
		}
		locator, err := s.assets.Put(ctx, ownerID, input.ImageName, input.ContentType, input.Image)
		if err != nil {
			logger.Error("Failed to upload product image", err, map[string]interface{}{
				"owner_id": ownerID,
				"filename": input.ImageName,
			})
			return nil, err
		}
		product.ImageURL = locator
	}

	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}

	logger.Info("Product created", map[string]interface{}{
		"product_id": product.ID,
		"owner_id":   ownerID,
		"has_image":  product.ImageURL != "",
	})
	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	return product, err
}

func (s *catalogService) ListProducts(ctx context.Context, ownerID string) ([]model.Product, error) {
	if ownerID == "" {
		return nil, ErrMissingIdentity
	}
	return s.products.FindByOwner(ctx, ownerID)
}

func (s *catalogService) WatchCatalog(ctx context.Context, ownerID string) (*CatalogListener, error) {
	if ownerID == "" {
		return nil, ErrMissingIdentity
	}
	sub, err := s.products.WatchByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return newCatalogListener(sub), nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, ownerID, productID string) (*CascadeHandle, error) {
	product, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if product.OwnerID != ownerID {
		logger.Warn("Product delete denied", map[string]interface{}{
			"product_id": productID,
			"owner_id":   product.OwnerID,
			"user_id":    ownerID,
		})
		return nil, ErrNotProductOwner
	}

	if product.ImageURL != "" && s.assets != nil {
		if err := s.assets.Delete(ctx, product.ImageURL); err != nil {
			logger.Warn("Failed to delete product image", map[string]interface{}{
				"product_id": productID,
				"image_url":  product.ImageURL,
				"error":      err.Error(),
			})
		}
	}

	if err := s.products.Delete(ctx, productID); err != nil {
		return nil, err
	}

	logger.Info("Product deleted, cascading to carts", map[string]interface{}{
		"product_id": productID,
		"owner_id":   ownerID,
	})
	return s.cascade.Start(ctx, productID), nil
}

// CatalogListener streams an owner's product list, newest first.
type CatalogListener struct {
	sub     *docstore.Subscription
	updates chan []model.Product
	done    chan struct{}
	once    sync.Once
}

func newCatalogListener(sub *docstore.Subscription) *CatalogListener {
	l := &CatalogListener{
		sub:     sub,
		updates: make(chan []model.Product, 1),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Updates yields the latest list; a slow reader skips intermediate lists.
// It is closed after Close.
func (l *CatalogListener) Updates() <-chan []model.Product {
	return l.updates
}

func (l *CatalogListener) run() {
	defer close(l.updates)
	for snap := range l.sub.C() {
		products := repository.DecodeProducts(snap.Docs)
		select {
		case l.updates <- products:
			continue
		default:
		}
		select {
		case <-l.updates:
		default:
		}
		select {
		case l.updates <- products:
		case <-l.done:
			return
		}
	}
}

func (l *CatalogListener) Close() {
	l.once.Do(func() {
		close(l.done)
		l.sub.Unsubscribe()
	})
}
