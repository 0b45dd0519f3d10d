package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/pkg/logger"
)

const (
	ProductsCollection = "products"

	fieldName        = "name"
	fieldDescription = "description"
	fieldImageURL    = "imageUrl"
	fieldOwner       = "uid"
	fieldCreatedAt   = "createdAt"
)

type ProductRepository interface {
	// Create assigns a new id and creation time when they are empty.
	Create(ctx context.Context, product *model.Product) error
	// FindByID returns docstore.ErrNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*model.Product, error)
	// FindByOwner lists the owner's products, newest first.
	FindByOwner(ctx context.Context, ownerID string) ([]model.Product, error)
	Delete(ctx context.Context, id string) error
	WatchByOwner(ctx context.Context, ownerID string) (*docstore.Subscription, error)
}

type productRepository struct {
	store docstore.Store
	now   func() time.Time
}

func NewProductRepository(store docstore.Store) ProductRepository {
	return &productRepository{store: store, now: time.Now}
}

// OwnerQuery selects one owner's products, newest first.
func OwnerQuery(ownerID string) docstore.Query {
	return docstore.Query{
		Collection: ProductsCollection,
		Where:      []docstore.Filter{{Field: fieldOwner, Value: ownerID}},
		OrderBy:    fieldCreatedAt,
		Descending: true,
	}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = r.now().UTC()
	}

	logger.Debug("Creating product", map[string]interface{}{
		"product_id": product.ID,
		"owner_id":   product.OwnerID,
	})

	if err := r.store.WriteReplace(ctx, ProductsCollection, product.ID, EncodeProduct(*product)); err != nil {
		logger.Error("Failed to create product", err, map[string]interface{}{
			"product_id": product.ID,
		})
		return err
	}
	return nil
}

func (r *productRepository) FindByID(ctx context.Context, id string) (*model.Product, error) {
	logger.Debug("Finding product by ID", map[string]interface{}{
		"product_id": id,
	})

	doc, err := r.store.Get(ctx, ProductsCollection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		logger.Error("Failed to find product by ID", err, map[string]interface{}{
			"product_id": id,
		})
		return nil, err
	}

	product := DecodeProduct(doc)
	return &product, nil
}

func (r *productRepository) FindByOwner(ctx context.Context, ownerID string) ([]model.Product, error) {
	logger.Debug("Finding products by owner", map[string]interface{}{
		"owner_id": ownerID,
	})

	docs, err := r.store.Run(ctx, OwnerQuery(ownerID))
	if err != nil {
		logger.Error("Failed to find products by owner", err, map[string]interface{}{
			"owner_id": ownerID,
		})
		return nil, err
	}
	return DecodeProducts(docs), nil
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	logger.Debug("Deleting product", map[string]interface{}{
		"product_id": id,
	})

	if err := r.store.Delete(ctx, ProductsCollection, id); err != nil {
		logger.Error("Failed to delete product", err, map[string]interface{}{
			"product_id": id,
		})
		return err
	}
	return nil
}

func (r *productRepository) WatchByOwner(ctx context.Context, ownerID string) (*docstore.Subscription, error) {
	return r.store.Subscribe(ctx, OwnerQuery(ownerID))
}

func EncodeProduct(p model.Product) docstore.Fields {
	fields := docstore.Fields{
		fieldName:        p.Name,
		fieldDescription: p.Description,
		fieldOwner:       p.OwnerID,
		fieldCreatedAt:   p.CreatedAt.UTC(),
	}
	if p.ImageURL != "" {
		fields[fieldImageURL] = p.ImageURL
	}
	return fields
}

func DecodeProduct(doc docstore.Document) model.Product {
	p := model.Product{
		ID:          doc.ID,
		Name:        asString(doc.Fields[fieldName]),
		Description: asString(doc.Fields[fieldDescription]),
		ImageURL:    asString(doc.Fields[fieldImageURL]),
		OwnerID:     asString(doc.Fields[fieldOwner]),
	}
	if t, ok := asTime(doc.Fields[fieldCreatedAt]); ok {
		p.CreatedAt = t
	}
	return p
}

func DecodeProducts(docs []docstore.Document) []model.Product {
	products := make([]model.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, DecodeProduct(doc))
	}
	return products
}
