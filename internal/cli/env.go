package cli

import (
	"context"

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/platform"
)

// Env is what commands operate on.
type Env struct {
	Config  *config.Config
	Outbox  *service.Outbox
	Cascade *service.CascadeCoordinator
	close   func()
}

func (e *Env) Close() {
	if e.close != nil {
		e.close()
	}
}

// NewEnv wires an Env from repositories; closer runs on Env.Close.
func NewEnv(cfg *config.Config, carts repository.CartRepository, products repository.ProductRepository, outbox repository.OutboxRepository, closer func()) *Env {
	box := service.NewOutbox(outbox, carts, products, cfg.Outbox.MaxAttempts)
	return &Env{
		Config:  cfg,
		Outbox:  box,
		Cascade: service.NewCascadeCoordinator(carts, box, cfg.Cascade.Concurrency),
		close:   closer,
	}
}

type EnvLoader func(ctx context.Context) (*Env, error)

// LoadEnv opens the configured database and document store.
func LoadEnv(ctx context.Context) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(&cfg.Database); err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	stores, err := platform.BuildStore(ctx, cfg, db.GetDB())
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewEnv(cfg,
		repository.NewCartRepository(stores.Store),
		repository.NewProductRepository(stores.Store),
		repository.NewOutboxRepository(db.GetDB()),
		func() {
			stores.Close()
			_ = db.Close()
		},
	), nil
}
