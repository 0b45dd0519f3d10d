package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/pkg/logger"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrNotProductOwner = errors.New("product belongs to another user")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrSessionClosed   = errors.New("cart session closed")
	ErrMissingIdentity = errors.New("missing user identity")
	ErrCartSyncTimeout = errors.New("cart did not sync in time")
)

type CartService interface {
	// ObserveCart opens a dedicated session; the caller must Close it.
	ObserveCart(ctx context.Context, userID string) (*CartSession, error)
	GetCart(ctx context.Context, userID string) (*model.CartDocument, error)
	// AddToCart returns the list after the optimistic add.
	AddToCart(ctx context.Context, userID, productID string) ([]model.CartItem, error)
	// RemoveFromCart returns the list after the optimistic removal.
	RemoveFromCart(ctx context.Context, userID, productID string) ([]model.CartItem, error)
	// Shutdown flushes and closes every shared session.
	Shutdown(ctx context.Context)
}

type CartServiceConfig struct {
	SyncTimeout  time.Duration
	WriteTimeout time.Duration
}

type sharedSession struct {
	session *CartSession
	refs    int
}

type cartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	outbox   *Outbox
	cfg      CartServiceConfig

	mu       sync.Mutex
	sessions map[string]*sharedSession
	// lifetime of shared sessions, independent of request contexts
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewCartService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	outbox *Outbox,
	cfg CartServiceConfig,
) CartService {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &cartService{
		carts:    carts,
		products: products,
		outbox:   outbox,
		cfg:      cfg,
		sessions: make(map[string]*sharedSession),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

func (s *cartService) ObserveCart(ctx context.Context, userID string) (*CartSession, error) {
	session, err := OpenCartSession(ctx, userID, s.carts, s.products, s.outbox, SessionOptions{
		WriteTimeout: s.cfg.WriteTimeout,
	})
	if err != nil {
		logger.Error("Failed to open cart session", err, map[string]interface{}{
			"user_id": userID,
		})
		return nil, err
	}
	return session, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (*model.CartDocument, error) {
	if userID == "" {
		return nil, ErrMissingIdentity
	}

	// a live shared session has the freshest local view
	s.mu.Lock()
	shared, ok := s.sessions[userID]
	s.mu.Unlock()
	if ok && !shared.session.isClosed() && shared.session.State() != CartUninitialized {
		return &model.CartDocument{OwnerID: userID, Items: shared.session.Items()}, nil
	}

	cart, err := s.carts.FindByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	logger.Debug("Cart fetched", map[string]interface{}{
		"user_id": userID,
		"items":   len(cart.Items),
	})
	return cart, nil
}

func (s *cartService) AddToCart(ctx context.Context, userID, productID string) ([]model.CartItem, error) {
	product, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, docstore.ErrNotFound) {
		logger.Warn("Add to cart for unknown product", map[string]interface{}{
			"user_id":    userID,
			"product_id": productID,
		})
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := s.withSession(ctx, userID, func(session *CartSession) ([]model.CartItem, error) {
		return session.AddItem(*product)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Product added to cart", map[string]interface{}{
		"user_id":    userID,
		"product_id": productID,
		"items":      len(items),
	})
	return items, nil
}

func (s *cartService) RemoveFromCart(ctx context.Context, userID, productID string) ([]model.CartItem, error) {
	items, err := s.withSession(ctx, userID, func(session *CartSession) ([]model.CartItem, error) {
		return session.RemoveItem(productID)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Product removed from cart", map[string]interface{}{
		"user_id":    userID,
		"product_id": productID,
		"items":      len(items),
	})
	return items, nil
}

// withSession runs fn on the user's shared session once it has synced.
func (s *cartService) withSession(ctx context.Context, userID string, fn func(*CartSession) ([]model.CartItem, error)) ([]model.CartItem, error) {
	shared, err := s.acquire(userID)
	if err != nil {
		return nil, err
	}
	defer s.release(userID, shared)
	session := shared.session

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()
	if err := session.WaitSynced(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrCartSyncTimeout
		}
		return nil, err
	}
	return fn(session)
}

func (s *cartService) acquire(userID string) (*sharedSession, error) {
	if userID == "" {
		return nil, ErrMissingIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if shared, ok := s.sessions[userID]; ok {
		if !shared.session.isClosed() {
			shared.refs++
			return shared, nil
		}
		// subscription ended; later releases of the old entry are no-ops
		delete(s.sessions, userID)
	}
	session, err := OpenCartSession(s.baseCtx, userID, s.carts, s.products, s.outbox, SessionOptions{
		WriteTimeout: s.cfg.WriteTimeout,
	})
	if err != nil {
		return nil, err
	}
	shared := &sharedSession{session: session, refs: 1}
	s.sessions[userID] = shared
	return shared, nil
}

// release drops a reference. The last reference flushes pending writes
// before closing, and a request arriving meanwhile reuses the open session.
func (s *cartService) release(userID string, shared *sharedSession) {
	s.mu.Lock()
	shared.refs--
	if shared.refs > 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout())
		defer cancel()
		if err := shared.session.Flush(ctx); err != nil {
			logger.Warn("Cart session flush timed out", map[string]interface{}{
				"user_id": userID,
			})
		}

		s.mu.Lock()
		if cur, ok := s.sessions[userID]; ok && cur == shared && cur.refs == 0 {
			delete(s.sessions, userID)
			s.mu.Unlock()
			shared.session.Close()
			return
		}
		s.mu.Unlock()
	}()
}

func (s *cartService) flushTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return 2 * s.cfg.WriteTimeout
	}
	return 20 * time.Second
}

func (s *cartService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*CartSession, 0, len(s.sessions))
	for id, shared := range s.sessions {
		sessions = append(sessions, shared.session)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.Flush(ctx); err != nil {
			logger.Warn("Cart session not flushed before shutdown", map[string]interface{}{
				"user_id": session.OwnerID(),
			})
		}
		session.Close()
	}
	s.cancel()
}
