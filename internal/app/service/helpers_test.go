package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unavailable")

// flakyStore fails writes to selected documents, or to every document when
// all is set.
type flakyStore struct {
	docstore.Store

	mu     sync.Mutex
	all    bool
	failed map[string]bool
	writes int
}

func (f *flakyStore) check(collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.all || f.failed[collection+"/"+id] {
		return errStoreDown
	}
	return nil
}

func (f *flakyStore) FailAll(on bool) {
	f.mu.Lock()
	f.all = on
	f.mu.Unlock()
}

func (f *flakyStore) FailDoc(collection, id string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[string]bool{}
	}
	f.failed[collection+"/"+id] = on
}

func (f *flakyStore) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *flakyStore) WriteMerge(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := f.check(collection, id); err != nil {
		return err
	}
	return f.Store.WriteMerge(ctx, collection, id, fields)
}

func (f *flakyStore) WriteReplace(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := f.check(collection, id); err != nil {
		return err
	}
	return f.Store.WriteReplace(ctx, collection, id, fields)
}

func (f *flakyStore) Update(ctx context.Context, collection, id string, fn docstore.UpdateFunc) error {
	if err := f.check(collection, id); err != nil {
		return err
	}
	return f.Store.Update(ctx, collection, id, fn)
}

type testEnv struct {
	store      *flakyStore
	carts      repository.CartRepository
	products   repository.ProductRepository
	outboxRepo repository.OutboxRepository
	outbox     *Outbox
}

func setupServiceTest(t *testing.T) *testEnv {
	conn, gormStore, cleanup, err := db.SetupTestStore()
	require.NoError(t, err)
	t.Cleanup(cleanup)

	store := &flakyStore{Store: gormStore}
	carts := repository.NewCartRepository(store)
	products := repository.NewProductRepository(store)
	outboxRepo := repository.NewOutboxRepository(conn)

	return &testEnv{
		store:      store,
		carts:      carts,
		products:   products,
		outboxRepo: outboxRepo,
		outbox:     NewOutbox(outboxRepo, carts, products, 5),
	}
}

func (e *testEnv) createProduct(t *testing.T, id, name, owner string) model.Product {
	p := model.Product{ID: id, Name: name, Description: name + " description", OwnerID: owner}
	require.NoError(t, e.products.Create(context.Background(), &p))
	return p
}

func (e *testEnv) saveCart(t *testing.T, owner string, items ...model.CartItem) {
	require.NoError(t, e.carts.SaveItems(context.Background(), owner, items))
}

func (e *testEnv) storedItems(t *testing.T, owner string) []model.CartItem {
	cart, err := e.carts.FindByOwner(context.Background(), owner)
	require.NoError(t, err)
	return cart.Items
}

func (e *testEnv) openSession(t *testing.T, owner string) *CartSession {
	session, err := OpenCartSession(context.Background(), owner, e.carts, e.products, e.outbox, SessionOptions{
		WriteTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, session.WaitSynced(ctx))
	return session
}

func flush(t *testing.T, session *CartSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, session.Flush(ctx))
}

func item(id, name string, qty int) model.CartItem {
	return model.CartItem{ProductID: id, Name: name, Quantity: qty}
}

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond
