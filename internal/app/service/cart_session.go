package service

import (
	"context"
	"sync"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/pkg/logger"
)

type CartState int

const (
	// CartUninitialized means no snapshot has arrived yet.
	CartUninitialized CartState = iota
	CartSynced
	// CartPending means local mutations await write acknowledgement.
	CartPending
)

func (s CartState) String() string {
	switch s {
	case CartSynced:
		return "synced"
	case CartPending:
		return "pending"
	default:
		return "uninitialized"
	}
}

type cartOp func(items []model.CartItem) ([]model.CartItem, bool)

type writeJob struct {
	items []model.CartItem
	gen   uint64
}

// CartSession is the live local view of one user's cart. Mutations apply
// immediately and are written in the background; remote snapshots replace the
// local list wholesale.
type CartSession struct {
	ownerID      string
	carts        repository.CartRepository
	writer       cartWriter
	outbox       *Outbox
	sub          *docstore.Subscription
	writeTimeout time.Duration

	mu       sync.Mutex
	state    CartState
	items    []model.CartItem
	deferred []cartOp
	closed   bool
	gen      uint64
	ackedGen uint64
	ackCh    chan struct{}

	synced     chan struct{}
	syncOnce   sync.Once
	updates    chan []model.CartItem
	writeSlot  chan writeJob
	done       chan struct{}
	writerDone chan struct{}
}

type SessionOptions struct {
	WriteTimeout time.Duration
}

// OpenCartSession subscribes to the owner's cart. The session lives until
// Close or until ctx ends. Writes skip products missing from products.
func OpenCartSession(ctx context.Context, ownerID string, carts repository.CartRepository, products repository.ProductRepository, outbox *Outbox, opts SessionOptions) (*CartSession, error) {
	if ownerID == "" {
		return nil, ErrMissingIdentity
	}
	sub, err := carts.Watch(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	s := &CartSession{
		ownerID:      ownerID,
		carts:        carts,
		writer:       cartWriter{carts: carts, products: products},
		outbox:       outbox,
		sub:          sub,
		writeTimeout: opts.WriteTimeout,
		items:        []model.CartItem{},
		ackCh:        make(chan struct{}),
		synced:       make(chan struct{}),
		updates:      make(chan []model.CartItem, 1),
		writeSlot:    make(chan writeJob, 1),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

func (s *CartSession) OwnerID() string {
	return s.ownerID
}

func (s *CartSession) State() CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Items returns a copy of the current local list.
func (s *CartSession) Items() []model.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneItems(s.items)
}

// Updates yields a copy of the list after every change. A slow reader only
// sees the latest list. The channel is closed when the session closes.
func (s *CartSession) Updates() <-chan []model.CartItem {
	return s.updates
}

// Done is closed once the session is closed, by Close or because its
// subscription ended.
func (s *CartSession) Done() <-chan struct{} {
	return s.done
}

func (s *CartSession) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// WaitSynced blocks until the first snapshot has been applied.
func (s *CartSession) WaitSynced(ctx context.Context) error {
	select {
	case <-s.synced:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddItem increments the product's quantity, adding it when absent.
func (s *CartSession) AddItem(product model.Product) ([]model.CartItem, error) {
	return s.mutate(func(items []model.CartItem) ([]model.CartItem, bool) {
		return model.AddProduct(items, product), true
	})
}

// RemoveItem drops the product. Removing an absent product writes nothing.
func (s *CartSession) RemoveItem(productID string) ([]model.CartItem, error) {
	return s.mutate(func(items []model.CartItem) ([]model.CartItem, bool) {
		return model.RemoveProduct(items, productID)
	})
}

func (s *CartSession) mutate(op cartOp) ([]model.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	next, changed := op(s.items)
	if !changed {
		return model.CloneItems(s.items), nil
	}
	s.items = next

	if s.state == CartUninitialized {
		// replayed on top of the first snapshot
		s.deferred = append(s.deferred, op)
	} else {
		s.scheduleWrite()
	}
	s.publish()
	return model.CloneItems(s.items), nil
}

// scheduleWrite replaces any unwritten list with the current one. Callers
// hold s.mu, which makes the slot send non-blocking.
func (s *CartSession) scheduleWrite() {
	s.gen++
	s.state = CartPending
	select {
	case <-s.writeSlot:
	default:
	}
	s.writeSlot <- writeJob{items: model.CloneItems(s.items), gen: s.gen}
}

func (s *CartSession) publish() {
	snapshot := model.CloneItems(s.items)
	select {
	case s.updates <- snapshot:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}

func (s *CartSession) readLoop() {
	for snap := range s.sub.C() {
		s.reconcile(snap)
	}
	// context ended or the listener failed
	if s.shutdown() {
		logger.Warn("Cart subscription ended, session closed", map[string]interface{}{
			"owner_id": s.ownerID,
		})
	}
}

func (s *CartSession) reconcile(snap docstore.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.items = repository.DecodeCartSnapshot(snap)

	if s.state == CartUninitialized {
		s.state = CartSynced
		if len(s.deferred) > 0 {
			changed := false
			for _, op := range s.deferred {
				var c bool
				if s.items, c = op(s.items); c {
					changed = true
				}
			}
			s.deferred = nil
			if changed {
				s.scheduleWrite()
			}
		}
		s.syncOnce.Do(func() { close(s.synced) })
	}
	s.publish()
}

func (s *CartSession) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case job := <-s.writeSlot:
			s.flush(job)
		case <-s.done:
			// writes already issued still complete
			select {
			case job := <-s.writeSlot:
				s.flush(job)
			default:
			}
			return
		}
	}
}

func (s *CartSession) flush(job writeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	err := s.writer.Save(ctx, s.ownerID, job.items)
	if err != nil {
		logger.Warn("Cart write failed, keeping local state", map[string]interface{}{
			"owner_id": s.ownerID,
			"items":    len(job.items),
			"error":    err.Error(),
		})
		if s.outbox != nil {
			if qerr := s.outbox.EnqueueItems(ctx, s.ownerID, job.items, err); qerr != nil {
				logger.Error("Failed to queue cart write", qerr, map[string]interface{}{
					"owner_id": s.ownerID,
				})
			}
		}
	} else if s.outbox != nil {
		if rerr := s.outbox.Resolve(ctx, s.ownerID); rerr != nil {
			logger.Warn("Failed to resolve queued cart write", map[string]interface{}{
				"owner_id": s.ownerID,
				"error":    rerr.Error(),
			})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job.gen > s.ackedGen {
		s.ackedGen = job.gen
	}
	if err == nil && !s.closed && job.gen == s.gen {
		s.state = CartSynced
	}
	close(s.ackCh)
	s.ackCh = make(chan struct{})
}

// Flush waits until every mutation made so far has been written or queued.
func (s *CartSession) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.ackedGen >= s.gen {
			s.mu.Unlock()
			return nil
		}
		ch := s.ackCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-s.writerDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops local updates and unsubscribes. A write already scheduled is
// still sent.
func (s *CartSession) Close() {
	s.shutdown()
}

// shutdown reports whether this call closed the session.
func (s *CartSession) shutdown() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.deferred = nil
	close(s.done)
	close(s.updates)
	s.mu.Unlock()

	s.sub.Unsubscribe()
	return true
}
