package docstore

import "sync"

// Subscription delivers snapshots of one query until Unsubscribe is called or
// its context ends. A reader that falls behind sees the latest snapshot; it
// never sees an older snapshot after a newer one.
type Subscription struct {
	query Query
	ch    chan Snapshot
	done  chan struct{}
	stop  func()

	mu          sync.Mutex
	closed      bool
	delivered   bool
	lastVersion int64
	lastPrint   string
	once        sync.Once
}

func newSubscription(q Query, stop func()) *Subscription {
	return &Subscription{
		query: q,
		ch:    make(chan Snapshot, 1),
		done:  make(chan struct{}),
		stop:  stop,
	}
}

func (s *Subscription) Query() Query {
	return s.query
}

// C yields snapshots. It is closed after Unsubscribe.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		close(s.ch)
		s.mu.Unlock()
		if s.stop != nil {
			s.stop()
		}
	})
}

// deliver hands a snapshot to the reader, dropping it when it is older than or
// identical to the last delivered one. Only one goroutine may call deliver.
func (s *Subscription) deliver(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.delivered {
		if snap.Version > 0 && snap.Version < s.lastVersion {
			return false
		}
		if snap.fingerprint() == s.lastPrint {
			return false
		}
	}
	s.delivered = true
	if snap.Version > s.lastVersion {
		s.lastVersion = snap.Version
	}
	s.lastPrint = snap.fingerprint()

	select {
	case s.ch <- snap:
		return true
	default:
	}
	// replace the unread snapshot with the newer one
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
	return true
}
