package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/ikkim/cartsync/pkg/logger"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore talks to Cloud Firestore. Document versions are the
// document update times in nanoseconds.
type FirestoreStore struct {
	client      *firestore.Client
	maxAttempts int
}

// NewFirestoreClient opens a client, using a credentials file when one is given.
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return client, nil
}

func NewFirestoreStore(client *firestore.Client, maxAttempts int) *FirestoreStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &FirestoreStore{client: client, maxAttempts: maxAttempts}
}

func (s *FirestoreStore) doc(collection, id string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(id)
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := s.doc(collection, id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return fromFirestore(snap), nil
}

func (s *FirestoreStore) WriteMerge(ctx context.Context, collection, id string, fields Fields) error {
	_, err := s.doc(collection, id).Set(ctx, map[string]interface{}(fields), firestore.MergeAll)
	return err
}

func (s *FirestoreStore) WriteReplace(ctx context.Context, collection, id string, fields Fields) error {
	_, err := s.doc(collection, id).Set(ctx, map[string]interface{}(fields))
	return err
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.doc(collection, id).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) ScanAll(ctx context.Context, collection string) ([]Document, error) {
	return collect(s.client.Collection(collection).Documents(ctx))
}

func (s *FirestoreStore) Run(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.IsDocument() {
		doc, err := s.Get(ctx, q.Collection, q.DocID)
		if errors.Is(err, ErrNotFound) {
			return []Document{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []Document{doc}, nil
	}
	return collect(s.query(q).Documents(ctx))
}

func (s *FirestoreStore) query(q Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Where {
		fq = fq.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	return fq
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	ref := s.doc(collection, id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var cur Document
		snap, err := tx.Get(ref)
		exists := err == nil && snap.Exists()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if exists {
			cur = fromFirestore(snap)
		}

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}
		return tx.Set(ref, map[string]interface{}(next))
	}, firestore.MaxAttempts(s.maxAttempts))

	switch {
	case errors.Is(err, ErrSkipUpdate):
		return nil
	case status.Code(err) == codes.Aborted:
		return fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	return err
}

func (s *FirestoreStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(q, cancel)
	if q.IsDocument() {
		go s.watchDocument(subCtx, sub)
	} else {
		go s.watchQuery(subCtx, sub)
	}
	return sub, nil
}

func (s *FirestoreStore) watchDocument(ctx context.Context, sub *Subscription) {
	defer sub.Unsubscribe()
	q := sub.Query()
	it := s.doc(q.Collection, q.DocID).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			logWatchEnd(ctx, q, err)
			return
		}
		out := Snapshot{Query: q, Docs: []Document{}, ReadTime: snap.ReadTime}
		if snap.Exists() {
			doc := fromFirestore(snap)
			out.Docs = []Document{doc}
			out.Version = doc.Version
		}
		sub.deliver(out)
	}
}

func (s *FirestoreStore) watchQuery(ctx context.Context, sub *Subscription) {
	defer sub.Unsubscribe()
	q := sub.Query()
	it := s.query(q).Snapshots(ctx)
	defer it.Stop()

	for {
		qs, err := it.Next()
		if err != nil {
			logWatchEnd(ctx, q, err)
			return
		}
		docs, err := collect(qs.Documents)
		if err != nil {
			logWatchEnd(ctx, q, err)
			return
		}
		sub.deliver(Snapshot{Query: q, Docs: docs, ReadTime: qs.ReadTime})
	}
}

func logWatchEnd(ctx context.Context, q Query, err error) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled {
		return
	}
	logger.Error("Firestore listener stopped", err, map[string]interface{}{
		"query": q.String(),
	})
}

func collect(it *firestore.DocumentIterator) ([]Document, error) {
	defer it.Stop()
	docs := []Document{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, fromFirestore(snap))
	}
}

func fromFirestore(snap *firestore.DocumentSnapshot) Document {
	doc := Document{
		ID:        snap.Ref.ID,
		Fields:    Fields(snap.Data()),
		UpdatedAt: snap.UpdateTime,
		Version:   versionOf(snap.UpdateTime),
	}
	if snap.Ref.Parent != nil {
		doc.Collection = snap.Ref.Parent.ID
	}
	return doc
}

func versionOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
