package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ikkim/cartsync/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentRecord is the SQL row behind a document. Deleted documents keep
// their row as a tombstone so versions keep increasing across re-creation.
type DocumentRecord struct {
	Collection string         `gorm:"primaryKey;size:64" json:"collection"`
	ID         string         `gorm:"primaryKey;size:128" json:"id"`
	Version    int64          `gorm:"not null;default:0" json:"version"`
	Data       datatypes.JSON `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (DocumentRecord) TableName() string {
	return "documents"
}

func (r DocumentRecord) toDocument() (Document, error) {
	fields := Fields{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &fields); err != nil {
			return Document{}, fmt.Errorf("decode %s/%s: %w", r.Collection, r.ID, err)
		}
	}
	return Document{
		Collection: r.Collection,
		ID:         r.ID,
		Version:    r.Version,
		Fields:     fields,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// GormStore keeps documents in the documents table and publishes every
// committed change on a Broker.
type GormStore struct {
	db          *gorm.DB
	broker      *Broker
	maxAttempts int
	now         func() time.Time
}

// NewGormStore expects a running broker.
func NewGormStore(db *gorm.DB, broker *Broker, maxAttempts int) *GormStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &GormStore{
		db:          db,
		broker:      broker,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (s *GormStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return rec.toDocument()
}

func (s *GormStore) WriteMerge(ctx context.Context, collection, id string, fields Fields) error {
	return s.mutate(ctx, collection, id, func(cur Document, exists bool) (Fields, bool, error) {
		next := Fields{}
		if exists {
			next = cur.Fields.Clone()
		}
		for k, v := range fields {
			next[k] = v
		}
		return next, false, nil
	})
}

func (s *GormStore) WriteReplace(ctx context.Context, collection, id string, fields Fields) error {
	return s.mutate(ctx, collection, id, func(Document, bool) (Fields, bool, error) {
		return fields.Clone(), false, nil
	})
}

func (s *GormStore) Delete(ctx context.Context, collection, id string) error {
	return s.mutate(ctx, collection, id, func(_ Document, exists bool) (Fields, bool, error) {
		if !exists {
			return nil, false, ErrSkipUpdate
		}
		return nil, true, nil
	})
}

func (s *GormStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	return s.mutate(ctx, collection, id, func(cur Document, exists bool) (Fields, bool, error) {
		next, err := fn(cur, exists)
		return next, false, err
	})
}

func (s *GormStore) ScanAll(ctx context.Context, collection string) ([]Document, error) {
	var recs []DocumentRecord
	if err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(recs))
	for _, rec := range recs {
		doc, err := rec.toDocument()
		if err != nil {
			logger.Warn("Skipping undecodable document", map[string]interface{}{
				"collection": rec.Collection,
				"id":         rec.ID,
				"error":      err.Error(),
			})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Run evaluates the query against the collection. Filters and ordering are
// applied in memory because field values live inside the JSON column.
func (s *GormStore) Run(ctx context.Context, q Query) ([]Document, error) {
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
	docs, err := s.ScanAll(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

func (s *GormStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	lst, err := s.broker.Listen(q.Collection, q.Affects)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(q, cancel)
	go s.watch(subCtx, sub, lst)
	return sub, nil
}

func (s *GormStore) watch(ctx context.Context, sub *Subscription, lst *Listener) {
	defer sub.Unsubscribe()
	defer lst.Close()

	push := func() {
		snap, err := s.snapshot(ctx, sub.Query())
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Failed to read snapshot", map[string]interface{}{
					"query": sub.Query().String(),
					"error": err.Error(),
				})
			}
			return
		}
		sub.deliver(snap)
	}

	push()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lst.C():
			if !ok {
				return
			}
			push()
		}
	}
}

func (s *GormStore) snapshot(ctx context.Context, q Query) (Snapshot, error) {
	snap := Snapshot{Query: q, ReadTime: s.now()}
	if !q.IsDocument() {
		docs, err := s.Run(ctx, q)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Docs = docs
		return snap, nil
	}

	var rec DocumentRecord
	err := s.db.WithContext(ctx).Unscoped().
		Where("collection = ? AND id = ?", q.Collection, q.DocID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		snap.Docs = []Document{}
		return snap, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	snap.Version = rec.Version
	if rec.DeletedAt.Valid {
		snap.Docs = []Document{}
		return snap, nil
	}
	doc, err := rec.toDocument()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Docs = []Document{doc}
	return snap, nil
}

// mutateFunc returns the next body, or del=true to delete.
type mutateFunc func(cur Document, exists bool) (next Fields, del bool, err error)

func (s *GormStore) mutate(ctx context.Context, collection, id string, fn mutateFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		evt, err := s.mutateOnce(ctx, collection, id, fn)
		if errors.Is(err, ErrConflict) {
			logger.Debug("Document write conflict, retrying", map[string]interface{}{
				"collection": collection,
				"id":         id,
				"attempt":    attempt,
			})
			continue
		}
		if errors.Is(err, ErrSkipUpdate) {
			return nil
		}
		if err != nil {
			return err
		}
		s.broker.Publish(*evt)
		return nil
	}
	return fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
}

// mutateOnce commits one optimistic write guarded by the row version.
func (s *GormStore) mutateOnce(ctx context.Context, collection, id string, fn mutateFunc) (*ChangeEvent, error) {
	db := s.db.WithContext(ctx)

	var rec DocumentRecord
	err := db.Unscoped().
		Where("collection = ? AND id = ?", collection, id).
		Take(&rec).Error
	missing := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !missing {
		return nil, err
	}
	exists := !missing && !rec.DeletedAt.Valid

	var cur Document
	if exists {
		if cur, err = rec.toDocument(); err != nil {
			return nil, err
		}
	}

	next, del, err := fn(cur, exists)
	if err != nil {
		return nil, err
	}

	now := s.now()
	evt := &ChangeEvent{Collection: collection, DocID: id, Deleted: del}

	if del {
		res := db.Unscoped().Model(&DocumentRecord{}).
			Where("collection = ? AND id = ? AND version = ?", collection, id, rec.Version).
			Updates(map[string]interface{}{
				"version":    rec.Version + 1,
				"deleted_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrConflict
		}
		evt.Version = rec.Version + 1
		return evt, nil
	}

	if next == nil {
		next = Fields{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	if missing {
		created := DocumentRecord{
			Collection: collection,
			ID:         id,
			Version:    1,
			Data:       datatypes.JSON(data),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := db.Create(&created).Error; err != nil {
			if isDuplicateKey(err) {
				return nil, ErrConflict
			}
			return nil, err
		}
		evt.Version = 1
		return evt, nil
	}

	res := db.Unscoped().Model(&DocumentRecord{}).
		Where("collection = ? AND id = ? AND version = ?", collection, id, rec.Version).
		Updates(map[string]interface{}{
			"version":    rec.Version + 1,
			"data":       datatypes.JSON(data),
			"updated_at": now,
			"deleted_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConflict
	}
	evt.Version = rec.Version + 1
	return evt, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
