package repository

import (
	"context"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxRepository interface {
	// Upsert stores entry, replacing any pending entry with the same key.
	Upsert(ctx context.Context, entry *model.OutboxEntry) error
	// FindPending returns entries below maxAttempts, oldest first.
	FindPending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEntry, error)
	FindAll(ctx context.Context) ([]model.OutboxEntry, error)
	// DeleteByID only removes the entry if it was not replaced meanwhile.
	DeleteByID(ctx context.Context, id string) error
	DeleteByKey(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	Count(ctx context.Context) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Upsert(ctx context.Context, entry *model.OutboxEntry) error {
	logger.Debug("Upserting outbox entry", map[string]interface{}{
		"key":  entry.Key,
		"kind": entry.Kind,
	})

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "kind", "collection", "doc_id", "payload", "attempts", "last_error", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		logger.Error("Failed to upsert outbox entry", err, map[string]interface{}{
			"key": entry.Key,
		})
		return err
	}
	return nil
}

func (r *outboxRepository) FindPending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEntry, error) {
	var entries []model.OutboxEntry
	q := r.db.WithContext(ctx).Order("id").Limit(limit)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if err := q.Find(&entries).Error; err != nil {
		logger.Error("Failed to find pending outbox entries", err)
		return nil, err
	}

	logger.Debug("Pending outbox entries found", map[string]interface{}{
		"count": len(entries),
	})
	return entries, nil
}

func (r *outboxRepository) FindAll(ctx context.Context) ([]model.OutboxEntry, error) {
	var entries []model.OutboxEntry
	if err := r.db.WithContext(ctx).Order("id").Find(&entries).Error; err != nil {
		logger.Error("Failed to list outbox entries", err)
		return nil, err
	}
	return entries, nil
}

func (r *outboxRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.OutboxEntry{}).Error; err != nil {
		logger.Error("Failed to delete outbox entry", err, map[string]interface{}{
			"id": id,
		})
		return err
	}
	return nil
}

func (r *outboxRepository) DeleteByKey(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&model.OutboxEntry{})
	if res.Error != nil {
		logger.Error("Failed to delete outbox entry by key", res.Error, map[string]interface{}{
			"key": key,
		})
		return res.Error
	}
	if res.RowsAffected > 0 {
		logger.Debug("Outbox entry resolved", map[string]interface{}{
			"key": key,
		})
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	err := r.db.WithContext(ctx).Model(&model.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		}).Error
	if err != nil {
		logger.Error("Failed to mark outbox entry failed", err, map[string]interface{}{
			"id": id,
		})
		return err
	}
	return nil
}

func (r *outboxRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.OutboxEntry{}).Count(&n).Error
	return n, err
}
