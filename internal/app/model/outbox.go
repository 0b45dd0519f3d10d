package model

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxKind string

const (
	// OutboxCartItems holds the full item list of a failed cart write.
	OutboxCartItems OutboxKind = "cart_items"
	// OutboxCartStrip holds a product id still to be stripped from a cart.
	OutboxCartStrip OutboxKind = "cart_strip"
	// OutboxCascade holds a product id still to be stripped from every cart.
	OutboxCascade OutboxKind = "cascade"
)

// OutboxEntry is a document write waiting to be retried. Key is unique per
// pending write so a newer failure replaces an older one.
type OutboxEntry struct {
	ID         string         `gorm:"primaryKey;size:26" json:"id"`
	Key        string         `gorm:"column:entry_key;uniqueIndex;size:255;not null" json:"key"`
	Kind       OutboxKind     `gorm:"type:varchar(32);not null" json:"kind"`
	Collection string         `gorm:"size:64;not null" json:"collection"`
	DocID      string         `gorm:"size:128;not null;index" json:"doc_id"`
	Payload    datatypes.JSON `json:"payload"`
	Attempts   int            `gorm:"not null;default:0" json:"attempts"`
	LastError  string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (OutboxEntry) TableName() string {
	return "outbox_entries"
}
