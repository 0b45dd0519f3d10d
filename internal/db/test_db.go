package db

import (
	"fmt"
	"log"

	"github.com/ikkim/cartsync/internal/docstore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates a migrated in-memory SQLite database for testing.
func SetupTestDB() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	// every pooled connection would otherwise get its own empty database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get test database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}
	return db, nil
}

// CleanupTestDB closes the test database.
func CleanupTestDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get DB instance: %v", err)
		return
	}
	sqlDB.Close()
}

// TruncateAllTables removes all rows, tombstones included.
func TruncateAllTables(db *gorm.DB) error {
	for _, table := range []string{"documents", "outbox_entries"} {
		if err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			return err
		}
	}
	return nil
}

// SetupTestStore returns a test database with a document store and a running
// change broker. cleanup stops the broker and closes the database.
func SetupTestStore() (conn *gorm.DB, store *docstore.GormStore, cleanup func(), err error) {
	conn, err = SetupTestDB()
	if err != nil {
		return nil, nil, nil, err
	}
	broker := docstore.NewBroker()
	go broker.Run()

	cleanup = func() {
		broker.Stop()
		CleanupTestDB(conn)
	}
	return conn, docstore.NewGormStore(conn, broker, 5), cleanup, nil
}
