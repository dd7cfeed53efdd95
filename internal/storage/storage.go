// Package storage is the gorm-backed store for guests, the notification
// ledger and the automation queue. All state transitions that the
// scheduler and the webhook path race on are expressed as conditional
// or upsert writes so concurrent writers cannot interleave into an
// invalid state.
package storage

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wedding-notify/internal/models"
)

type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens the sqlite database at path and runs migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := New(db, log)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm connection. Used by tests with an
// in-memory database.
func New(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "storage").Logger()}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&models.Event{},
		&models.Guest{},
		&models.Rsvp{},
		&models.NotificationLog{},
		&models.ButtonResponse{},
		&models.AutomationFlow{},
		&models.AutomationFlowExecution{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
