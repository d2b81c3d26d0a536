package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a fresh in-memory SQLite instance. The pool is pinned
// to one connection: each pooled connection would otherwise get its own
// private :memory: database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err, "get underlying sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// newTestStore opens a migrated store against in-memory SQLite.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store := NewGormStore(openTestDB(t))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}
