// Package testutil builds throwaway stores for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"tvcast/internal/database"
	"tvcast/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens a migrated in-memory SQLite database private to the test. A single
// connection is kept open so the database lives as long as the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tvcast_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// SeedUsers inserts the given directory rows, filling in usernames.
func SeedUsers(t testing.TB, db *gorm.DB, users ...models.User) {
	t.Helper()
	for i := range users {
		u := users[i]
		if u.Username == "" {
			u.Username = fmt.Sprintf("user_%d", u.ID)
		}
		require.NoError(t, db.Create(&u).Error)
	}
}

// Token returns a syntactically valid device token unique to id.
func Token(id uint) string {
	return fmt.Sprintf("fcm-token-%04d-abcdefghijklmnopqrstuvwxyz", id)
}
