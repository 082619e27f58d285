// Package dbtest opens throwaway SQLite databases for package tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/zllovesuki/stylo/db"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New returns a gorm handle backed by a SQLite file in the test's temp dir
func New(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
	gdb, err := db.Open(sqlite.Open(dsn), zap.NewNop())
	require.NoError(t, err)
	pool, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
	})
	return gdb
}
