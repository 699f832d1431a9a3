// Package dbtest opens isolated in-memory SQLite databases carrying the full
// billsync schema for repository and worker tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/pkg/db/models"
)

// Open returns a fresh database migrated with every model. A single pooled
// connection keeps the shared in-memory database alive and serializes writers
// the way row locks would on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:billsync_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// TxRunner adapts a bare connection to the WithTx surface services expect.
type TxRunner struct {
	DB *gorm.DB
}

// WithTx executes fn inside a transaction, rolling back on error.
func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}

// Ping satisfies readiness checks.
func (r TxRunner) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
