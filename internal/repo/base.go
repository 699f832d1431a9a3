// Package repo holds the gorm plumbing shared by the domain repositories.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Base is embedded by repositories; it binds a connection or transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// WithTx rebinds the base to tx. A nil tx keeps the current connection.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the connection scoped to ctx. A nil ctx yields the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// First loads one row into dest. A missing row reports found=false with no error.
func (b Base) First(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	switch err := b.DB(ctx).Where(query, args...).First(dest).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// UpdateWhere applies updates to model rows matching query and returns the
// number of rows changed. Callers use a zero count to detect a lost race.
func (b Base) UpdateWhere(ctx context.Context, model any, updates map[string]any, query string, args ...any) (int64, error) {
	res := b.DB(ctx).Model(model).Where(query, args...).Updates(updates)
	return res.RowsAffected, res.Error
}
