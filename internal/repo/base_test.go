package repo

import (
	"context"
	"testing"

	"github.com/angelmondragon/billsync/pkg/db/dbtest"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"gorm.io/gorm"
)

func TestBaseDB_BindsContext(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)

	if withCtx == nil {
		t.Fatalf("expected non-nil DB when context provided")
	}
	if withCtx.Statement == nil {
		t.Fatalf("expected statement created after WithContext")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}

	withoutCtx := base.DB(nil)
	if withoutCtx != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseWithTxKeepsConnectionOnNil(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)
	if base.WithTx(nil).db != db {
		t.Fatal("nil tx should keep the base connection")
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if base.WithTx(tx).db != tx {
			t.Fatal("expected tx-bound base")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestBaseFirstReportsMissingRows(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)
	ctx := context.Background()

	var customer models.Customer
	found, err := base.First(ctx, &customer, "id = ?", "missing")
	if err != nil || found {
		t.Fatalf("expected not found without error, found=%v err=%v", found, err)
	}

	if err := db.Create(&models.Customer{ID: "42", ProviderCustomerID: "cus_42"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	found, err = base.First(ctx, &customer, "provider_customer_id = ?", "cus_42")
	if err != nil || !found || customer.ID != "42" {
		t.Fatalf("expected customer 42, found=%v err=%v got=%+v", found, err, customer)
	}
}

func TestBaseUpdateWhereCountsRows(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)
	ctx := context.Background()
	if err := db.Create(&models.Customer{ID: "7", ProviderCustomerID: "cus_7"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := base.UpdateWhere(ctx, &models.Customer{}, map[string]any{"email": "a@example.com"}, "id = ?", "7")
	if err != nil || n != 1 {
		t.Fatalf("expected one row updated, n=%d err=%v", n, err)
	}
	n, err = base.UpdateWhere(ctx, &models.Customer{}, map[string]any{"email": "b@example.com"}, "id = ?", "missing")
	if err != nil || n != 0 {
		t.Fatalf("expected zero rows for missing id, n=%d err=%v", n, err)
	}
}
