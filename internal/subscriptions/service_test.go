package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/billsync/pkg/db/dbtest"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
)

type stubCustomers struct {
	customers map[string]*models.Customer
}

func (s stubCustomers) FindByID(_ context.Context, id string) (*models.Customer, error) {
	return s.customers[id], nil
}

func TestNewServiceRequiresDeps(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected error without repo")
	}
	if _, err := NewService(ServiceParams{Repo: NewRepository(dbtest.Open(t))}); err == nil {
		t.Fatal("expected error without customer lookup")
	}
}

func TestStatusUnknownCustomer(t *testing.T) {
	svc, err := NewService(ServiceParams{Repo: NewRepository(dbtest.Open(t)), Customers: stubCustomers{}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Status(context.Background(), "nobody")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusPastDueInsideGraceIsEntitled(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	old := liveSub(enums.SubscriptionStatusCanceled, 10)
	old.ProviderSubscriptionID = "sub_old"
	canceledAt := testNow.Add(-48 * time.Hour)
	old.CanceledAt = &canceledAt
	current := liveSub(enums.SubscriptionStatusPastDue, 20)
	graceEnd := testNow.Add(time.Hour)
	current.GracePeriodEndsAt = &graceEnd
	for _, sub := range []*models.Subscription{current, old} {
		if err := repo.Create(ctx, sub); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Customers: stubCustomers{customers: map[string]*models.Customer{"cust-1": {ID: "cust-1"}}},
		Clock:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	view, err := svc.Status(ctx, "cust-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.Entitled || len(view.Subscriptions) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Subscriptions[0].Status != "past_due" || !view.Subscriptions[0].Entitled {
		t.Fatalf("expected live subscription first, got %+v", view.Subscriptions[0])
	}
	if view.Subscriptions[1].Entitled {
		t.Fatal("canceled subscription must not be entitled")
	}
}
