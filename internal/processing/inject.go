package processing

import (
	"context"
	"fmt"

	"github.com/angelmondragon/billsync/pkg/db/models"
)

// Inject ledgers a synthetic event and applies it through the normal claim
// path. Injecting an id that already exists applies nothing new.
func (a *Applier) Inject(ctx context.Context, event *models.InboundEvent) (Outcome, error) {
	appendCtx, cancel := context.WithTimeout(ctx, a.storageTimeout)
	inserted, err := a.store.Append(appendCtx, event)
	cancel()
	if err != nil {
		return "", fmt.Errorf("inject %s: %w", event.ProviderEventID, err)
	}
	if !inserted {
		a.logg.Info(a.logg.WithEventID(ctx, event.ProviderEventID), "synthetic event already ledgered")
	}
	return a.Process(ctx, event.ProviderEventID)
}
