package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/billsync/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.Validate(migrate.Source("migrations")); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestSubscriptionsMigrationEnforcesOneLivePerFamily(t *testing.T) {
	content := readMigration(t, "create_subscriptions")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"ON subscriptions (customer_id, plan_family)",
		"WHERE status <> 'canceled'",
		"last_applied_sequence BIGINT NOT NULL DEFAULT 0",
		"DROP TABLE IF EXISTS subscriptions",
	})
}

func TestInboundEventsMigrationKeysOnProviderEventID(t *testing.T) {
	content := readMigration(t, "create_inbound_events")
	assertContains(t, content, []string{
		"provider_event_id TEXT PRIMARY KEY",
		"outcome TEXT NOT NULL DEFAULT 'pending'",
		"CREATE TABLE IF NOT EXISTS inbound_event_deliveries",
		"DROP TABLE IF EXISTS inbound_events",
	})
}

func TestCheckoutIntentsMigration(t *testing.T) {
	content := readMigration(t, "create_checkout_intents")
	assertContains(t, content, []string{
		"idempotency_key TEXT PRIMARY KEY",
		"CHECK (status IN ('pending', 'completed', 'expired'))",
		"DROP TABLE IF EXISTS checkout_intents",
	})
}

func TestDeadLetterAndTransitionMigration(t *testing.T) {
	content := readMigration(t, "create_dead_letters_and_transitions")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS event_dead_letters",
		"CREATE TABLE IF NOT EXISTS subscription_transitions",
		"ON subscription_transitions (provider_event_id)",
	})
}
