package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	path, err := CreateSQLMigration(dir, "Add Grace Index!", now)
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if filepath.Base(path) != "20261001083000_add_grace_index.sql" {
		t.Fatalf("unexpected filename %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "-- rollback add_grace_index") {
		t.Fatalf("template missing rollback marker: %s", data)
	}
	if err := Validate(os.DirFS(dir)); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "add grace index", now); err == nil {
		t.Fatal("expected existing migration to be refused")
	}
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	if _, err := CreateSQLMigration(t.TempDir(), "!!!", time.Now()); err == nil {
		t.Fatal("expected error for empty sanitized name")
	}
}

func TestValidateRejectsBadMigrations(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"down first": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")},
		},
		"unbalanced statement": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Validate(fsys); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := Validate(Embedded()); err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
}
