package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"storyline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(filepath.Join(t.TempDir(), "storyline.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	applied, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 {
		t.Fatalf("expected migrations to apply")
	}
	again, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}
	for _, table := range []string{"stories", "story_links", "objectives", "key_results", "objective_statuses", "events", "api_keys"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
