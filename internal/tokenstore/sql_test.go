package tokenstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "tokens.db"), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put get round trip", func(t *testing.T) {
		store := openTestSQLite(t)

		id, created, err := store.Put(ctx, "sess-1", "NAMES", "John Smith")
		if err != nil {
			t.Fatal(err)
		}
		if !created {
			t.Error("first put should create")
		}

		_, created, err = store.Put(ctx, "sess-1", "NAMES", "john smith")
		if err != nil {
			t.Fatal(err)
		}
		if created {
			t.Error("duplicate put should reuse the live row")
		}

		got, category, err := store.Get(ctx, "sess-1", id)
		if err != nil {
			t.Fatal(err)
		}
		if got != "John Smith" {
			t.Errorf("got %q, want first stored surface form", got)
		}
		if category != "NAMES" {
			t.Errorf("stored category = %q, want NAMES", category)
		}
	})

	t.Run("missing mapping", func(t *testing.T) {
		store := openTestSQLite(t)
		if _, _, err := store.Get(ctx, "sess-1", "0000000000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("expired mapping reported and swept", func(t *testing.T) {
		store := openTestSQLite(t)
		id, _, err := store.Put(ctx, "sess-1", "NAMES", "John Smith")
		if err != nil {
			t.Fatal(err)
		}

		// Age the row directly; TTLs are wall-clock seconds.
		past := time.Now().UTC().Add(-time.Hour).Unix()
		if _, err := store.db.Exec(store.db.Rebind(
			`UPDATE token_mappings SET expires_at = ? WHERE token_id = ?`), past, id); err != nil {
			t.Fatal(err)
		}

		if _, _, err := store.Get(ctx, "sess-1", id); !errors.Is(err, ErrExpired) {
			t.Fatalf("error = %v, want ErrExpired", err)
		}

		// Expired rows stay until the sweeper collects them.
		removed, err := store.Sweep(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if removed != 1 {
			t.Errorf("swept = %d, want 1", removed)
		}
		if _, _, err := store.Get(ctx, "sess-1", id); !errors.Is(err, ErrNotFound) {
			t.Errorf("post-sweep error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put recreates an expired mapping", func(t *testing.T) {
		store := openTestSQLite(t)
		id, _, err := store.Put(ctx, "sess-1", "NAMES", "John Smith")
		if err != nil {
			t.Fatal(err)
		}

		// Age the row past its TTL without sweeping it.
		past := time.Now().UTC().Add(-time.Hour).Unix()
		if _, err := store.db.Exec(store.db.Rebind(
			`UPDATE token_mappings SET expires_at = ? WHERE token_id = ?`), past, id); err != nil {
			t.Fatal(err)
		}

		// Re-tokenizing the same value must replace the stale row with a
		// mapping that can be read back immediately.
		id2, created, err := store.Put(ctx, "sess-1", "NAMES", "John Smith")
		if err != nil {
			t.Fatal(err)
		}
		if !created {
			t.Error("put after expiry should create, not hit the stale row")
		}
		if id2 != id {
			t.Errorf("ids differ across recreate: %s vs %s", id2, id)
		}
		if got, _, err := store.Get(ctx, "sess-1", id2); err != nil || got != "John Smith" {
			t.Errorf("get after recreate = %q, %v; want original back", got, err)
		}
	})

	t.Run("delete session", func(t *testing.T) {
		store := openTestSQLite(t)
		store.Put(ctx, "sess-1", "NAMES", "John Smith")
		store.Put(ctx, "sess-1", "BRAND", "Acme Corp")
		keep, _, _ := store.Put(ctx, "sess-2", "NAMES", "John Smith")

		removed, err := store.DeleteSession(ctx, "sess-1")
		if err != nil {
			t.Fatal(err)
		}
		if removed != 2 {
			t.Errorf("removed = %d, want 2", removed)
		}
		if _, _, err := store.Get(ctx, "sess-2", keep); err != nil {
			t.Errorf("other session's mapping lost: %v", err)
		}
	})

	t.Run("originals encrypted at rest", func(t *testing.T) {
		store := openTestSQLite(t)
		store.Put(ctx, "sess-1", "NAMES", "John Smith")

		var enc string
		if err := store.db.Get(&enc, `SELECT original_enc FROM token_mappings LIMIT 1`); err != nil {
			t.Fatal(err)
		}
		if enc == "John Smith" || enc == "" {
			t.Errorf("original stored in clear: %q", enc)
		}
	})
}
