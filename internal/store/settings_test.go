package store_test

import (
	"context"
	"testing"

	"github.com/erazemk/evidenca/internal/db"
	"github.com/erazemk/evidenca/internal/store"
	"github.com/erazemk/evidenca/internal/store/sqlite"
)

func TestGetJWTSecret_GeneratesAndPersists(t *testing.T) {
	st := sqlite.New(db.NewTestDB(t))
	ctx := context.Background()

	// First call should generate a secret.
	secret1, err := store.GetJWTSecret(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	if len(secret1) != 64 { // 32 bytes = 64 hex chars
		t.Fatalf("expected 64 hex chars, got %d", len(secret1))
	}

	// Second call should return the same secret.
	secret2, err := store.GetJWTSecret(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	if secret1 != secret2 {
		t.Fatalf("expected same secret, got %q and %q", secret1, secret2)
	}
}
