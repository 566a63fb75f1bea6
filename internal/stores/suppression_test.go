package stores

import (
	"context"
	"testing"
	"time"
)

func TestSuppressAndFindActive(t *testing.T) {
	store := NewSuppressionStore(newTestRedis(t))
	ctx := context.Background()

	rec := &SuppressionRecord{
		EmailHash: "h1",
		Reason:    "complaint",
		Source:    "esp-webhook",
		CreatedAt: time.Now().Unix(),
	}
	if err := store.Suppress(ctx, rec); err != nil {
		t.Fatalf("Suppress error: %v", err)
	}

	got, err := store.FindActive(ctx, []string{"other", "h1"})
	if err != nil {
		t.Fatalf("FindActive error: %v", err)
	}
	if got == nil {
		t.Fatal("expected an active suppression entry")
	}
	if got.Reason != "complaint" || got.EmailHash != "h1" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestFindActiveIgnoresExpired(t *testing.T) {
	store := NewSuppressionStore(newTestRedis(t))
	ctx := context.Background()

	rec := &SuppressionRecord{
		EmailHash: "h1",
		Reason:    "bounce",
		CreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}
	// Write the fields directly rather than through Suppress so the Redis
	// TTL does not remove the record before the logical check runs.
	if err := store.redis.HSet(ctx, suppressionKey("h1"),
		"reason", rec.Reason,
		"created", rec.CreatedAt,
		"expires", rec.ExpiresAt,
	).Err(); err != nil {
		t.Fatalf("HSet error: %v", err)
	}

	got, err := store.FindActive(ctx, []string{"h1"})
	if err != nil {
		t.Fatalf("FindActive error: %v", err)
	}
	if got != nil {
		t.Fatalf("expired entry should not block, got %+v", got)
	}
}

func TestFindActiveNoCandidates(t *testing.T) {
	store := NewSuppressionStore(newTestRedis(t))

	got, err := store.FindActive(context.Background(), nil)
	if err != nil {
		t.Fatalf("FindActive error: %v", err)
	}
	if got != nil {
		t.Fatal("no candidates should never match")
	}
}

func TestUnsuppressIdempotent(t *testing.T) {
	store := NewSuppressionStore(newTestRedis(t))
	ctx := context.Background()

	rec := &SuppressionRecord{
		EmailHash: "h1",
		Reason:    "manual",
		CreatedAt: time.Now().Unix(),
	}
	if err := store.Suppress(ctx, rec); err != nil {
		t.Fatalf("Suppress error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Unsuppress(ctx, []string{"h1", "legacy-h1"}); err != nil {
			t.Fatalf("Unsuppress error: %v", err)
		}
	}

	got, err := store.FindActive(ctx, []string{"h1"})
	if err != nil {
		t.Fatalf("FindActive error: %v", err)
	}
	if got != nil {
		t.Fatal("entry should be gone after unsuppress")
	}
}
