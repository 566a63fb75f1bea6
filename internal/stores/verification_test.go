package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func pendingEntry(id, emailHash string, ttl time.Duration) *VerificationRecord {
	now := time.Now()
	return &VerificationRecord{
		ID:        id,
		EmailHash: emailHash,
		UserID:    "u1",
		Status:    VerificationPending,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

func TestSaveAndGetEntry(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))
	ctx := context.Background()

	if err := store.Save(ctx, pendingEntry("v1", "h1", time.Hour)); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	rec, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Status != VerificationPending || rec.EmailHash != "h1" || rec.UserID != "u1" {
		t.Fatalf("unexpected entry: %+v", rec)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound, got %v", err)
	}
}

func TestConsumeToVerified(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))
	ctx := context.Background()

	if err := store.Save(ctx, pendingEntry("v1", "h1", time.Hour)); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := store.Consume(ctx, "v1", VerificationVerified); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	rec, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Status != VerificationVerified || rec.UsedAt == 0 {
		t.Fatalf("unexpected entry after consume: %+v", rec)
	}

	// Second consume loses: the entry is terminal.
	if err := store.Consume(ctx, "v1", VerificationVerified); !errors.Is(err, ErrVerificationConsumed) {
		t.Fatalf("expected ErrVerificationConsumed, got %v", err)
	}
	if err := store.Consume(ctx, "v1", VerificationFailed); !errors.Is(err, ErrVerificationConsumed) {
		t.Fatalf("expected ErrVerificationConsumed, got %v", err)
	}
}

func TestConsumeToFailed(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))
	ctx := context.Background()

	if err := store.Save(ctx, pendingEntry("v1", "h1", time.Hour)); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := store.Consume(ctx, "v1", VerificationFailed); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	rec, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Status != VerificationFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
}

func TestConsumeExpiredEntry(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))
	ctx := context.Background()

	rec := pendingEntry("v1", "h1", time.Hour)
	rec.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := store.Consume(ctx, "v1", VerificationVerified); !errors.Is(err, ErrVerificationExpired) {
		t.Fatalf("expected ErrVerificationExpired, got %v", err)
	}

	// The entry stays readable so repeat attempts still classify as expired.
	got, err := store.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !got.Expired(time.Now()) {
		t.Fatal("entry should read as expired")
	}
}

func TestConsumeMissingEntry(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))

	err := store.Consume(context.Background(), "nope", VerificationVerified)
	if !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound, got %v", err)
	}
}

func TestConsumeRejectsBadTarget(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))

	if err := store.Consume(context.Background(), "v1", "pending"); err == nil {
		t.Fatal("expected error for invalid target status")
	}
}

func TestFindVerifiedByHashes(t *testing.T) {
	store := NewVerificationStore(newTestRedis(t))
	ctx := context.Background()

	// One failed and one verified entry under a legacy hash.
	failed := pendingEntry("v1", "legacy-hash", time.Hour)
	verified := pendingEntry("v2", "legacy-hash", time.Hour)
	for _, rec := range []*VerificationRecord{failed, verified} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	if err := store.Consume(ctx, "v1", VerificationFailed); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if err := store.Consume(ctx, "v2", VerificationVerified); err != nil {
		t.Fatalf("Consume error: %v", err)
	}

	rec, err := store.FindVerifiedByHashes(ctx, []string{"current-hash", "legacy-hash"})
	if err != nil {
		t.Fatalf("FindVerifiedByHashes error: %v", err)
	}
	if rec.ID != "v2" {
		t.Fatalf("found entry %q, want v2", rec.ID)
	}

	if _, err := store.FindVerifiedByHashes(ctx, []string{"unknown"}); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected ErrVerificationNotFound, got %v", err)
	}
}
