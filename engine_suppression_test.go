package idcore

import (
	"context"
	"testing"
	"time"

	"github.com/mkarlen/idcore/internal/stores"
)

func mustExpiredSuppression(t *testing.T, hash string) *stores.SuppressionRecord {
	t.Helper()
	return &stores.SuppressionRecord{
		EmailHash: hash,
		Reason:    string(SuppressionReasonOther),
		Source:    "ops",
		CreatedAt: time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}
}

func TestSuppressionRoundTrip(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})
	ctx := context.Background()

	if engine.ShouldBlock(ctx, "bounce@example.com") {
		t.Fatal("unexpected block before suppression")
	}

	if err := engine.Suppress(ctx, "bounce@example.com", SuppressionReasonBounce, "mta", "hard bounce 550", 0); err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if !engine.ShouldBlock(ctx, "bounce@example.com") {
		t.Fatal("expected block after suppression")
	}
	// Normalization applies to the probe as well.
	if !engine.ShouldBlock(ctx, "  Bounce@Example.COM") {
		t.Fatal("expected block for differently-cased address")
	}

	if err := engine.Unsuppress(ctx, "bounce@example.com"); err != nil {
		t.Fatalf("Unsuppress failed: %v", err)
	}
	if engine.ShouldBlock(ctx, "bounce@example.com") {
		t.Fatal("unexpected block after removal")
	}
	// Removing again is a no-op, not an error.
	if err := engine.Unsuppress(ctx, "bounce@example.com"); err != nil {
		t.Fatalf("repeat Unsuppress failed: %v", err)
	}
}

func TestSuppressionByHash(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})
	ctx := context.Background()

	hash := engine.emailCrypto.PrimaryHash("abuse@example.com")
	if err := engine.Suppress(ctx, hash, SuppressionReasonAbuse, "ops", "", 0); err != nil {
		t.Fatalf("Suppress by hash failed: %v", err)
	}
	if !engine.ShouldBlock(ctx, "abuse@example.com") {
		t.Fatal("expected block after suppression by hash")
	}

	if err := engine.Unsuppress(ctx, hash); err != nil {
		t.Fatalf("Unsuppress by hash failed: %v", err)
	}
	if engine.ShouldBlock(ctx, "abuse@example.com") {
		t.Fatal("unexpected block after removal by hash")
	}
}

func TestSuppressionLegacyHashTolerated(t *testing.T) {
	rdb := newTestRedis(t)
	sender := &mockSender{}

	oldCfg := testConfig()
	oldKey := []byte("old-hash-key-old-hash-key-old-k!")
	oldCfg.Hashing.HashKey = oldKey

	oldEngine := newTestEngineOn(t, oldCfg, sender, rdb)
	ctx := context.Background()
	if err := oldEngine.Suppress(ctx, "legacy@example.com", SuppressionReasonComplaint, "mta", "", 0); err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	// After a key rotation the entry still sits under the old hash, but
	// the candidate probe finds it.
	newCfg := testConfig()
	newCfg.Hashing.LegacyHashKeys = [][]byte{oldKey}
	newEngine := newTestEngineOn(t, newCfg, sender, rdb)

	if !newEngine.ShouldBlock(ctx, "legacy@example.com") {
		t.Fatal("expected legacy-hash suppression to block")
	}

	// Unsuppress removes under every candidate.
	if err := newEngine.Unsuppress(ctx, "legacy@example.com"); err != nil {
		t.Fatalf("Unsuppress failed: %v", err)
	}
	if newEngine.ShouldBlock(ctx, "legacy@example.com") || oldEngine.ShouldBlock(ctx, "legacy@example.com") {
		t.Fatal("unexpected block after removal across keys")
	}
}

func TestSuppressionEntryTTL(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})
	ctx := context.Background()

	if err := engine.Suppress(ctx, "brief@example.com", SuppressionReasonOther, "ops", "", time.Hour); err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if !engine.ShouldBlock(ctx, "brief@example.com") {
		t.Fatal("expected block inside the TTL")
	}

	// Rewind the stored logical expiry; Active() is authoritative.
	hash := engine.emailCrypto.PrimaryHash("brief@example.com")
	if err := engine.suppressions.Suppress(ctx, mustExpiredSuppression(t, hash)); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if engine.ShouldBlock(ctx, "brief@example.com") {
		t.Fatal("unexpected block past the TTL")
	}
}

func TestUnsubscribeToken(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})
	ctx := context.Background()

	tok, err := engine.UnsubscribeToken("optout@example.com")
	if err != nil {
		t.Fatalf("UnsubscribeToken failed: %v", err)
	}
	if err := engine.ProcessUnsubscribe(ctx, tok); err != nil {
		t.Fatalf("ProcessUnsubscribe failed: %v", err)
	}
	if !engine.ShouldBlock(ctx, "optout@example.com") {
		t.Fatal("expected block after unsubscribe")
	}

	// Verification tokens must not pass as unsubscribe tokens.
	vtok, err := engine.codec.Encode(verificationTokenTag, "some-id")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := engine.ProcessUnsubscribe(ctx, vtok); err == nil {
		t.Fatal("expected tag mismatch to be rejected")
	}
}
