package idcore

import (
	"context"
	"testing"
)

func TestHealth(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})

	status := engine.Health(context.Background())
	if !status.RedisAvailable {
		t.Fatal("expected redis to be available")
	}
	if status.RedisLatency < 0 {
		t.Fatalf("negative latency: %v", status.RedisLatency)
	}
}

func TestActiveSessionCount(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.RequireForLogin = false
	engine := newTestEngine(t, cfg, &mockSender{})
	ctx := context.Background()

	acct := mustCreateAccount(t, engine, "count@example.com", "correct-horse-battery")

	n, err := engine.ActiveSessionCount(ctx, acct.UserID)
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 sessions, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.Login(ctx, "count@example.com", "correct-horse-battery"); err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
	}

	n, err = engine.ActiveSessionCount(ctx, acct.UserID)
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions, got %d", n)
	}

	if _, err := engine.ActiveSessionCount(ctx, ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}
