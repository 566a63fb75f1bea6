package idcore

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAccount(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})

	acc := mustCreateAccount(t, engine, "Alice@Example.COM", "correct horse battery")
	if acc.UserID == "" {
		t.Fatal("expected a user id")
	}
	if acc.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized form", acc.Email)
	}
	if acc.Verified {
		t.Fatal("new accounts must start unverified")
	}

	// The stored record never carries the plaintext address.
	rec, err := engine.accounts.Get(context.Background(), acc.UserID)
	if err != nil {
		t.Fatalf("account load failed: %v", err)
	}
	if rec.EmailEnc == "" || rec.EmailEnc == "alice@example.com" {
		t.Fatalf("expected encrypted email, got %q", rec.EmailEnc)
	}
	if rec.PasswordHash == "" || rec.PasswordHash == "correct horse battery" {
		t.Fatal("expected hashed password")
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})
	mustCreateAccount(t, engine, "alice@example.com", "correct horse battery")

	_, err := engine.CreateAccount(context.Background(), "  ALICE@example.com", "another passphrase")
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("expected ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestCreateAccountDuplicateUnderLegacyHash(t *testing.T) {
	rdb := newTestRedis(t)
	sender := &mockSender{}

	oldCfg := testConfig()
	oldKey := []byte("old-hash-key-old-hash-key-old-k!")
	oldCfg.Hashing.HashKey = oldKey
	oldEngine := newTestEngineOn(t, oldCfg, sender, rdb)
	mustCreateAccount(t, oldEngine, "alice@example.com", "correct horse battery")

	// Registration after a key rotation still sees the old claim.
	newCfg := testConfig()
	newCfg.Hashing.LegacyHashKeys = [][]byte{oldKey}
	newEngine := newTestEngineOn(t, newCfg, sender, rdb)

	_, err := newEngine.CreateAccount(context.Background(), "alice@example.com", "another passphrase")
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("expected ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestCreateAccountWeakPassphrase(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})

	if _, err := engine.CreateAccount(context.Background(), "alice@example.com", "short"); err == nil {
		t.Fatal("expected short passphrase to be rejected")
	}
}

func TestGetAccount(t *testing.T) {
	engine := newTestEngine(t, testConfig(), &mockSender{})
	created := mustCreateAccount(t, engine, "alice@example.com", "correct horse battery")

	acc, err := engine.GetAccount(context.Background(), created.UserID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acc.Email != "alice@example.com" {
		t.Fatalf("decrypted email = %q", acc.Email)
	}

	if _, err := engine.GetAccount(context.Background(), "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.RequireForLogin = false

	engine := newTestEngine(t, cfg, &mockSender{})
	acc := mustCreateAccount(t, engine, "alice@example.com", "correct horse battery")
	ctx := context.Background()

	res, err := engine.Login(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.DeleteAccount(ctx, acc.UserID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	active, err := engine.sessions.IsActive(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("IsActive failed: %v", err)
	}
	if active {
		t.Fatal("session survived account deletion")
	}

	if _, err := engine.Login(ctx, "alice@example.com", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after deletion, got %v", err)
	}
	if err := engine.DeleteAccount(ctx, acc.UserID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound on repeat delete, got %v", err)
	}

	// The address is free for re-registration.
	if _, err := engine.CreateAccount(ctx, "alice@example.com", "another passphrase"); err != nil {
		t.Fatalf("re-registration failed: %v", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.RequireForLogin = false

	engine := newTestEngine(t, cfg, &mockSender{})
	acc := mustCreateAccount(t, engine, "alice@example.com", "correct horse battery")
	ctx := context.Background()

	var sessionIDs []string
	for i := 0; i < 3; i++ {
		res, err := engine.Login(ctx, "alice@example.com", "correct horse battery")
		if err != nil {
			t.Fatalf("login %d failed: %v", i+1, err)
		}
		sessionIDs = append(sessionIDs, res.SessionID)
	}

	listed, err := engine.ListSessions(ctx, acc.UserID, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d sessions, want 3", len(listed))
	}

	revoked, err := engine.RevokeAllSessions(ctx, acc.UserID)
	if err != nil {
		t.Fatalf("RevokeAllSessions failed: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("revoked %d sessions, want 3", revoked)
	}

	for _, sid := range sessionIDs {
		active, err := engine.sessions.IsActive(ctx, sid)
		if err != nil {
			t.Fatalf("IsActive failed: %v", err)
		}
		if active {
			t.Fatalf("session %s survived bulk revoke", sid)
		}
	}
}
