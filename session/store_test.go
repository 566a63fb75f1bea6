package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "sess"), mr
}

func testSession(sid, uid string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		SessionID: sid,
		UserID:    uid,
		ClientIP:  "198.51.100.7",
		UserAgent: "test-agent/1.0",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "u1", time.Hour)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.UserID != "u1" || got.ClientIP != "198.51.100.7" || got.UserAgent != "test-agent/1.0" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.ExpiresAt != sess.ExpiresAt {
		t.Fatalf("expiry mismatch: got %d want %d", got.ExpiresAt, sess.ExpiresAt)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestSaveRejectsExpiredSession(t *testing.T) {
	store, _ := newTestStore(t)

	sess := testSession("s1", "u1", -time.Minute)
	if err := store.Save(context.Background(), sess); err == nil {
		t.Fatal("expected error saving already-expired session")
	}
}

func TestGetDeletesExpiredRecord(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "u1", time.Hour)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Move the stored expiry into the past without letting the Redis TTL fire.
	mr.HSet("sess:s1", "expires", "1")

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil for expired session, got %v", err)
	}
	if mr.Exists("sess:s1") {
		t.Fatal("expired record should be deleted on read")
	}
}

func TestRevoke(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1", "u1", time.Hour)); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	existed, err := store.Revoke(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if !existed {
		t.Fatal("first revoke should report the record existed")
	}
	if mr.Exists("sess:s1") {
		t.Fatal("record should be deleted")
	}

	existed, err = store.Revoke(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if existed {
		t.Fatal("second revoke should report the record was gone")
	}

	active, err := store.IsActive(ctx, "s1")
	if err != nil {
		t.Fatalf("IsActive error: %v", err)
	}
	if active {
		t.Fatal("revoked session must not be active")
	}
}

func TestRevokeAll(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, testSession(sid, "u1", time.Hour)); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	if err := store.Save(ctx, testSession("other", "u2", time.Hour)); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	n, err := store.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", n)
	}
	for _, sid := range []string{"s1", "s2", "s3"} {
		if mr.Exists("sess:" + sid) {
			t.Fatalf("session %s should be deleted", sid)
		}
	}
	if !mr.Exists("sess:other") {
		t.Fatal("other user's session must survive")
	}
}

func TestListActive(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, testSession(sid, "u1", time.Hour)); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	// One stale index entry whose record was dropped out-of-band.
	mr.Del("sess:s2")

	sessions, err := store.ListActive(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(sessions))
	}

	// The stale entry must have been pruned from the index.
	count, err := store.ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 indexed sessions after prune, got %d", count)
	}
}

func TestListActiveHonorsLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"s1", "s2", "s3", "s4"} {
		if err := store.Save(ctx, testSession(sid, "u1", time.Hour)); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	sessions, err := store.ListActive(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(sessions))
	}
}
