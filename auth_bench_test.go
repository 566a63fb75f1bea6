package idcore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func BenchmarkLogin(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result, err := engine.Login(context.Background(), "alice@example.com", "correct-horse-battery")
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = engine.Logout(context.Background(), "Bearer "+result.Token)
	}
}

func BenchmarkSendVerification(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.SendVerification(context.Background(), "alice@example.com"); err != nil {
			b.Fatalf("send failed: %v", err)
		}
	}
}

func BenchmarkShouldBlock(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if engine.ShouldBlock(context.Background(), "alice@example.com") {
			b.Fatal("address unexpectedly blocked")
		}
	}
}

func BenchmarkUnsubscribeToken(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.UnsubscribeToken("alice@example.com"); err != nil {
			b.Fatalf("encode failed: %v", err)
		}
	}
}

func newBenchmarkEngine(tb testing.TB) (*Engine, func()) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.Verification.RequireForLogin = false
	cfg.Metrics.Enabled = false

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotificationSender(&mockSender{}).
		Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}

	if _, err := engine.CreateAccount(context.Background(), "alice@example.com", "correct-horse-battery"); err != nil {
		tb.Fatalf("seed account failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}
