package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisSeenSet, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	seen, err := NewRedisSeenSet("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis seen set: %v", err)
	}
	return seen, s
}

func TestRedisSeenSetMarkOnce(t *testing.T) {
	seen, s := setupTestRedis(t)
	defer seen.Close()
	defer s.Close()

	ctx := context.Background()

	first, err := seen.MarkOnce(ctx, "sync-abc")
	if err != nil {
		t.Fatalf("MarkOnce failed: %v", err)
	}
	if !first {
		t.Fatal("expected first delivery to claim the session")
	}

	second, err := seen.MarkOnce(ctx, "sync-abc")
	if err != nil {
		t.Fatalf("MarkOnce failed: %v", err)
	}
	if second {
		t.Fatal("expected duplicate delivery to be rejected")
	}

	ok, err := seen.Seen(ctx, "sync-abc")
	if err != nil {
		t.Fatalf("Seen failed: %v", err)
	}
	if !ok {
		t.Fatal("expected session recorded")
	}
}

func TestRedisSeenSetExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	seen, err := NewRedisSeenSet("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis seen set: %v", err)
	}
	defer seen.Close()

	ctx := context.Background()
	if _, err := seen.MarkOnce(ctx, "sync-ttl"); err != nil {
		t.Fatalf("MarkOnce failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	first, err := seen.MarkOnce(ctx, "sync-ttl")
	if err != nil {
		t.Fatalf("MarkOnce failed: %v", err)
	}
	if !first {
		t.Fatal("expected session claimable again after TTL")
	}
}

func TestMemorySeenSet(t *testing.T) {
	seen := NewMemorySeenSet(time.Hour)
	ctx := context.Background()

	first, err := seen.MarkOnce(ctx, "sync-abc")
	if err != nil || !first {
		t.Fatalf("expected first claim, got first=%v err=%v", first, err)
	}
	second, err := seen.MarkOnce(ctx, "sync-abc")
	if err != nil || second {
		t.Fatalf("expected duplicate rejected, got second=%v err=%v", second, err)
	}
	ok, err := seen.Seen(ctx, "sync-abc")
	if err != nil || !ok {
		t.Fatalf("expected session recorded, got ok=%v err=%v", ok, err)
	}
	ok, err = seen.Seen(ctx, "sync-other")
	if err != nil || ok {
		t.Fatalf("expected unknown session unseen, got ok=%v err=%v", ok, err)
	}
}
