package redis

import (
	"context"
	"testing"
	"time"
)

func TestAdmissionLockAcquireOnce(t *testing.T) {
	mr, rdb := newTestClient(t)
	lock := NewAdmissionLock(rdb)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, 1, 42, "tok-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to win, got %v %v", ok, err)
	}
	ok, err = lock.TryAcquire(ctx, 1, 42, "tok-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second acquire to lose, got %v %v", ok, err)
	}
	// 不同商品、不同用户互不影响。
	if ok, _ := lock.TryAcquire(ctx, 2, 42, "tok-c", time.Minute); !ok {
		t.Fatal("expected acquire on another item to win")
	}
	if ok, _ := lock.TryAcquire(ctx, 1, 43, "tok-d", time.Minute); !ok {
		t.Fatal("expected acquire by another user to win")
	}
	if ttl := mr.TTL(UserLockKey(1, 42)); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %s", ttl)
	}
}

func TestAdmissionLockRejectsNonPositiveTTL(t *testing.T) {
	_, rdb := newTestClient(t)
	if _, err := NewAdmissionLock(rdb).TryAcquire(context.Background(), 1, 1, "t", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestAdmissionLockReleaseOnlyMatchingToken(t *testing.T) {
	mr, rdb := newTestClient(t)
	lock := NewAdmissionLock(rdb)
	ctx := context.Background()
	_, _ = lock.TryAcquire(ctx, 1, 42, "tok-a", time.Minute)

	deleted, err := lock.Release(ctx, 1, 42, "tok-other")
	if err != nil || deleted {
		t.Fatalf("expected mismatched release to be ignored, got %v %v", deleted, err)
	}
	if !mr.Exists(UserLockKey(1, 42)) {
		t.Fatal("lock must survive mismatched release")
	}
	deleted, err = lock.Release(ctx, 1, 42, "tok-a")
	if err != nil || !deleted {
		t.Fatalf("expected release to delete, got %v %v", deleted, err)
	}
	if ok, _ := lock.TryAcquire(ctx, 1, 42, "tok-b", time.Minute); !ok {
		t.Fatal("expected re-acquire after release")
	}
}

func TestAdmissionLockExpires(t *testing.T) {
	mr, rdb := newTestClient(t)
	lock := NewAdmissionLock(rdb)
	ctx := context.Background()
	_, _ = lock.TryAcquire(ctx, 1, 42, "tok-a", time.Minute)

	mr.FastForward(2 * time.Minute)
	if ok, _ := lock.TryAcquire(ctx, 1, 42, "tok-b", time.Minute); !ok {
		t.Fatal("expected acquire after ttl expiry")
	}
}
