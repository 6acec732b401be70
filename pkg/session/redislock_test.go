//go:build integration

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newtron-network/rosguard/internal/testutil"
	"github.com/newtron-network/rosguard/pkg/util"
)

func TestRedisLocker(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	client := testutil.RedisClient(t, 9)
	locker := NewRedisLocker(client)
	ctx := testutil.Context(t)

	if err := locker.Acquire(ctx, "r1", "wf-1", time.Minute); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if ttl := client.TTL(ctx, LockKeyPrefix+"r1").Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("lock TTL = %v", ttl)
	}

	err := locker.Acquire(ctx, "r1", "wf-2", time.Minute)
	var busy *util.ConcurrentSessionError
	if !errors.As(err, &busy) || busy.Holder != "wf-1" {
		t.Fatalf("second Acquire() error = %v, want busy held by wf-1", err)
	}
	if busy.Deadline.IsZero() {
		t.Error("busy error should carry the lock expiry")
	}

	if err := locker.Extend(ctx, "r1", "wf-1", 2*time.Hour); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}
	if ttl := client.TTL(ctx, LockKeyPrefix+"r1").Val(); ttl <= time.Hour {
		t.Errorf("lock TTL after Extend = %v, want about 2h", ttl)
	}
	if err := locker.Extend(ctx, "r1", "wf-2", 2*time.Hour); err == nil {
		t.Error("Extend by non-holder should fail")
	}
	if err := locker.Extend(ctx, "r2", "wf-1", time.Minute); err == nil {
		t.Error("Extend of a missing lock should fail")
	}

	if err := locker.Release(ctx, "r1", "wf-2"); err == nil {
		t.Error("Release by non-holder should fail")
	}
	if err := locker.Release(ctx, "r1", "wf-1"); err != nil {
		t.Errorf("Release() error: %v", err)
	}
	if err := locker.Release(ctx, "r1", "wf-1"); err != nil {
		t.Errorf("Release of expired lock error: %v", err)
	}
}

func TestRedisLocker_Registries(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	client := testutil.RedisClient(t, 9)

	a, b := NewRegistry(), NewRegistry()
	a.SetLocker(NewRedisLocker(client), time.Minute)
	b.SetLocker(NewRedisLocker(client), time.Minute)

	lease, err := a.Acquire(context.Background(), "r1", "proc-a", ModeStaged)
	if err != nil {
		t.Fatalf("Acquire(a) error: %v", err)
	}
	if _, err := b.Acquire(context.Background(), "r1", "proc-b", ModeStaged); !errors.Is(err, util.ErrDeviceBusy) {
		t.Fatalf("Acquire(b) error = %v, want busy", err)
	}
	lease.Release()
	if _, err := b.Acquire(context.Background(), "r1", "proc-b", ModeStaged); err != nil {
		t.Errorf("Acquire(b) after release error: %v", err)
	}
}
