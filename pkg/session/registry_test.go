package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/rosguard/internal/testutil"
	"github.com/newtron-network/rosguard/pkg/util"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Inactive, Entering, true},
		{Inactive, Active, false},
		{Entering, Active, true},
		{Entering, Inactive, true},
		{Active, Committing, true},
		{Active, RollingBack, true},
		{Active, Inactive, false},
		{Committing, Inactive, true},
		{Committing, RollingBack, false},
		{RollingBack, Inactive, true},
		{RollingBack, Committing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if RollingBack.String() != "rolling-back" || State(42).String() != "state(42)" {
		t.Errorf("unexpected state names %q %q", RollingBack, State(42))
	}
}

func TestRegistry_AcquireRelease(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	lease, err := r.Acquire(ctx, "r1", "wf-1", ModeDirect)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	_, err = r.Acquire(ctx, "r1", "wf-2", ModeStaged)
	var busy *util.ConcurrentSessionError
	if !errors.As(err, &busy) {
		t.Fatalf("second Acquire() error = %v, want *ConcurrentSessionError", err)
	}
	if busy.Holder != "wf-1" || !strings.Contains(err.Error(), "direct command") {
		t.Errorf("busy error = %v", err)
	}
	if !errors.Is(err, util.ErrDeviceBusy) {
		t.Error("busy error should match ErrDeviceBusy")
	}

	if _, err := r.Acquire(ctx, "r2", "wf-3", ModeStaged); err != nil {
		t.Errorf("other device should be free: %v", err)
	}

	lease.Release()
	lease.Release()
	if info := r.Inspect("r1"); info.Held {
		t.Fatalf("slot still held after Release: %+v", info)
	}
	if _, err := r.Acquire(ctx, "r1", "wf-2", ModeStaged); err != nil {
		t.Errorf("Acquire after Release error: %v", err)
	}
}

func TestRegistry_IllegalTransition(t *testing.T) {
	r := NewRegistry()
	lease := mustAcquire(t, r, "r1", "wf-1", ModeStaged)
	defer lease.Release()

	if err := lease.Transition(Active); !errors.Is(err, util.ErrIllegalTransition) {
		t.Errorf("Inactive → Active error = %v, want ErrIllegalTransition", err)
	}
	testutil.AssertNoError(t, lease.Transition(Entering), "Inactive → Entering")
	if got := r.Inspect("r1").State; got != Entering {
		t.Errorf("State = %s, want entering", got)
	}
}

func TestRegistry_ReclaimsStaleSession(t *testing.T) {
	clock := testutil.NewClock(start)
	r := NewRegistry()
	r.SetClock(clock.Now)
	ctx := context.Background()

	old := mustAcquire(t, r, "r1", "wf-old", ModeStaged)
	testutil.AssertNoError(t, old.Transition(Entering), "enter")
	testutil.AssertNoError(t, old.SetDeadline(context.Background(), start.Add(time.Minute)), "deadline")
	testutil.AssertNoError(t, old.Transition(Active), "activate")

	if _, err := r.Acquire(ctx, "r1", "wf-new", ModeStaged); !errors.Is(err, util.ErrDeviceBusy) {
		t.Fatalf("Acquire before deadline error = %v, want busy", err)
	}

	clock.Advance(2 * time.Minute)
	fresh, err := r.Acquire(ctx, "r1", "wf-new", ModeStaged)
	if err != nil {
		t.Fatalf("Acquire after deadline error: %v", err)
	}
	if info := r.Inspect("r1"); info.Holder != "wf-new" || info.State != Inactive {
		t.Errorf("slot after reclaim = %+v", info)
	}

	// The reclaimed lease can no longer move or free the slot.
	if err := old.Transition(RollingBack); !errors.Is(err, util.ErrIllegalTransition) {
		t.Errorf("stale Transition error = %v", err)
	}
	old.Release()
	if info := r.Inspect("r1"); !info.Held || info.Holder != "wf-new" {
		t.Errorf("stale Release freed the new lease: %+v", info)
	}
	fresh.Release()
}

func TestRegistry_DirectLeaseNeverStale(t *testing.T) {
	clock := testutil.NewClock(start)
	r := NewRegistry()
	r.SetClock(clock.Now)

	lease := mustAcquire(t, r, "r1", "wf-1", ModeDirect)
	defer lease.Release()
	clock.Advance(24 * time.Hour)
	if _, err := r.Acquire(context.Background(), "r1", "wf-2", ModeStaged); err == nil {
		t.Error("direct lease must not be reclaimed")
	}
}

func TestRegistry_ConcurrentAcquireSingleWinner(t *testing.T) {
	r := NewRegistry()
	const n = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Acquire(context.Background(), "r1", "wf", ModeStaged); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

type fakeLocker struct {
	mu         sync.Mutex
	holders    map[string]string
	ttls       map[string]time.Duration
	fail       error
	failExtend error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{holders: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (l *fakeLocker) Acquire(_ context.Context, deviceID, holder string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	if cur, ok := l.holders[deviceID]; ok {
		return &util.ConcurrentSessionError{Device: deviceID, Holder: cur, State: "locked"}
	}
	l.holders[deviceID] = holder
	l.ttls[deviceID] = ttl
	return nil
}

func (l *fakeLocker) Extend(_ context.Context, deviceID, holder string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failExtend != nil {
		return l.failExtend
	}
	if l.holders[deviceID] != holder {
		return errors.New("lock not held")
	}
	l.ttls[deviceID] = ttl
	return nil
}

func (l *fakeLocker) ttl(deviceID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ttls[deviceID]
}

func (l *fakeLocker) Release(_ context.Context, deviceID, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[deviceID] == holder {
		delete(l.holders, deviceID)
	}
	return nil
}

func TestRegistry_Locker(t *testing.T) {
	ctx := context.Background()

	t.Run("held by another process", func(t *testing.T) {
		locker := newFakeLocker()
		locker.holders["r1"] = "host-b/wf-9"
		r := NewRegistry()
		r.SetLocker(locker, 0)

		_, err := r.Acquire(ctx, "r1", "wf-1", ModeStaged)
		var busy *util.ConcurrentSessionError
		if !errors.As(err, &busy) || busy.Holder != "host-b/wf-9" {
			t.Fatalf("Acquire() error = %v, want busy held by host-b/wf-9", err)
		}
		if r.Inspect("r1").Held {
			t.Error("local slot must be freed when the lock is refused")
		}
	})

	t.Run("released with lease", func(t *testing.T) {
		locker := newFakeLocker()
		r := NewRegistry()
		r.SetLocker(locker, time.Minute)

		lease := mustAcquire(t, r, "r1", "wf-1", ModeStaged)
		if locker.holders["r1"] != "wf-1" {
			t.Fatalf("lock not taken: %v", locker.holders)
		}
		lease.Release()
		if _, held := locker.holders["r1"]; held {
			t.Error("lock not released")
		}
	})

	t.Run("extended to cover the deadline", func(t *testing.T) {
		clock := testutil.NewClock(start)
		locker := newFakeLocker()
		r := NewRegistry()
		r.SetClock(clock.Now)
		r.SetLocker(locker, DefaultLockTTL)

		lease := mustAcquire(t, r, "r1", "wf-1", ModeStaged)
		defer lease.Release()
		if got := locker.ttl("r1"); got != DefaultLockTTL {
			t.Fatalf("initial ttl = %v, want %v", got, DefaultLockTTL)
		}

		testutil.AssertNoError(t, lease.SetDeadline(ctx, start.Add(2*time.Hour)), "SetDeadline")
		if got, want := locker.ttl("r1"), 2*time.Hour+LockMargin; got != want {
			t.Errorf("ttl after SetDeadline(+2h) = %v, want %v", got, want)
		}

		// A short deadline never shrinks the lock below the configured TTL.
		testutil.AssertNoError(t, lease.SetDeadline(ctx, start.Add(time.Minute)), "SetDeadline")
		if got := locker.ttl("r1"); got != DefaultLockTTL {
			t.Errorf("ttl after SetDeadline(+1m) = %v, want %v", got, DefaultLockTTL)
		}
	})

	t.Run("extension refused", func(t *testing.T) {
		locker := newFakeLocker()
		locker.failExtend = errors.New("lock for r1 is no longer held by wf-1")
		r := NewRegistry()
		r.SetLocker(locker, time.Minute)

		lease := mustAcquire(t, r, "r1", "wf-1", ModeStaged)
		defer lease.Release()
		if err := lease.SetDeadline(ctx, time.Now().Add(time.Hour)); err == nil {
			t.Error("SetDeadline() should report the failed extension")
		}
	})

	t.Run("lock server down", func(t *testing.T) {
		locker := newFakeLocker()
		locker.fail = errors.New("dial tcp: connection refused")
		r := NewRegistry()
		r.SetLocker(locker, 0)

		_, err := r.Acquire(ctx, "r1", "wf-1", ModeStaged)
		if err == nil || errors.Is(err, util.ErrDeviceBusy) {
			t.Fatalf("Acquire() error = %v, want lock server error", err)
		}
		if r.Inspect("r1").Held {
			t.Error("local slot must be freed on lock error")
		}
	})
}

func mustAcquire(t *testing.T, r *Registry, deviceID, holder string, mode Mode) *Lease {
	t.Helper()
	lease, err := r.Acquire(context.Background(), deviceID, holder, mode)
	if err != nil {
		t.Fatalf("Acquire(%s, %s) error: %v", deviceID, holder, err)
	}
	return lease
}
