package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newtron-network/rosguard/pkg/util"
)

// DefaultLockTTL bounds how long a cross-process lock outlives a crashed
// holder. Leases whose session deadline lies further out extend the lock to
// the deadline plus LockMargin.
const DefaultLockTTL = 45 * time.Minute

// LockMargin keeps a cross-process lock alive past the session deadline so
// the device has reverted before another process can claim it.
const LockMargin = 5 * time.Minute

// Mode is what a lease is used for.
type Mode int

const (
	// ModeDirect holds the device for a single unprotected command.
	ModeDirect Mode = iota
	// ModeStaged holds the device for a full safe mode session.
	ModeStaged
)

func (m Mode) String() string {
	if m == ModeStaged {
		return "staged"
	}
	return "direct"
}

// Locker extends the per-device slot across processes. Acquire returns an
// error matching util.ErrDeviceBusy when another holder owns the device.
// Extend resets the expiry of a lock holder still owns to ttl from now.
type Locker interface {
	Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) error
	Extend(ctx context.Context, deviceID, holder string, ttl time.Duration) error
	Release(ctx context.Context, deviceID, holder string) error
}

type slot struct {
	held     bool
	holder   string
	mode     Mode
	state    State
	deadline time.Time
	gen      uint64
}

// stale reports whether a protective session outlived its deadline. The
// device has already reverted it, so the slot can be reclaimed.
func (s *slot) stale(now time.Time) bool {
	return s.mode == ModeStaged && !s.deadline.IsZero() && now.After(s.deadline)
}

// SlotInfo is a snapshot of one device slot.
type SlotInfo struct {
	Held     bool
	Holder   string
	Mode     Mode
	State    State
	Deadline time.Time
}

// Registry tracks one slot per device. It is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot

	now     func() time.Time
	locker  Locker
	lockTTL time.Duration
}

// NewRegistry returns an empty in-process registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:   make(map[string]*slot),
		now:     time.Now,
		lockTTL: DefaultLockTTL,
	}
}

// SetClock replaces the time source used for deadlines and staleness.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetLocker adds a cross-process lock consulted after the in-process slot is
// claimed. ttl of zero uses DefaultLockTTL.
func (r *Registry) SetLocker(l Locker, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	r.locker = l
	r.lockTTL = ttl
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	r.mu.Lock()
	now := r.now
	r.mu.Unlock()
	return now()
}

// Acquire claims deviceID's slot for holder. It fails fast with
// *util.ConcurrentSessionError while another lease is live, without touching
// the device. A staged slot whose deadline has passed is reclaimed first.
func (r *Registry) Acquire(ctx context.Context, deviceID, holder string, mode Mode) (*Lease, error) {
	r.mu.Lock()
	s := r.slots[deviceID]
	if s == nil {
		s = &slot{}
		r.slots[deviceID] = s
	}
	now := r.now()

	var reclaimed string
	if s.held {
		if !s.stale(now) {
			err := &util.ConcurrentSessionError{
				Device:   deviceID,
				Holder:   s.holder,
				State:    s.describe(),
				Deadline: s.deadline,
			}
			r.mu.Unlock()
			return nil, err
		}
		util.WithDevice(deviceID).Warnf("Reclaiming stale %s session held by %s (deadline %s)",
			s.state, s.holder, s.deadline.Format(time.RFC3339))
		if s.state == Active {
			activeSessions.Dec()
		}
		reclaimed = s.holder
	}

	s.gen++
	s.held = true
	s.holder = holder
	s.mode = mode
	s.state = Inactive
	s.deadline = time.Time{}
	lease := &Lease{registry: r, device: deviceID, holder: holder, mode: mode, gen: s.gen}
	locker, ttl := r.locker, r.lockTTL
	r.mu.Unlock()

	if locker == nil {
		return lease, nil
	}
	if reclaimed != "" {
		if err := locker.Release(ctx, deviceID, reclaimed); err != nil {
			util.WithDevice(deviceID).Warnf("Failed to release stale lock of %s: %v", reclaimed, err)
		}
	}
	if err := locker.Acquire(ctx, deviceID, holder, ttl); err != nil {
		r.release(lease)
		var busy *util.ConcurrentSessionError
		if errors.As(err, &busy) || errors.Is(err, util.ErrDeviceBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("acquiring device lock for %s: %w", deviceID, err)
	}
	return lease, nil
}

func (s *slot) describe() string {
	if s.mode == ModeDirect {
		return "direct command"
	}
	return s.state.String()
}

// Inspect returns a snapshot of deviceID's slot.
func (r *Registry) Inspect(deviceID string) SlotInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[deviceID]
	if s == nil {
		return SlotInfo{}
	}
	return SlotInfo{
		Held:     s.held,
		Holder:   s.holder,
		Mode:     s.mode,
		State:    s.state,
		Deadline: s.deadline,
	}
}

// transition moves the lease's slot along the state table.
func (r *Registry) transition(l *Lease, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.owned(l)
	if err != nil {
		return err
	}
	if !s.state.CanTransition(to) {
		return fmt.Errorf("%w: %s → %s on %s", util.ErrIllegalTransition, s.state, to, l.device)
	}
	if s.state == Active {
		activeSessions.Dec()
	}
	if to == Active {
		activeSessions.Inc()
	}
	s.state = to
	return nil
}

func (r *Registry) setDeadline(ctx context.Context, l *Lease, deadline time.Time) error {
	r.mu.Lock()
	s, err := r.owned(l)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	s.deadline = deadline
	locker, ttl := r.locker, r.lockTTL
	now := r.now()
	r.mu.Unlock()

	if locker == nil {
		return nil
	}
	if need := deadline.Sub(now) + LockMargin; need > ttl {
		ttl = need
	}
	if err := locker.Extend(ctx, l.device, l.holder, ttl); err != nil {
		return fmt.Errorf("extending device lock for %s to %s: %w", l.device, ttl, err)
	}
	return nil
}

// owned returns the slot if l still holds it. Caller holds r.mu.
func (r *Registry) owned(l *Lease) (*slot, error) {
	s := r.slots[l.device]
	if s == nil || !s.held || s.gen != l.gen {
		return nil, fmt.Errorf("%w: lease of %s on %s was reclaimed", util.ErrIllegalTransition, l.holder, l.device)
	}
	return s, nil
}

// release frees the slot and reports whether l still owned it.
func (r *Registry) release(l *Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.owned(l)
	if err != nil {
		return false
	}
	if s.state == Active {
		activeSessions.Dec()
	}
	s.held = false
	s.holder = ""
	s.state = Inactive
	s.deadline = time.Time{}
	return true
}

// Lease is exclusive ownership of one device slot. Release is idempotent, and
// releasing a lease whose slot was reclaimed is a no-op.
type Lease struct {
	registry *Registry
	device   string
	holder   string
	mode     Mode
	gen      uint64

	once sync.Once
}

// Device returns the leased device ID.
func (l *Lease) Device() string { return l.device }

// Holder returns the lease owner.
func (l *Lease) Holder() string { return l.holder }

// Transition moves the slot to the given state.
func (l *Lease) Transition(to State) error {
	return l.registry.transition(l, to)
}

// SetDeadline records when the device's watchdog will revert the session
// and keeps the cross-process lock, if any, alive until LockMargin after it.
// An error means the lease can no longer be trusted to cover the session.
func (l *Lease) SetDeadline(ctx context.Context, deadline time.Time) error {
	return l.registry.setDeadline(ctx, l, deadline)
}

// Release frees the slot and the cross-process lock, if any.
func (l *Lease) Release() {
	l.once.Do(func() {
		if !l.registry.release(l) {
			util.WithDevice(l.device).Debugf("Lease of %s already reclaimed", l.holder)
			return
		}
		l.registry.mu.Lock()
		locker := l.registry.locker
		l.registry.mu.Unlock()
		if locker == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := locker.Release(ctx, l.device, l.holder); err != nil {
			util.WithDevice(l.device).Warnf("Failed to release lock: %v", err)
		}
	})
}
