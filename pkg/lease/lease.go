// Package lease serializes reconciliation runs per namespace.
//
// A lease is held by one run at a time. The Redis implementation spans
// processes and hosts; LocalLease only covers the current process.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("lease held by another run")

// ErrLost is returned by Renew when the lease expired or was taken over.
var ErrLost = errors.New("lease lost")

// Info describes the current holder of a lease.
type Info struct {
	Name      string
	HolderID  string
	ExpiresAt time.Time
}

// Locker grants exclusive, expiring leases by name.
type Locker interface {
	// Acquire takes the lease or returns ErrHeld. Acquiring a lease already
	// held by holderID renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) error
	// Renew extends a held lease or returns ErrLost.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error
	// Release gives up the lease if holderID holds it.
	Release(ctx context.Context, name, holderID string) error
	// Get returns the current holder, or nil when the lease is free.
	Get(ctx context.Context, name string) (*Info, error)
}

// LocalLease is an in-process Locker.
type LocalLease struct {
	mu     sync.Mutex
	leases map[string]Info
	now    func() time.Time
}

// NewLocalLease returns an empty in-process Locker.
func NewLocalLease() *LocalLease {
	return &LocalLease{
		leases: make(map[string]Info),
		now:    time.Now,
	}
}

func (l *LocalLease) current(name string) (Info, bool) {
	info, ok := l.leases[name]
	if !ok {
		return Info{}, false
	}
	if !l.now().Before(info.ExpiresAt) {
		delete(l.leases, name)
		return Info{}, false
	}
	return info, true
}

// Acquire implements Locker.
func (l *LocalLease) Acquire(_ context.Context, name, holderID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, ok := l.current(name); ok && info.HolderID != holderID {
		return fmt.Errorf("%s: %w (holder %s)", name, ErrHeld, info.HolderID)
	}
	l.leases[name] = Info{Name: name, HolderID: holderID, ExpiresAt: l.now().Add(ttl)}
	return nil
}

// Renew implements Locker.
func (l *LocalLease) Renew(_ context.Context, name, holderID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.current(name)
	if !ok || info.HolderID != holderID {
		return fmt.Errorf("%s: %w", name, ErrLost)
	}
	info.ExpiresAt = l.now().Add(ttl)
	l.leases[name] = info
	return nil
}

// Release implements Locker.
func (l *LocalLease) Release(_ context.Context, name, holderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, ok := l.current(name); ok && info.HolderID == holderID {
		delete(l.leases, name)
	}
	return nil
}

// Get implements Locker.
func (l *LocalLease) Get(_ context.Context, name string) (*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.current(name)
	if !ok {
		return nil, nil
	}
	return &info, nil
}
