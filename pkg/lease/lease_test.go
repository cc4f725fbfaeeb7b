package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func runLockerTests(t *testing.T, l Locker, expire func(time.Duration)) {
	ctx := context.Background()
	ttl := 10 * time.Second

	t.Run("acquire free lease", func(t *testing.T) {
		if err := l.Acquire(ctx, "default", "run-1", ttl); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		info, err := l.Get(ctx, "default")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info == nil || info.HolderID != "run-1" {
			t.Fatalf("expected run-1 to hold the lease, got %+v", info)
		}
	})

	t.Run("second holder is rejected", func(t *testing.T) {
		err := l.Acquire(ctx, "default", "run-2", ttl)
		if !errors.Is(err, ErrHeld) {
			t.Fatalf("expected ErrHeld, got %v", err)
		}
	})

	t.Run("reacquire renews", func(t *testing.T) {
		if err := l.Acquire(ctx, "default", "run-1", ttl); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	})

	t.Run("namespaces are independent", func(t *testing.T) {
		if err := l.Acquire(ctx, "staging", "run-2", ttl); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := l.Release(ctx, "staging", "run-2"); err != nil {
			t.Fatalf("Release: %v", err)
		}
	})

	t.Run("renew by other holder fails", func(t *testing.T) {
		if err := l.Renew(ctx, "default", "run-2", ttl); !errors.Is(err, ErrLost) {
			t.Fatalf("expected ErrLost, got %v", err)
		}
	})

	t.Run("release by other holder is ignored", func(t *testing.T) {
		if err := l.Release(ctx, "default", "run-2"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		info, _ := l.Get(ctx, "default")
		if info == nil || info.HolderID != "run-1" {
			t.Fatalf("expected run-1 to keep the lease, got %+v", info)
		}
	})

	t.Run("release frees the lease", func(t *testing.T) {
		if err := l.Release(ctx, "default", "run-1"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		info, err := l.Get(ctx, "default")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info != nil {
			t.Fatalf("expected free lease, got %+v", info)
		}
		if err := l.Acquire(ctx, "default", "run-2", ttl); err != nil {
			t.Fatalf("Acquire after release: %v", err)
		}
	})

	t.Run("expired lease can be taken", func(t *testing.T) {
		expire(ttl + time.Second)
		if err := l.Renew(ctx, "default", "run-2", ttl); !errors.Is(err, ErrLost) {
			t.Fatalf("expected ErrLost after expiry, got %v", err)
		}
		if err := l.Acquire(ctx, "default", "run-3", ttl); err != nil {
			t.Fatalf("Acquire after expiry: %v", err)
		}
	})
}

func TestLocalLease(t *testing.T) {
	l := NewLocalLease()
	now := time.Now()
	l.now = func() time.Time { return now }

	runLockerTests(t, l, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisLease(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLease(client, "")
	runLockerTests(t, l, mr.FastForward)

	if !mr.Exists("validio:lease:default") {
		t.Error("expected lease key under the default prefix")
	}
}
