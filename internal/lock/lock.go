// Package lock provides the non-blocking named locks that keep the expiry
// sweepers from running the same sweep on two nodes at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockContention is returned by helpers that need to report that another
// owner holds the lock.  Acquire itself reports contention as (false, nil).
var ErrLockContention = errors.New("lock held by another owner")

// Locker acquires and releases named locks.  Acquire never blocks waiting
// for the lock: it reports false when someone else holds it.  Every lock
// carries a TTL so a crashed owner cannot keep it forever, and Release only
// removes a lock still owned by the caller, which makes it safe to call
// after the TTL ran out.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// releaseTimeout bounds the release call made after the work is done.  It
// runs on a context detached from the caller's so that a cancelled sweep
// still gives its lock back.
const releaseTimeout = 5 * time.Second

// Do acquires name, runs fn and releases the lock again whatever fn does,
// including panicking.  It returns ErrLockContention without running fn when
// the lock is held elsewhere.  A failed release is joined to fn's error.
func Do(ctx context.Context, l Locker, name string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	ok, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return ErrLockContention
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := l.Release(rctx, name); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release %s: %w", name, rerr))
		}
	}()
	return fn(ctx)
}
