// Package lock keeps a meter's sync tick from running concurrently with
// itself, inside one process or across replicas.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("lock held elsewhere")

// Locker hands out exclusive locks keyed by name. TryLock never blocks; it
// returns ErrNotAcquired when the key is taken.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}
