package lock

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// Local is an in-process Locker for single-replica deployments.
type Local struct {
	held *xsync.Map[string, struct{}]
}

func NewLocal() *Local {
	return &Local{held: xsync.NewMap[string, struct{}]()}
}

func (l *Local) TryLock(_ context.Context, key string) (func(), error) {
	if _, loaded := l.held.LoadOrStore(key, struct{}{}); loaded {
		return nil, ErrNotAcquired
	}
	return func() { l.held.Delete(key) }, nil
}
