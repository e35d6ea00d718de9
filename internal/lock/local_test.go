package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTryLock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "meter-1")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "meter-1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.TryLock(ctx, "meter-2")
	require.NoError(t, err)
	other()

	unlock()
	again, err := l.TryLock(ctx, "meter-1")
	require.NoError(t, err)
	again()
}

func TestLocalTryLockIsExclusiveUnderContention(t *testing.T) {
	l := NewLocal()
	var acquired atomic.Int32
	var wg sync.WaitGroup

	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock(context.Background(), "meter-1"); err == nil {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

var _ Locker = (*Local)(nil)
var _ Locker = (*Redis)(nil)
