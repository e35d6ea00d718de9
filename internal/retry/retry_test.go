package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner(transientMax, pendingMax int) (*Runner, *[]time.Duration) {
	r := NewRunner(
		IncrementalPolicy(transientMax, time.Second, 10*time.Second, 3*time.Minute),
		PendingPolicy(pendingMax, 100*time.Millisecond),
		metrics.Nop{},
		zap.NewNop(),
	)
	waits := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return r, waits
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindPermanent, Classify(Permanent(errors.New("bad"))))
	assert.Equal(t, KindPermanent, Classify(fmt.Errorf("decode: %w", events.ErrMalformed)))
	assert.Equal(t, KindPending, Classify(fmt.Errorf("tx: %w", ErrPending)))
	assert.Equal(t, KindTransient, Classify(errors.New("connection reset")))
	assert.Nil(t, Permanent(nil))
}

func TestIncrementalBackOff(t *testing.T) {
	b := &IncrementalBackOff{Initial: time.Second, Increment: 10 * time.Second, Max: 25 * time.Second}

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 11*time.Second, b.NextBackOff())
	assert.Equal(t, 21*time.Second, b.NextBackOff())
	assert.Equal(t, 25*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	r, waits := newTestRunner(5, 5)
	calls := 0

	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("db unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 11 * time.Second}, *waits)
}

func TestRunStopsOnPermanent(t *testing.T) {
	r, waits := newTestRunner(5, 5)
	calls := 0

	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errors.New("unknown grid area"))
	})

	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestRunExhaustsTransientBudget(t *testing.T) {
	r, _ := newTestRunner(2, 5)
	calls := 0
	cause := errors.New("wallet returned 500")

	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		return cause
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestPendingUsesItsOwnBudget(t *testing.T) {
	r, waits := newTestRunner(1, 10)
	calls := 0

	// Three pending rounds, one transient blip, then success. The transient
	// budget of one is untouched by the pending rounds.
	err := r.Run(context.Background(), func(context.Context) error {
		calls++
		switch calls {
		case 1, 2, 4:
			return fmt.Errorf("poll: %w", ErrPending)
		case 3:
			return errors.New("timeout")
		default:
			return nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		time.Second,
		100 * time.Millisecond,
	}, *waits)
}

func TestPendingExhaustion(t *testing.T) {
	r, _ := newTestRunner(5, 2)

	err := r.Run(context.Background(), func(context.Context) error {
		return ErrPending
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrPending)
}

func TestRunHonoursCancellation(t *testing.T) {
	r, _ := newTestRunner(5, 5)
	ctx, cancel := context.WithCancel(context.Background())

	err := r.Run(ctx, func(context.Context) error {
		cancel()
		return errors.New("interrupted")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
