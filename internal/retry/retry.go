// Package retry runs message handlers under two independent policies: an
// incremental policy for transient failures and a short fixed policy for
// work that is still being processed by someone else.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"go.uber.org/zap"
)

type Kind int

const (
	KindTransient Kind = iota
	KindPending
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindPending:
		return "pending"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

var (
	ErrPermanent = errors.New("permanent failure")
	// ErrPending signals that the outcome is not known yet. It is not a
	// failure and never consumes the transient budget.
	ErrPending   = errors.New("still processing")
	ErrExhausted = errors.New("retry attempts exhausted")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent marks err so it is never retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify decides which policy, if any, applies to err.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrPermanent), errors.Is(err, events.ErrMalformed):
		return KindPermanent
	case errors.Is(err, ErrPending):
		return KindPending
	default:
		return KindTransient
	}
}

// Policy bounds one kind of retry.
type Policy struct {
	Name        string
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
}

// IncrementalPolicy grows the wait linearly from initial by increment, capped at ceiling.
func IncrementalPolicy(maxAttempts int, initial, increment, ceiling time.Duration) Policy {
	return Policy{
		Name:        "incremental",
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return &IncrementalBackOff{Initial: initial, Increment: increment, Max: ceiling}
		},
	}
}

// PendingPolicy waits a fixed interval between polls.
func PendingPolicy(maxAttempts int, every time.Duration) Policy {
	return Policy{
		Name:        "registry-pending",
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(every)
		},
	}
}

// IncrementalBackOff implements backoff.BackOff with linear growth.
type IncrementalBackOff struct {
	Initial   time.Duration
	Increment time.Duration
	Max       time.Duration

	next time.Duration
	used bool
}

func (b *IncrementalBackOff) NextBackOff() time.Duration {
	if !b.used {
		b.used = true
		b.next = b.Initial
	} else {
		b.next += b.Increment
	}
	if b.Max > 0 && b.next > b.Max {
		b.next = b.Max
	}
	return b.next
}

func (b *IncrementalBackOff) Reset() {
	b.used = false
	b.next = 0
}

// Runner executes an operation until it succeeds, fails permanently or a
// policy runs out of attempts. Each policy keeps its own attempt count.
type Runner struct {
	transient Policy
	pending   Policy
	recorder  metrics.Recorder
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRunner(transient, pending Policy, recorder metrics.Recorder, logger *zap.Logger) *Runner {
	return &Runner{
		transient: transient,
		pending:   pending,
		recorder:  recorder,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Run calls op until it returns nil. The returned error is either a
// permanent error, the context error, or wraps ErrExhausted.
func (r *Runner) Run(ctx context.Context, op func(ctx context.Context) error) error {
	policies := map[Kind]Policy{KindTransient: r.transient, KindPending: r.pending}
	backoffs := map[Kind]backoff.BackOff{
		KindTransient: r.transient.NewBackOff(),
		KindPending:   r.pending.NewBackOff(),
	}
	attempts := map[Kind]int{}

	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		kind := Classify(err)
		if kind == KindPermanent {
			return err
		}

		policy := policies[kind]
		attempts[kind]++
		if attempts[kind] > policy.MaxAttempts {
			return fmt.Errorf("%w: %s policy after %d retries: %w", ErrExhausted, policy.Name, policy.MaxAttempts, err)
		}

		wait := backoffs[kind].NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%w: %s policy stopped: %w", ErrExhausted, policy.Name, err)
		}

		r.recorder.RetryScheduled(policy.Name)
		r.logger.Debug("Retrying handler",
			zap.String("policy", policy.Name),
			zap.Int("attempt", attempts[kind]),
			zap.Duration("wait", wait),
			zap.Error(err))

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
