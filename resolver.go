package brix

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultAttemptTimeout bounds a single store read so a hung network call
// cannot block state transitions. It is separate from the inter-attempt
// backoff; a timed-out read counts as a transient failure, not as missing.
const DefaultAttemptTimeout = 3 * time.Second

// ProfileResolver wraps a ProfileStore with bounded retry to absorb the lag
// between session creation and the backend trigger materializing the profile
// row.
type ProfileResolver struct {
	store          ProfileStore
	policy         RetryPolicy
	attemptTimeout time.Duration
	sleep          SleepFunc
	logger         Logger
}

// ResolverOption customizes resolver construction.
type ResolverOption func(*ProfileResolver)

// WithResolverPolicy overrides the retry policy.
func WithResolverPolicy(policy RetryPolicy) ResolverOption {
	return func(r *ProfileResolver) {
		r.policy = policy.normalize()
	}
}

// WithResolverAttemptTimeout overrides the per-read upper bound.
func WithResolverAttemptTimeout(d time.Duration) ResolverOption {
	return func(r *ProfileResolver) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

// WithResolverSleep injects the wait function (useful for tests).
func WithResolverSleep(sleep SleepFunc) ResolverOption {
	return func(r *ProfileResolver) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithResolverLogger overrides the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *ProfileResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewProfileResolver returns a resolver with the default policy.
func NewProfileResolver(store ProfileStore, opts ...ResolverOption) *ProfileResolver {
	r := &ProfileResolver{
		store:          store,
		policy:         DefaultRetryPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
		sleep:          sleepContext,
		logger:         defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Resolve reads the profile for userID, retrying missing rows and transient
// failures per the policy. Structural store errors return immediately.
// Cancelling ctx aborts between and during attempts; the caller discards the
// result of a superseded resolution.
func (r *ProfileResolver) Resolve(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		profile, err := r.readOnce(ctx, userID)
		if err == nil {
			return profile, nil
		}

		// a cancelled parent always wins over classification
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case IsProfileNotFound(err):
			lastErr = err
			r.logger.Debug("profile %s not found, attempt %d/%d", userID, attempt, r.policy.MaxAttempts)
		case IsTransientStoreError(err):
			lastErr = err
			r.logger.Warn("transient profile read failure for %s, attempt %d/%d: %v", userID, attempt, r.policy.MaxAttempts, err)
		default:
			return nil, err
		}

		if attempt == r.policy.MaxAttempts {
			break
		}

		if err := r.sleep(ctx, r.policy.Delay(attempt)); err != nil {
			return nil, err
		}
	}

	if IsProfileNotFound(lastErr) {
		return nil, ErrProfileNotFound.WithMetadata(map[string]any{
			"user_id":  userID.String(),
			"attempts": r.policy.MaxAttempts,
		})
	}

	return nil, goerrors.Wrap(lastErr, goerrors.CategoryOperation, "profile read failed after retries").
		WithTextCode(TextCodeProfileStore)
}

func (r *ProfileResolver) readOnce(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	return r.store.ReadProfile(attemptCtx, userID)
}
