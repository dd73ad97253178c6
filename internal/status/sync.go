package status

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry budgets. Every external call gets the first attempt plus at most
// two retries; unbounded loops are not allowed anywhere in the engine.
const (
	maxTransientRetries = 2
	maxConflictRetries  = 2

	defaultBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Synchronizer performs the idempotent create-or-update of status records.
// It owns the retry policy: transient store failures back off and retry,
// version conflicts re-read and re-apply, and when the conflict budget is
// spent it reports ErrManualResolution rather than overwrite blindly.
type Synchronizer struct {
	store   Store
	backoff time.Duration
	sleep   func(context.Context, time.Duration) error
}

// NewSynchronizer wraps a store with the engine retry policy.
func NewSynchronizer(store Store) *Synchronizer {
	return &Synchronizer{store: store, backoff: defaultBackoff, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Upsert writes s as the single logical record for (s.Gate, s.Revision).
// Calling it twice with the same input leaves one record; calling it from
// racing workers converges on the last accepted conditional write. A
// pending write against an already-terminal record is a no-op returning the
// stored terminal record, which keeps terminal transitions monotonic.
func (y *Synchronizer) Upsert(ctx context.Context, s Status) (StoredStatus, error) {
	if err := s.Validate(); err != nil {
		return StoredStatus{}, err
	}

	for conflicts := 0; ; conflicts++ {
		cur, err := y.find(ctx, s.Gate, s.Revision)
		switch {
		case errors.Is(err, ErrNotFound):
			created, cerr := y.create(ctx, s)
			if cerr == nil {
				return created, nil
			}
			if errors.Is(cerr, ErrExists) {
				// Lost the create race; re-read and update instead.
				if conflicts >= maxConflictRetries {
					return StoredStatus{}, fmt.Errorf("upsert %s@%s: %w", s.Gate, s.Revision, ErrManualResolution)
				}
				continue
			}
			return StoredStatus{}, cerr
		case err != nil:
			return StoredStatus{}, err
		}

		if cur.State.Terminal() && s.State == StatePending {
			return cur, nil
		}

		updated, uerr := y.update(ctx, cur.ID, cur.Version, s)
		if uerr == nil {
			return updated, nil
		}
		var conflict *ConflictError
		if errors.As(uerr, &conflict) || errors.Is(uerr, ErrNotFound) {
			// Another writer moved the record (or removed it) since our
			// read. Re-read and re-apply within the budget.
			if conflicts >= maxConflictRetries {
				return StoredStatus{}, fmt.Errorf("upsert %s@%s: %w", s.Gate, s.Revision, ErrManualResolution)
			}
			continue
		}
		return StoredStatus{}, uerr
	}
}

// Find reads the record for (gate, revision) with the transient-retry
// policy applied.
func (y *Synchronizer) Find(ctx context.Context, gate, revision string) (StoredStatus, error) {
	return y.find(ctx, gate, revision)
}

// List reads all records for a revision with the transient-retry policy
// applied.
func (y *Synchronizer) List(ctx context.Context, revision string) ([]StoredStatus, error) {
	var out []StoredStatus
	err := y.withTransientRetry(ctx, func() error {
		var err error
		out, err = y.store.List(ctx, revision)
		return err
	})
	return out, err
}

func (y *Synchronizer) find(ctx context.Context, gate, revision string) (StoredStatus, error) {
	var out StoredStatus
	err := y.withTransientRetry(ctx, func() error {
		var err error
		out, err = y.store.Find(ctx, gate, revision)
		return err
	})
	return out, err
}

func (y *Synchronizer) create(ctx context.Context, s Status) (StoredStatus, error) {
	var out StoredStatus
	err := y.withTransientRetry(ctx, func() error {
		var err error
		out, err = y.store.Create(ctx, s)
		return err
	})
	return out, err
}

func (y *Synchronizer) update(ctx context.Context, id string, version int64, s Status) (StoredStatus, error) {
	var out StoredStatus
	err := y.withTransientRetry(ctx, func() error {
		var err error
		out, err = y.store.Update(ctx, id, version, s)
		return err
	})
	return out, err
}

// withTransientRetry runs fn, retrying on *TransientError with exponential
// backoff capped at maxBackoff, at most maxTransientRetries times.
func (y *Synchronizer) withTransientRetry(ctx context.Context, fn func() error) error {
	backoff := y.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var transient *TransientError
		if !errors.As(err, &transient) || attempt >= maxTransientRetries {
			return err
		}
		if serr := y.sleep(ctx, backoff); serr != nil {
			return fmt.Errorf("retry wait: %w", serr)
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
