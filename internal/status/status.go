// Package status defines gate status records, the store contract they live
// behind, and the idempotent synchronizer that keeps one logical record per
// (gate, revision) no matter how many workers race or retry.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/gatewright/internal/evidence"
)

// State is the lifecycle position of a gate for one revision.
type State string

const (
	StatePending State = "pending"
	StatePass    State = "pass"
	StateFail    State = "fail"
	StateSkip    State = "skip"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StatePass, StateFail, StateSkip:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal records are never
// reverted to pending for the same revision.
func (s State) Terminal() bool {
	return s == StatePass || s == StateFail || s == StateSkip
}

// Status is the logical gate outcome record for one (gate, revision) pair.
type Status struct {
	Gate      string
	Revision  string
	State     State
	Evidence  evidence.Evidence
	UpdatedAt time.Time
}

// Validate checks the key fields a store needs to accept the record.
func (s Status) Validate() error {
	if s.Gate == "" {
		return errors.New("status has no gate name")
	}
	if s.Revision == "" {
		return errors.New("status has no revision")
	}
	if !s.State.Valid() {
		return fmt.Errorf("status state %q is not valid", s.State)
	}
	if s.State.Terminal() && s.Evidence.IsZero() {
		return fmt.Errorf("terminal status for %s@%s carries no evidence", s.Gate, s.Revision)
	}
	return nil
}

// StoredStatus is a Status as persisted: the record identity plus the
// conditional-update version token.
type StoredStatus struct {
	Status
	ID      string
	Version int64
}

var (
	// ErrNotFound reports that no record exists for the key or id.
	ErrNotFound = errors.New("status record not found")
	// ErrExists reports a create against an existing (gate, revision) key.
	ErrExists = errors.New("status record already exists")
	// ErrManualResolution reports that conflicting writers could not be
	// reconciled within the retry budget. Routing surfaces it instead of
	// letting either writer win silently.
	ErrManualResolution = errors.New("status record needs manual resolution")
)

// TransientError wraps a store failure that is worth retrying: network
// hiccups, lock timeouts, connection resets.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports a conditional update that lost: the record moved
// past the version the writer read.
type ConflictError struct {
	Gate     string
	Revision string
	Version  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s@%s (stale version %d)", e.Gate, e.Revision, e.Version)
}

// Store is the external status-record collection. Implementations must key
// records by (gate, revision), assign version tokens, and reject updates
// carrying a stale version with *ConflictError.
type Store interface {
	// Find returns the record for (gate, revision) or ErrNotFound.
	Find(ctx context.Context, gate, revision string) (StoredStatus, error)
	// List returns all records for a revision, ordered by gate name.
	List(ctx context.Context, revision string) ([]StoredStatus, error)
	// Create inserts a new record at version 1, or fails with ErrExists.
	Create(ctx context.Context, s Status) (StoredStatus, error)
	// Update replaces the record content if version is still current,
	// bumping the version; otherwise it fails with *ConflictError.
	Update(ctx context.Context, id string, version int64, s Status) (StoredStatus, error)
}
