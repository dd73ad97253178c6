// Package ledger manages the shared evaluation document: one externally
// stored text document per unit of work, holding a gates table, an
// append-only hop log, and a replaceable decision block, each delimited by
// a fixed anchor pair. All mutation is read-modify-write against a store
// with conditional writes, so racing workers detect each other instead of
// silently clobbering.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Region names. Each maps to an HTML-comment anchor pair that must appear
// exactly once in the document.
const (
	RegionGates    = "gates"
	RegionHopLog   = "hoplog"
	RegionDecision = "decision"
)

var (
	// ErrNotFound reports a missing document.
	ErrNotFound = errors.New("ledger document not found")
	// ErrExists reports a create against an existing document.
	ErrExists = errors.New("ledger document already exists")
	// ErrTokenMismatch reports a conditional write that lost: the document
	// changed after the caller fetched it.
	ErrTokenMismatch = errors.New("ledger document changed since read")
)

// AnchorError reports a document whose region anchors are missing or
// mangled. The manager refuses to guess where a region begins.
type AnchorError struct {
	Region string
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("ledger region %q anchors not found", e.Region)
}

// ConflictError reports that the write-conflict retry budget was spent.
// Callers must surface it, never fabricate an outcome to paper over it; the
// next invocation resolves on its own fresh read.
type ConflictError struct {
	Key      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger write conflict on %s after %d attempts", e.Key, e.Attempts)
}

// Document is one fetched ledger document: its addressable key, full text,
// and the conditional-write token current at fetch time.
type Document struct {
	Key   string
	Text  string
	Token string
}

// DocStore is the external document collection. Fetch returns the current
// text with a token; Write applies new text only if the token still
// matches, failing with ErrTokenMismatch otherwise.
type DocStore interface {
	Fetch(ctx context.Context, key string) (Document, error)
	Write(ctx context.Context, doc Document) error
	Create(ctx context.Context, key, text string) error
}
