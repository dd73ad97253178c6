package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Write-conflict retry budget: the first attempt plus at most two retries,
// mirroring the engine-wide bound on external calls.
const (
	maxWriteRetries = 2

	defaultBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Manager performs the anchored, region-scoped rewrites. Every operation
// fetches the document fresh, splices exactly one region, and writes back
// conditionally; on a token mismatch it re-reads and re-applies within the
// retry budget, then fails with *ConflictError.
type Manager struct {
	store   DocStore
	backoff time.Duration
	sleep   func(context.Context, time.Duration) error
}

// NewManager wraps a document store with the engine retry policy.
func NewManager(store DocStore) *Manager {
	return &Manager{
		store:   store,
		backoff: defaultBackoff,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Init creates the scaffolded document if it does not exist. An existing
// document is left alone as long as its anchors are intact.
func (m *Manager) Init(ctx context.Context, key, title string) error {
	doc, err := m.store.Fetch(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if cerr := m.store.Create(ctx, key, Scaffold(title)); cerr != nil && !errors.Is(cerr, ErrExists) {
			return fmt.Errorf("create ledger %s: %w", key, cerr)
		}
		return nil
	case err != nil:
		return err
	}
	if strings.TrimSpace(doc.Text) == "" {
		return m.store.Write(ctx, Document{Key: key, Text: Scaffold(title), Token: doc.Token})
	}
	for _, region := range []string{RegionGates, RegionHopLog, RegionDecision} {
		if _, _, aerr := locateRegion(doc.Text, region); aerr != nil {
			return fmt.Errorf("ledger %s exists but is unusable: %w", key, aerr)
		}
	}
	return nil
}

// RewriteGatesTable replaces the gates region with a fresh rendering of
// rows. Full-region replacement, last writer wins on this region only.
func (m *Manager) RewriteGatesTable(ctx context.Context, key string, rows []Row) error {
	table := renderGatesTable(rows)
	return m.rewrite(ctx, key, func(text string) (string, error) {
		return spliceRegion(text, RegionGates, table)
	})
}

// AppendHopLog adds one line to the hop log. The read-append-write cycle
// re-reads on conflict, so a concurrent append is never destroyed.
func (m *Manager) AppendHopLog(ctx context.Context, key, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return errors.New("hop log entry is empty")
	}
	if strings.ContainsAny(line, "\n\r") {
		return errors.New("hop log entry must be a single line")
	}
	return m.rewrite(ctx, key, func(text string) (string, error) {
		return appendToRegion(text, RegionHopLog, line)
	})
}

// ReplaceDecision swaps the decision block for the given rendering.
func (m *Manager) ReplaceDecision(ctx context.Context, key, block string) error {
	return m.rewrite(ctx, key, func(text string) (string, error) {
		return spliceRegion(text, RegionDecision, strings.TrimRight(block, "\n"))
	})
}

// Read fetches the current document.
func (m *Manager) Read(ctx context.Context, key string) (Document, error) {
	return m.store.Fetch(ctx, key)
}

// Region returns one region's current content from a fetched document.
func (m *Manager) Region(doc Document, region string) (string, error) {
	return regionContent(doc.Text, region)
}

// rewrite runs one fetch-mutate-write cycle, retrying conditional-write
// losses with backoff until the budget is spent.
func (m *Manager) rewrite(ctx context.Context, key string, mutate func(string) (string, error)) error {
	backoff := m.backoff
	for attempt := 0; ; attempt++ {
		doc, err := m.store.Fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("fetch ledger %s: %w", key, err)
		}
		next, err := mutate(doc.Text)
		if err != nil {
			return err
		}
		doc.Text = next

		err = m.store.Write(ctx, doc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTokenMismatch) {
			return fmt.Errorf("write ledger %s: %w", key, err)
		}
		if attempt >= maxWriteRetries {
			return &ConflictError{Key: key, Attempts: attempt + 1}
		}
		if serr := m.sleep(ctx, backoff); serr != nil {
			return fmt.Errorf("retry wait: %w", serr)
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
