package db

import (
	"database/sql"
	"fmt"
)

// Invocation actions recorded in the audit log.
const (
	ActionRan               = "ran"
	ActionSkippedOutOfScope = "skipped_out_of_scope"
	ActionBlocked           = "blocked"
	ActionAlreadyTerminal   = "already_terminal"
)

// Invocation represents a row in the invocations table.
type Invocation struct {
	ID         int
	HopID      string
	Gate       string
	Revision   string
	Flow       string
	Action     string
	ExitCode   int
	DurationMs int64
	Timestamp  string
}

// StatusEvent represents a row in the status_events table.
type StatusEvent struct {
	ID        int
	HopID     string
	Gate      string
	Revision  string
	State     string
	Evidence  string
	Timestamp string
}

// DecisionEvent represents a row in the decisions table.
type DecisionEvent struct {
	ID            int
	Revision      string
	Action        string
	Gate          string
	Verdict       string
	Justification string
	Timestamp     string
}

// LogInvocation inserts an invocation record.
func (d *DB) LogInvocation(hopID, gate, revision, flow, action string, exitCode int, durationMs int64) error {
	_, err := d.conn.Exec(
		`INSERT INTO invocations (hop_id, gate, revision, flow, action, exit_code, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hopID, gate, revision, flow, action, exitCode, durationMs,
	)
	if err != nil {
		return fmt.Errorf("log invocation: %w", err)
	}
	return nil
}

// LogStatusEvent inserts a status transition record.
func (d *DB) LogStatusEvent(hopID, gate, revision, state, evidence string) error {
	_, err := d.conn.Exec(
		`INSERT INTO status_events (hop_id, gate, revision, state, evidence)
		 VALUES (?, ?, ?, ?, ?)`,
		hopID, gate, revision, state, evidence,
	)
	if err != nil {
		return fmt.Errorf("log status event: %w", err)
	}
	return nil
}

// LogDecision inserts a routing decision record.
func (d *DB) LogDecision(revision, action, gate, verdict, justification string) error {
	_, err := d.conn.Exec(
		`INSERT INTO decisions (revision, action, gate, verdict, justification)
		 VALUES (?, ?, ?, ?, ?)`,
		revision, action, gate, verdict, justification,
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// GetInvocations returns invocations for a revision, newest first.
func (d *DB) GetInvocations(revision string) ([]Invocation, error) {
	rows, err := d.conn.Query(
		`SELECT id, hop_id, gate, revision, flow, action, exit_code, duration_ms, timestamp
		 FROM invocations WHERE revision = ? ORDER BY id DESC`,
		revision,
	)
	if err != nil {
		return nil, fmt.Errorf("get invocations: %w", err)
	}
	defer rows.Close()

	var invocations []Invocation
	for rows.Next() {
		var inv Invocation
		var flow sql.NullString
		var exitCode, durationMs sql.NullInt64
		if err := rows.Scan(&inv.ID, &inv.HopID, &inv.Gate, &inv.Revision, &flow, &inv.Action, &exitCode, &durationMs, &inv.Timestamp); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		if flow.Valid {
			inv.Flow = flow.String
		}
		if exitCode.Valid {
			inv.ExitCode = int(exitCode.Int64)
		}
		if durationMs.Valid {
			inv.DurationMs = durationMs.Int64
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// GetStatusEvents returns status transitions for a revision in write order.
func (d *DB) GetStatusEvents(revision string) ([]StatusEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, hop_id, gate, revision, state, evidence, timestamp
		 FROM status_events WHERE revision = ? ORDER BY id`,
		revision,
	)
	if err != nil {
		return nil, fmt.Errorf("get status events: %w", err)
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var hopID, evidence sql.NullString
		if err := rows.Scan(&e.ID, &hopID, &e.Gate, &e.Revision, &e.State, &evidence, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		if hopID.Valid {
			e.HopID = hopID.String
		}
		if evidence.Valid {
			e.Evidence = evidence.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestDecision returns the most recent decision for a revision.
func (d *DB) GetLatestDecision(revision string) (*DecisionEvent, error) {
	row := d.conn.QueryRow(
		`SELECT id, revision, action, gate, verdict, justification, timestamp
		 FROM decisions WHERE revision = ? ORDER BY id DESC LIMIT 1`,
		revision,
	)
	var e DecisionEvent
	var gate, verdict, justification sql.NullString
	err := row.Scan(&e.ID, &e.Revision, &e.Action, &gate, &verdict, &justification, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest decision: %w", err)
	}
	if gate.Valid {
		e.Gate = gate.String
	}
	if verdict.Valid {
		e.Verdict = verdict.String
	}
	if justification.Valid {
		e.Justification = justification.String
	}
	return &e, nil
}

// GetDecisions returns all decisions for a revision in write order.
func (d *DB) GetDecisions(revision string) ([]DecisionEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, revision, action, gate, verdict, justification, timestamp
		 FROM decisions WHERE revision = ? ORDER BY id`,
		revision,
	)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	var events []DecisionEvent
	for rows.Next() {
		var e DecisionEvent
		var gate, verdict, justification sql.NullString
		if err := rows.Scan(&e.ID, &e.Revision, &e.Action, &gate, &verdict, &justification, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if gate.Valid {
			e.Gate = gate.String
		}
		if verdict.Valid {
			e.Verdict = verdict.String
		}
		if justification.Valid {
			e.Justification = justification.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RevisionActivity is one recently active revision with the timestamp of
// its latest audit row.
type RevisionActivity struct {
	Revision string
	LastSeen string
}

// RecentRevisions returns the most recently active revisions, newest first.
// Activity is anything the audit log saw: an invocation or a decision, so
// revisions that only ever finalized still show up.
func (d *DB) RecentRevisions(limit int) ([]RevisionActivity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT revision, MAX(timestamp) AS last FROM (
			SELECT revision, timestamp FROM invocations
			UNION ALL
			SELECT revision, timestamp FROM decisions
		 ) GROUP BY revision ORDER BY last DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent revisions: %w", err)
	}
	defer rows.Close()

	var revisions []RevisionActivity
	for rows.Next() {
		var r RevisionActivity
		if err := rows.Scan(&r.Revision, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("scan revision activity: %w", err)
		}
		revisions = append(revisions, r)
	}
	return revisions, rows.Err()
}
