// Package postgres backs the status store with Postgres for teams whose
// workers run on many hosts. Conditional updates ride on a version column;
// the (gate, revision) uniqueness lives in the schema, so two racing
// creates cannot both win no matter which host they run on.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/gatewright/internal/evidence"
	"github.com/lucasnoah/gatewright/internal/status"
)

// Connect builds a pgx pool for the DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS gate_statuses (
    id         TEXT PRIMARY KEY,
    gate       TEXT NOT NULL,
    revision   TEXT NOT NULL,
    state      TEXT NOT NULL,
    evidence   TEXT NOT NULL DEFAULT '',
    version    BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE (gate, revision)
);
CREATE INDEX IF NOT EXISTS idx_gate_statuses_revision ON gate_statuses(revision);
`

// Store implements status.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

// Find implements status.Store.
func (s *Store) Find(ctx context.Context, gate, revision string) (status.StoredStatus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, gate, revision, state, evidence, version, updated_at
		 FROM gate_statuses WHERE gate = $1 AND revision = $2`,
		gate, revision)
	rec, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return status.StoredStatus{}, status.ErrNotFound
	}
	if err != nil {
		return status.StoredStatus{}, wrap("find", err)
	}
	return rec, nil
}

// List implements status.Store.
func (s *Store) List(ctx context.Context, revision string) ([]status.StoredStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, gate, revision, state, evidence, version, updated_at
		 FROM gate_statuses WHERE revision = $1 ORDER BY gate`,
		revision)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	var out []status.StoredStatus
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, wrap("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list", err)
	}
	return out, nil
}

// Create implements status.Store.
func (s *Store) Create(ctx context.Context, st status.Status) (status.StoredStatus, error) {
	if err := st.Validate(); err != nil {
		return status.StoredStatus{}, err
	}
	stored := status.StoredStatus{Status: st, ID: uuid.NewString(), Version: 1}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gate_statuses (id, gate, revision, state, evidence, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6)`,
		stored.ID, st.Gate, st.Revision, string(st.State), encodeEvidence(st.Evidence), st.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return status.StoredStatus{}, fmt.Errorf("create %s@%s: %w", st.Gate, st.Revision, status.ErrExists)
		}
		return status.StoredStatus{}, wrap("create", err)
	}
	return stored, nil
}

// Update implements status.Store.
func (s *Store) Update(ctx context.Context, id string, version int64, st status.Status) (status.StoredStatus, error) {
	if err := st.Validate(); err != nil {
		return status.StoredStatus{}, err
	}
	var newVersion int64
	err := s.pool.QueryRow(ctx,
		`UPDATE gate_statuses
		 SET state = $3, evidence = $4, updated_at = $5, version = version + 1
		 WHERE id = $1 AND version = $2 AND gate = $6 AND revision = $7
		 RETURNING version`,
		id, version, string(st.State), encodeEvidence(st.Evidence), st.UpdatedAt.UTC(), st.Gate, st.Revision,
	).Scan(&newVersion)
	if err == nil {
		return status.StoredStatus{Status: st, ID: id, Version: newVersion}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return status.StoredStatus{}, wrap("update", err)
	}

	// The conditional update matched nothing. Work out why.
	cur, err := s.findByID(ctx, id)
	if errors.Is(err, status.ErrNotFound) {
		return status.StoredStatus{}, fmt.Errorf("update id %s: %w", id, status.ErrNotFound)
	}
	if err != nil {
		return status.StoredStatus{}, err
	}
	if cur.Gate != st.Gate || cur.Revision != st.Revision {
		return status.StoredStatus{}, fmt.Errorf("update id %s: key mismatch (%s@%s vs %s@%s)",
			id, st.Gate, st.Revision, cur.Gate, cur.Revision)
	}
	return status.StoredStatus{}, &status.ConflictError{Gate: cur.Gate, Revision: cur.Revision, Version: version}
}

func (s *Store) findByID(ctx context.Context, id string) (status.StoredStatus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, gate, revision, state, evidence, version, updated_at
		 FROM gate_statuses WHERE id = $1`, id)
	rec, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return status.StoredStatus{}, status.ErrNotFound
	}
	if err != nil {
		return status.StoredStatus{}, wrap("find by id", err)
	}
	return rec, nil
}

func scanStatus(row pgx.Row) (status.StoredStatus, error) {
	var rec status.StoredStatus
	var state, encoded string
	var updatedAt time.Time
	if err := row.Scan(&rec.ID, &rec.Gate, &rec.Revision, &state, &encoded, &rec.Version, &updatedAt); err != nil {
		return status.StoredStatus{}, err
	}
	rec.State = status.State(state)
	rec.UpdatedAt = updatedAt
	rec.Evidence = decodeStoredEvidence(encoded)
	return rec, nil
}

// encodeEvidence renders evidence for the text column; pending records
// store the empty string.
func encodeEvidence(ev evidence.Evidence) string {
	if ev.IsZero() {
		return ""
	}
	return evidence.Encode(ev)
}

// decodeStoredEvidence mirrors the file store's recovery rule: a mangled
// evidence line flags the proof as corrupt but leaves the record readable.
func decodeStoredEvidence(encoded string) evidence.Evidence {
	if encoded == "" {
		return evidence.Evidence{}
	}
	ev, err := evidence.Decode(encoded)
	if err != nil {
		return evidence.Evidence{
			Kind:       evidence.KindFail,
			ReasonCode: evidence.ReasonEvidenceCorrupt,
			FreeText:   evidence.Truncate(err.Error()),
		}
	}
	return ev
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// wrap classifies a store failure. Connection-level trouble becomes a
// retryable TransientError; everything else (bad SQL, constraint breakage)
// surfaces as-is because retrying cannot fix it.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isTransient(err) {
		return &status.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Transient SQLSTATE classes: 08 connection exception, 53 insufficient
// resources, 57 operator intervention, 58 system error; plus deadlock,
// serialization, and lock-timeout codes. Errors without a SQLSTATE never
// reached the server and are worth retrying too.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return true
	}
	if len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "53", "57", "58":
		return true
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}
