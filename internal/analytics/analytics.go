// Package analytics summarizes the audit log: which gates fail the most,
// how long collaborators take, how evaluations end. Everything here is
// read-only SQL over the audit tables.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// GateStats holds outcome and duration stats for one gate.
type GateStats struct {
	Gate     string  `json:"gate"`
	Runs     int     `json:"runs"`
	PassPct  float64 `json:"pass_pct"`
	FailPct  float64 `json:"fail_pct"`
	SkipPct  float64 `json:"skip_pct"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	LastFail string  `json:"last_fail,omitempty"`
}

// QueryGateStats returns per-gate outcome rates and run durations. Pending
// writes are bookkeeping, not outcomes, so only terminal states count.
func QueryGateStats(database DB, since string) ([]GateStats, error) {
	query := `
		SELECT gate,
			COUNT(*) as total,
			SUM(CASE WHEN state = 'pass' THEN 1 ELSE 0 END) as passed,
			SUM(CASE WHEN state = 'fail' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN state = 'skip' THEN 1 ELSE 0 END) as skipped
		FROM status_events
		WHERE state != 'pending'`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY gate`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate stats: %w", err)
	}
	defer rows.Close()

	statsByGate := make(map[string]*GateStats)
	for rows.Next() {
		var gate string
		var total, passed, failed, skipped int
		if err := rows.Scan(&gate, &total, &passed, &failed, &skipped); err != nil {
			return nil, fmt.Errorf("scan gate stats: %w", err)
		}
		statsByGate[gate] = &GateStats{
			Gate:    gate,
			Runs:    total,
			PassPct: pct(passed, total),
			FailPct: pct(failed, total),
			SkipPct: pct(skipped, total),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachDurations(database, since, statsByGate); err != nil {
		return nil, err
	}
	if err := attachLastFailures(database, since, statsByGate); err != nil {
		return nil, err
	}

	var results []GateStats
	for _, s := range statsByGate {
		results = append(results, *s)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Gate < results[j].Gate
	})
	return results, nil
}

func attachDurations(database DB, since string, statsByGate map[string]*GateStats) error {
	query := `
		SELECT gate, duration_ms
		FROM invocations
		WHERE action = 'ran' AND duration_ms IS NOT NULL`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return fmt.Errorf("query gate durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var gate string
		var ms float64
		if err := rows.Scan(&gate, &ms); err != nil {
			return fmt.Errorf("scan gate duration: %w", err)
		}
		durations[gate] = append(durations[gate], ms)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for gate, values := range durations {
		s, ok := statsByGate[gate]
		if !ok {
			continue // invoked but never reached a terminal write
		}
		sort.Float64s(values)
		s.AvgMs = avg(values)
		s.P50Ms = percentile(values, 50)
		s.P95Ms = percentile(values, 95)
	}
	return nil
}

func attachLastFailures(database DB, since string, statsByGate map[string]*GateStats) error {
	for gate, s := range statsByGate {
		query := `
			SELECT evidence FROM status_events
			WHERE gate = ? AND state = 'fail'`
		args := []interface{}{gate}
		if since != "" {
			query += ` AND timestamp >= ?`
			args = append(args, since)
		}
		query += ` ORDER BY id DESC LIMIT 1`

		var evidence sql.NullString
		err := database.Conn().QueryRow(query, args...).Scan(&evidence)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("query last failure for %s: %w", gate, err)
		}
		if evidence.Valid {
			s.LastFail = evidence.String
		}
	}
	return nil
}

// VerdictCounts holds how evaluations ended.
type VerdictCounts struct {
	Finalized   int `json:"finalized"`
	Ready       int `json:"ready"`
	NeedsRework int `json:"needs_rework"`
}

// QueryVerdicts counts finalize decisions by verdict.
func QueryVerdicts(database DB, since string) (VerdictCounts, error) {
	query := `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN verdict = 'ready' THEN 1 ELSE 0 END) as ready,
			SUM(CASE WHEN verdict = 'needs-rework' THEN 1 ELSE 0 END) as rework
		FROM decisions
		WHERE action = 'finalize'`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	var counts VerdictCounts
	var ready, rework sql.NullInt64
	err := database.Conn().QueryRow(query, args...).Scan(&counts.Finalized, &ready, &rework)
	if err != nil {
		return VerdictCounts{}, fmt.Errorf("query verdicts: %w", err)
	}
	if ready.Valid {
		counts.Ready = int(ready.Int64)
	}
	if rework.Valid {
		counts.NeedsRework = int(rework.Int64)
	}
	return counts, nil
}

// ReworkNamer holds how often a gate was the one named by a needs-rework
// verdict. High counts point at the gate developers trip over most.
type ReworkNamer struct {
	Gate  string `json:"gate"`
	Count int    `json:"count"`
}

// QueryReworkNamers returns gates named in needs-rework decisions, most
// frequent first.
func QueryReworkNamers(database DB, since string) ([]ReworkNamer, error) {
	query := `
		SELECT gate, COUNT(*) as cnt
		FROM decisions
		WHERE action = 'finalize' AND verdict = 'needs-rework' AND gate != ''`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY gate ORDER BY cnt DESC, gate`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rework namers: %w", err)
	}
	defer rows.Close()

	var results []ReworkNamer
	for rows.Next() {
		var r ReworkNamer
		if err := rows.Scan(&r.Gate, &r.Count); err != nil {
			return nil, fmt.Errorf("scan rework namer: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
