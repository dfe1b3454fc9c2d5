// Package store persists sealed mindfield sessions in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mindfield/internal/session"
)

// Schema for the mindfield session store.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    mode            TEXT NOT NULL,
    name            TEXT,
    intention       TEXT,
    started_ns      INTEGER NOT NULL,
    ended_ns        INTEGER NOT NULL,
    total_ticks     INTEGER NOT NULL,
    bit_count       INTEGER NOT NULL,
    final_mean      REAL NOT NULL,
    final_variance  REAL NOT NULL,
    final_z         REAL,
    baseline_id     TEXT,
    effect_size     REAL,
    marker_count    INTEGER NOT NULL,
    overruns        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    session_id      TEXT NOT NULL REFERENCES sessions(id),
    tick            INTEGER NOT NULL,
    at_ns           INTEGER NOT NULL,
    bit_count       INTEGER NOT NULL,
    running_mean    REAL NOT NULL,
    running_var     REAL NOT NULL,
    z_score         REAL,
    coherence       REAL,
    device_count    INTEGER NOT NULL,
    effect_size     REAL,
    marker_flag     INTEGER NOT NULL,
    marker_reason   TEXT,
    PRIMARY KEY (session_id, tick)
);

CREATE TABLE IF NOT EXISTS markers (
    session_id      TEXT NOT NULL REFERENCES sessions(id),
    ordinal         INTEGER NOT NULL,
    tick            INTEGER NOT NULL,
    at_ns           INTEGER NOT NULL,
    reason          TEXT NOT NULL,
    label           TEXT,
    coherence       REAL,
    PRIMARY KEY (session_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_ns);
`

// ErrNotFound reports a lookup for an unknown session.
var ErrNotFound = errors.New("store: session not found")

// Store is the SQLite session store. It implements session.Exporter.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and applies the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Export persists a sealed session with all snapshots and markers in one
// transaction.
func (s *Store) Export(sess *session.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sum := sess.Summary
	var z, effect any
	if sum.ZValid {
		z = sum.FinalZ
	}
	if sum.EffectValid {
		effect = sum.EffectSize
	}

	_, err = tx.Exec(`INSERT INTO sessions
		(id, mode, name, intention, started_ns, ended_ns, total_ticks, bit_count,
		 final_mean, final_variance, final_z, baseline_id, effect_size, marker_count, overruns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.Mode, sum.Name, sum.Intention,
		sum.StartedAt.UnixNano(), sum.EndedAt.UnixNano(),
		sum.TotalTicks, sum.BitCount, sum.FinalMean, sum.FinalVariance,
		z, nullString(sum.BaselineID), effect, sum.MarkerCount, sum.Overruns)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	snapStmt, err := tx.Prepare(`INSERT INTO snapshots
		(session_id, tick, at_ns, bit_count, running_mean, running_var,
		 z_score, coherence, device_count, effect_size, marker_flag, marker_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer snapStmt.Close()

	for i := range sess.Snapshots {
		snap := &sess.Snapshots[i]

		var snapZ, snapCoh, snapEffect any
		if snap.Since.ZValid {
			snapZ = snap.Since.ZScore
		}
		if !snap.Coherence.NoData {
			snapCoh = snap.Coherence.Value
		}
		if snap.EffectValid {
			snapEffect = snap.EffectSize
		}

		_, err = snapStmt.Exec(sess.ID, snap.Tick, snap.At.UnixNano(),
			snap.Since.Count, snap.Since.Mean, snap.Since.Variance,
			snapZ, snapCoh, snap.Coherence.DeviceCount, snapEffect,
			snap.MarkerFlag, nullString(string(snap.MarkerReason)))
		if err != nil {
			return fmt.Errorf("insert snapshot %d: %w", snap.Tick, err)
		}
	}

	for i, m := range sess.Markers {
		var coh any
		if m.Reason == session.MarkerAutoThreshold {
			coh = m.Coherence
		}
		_, err = tx.Exec(`INSERT INTO markers
			(session_id, ordinal, tick, at_ns, reason, label, coherence)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, i, m.Tick, m.At.UnixNano(), string(m.Reason), m.Label, coh)
		if err != nil {
			return fmt.Errorf("insert marker %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Summary loads the stored summary for a session.
func (s *Store) Summary(id string) (*session.Summary, error) {
	row := s.db.QueryRow(`SELECT id, mode, name, intention, started_ns, ended_ns,
		total_ticks, bit_count, final_mean, final_variance, final_z,
		baseline_id, effect_size, marker_count, overruns
		FROM sessions WHERE id = ?`, id)

	var sum session.Summary
	var startedNS, endedNS int64
	var z, effect sql.NullFloat64
	var baselineID sql.NullString

	err := row.Scan(&sum.SessionID, &sum.Mode, &sum.Name, &sum.Intention,
		&startedNS, &endedNS, &sum.TotalTicks, &sum.BitCount,
		&sum.FinalMean, &sum.FinalVariance, &z, &baselineID, &effect,
		&sum.MarkerCount, &sum.Overruns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sum.StartedAt = time.Unix(0, startedNS)
	sum.EndedAt = time.Unix(0, endedNS)
	if z.Valid {
		sum.FinalZ = z.Float64
		sum.ZValid = true
	}
	if baselineID.Valid {
		sum.BaselineID = baselineID.String
	}
	if effect.Valid {
		sum.EffectSize = effect.Float64
		sum.EffectValid = true
	}
	return &sum, nil
}

// LatestBaseline returns the most recent baseline summary, or ErrNotFound.
// Used to restore the retained baseline across daemon restarts.
func (s *Store) LatestBaseline() (*session.BaselineSummary, error) {
	row := s.db.QueryRow(`SELECT id, final_mean, final_variance, bit_count, total_ticks, ended_ns
		FROM sessions WHERE mode = 'baseline'
		ORDER BY ended_ns DESC LIMIT 1`)

	var b session.BaselineSummary
	var endedNS int64
	err := row.Scan(&b.SessionID, &b.Mean, &b.Variance, &b.BitCount, &b.Ticks, &endedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan baseline: %w", err)
	}
	b.CompletedAt = time.Unix(0, endedNS)
	return &b, nil
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
