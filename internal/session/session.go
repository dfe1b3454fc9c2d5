// Package session implements the mindfield session state machine: baseline
// and experiment runs over the whitened bitstream, synchronized with the
// coherence aggregate, producing tick-aligned snapshots for export.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"mindfield/internal/coherence"
	"mindfield/internal/stats"
)

// Mode is the controller state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeBaseline
	ModeExperiment
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeBaseline:
		return "baseline"
	case ModeExperiment:
		return "experiment"
	default:
		return "unknown"
	}
}

// MarkerReason tags why a marker was recorded.
type MarkerReason string

const (
	MarkerManual        MarkerReason = "manual"
	MarkerAutoThreshold MarkerReason = "auto-threshold"
)

// Marker is a recorded tick flagged as significant.
type Marker struct {
	Tick      uint64       `json:"tick"`
	At        time.Time    `json:"at"`
	Reason    MarkerReason `json:"reason"`
	Label     string       `json:"label,omitempty"`
	Coherence float64      `json:"coherence,omitempty"`
}

// Snapshot is one tick's synchronized record: bit statistics, coherence
// aggregate, effect size, and marker flag. Created once per tick, immutable,
// owned by the session's sample log.
type Snapshot struct {
	Tick uint64    `json:"tick"`
	At   time.Time `json:"at"`

	// Since is the cumulative counters since session start; Window since
	// the last marker.
	Since  stats.Counters `json:"since_start"`
	Window stats.Counters `json:"since_marker"`

	Coherence coherence.Aggregate `json:"coherence"`

	// EffectSize is the relative shift from the retained baseline mean.
	// EffectValid is false while no baseline exists (no-baseline).
	EffectSize  float64 `json:"effect_size"`
	EffectValid bool    `json:"effect_valid"`

	MarkerFlag   bool         `json:"marker_flag"`
	MarkerReason MarkerReason `json:"marker_reason,omitempty"`
}

// BaselineSummary is the retained statistics of a completed baseline
// session. Shared by reference with later experiment sessions, read-only,
// never mutated after the baseline ends.
type BaselineSummary struct {
	SessionID   string    `json:"session_id"`
	Mean        float64   `json:"mean"`
	Variance    float64   `json:"variance"`
	BitCount    uint64    `json:"bit_count"`
	Ticks       uint64    `json:"ticks"`
	CompletedAt time.Time `json:"completed_at"`
}

// Summary is the sealed-session record.
type Summary struct {
	SessionID     string    `json:"session_id"`
	Mode          string    `json:"mode"`
	Name          string    `json:"name,omitempty"`
	Intention     string    `json:"intention,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	TotalTicks    uint64    `json:"total_ticks"`
	BitCount      uint64    `json:"bit_count"`
	FinalMean     float64   `json:"final_mean"`
	FinalVariance float64   `json:"final_variance"`
	FinalZ        float64   `json:"final_z"`
	ZValid        bool      `json:"z_valid"`
	BaselineID    string    `json:"baseline_id,omitempty"`
	EffectSize    float64   `json:"effect_size"`
	EffectValid   bool      `json:"effect_valid"`
	MarkerCount   int       `json:"marker_count"`
	Overruns      uint64    `json:"overruns"`
}

// Session is one baseline or experiment run. It is created on the transition
// out of idle, mutated only on the sampling goroutine, and sealed (immutable)
// when the controller returns to idle.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Intention string    `json:"intention,omitempty"`
	Mode      Mode      `json:"-"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Snapshots []Snapshot `json:"snapshots"`
	Markers   []Marker   `json:"markers"`

	// Baseline is the summary this experiment is compared against, nil
	// for baseline sessions or when none has completed yet.
	Baseline *BaselineSummary `json:"baseline,omitempty"`

	Summary Summary `json:"summary"`

	sealed bool
}

// Sealed reports whether the session has completed and become immutable.
func (s *Session) Sealed() bool { return s.sealed }

// Exporter receives sealed sessions. Implementations: the SQLite store and
// the CSV/JSON file writers.
type Exporter interface {
	Export(s *Session) error
}

// newSessionID returns a random 16-hex-char identifier.
func newSessionID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
