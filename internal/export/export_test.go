package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mindfield/internal/coherence"
	"mindfield/internal/session"
	"mindfield/internal/stats"
)

// exportSchema pins the JSON document layout downstream tooling depends on.
const exportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["format_version", "summary", "session"],
  "properties": {
    "format_version": {"type": "integer", "minimum": 1},
    "summary": {
      "type": "object",
      "required": ["session_id", "mode", "started_at", "ended_at",
                   "total_ticks", "bit_count", "final_mean",
                   "final_variance", "z_valid", "effect_valid",
                   "marker_count"],
      "properties": {
        "session_id": {"type": "string", "minLength": 1},
        "mode": {"enum": ["baseline", "experiment"]},
        "total_ticks": {"type": "integer", "minimum": 0},
        "bit_count": {"type": "integer", "minimum": 0},
        "final_mean": {"type": "number", "minimum": 0, "maximum": 1},
        "z_valid": {"type": "boolean"},
        "effect_valid": {"type": "boolean"},
        "marker_count": {"type": "integer", "minimum": 0}
      }
    },
    "session": {
      "type": "object",
      "required": ["id", "started_at", "ended_at", "snapshots"],
      "properties": {
        "snapshots": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["tick", "at", "since_start", "since_marker", "coherence"],
            "properties": {
              "tick": {"type": "integer", "minimum": 0},
              "coherence": {
                "type": "object",
                "required": ["tick", "value", "device_count", "no_data"],
                "properties": {
                  "value": {"type": "number", "minimum": 0, "maximum": 1},
                  "no_data": {"type": "boolean"}
                }
              }
            }
          }
        }
      }
    }
  }
}`

func testSession() *session.Session {
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ended := started.Add(time.Minute)

	sess := &session.Session{
		ID:        "deadbeef01234567",
		Name:      "evening run",
		Intention: "hold focus",
		StartedAt: started,
		EndedAt:   ended,
		Snapshots: []session.Snapshot{
			{
				Tick:      0,
				At:        started,
				Since:     stats.Counters{Count: 8, Mean: 0.625, Variance: 0.234375, ZScore: 0.7071, ZValid: true},
				Window:    stats.Counters{Count: 8, Mean: 0.625, Variance: 0.234375, ZScore: 0.7071, ZValid: true},
				Coherence: coherence.Aggregate{Tick: 0, Value: 0.71, DeviceCount: 2},
			},
			{
				Tick:       1,
				At:         started.Add(10 * time.Millisecond),
				Since:      stats.Counters{Count: 16, Mean: 0.5, Variance: 0.25, ZValid: true},
				Window:     stats.Counters{Count: 16, Mean: 0.5, Variance: 0.25, ZValid: true},
				Coherence:  coherence.Aggregate{Tick: 1, NoData: true},
				MarkerFlag: true, MarkerReason: session.MarkerAutoThreshold,
			},
		},
		Markers: []session.Marker{
			{Tick: 1, At: started.Add(10 * time.Millisecond), Reason: session.MarkerAutoThreshold, Coherence: 0.88},
		},
	}
	sess.Summary = session.Summary{
		SessionID:     sess.ID,
		Mode:          "experiment",
		Name:          sess.Name,
		Intention:     sess.Intention,
		StartedAt:     started,
		EndedAt:       ended,
		TotalTicks:    2,
		BitCount:      16,
		FinalMean:     0.5,
		FinalVariance: 0.25,
		ZValid:        true,
		BaselineID:    "cafe000011112222",
		EffectSize:    0.0,
		EffectValid:   true,
		MarkerCount:   1,
	}
	return sess
}

func exportedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"csv":  FormatCSV,
		"json": FormatJSON,
		"both": FormatBoth,
		"":     FormatBoth,
	} {
		got, err := ParseFormat(in)
		if err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestExportFileNaming(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatBoth)
	if err := w.Export(testSession()); err != nil {
		t.Fatal(err)
	}

	names := exportedFiles(t, dir)
	if len(names) != 2 {
		t.Fatalf("expected csv and json, got %v", names)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, "mindfield_experiment_20260314_092653_deadbeef01234567") {
			t.Errorf("unexpected export name %q", name)
		}
	}
}

func TestExportCSVOnly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, FormatCSV)
	if err := w.Export(testSession()); err != nil {
		t.Fatal(err)
	}
	names := exportedFiles(t, dir)
	if len(names) != 1 || !strings.HasSuffix(names[0], ".csv") {
		t.Fatalf("expected a single csv file, got %v", names)
	}
}

func TestCSVLayout(t *testing.T) {
	dir := t.TempDir()
	if err := NewWriter(dir, FormatCSV).Export(testSession()); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, exportedFiles(t, dir)[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if rows[0][0] != "Session Report - mindfield" {
		t.Errorf("missing report title, got %v", rows[0])
	}

	// Header block is key/value rows until the snapshot column header.
	header := map[string]string{}
	var dataStart int
	for i := 1; i < len(rows); i++ {
		if rows[i][0] == "tick" {
			dataStart = i
			break
		}
		if len(rows[i]) >= 2 {
			header[rows[i][0]] = rows[i][1]
		}
	}
	if dataStart == 0 {
		t.Fatal("snapshot column header not found")
	}

	if header["Session ID"] != "deadbeef01234567" {
		t.Errorf("session id missing from header: %v", header)
	}
	if header["Mode"] != "experiment" {
		t.Errorf("mode missing from header: %v", header)
	}
	if header["Total Bits"] != "16" {
		t.Errorf("bit count wrong in header: %q", header["Total Bits"])
	}
	if header["Baseline ID"] != "cafe000011112222" {
		t.Errorf("baseline block missing: %v", header)
	}

	cols := rows[dataStart]
	if cols[0] != "tick" || cols[4] != "z_score" || cols[5] != "aggregate_coherence" {
		t.Fatalf("unexpected column header: %v", cols)
	}

	first := rows[dataStart+1]
	if first[0] != "0" {
		t.Errorf("first snapshot tick should be 0, got %q", first[0])
	}
	if first[5] != "0.71" {
		t.Errorf("coherence column wrong: %q", first[5])
	}

	second := rows[dataStart+2]
	if second[5] != "no-data" {
		t.Errorf("no-data coherence must be tagged, not zeroed: %q", second[5])
	}
	if second[8] != "true" || second[9] != string(session.MarkerAutoThreshold) {
		t.Errorf("marker columns wrong: %v", second)
	}

	// Marker table at the end.
	last := rows[len(rows)-1]
	if last[2] != string(session.MarkerAutoThreshold) || last[4] != "0.88" {
		t.Errorf("marker table row wrong: %v", last)
	}
}

func TestCSVInsufficientDataTags(t *testing.T) {
	sess := testSession()
	sess.Snapshots = sess.Snapshots[:1]
	sess.Snapshots[0].Since.ZValid = false
	sess.Snapshots[0].EffectValid = false
	sess.Markers = nil
	sess.Summary.ZValid = false

	dir := t.TempDir()
	if err := NewWriter(dir, FormatCSV).Export(sess); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, exportedFiles(t, dir)[0]))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "insufficient-data") {
		t.Error("invalid z-scores must be tagged insufficient-data")
	}
	if !strings.Contains(out, "no-baseline") {
		t.Error("missing baseline must be tagged no-baseline")
	}
}

func TestJSONValidatesAgainstSchema(t *testing.T) {
	dir := t.TempDir()
	if err := NewWriter(dir, FormatJSON).Export(testSession()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, exportedFiles(t, dir)[0]))
	if err != nil {
		t.Fatal(err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	schema, err := jsonschema.CompileString("export.schema.json", exportSchema)
	if err != nil {
		t.Fatalf("schema compile failed: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		t.Errorf("export does not match the documented layout: %v", err)
	}
}

func TestJSONRoundtrip(t *testing.T) {
	dir := t.TempDir()
	sess := testSession()
	if err := NewWriter(dir, FormatJSON).Export(sess); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, exportedFiles(t, dir)[0]))
	if err != nil {
		t.Fatal(err)
	}

	var doc struct {
		FormatVersion int             `json:"format_version"`
		Summary       session.Summary `json:"summary"`
		Session       session.Session `json:"session"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}

	if doc.FormatVersion != 1 {
		t.Errorf("expected format version 1, got %d", doc.FormatVersion)
	}
	if doc.Summary.SessionID != sess.ID {
		t.Errorf("summary id mismatch: %s", doc.Summary.SessionID)
	}
	if len(doc.Session.Snapshots) != len(sess.Snapshots) {
		t.Errorf("snapshot count mismatch: %d", len(doc.Session.Snapshots))
	}
	if !doc.Session.Snapshots[1].Coherence.NoData {
		t.Error("no-data flag lost in JSON roundtrip")
	}
}
