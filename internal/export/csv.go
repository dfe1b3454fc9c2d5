package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"mindfield/internal/session"
)

// snapshotHeader is the per-tick record layout. Insufficient-data z-scores,
// no-data coherence, and no-baseline effect sizes are written as the
// corresponding tag rather than a misleading zero.
var snapshotHeader = []string{
	"tick", "timestamp", "bit_count", "running_mean", "z_score",
	"aggregate_coherence", "device_count", "effect_size",
	"marker_flag", "marker_reason",
}

func writeCSV(path string, sess *session.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	sum := sess.Summary

	// Report header block, matching the original lab export layout.
	header := [][]string{
		{"Session Report - mindfield"},
		{"Session ID", sum.SessionID},
		{"Mode", sum.Mode},
		{"Name", sum.Name},
		{"Started", formatTimestamp(sum.StartedAt)},
		{"Ended", formatTimestamp(sum.EndedAt)},
		{"Total Ticks", strconv.FormatUint(sum.TotalTicks, 10)},
		{"Total Bits", strconv.FormatUint(sum.BitCount, 10)},
		{"Final Mean", formatFloat(sum.FinalMean)},
		{"Final Variance", formatFloat(sum.FinalVariance)},
		{"Final Z", formatZ(sum.FinalZ, sum.ZValid)},
		{"Markers", strconv.Itoa(sum.MarkerCount)},
	}
	if sum.BaselineID != "" {
		header = append(header,
			[]string{"Baseline ID", sum.BaselineID},
			[]string{"Effect Size", formatEffect(sum.EffectSize, sum.EffectValid)})
	}
	header = append(header, nil) // blank separator row

	for _, row := range header {
		if row == nil {
			row = []string{""}
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	if err := w.Write(snapshotHeader); err != nil {
		return fmt.Errorf("write csv column header: %w", err)
	}

	for i := range sess.Snapshots {
		snap := &sess.Snapshots[i]

		coh := "no-data"
		if !snap.Coherence.NoData {
			coh = formatFloat(snap.Coherence.Value)
		}

		row := []string{
			strconv.FormatUint(snap.Tick, 10),
			formatTimestamp(snap.At),
			strconv.FormatUint(snap.Since.Count, 10),
			formatFloat(snap.Since.Mean),
			formatZ(snap.Since.ZScore, snap.Since.ZValid),
			coh,
			strconv.Itoa(snap.Coherence.DeviceCount),
			formatEffect(snap.EffectSize, snap.EffectValid),
			strconv.FormatBool(snap.MarkerFlag),
			string(snap.MarkerReason),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv snapshot: %w", err)
		}
	}

	if len(sess.Markers) > 0 {
		if err := w.Write([]string{""}); err != nil {
			return err
		}
		if err := w.Write([]string{"marker_tick", "marker_time", "reason", "label", "coherence"}); err != nil {
			return err
		}
		for _, m := range sess.Markers {
			coh := ""
			if m.Reason == session.MarkerAutoThreshold {
				coh = formatFloat(m.Coherence)
			}
			row := []string{
				strconv.FormatUint(m.Tick, 10),
				formatTimestamp(m.At),
				string(m.Reason),
				m.Label,
				coh,
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write csv marker: %w", err)
			}
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatZ(z float64, valid bool) string {
	if !valid {
		return "insufficient-data"
	}
	return formatFloat(z)
}

func formatEffect(e float64, valid bool) string {
	if !valid {
		return "no-baseline"
	}
	return formatFloat(e)
}
