package coherence

import (
	"math"
	"testing"
)

func TestCurrentNoData(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Advance(0)

	agg := a.Current()
	if !agg.NoData {
		t.Fatal("expected no-data aggregate with no readings")
	}
	if agg.Value != 0 || agg.DeviceCount != 0 {
		t.Errorf("no-data aggregate should be zeroed, got %+v", agg)
	}
}

func TestCurrentMean(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"one device", []float64{0.6}, 0.6},
		{"two devices", []float64{0.4, 0.8}, 0.6},
		{"five devices", []float64{0.1, 0.2, 0.3, 0.4, 0.5}, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(2, 0.8, 0.05)
			for i, v := range tt.values {
				a.Ingest(Reading{DeviceID: string(rune('a' + i)), Value: v, Tick: 0})
			}
			a.Advance(0)

			agg := a.Current()
			if agg.NoData {
				t.Fatal("unexpected no-data")
			}
			if agg.DeviceCount != len(tt.values) {
				t.Errorf("expected %d devices, got %d", len(tt.values), agg.DeviceCount)
			}
			if math.Abs(agg.Value-tt.want) > 1e-12 {
				t.Errorf("expected mean %v, got %v", tt.want, agg.Value)
			}
		})
	}
}

func TestStaleDeviceExcluded(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Ingest(Reading{DeviceID: "fresh", Value: 0.6, Tick: 0})
	a.Ingest(Reading{DeviceID: "stale", Value: 0.2, Tick: 0})

	// Keep only "fresh" reporting.
	a.Advance(1)
	a.Ingest(Reading{DeviceID: "fresh", Value: 0.6, Tick: 1})
	a.Advance(2)

	agg := a.Current()
	if agg.DeviceCount != 1 {
		t.Fatalf("stale device should drop out of the denominator, got %d devices", agg.DeviceCount)
	}
	if agg.Value != 0.6 {
		t.Errorf("stale device must not pull the mean toward zero, got %v", agg.Value)
	}
}

func TestAllDevicesStaleBecomesNoData(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Ingest(Reading{DeviceID: "a", Value: 0.5, Tick: 0})
	a.Advance(0)
	if a.Current().NoData {
		t.Fatal("fresh reading should be in-window")
	}

	a.Advance(5)
	if !a.Current().NoData {
		t.Error("expected no-data once every device is stale")
	}
}

func TestIngestRejectsInvalidValues(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Ingest(Reading{DeviceID: "a", Value: -0.1, Tick: 0})
	a.Ingest(Reading{DeviceID: "b", Value: 1.5, Tick: 0})
	a.Ingest(Reading{DeviceID: "c", Value: math.NaN(), Tick: 0})
	a.Advance(0)

	if !a.Current().NoData {
		t.Error("out-of-range readings should be discarded")
	}
}

func TestIngestDeduplicatesByDeviceAndTick(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Ingest(Reading{DeviceID: "a", Value: 0.4, Tick: 3})
	a.Ingest(Reading{DeviceID: "a", Value: 0.9, Tick: 3}) // duplicate delivery
	a.Advance(3)

	agg := a.Current()
	if agg.Value != 0.4 {
		t.Errorf("duplicate (device, tick) should be ignored, got %v", agg.Value)
	}

	// A new tick for the same device replaces the value.
	a.Ingest(Reading{DeviceID: "a", Value: 0.9, Tick: 4})
	a.Advance(4)
	if got := a.Current().Value; got != 0.9 {
		t.Errorf("newer tick should replace the reading, got %v", got)
	}
}

func TestThresholdHysteresis(t *testing.T) {
	// Threshold 0.8 with band 0.05: trigger at >= 0.85, re-arm below 0.8.
	// The 0.81 excursion after dropping to 0.79 re-arms but does not fire.
	a := NewAggregator(2, 0.8, 0.05)

	sequence := []float64{0.5, 0.85, 0.82, 0.79, 0.81, 0.9}
	wantFired := []bool{false, true, false, false, false, true}

	for i, v := range sequence {
		tick := uint64(i)
		a.Ingest(Reading{DeviceID: "a", Value: v, Tick: tick})
		a.Advance(tick)

		fired, agg := a.ThresholdCrossed()
		if fired != wantFired[i] {
			t.Errorf("step %d (value %v): fired=%v, want %v", i, v, fired, wantFired[i])
		}
		if agg.Value != v {
			t.Errorf("step %d: aggregate %v, want %v", i, agg.Value, v)
		}
	}
}

func TestThresholdNoDataNeverFires(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Advance(0)

	fired, agg := a.ThresholdCrossed()
	if fired {
		t.Error("no-data aggregate must not trigger")
	}
	if !agg.NoData {
		t.Error("expected no-data aggregate")
	}
}

func TestResetRearms(t *testing.T) {
	a := NewAggregator(2, 0.8, 0.05)
	a.Ingest(Reading{DeviceID: "a", Value: 0.9, Tick: 0})
	a.Advance(0)
	if fired, _ := a.ThresholdCrossed(); !fired {
		t.Fatal("expected initial trigger")
	}

	a.Reset()
	if a.DeviceCount() != 0 {
		t.Error("reset should clear device state")
	}

	a.Ingest(Reading{DeviceID: "a", Value: 0.9, Tick: 0})
	a.Advance(0)
	if fired, _ := a.ThresholdCrossed(); !fired {
		t.Error("trigger should be re-armed after reset")
	}
}
