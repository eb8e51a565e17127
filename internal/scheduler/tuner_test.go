package scheduler

import (
	"testing"
	"time"
)

func tunerConfig() AutoTunerConfig {
	return AutoTunerConfig{
		Interval:   time.Minute,
		TargetRTF:  0.5,
		MaxLatency: 5 * time.Second,
		MinSamples: 10,
		WindowSize: 50,
	}
}

// feed records n identical samples
func feed(tuner *AutoTuner, n int, sample BatchSample) {
	for i := 0; i < n; i++ {
		tuner.Record(sample)
	}
}

func TestTuner_GatedBelowMinSamples(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(4, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// 9 samples that would otherwise shrink the batch size
	feed(tuner, 9, BatchSample{
		Category:       CategoryShort,
		Size:           4,
		ConfiguredMax:  4,
		ProcessingTime: 10 * time.Second,
		AudioDuration:  1 * time.Second,
		Latency:        100 * time.Millisecond,
	})
	tuner.Tune()

	if got := states[CategoryShort].BatchSize(); got != 4 {
		t.Errorf("Tuner must not act below min samples; batch size = %d", got)
	}
}

func TestTuner_IncreasesBatchSize(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(4, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// Efficiency 1.0, RTF 0.1 (comfortably under 0.5 target)
	feed(tuner, 10, BatchSample{
		Category:       CategoryShort,
		Size:           4,
		ConfiguredMax:  4,
		ProcessingTime: 100 * time.Millisecond,
		AudioDuration:  1 * time.Second,
		Latency:        200 * time.Millisecond,
	})
	tuner.Tune()

	if got := states[CategoryShort].BatchSize(); got != 5 {
		t.Errorf("Expected batch size 5 after increase, got %d", got)
	}
}

func TestTuner_BatchSizeCappedAtTwiceDefault(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(2, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	good := BatchSample{
		Category:       CategoryShort,
		Size:           4,
		ConfiguredMax:  4,
		ProcessingTime: 50 * time.Millisecond,
		AudioDuration:  1 * time.Second,
		Latency:        100 * time.Millisecond,
	}

	// Repeated passes can never push past 2x the configured default
	for i := 0; i < 6; i++ {
		feed(tuner, 10, good)
		tuner.Tune()
	}

	if got := states[CategoryShort].BatchSize(); got != 4 {
		t.Errorf("Expected batch size capped at 4 (2x default), got %d", got)
	}
}

func TestTuner_DecreasesBatchSizeOnHighRTF(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryMedium: NewTuningState(4, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// RTF 2.0 is far over the 0.5 target
	feed(tuner, 10, BatchSample{
		Category:       CategoryMedium,
		Size:           4,
		ConfiguredMax:  4,
		ProcessingTime: 2 * time.Second,
		AudioDuration:  1 * time.Second,
		Latency:        500 * time.Millisecond,
	})
	tuner.Tune()

	if got := states[CategoryMedium].BatchSize(); got != 3 {
		t.Errorf("Expected batch size 3 after decrease, got %d", got)
	}
}

func TestTuner_DecreasesBatchSizeOnHighLatency(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryLong: NewTuningState(2, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// RTF fine, latency over the 5s ceiling
	feed(tuner, 10, BatchSample{
		Category:       CategoryLong,
		Size:           2,
		ConfiguredMax:  2,
		ProcessingTime: 100 * time.Millisecond,
		AudioDuration:  1 * time.Second,
		Latency:        8 * time.Second,
	})
	tuner.Tune()

	if got := states[CategoryLong].BatchSize(); got != 1 {
		t.Errorf("Expected batch size 1 after latency decrease, got %d", got)
	}
}

func TestTuner_BatchSizeFlooredAtOne(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(1, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	bad := BatchSample{
		Category:       CategoryShort,
		Size:           1,
		ConfiguredMax:  1,
		ProcessingTime: 5 * time.Second,
		AudioDuration:  1 * time.Second,
		Latency:        time.Second,
	}

	for i := 0; i < 3; i++ {
		feed(tuner, 10, bad)
		tuner.Tune()
	}

	if got := states[CategoryShort].BatchSize(); got != 1 {
		t.Errorf("Expected batch size floored at 1, got %d", got)
	}
}

func TestTuner_ShortensTimeoutOnLowEfficiency(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(8, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// Efficiency 0.25: chronically underfilled batches
	feed(tuner, 10, BatchSample{
		Category:       CategoryShort,
		Size:           2,
		ConfiguredMax:  8,
		ProcessingTime: 100 * time.Millisecond,
		AudioDuration:  1 * time.Second,
		Latency:        100 * time.Millisecond,
	})
	tuner.Tune()

	if got := states[CategoryShort].Timeout(); got != 80*time.Millisecond {
		t.Errorf("Expected timeout shortened to 80ms, got %v", got)
	}
}

func TestTuner_LengthensTimeoutOnHighEfficiency(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(4, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// Full batches but RTF too high to also raise the size
	feed(tuner, 10, BatchSample{
		Category:       CategoryShort,
		Size:           4,
		ConfiguredMax:  4,
		ProcessingTime: 2 * time.Second,
		AudioDuration:  1 * time.Second,
		Latency:        100 * time.Millisecond,
	})
	tuner.Tune()

	if got := states[CategoryShort].Timeout(); got != 120*time.Millisecond {
		t.Errorf("Expected timeout lengthened to 120ms, got %v", got)
	}
}

func TestTuner_TimeoutFlooredAtMinimum(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort: NewTuningState(8, 12*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	underfilled := BatchSample{
		Category:       CategoryShort,
		Size:           1,
		ConfiguredMax:  8,
		ProcessingTime: 100 * time.Millisecond,
		AudioDuration:  1 * time.Second,
		Latency:        50 * time.Millisecond,
	}

	for i := 0; i < 5; i++ {
		feed(tuner, 10, underfilled)
		tuner.Tune()
	}

	if got := states[CategoryShort].Timeout(); got < minBatchTimeout {
		t.Errorf("Timeout fell below the 10ms floor: %v", got)
	}
}

func TestTuner_TimeoutHysteresis(t *testing.T) {
	// At 20ms, a 0.8x shrink is 16ms: a 4ms delta, below the 5ms minimum
	state := NewTuningState(8, 20*time.Millisecond)
	if state.setTimeout(16 * time.Millisecond) {
		t.Error("Sub-delta timeout change must be skipped")
	}
	if got := state.Timeout(); got != 20*time.Millisecond {
		t.Errorf("Expected timeout unchanged at 20ms, got %v", got)
	}
}

func TestTuner_IgnoresOtherCategories(t *testing.T) {
	states := map[Category]*TuningState{
		CategoryShort:  NewTuningState(4, 100*time.Millisecond),
		CategoryMedium: NewTuningState(4, 100*time.Millisecond),
	}
	tuner := NewAutoTuner(tunerConfig(), states)

	// Only short-category samples exist; medium must stay untouched
	feed(tuner, 10, BatchSample{
		Category:       CategoryShort,
		Size:           4,
		ConfiguredMax:  4,
		ProcessingTime: 100 * time.Millisecond,
		AudioDuration:  1 * time.Second,
		Latency:        100 * time.Millisecond,
	})
	tuner.Tune()

	if got := states[CategoryMedium].BatchSize(); got != 4 {
		t.Errorf("Medium category adjusted without samples: %d", got)
	}
	if got := states[CategoryMedium].Timeout(); got != 100*time.Millisecond {
		t.Errorf("Medium timeout adjusted without samples: %v", got)
	}
}

func TestSampleWindow_RollsOver(t *testing.T) {
	w := newSampleWindow(3)

	for i := 0; i < 5; i++ {
		w.add(BatchSample{Size: i})
	}

	samples := w.snapshot()
	if len(samples) != 3 {
		t.Fatalf("Expected window of 3, got %d", len(samples))
	}

	// Oldest two samples (0, 1) must have been overwritten
	for _, s := range samples {
		if s.Size < 2 {
			t.Errorf("Stale sample %d survived rollover", s.Size)
		}
	}
}
