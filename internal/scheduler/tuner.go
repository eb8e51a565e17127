package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/litetts/synthcore/internal/observability"
	"github.com/rs/zerolog"
)

const (
	minBatchTimeout = 10 * time.Millisecond
	maxBatchTimeout = 5 * time.Second

	// Timeout adjustments below this delta are skipped to avoid oscillation
	timeoutMinDelta = 5 * time.Millisecond

	timeoutShrinkFactor = 0.8
	timeoutGrowFactor   = 1.2

	lowEfficiency      = 0.5
	highEfficiency     = 0.8
	veryHighEfficiency = 0.9

	// RTF must sit below target*rtfHeadroom before batch size grows, and
	// above target*rtfOverTarget before it shrinks
	rtfHeadroom   = 0.8
	rtfOverTarget = 1.2
)

// TuningState holds the live batch size and timeout for one category. Only
// the auto-tuner writes it; the queue and dispatcher read it.
type TuningState struct {
	mu               sync.RWMutex
	batchSize        int
	timeout          time.Duration
	defaultBatchSize int
}

// NewTuningState creates tuning state seeded with the configured defaults
func NewTuningState(defaultBatchSize int, defaultTimeout time.Duration) *TuningState {
	if defaultBatchSize < 1 {
		defaultBatchSize = 1
	}
	if defaultTimeout < minBatchTimeout {
		defaultTimeout = minBatchTimeout
	}
	return &TuningState{
		batchSize:        defaultBatchSize,
		timeout:          defaultTimeout,
		defaultBatchSize: defaultBatchSize,
	}
}

// BatchSize returns the current tuned batch size
func (s *TuningState) BatchSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchSize
}

// Timeout returns the current tuned batch timeout
func (s *TuningState) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// setBatchSize clamps to [1, 2*default] and reports whether the value
// changed
func (s *TuningState) setBatchSize(size int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size < 1 {
		size = 1
	}
	if max := 2 * s.defaultBatchSize; size > max {
		size = max
	}
	if size == s.batchSize {
		return false
	}
	s.batchSize = size
	return true
}

// setTimeout clamps to sane bounds and applies hysteresis; reports whether
// the value changed
func (s *TuningState) setTimeout(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout < minBatchTimeout {
		timeout = minBatchTimeout
	}
	if timeout > maxBatchTimeout {
		timeout = maxBatchTimeout
	}

	delta := timeout - s.timeout
	if delta < 0 {
		delta = -delta
	}
	if delta < timeoutMinDelta {
		return false
	}
	s.timeout = timeout
	return true
}

// BatchSample records the outcome of one dispatched batch
type BatchSample struct {
	Category       Category
	Size           int           // actual number of requests
	ConfiguredMax  int           // tuned batch size when the batch formed
	ProcessingTime time.Duration // wall time of the dispatch
	AudioDuration  time.Duration // total audio produced (estimated for failures)
	Latency        time.Duration // oldest admission to resolution
}

// rtf is processing time over audio duration; zero audio yields zero
func (s BatchSample) rtf() float64 {
	if s.AudioDuration <= 0 {
		return 0
	}
	return s.ProcessingTime.Seconds() / s.AudioDuration.Seconds()
}

// efficiency is actual size over the configured max at formation time
func (s BatchSample) efficiency() float64 {
	if s.ConfiguredMax <= 0 {
		return 0
	}
	return float64(s.Size) / float64(s.ConfiguredMax)
}

// sampleWindow is a fixed-size ring of the most recent batch samples across
// all categories
type sampleWindow struct {
	mu      sync.Mutex
	samples []BatchSample
	next    int
	filled  bool
}

func newSampleWindow(size int) *sampleWindow {
	if size < 1 {
		size = 1
	}
	return &sampleWindow{samples: make([]BatchSample, size)}
}

func (w *sampleWindow) add(s BatchSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.filled = true
	}
}

// snapshot returns the live samples in no particular order
func (w *sampleWindow) snapshot() []BatchSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	out := make([]BatchSample, n)
	copy(out, w.samples[:n])
	return out
}

// AutoTunerConfig are the targets the feedback controller steers toward
type AutoTunerConfig struct {
	Interval   time.Duration
	TargetRTF  float64
	MaxLatency time.Duration
	MinSamples int
	WindowSize int
}

// AutoTuner is a heuristic feedback controller. On each tick it averages
// recent batch outcomes per category and nudges that category's batch size
// and timeout one step.
type AutoTuner struct {
	cfgMu  sync.RWMutex
	cfg    AutoTunerConfig
	states map[Category]*TuningState
	window *sampleWindow
	logger zerolog.Logger
}

// NewAutoTuner creates a tuner over the given per-category states
func NewAutoTuner(cfg AutoTunerConfig, states map[Category]*TuningState) *AutoTuner {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 10
	}
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &AutoTuner{
		cfg:    cfg,
		states: states,
		window: newSampleWindow(cfg.WindowSize),
		logger: observability.ComponentLogger("tuner"),
	}
}

// Record adds a completed batch to the rolling window
func (t *AutoTuner) Record(sample BatchSample) {
	t.window.add(sample)
}

// SetTargets hot-applies new performance targets
func (t *AutoTuner) SetTargets(targetRTF float64, maxLatency time.Duration) {
	t.cfgMu.Lock()
	t.cfg.TargetRTF = targetRTF
	t.cfg.MaxLatency = maxLatency
	t.cfgMu.Unlock()
}

// Run ticks until ctx is cancelled
func (t *AutoTuner) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tune()
		}
	}
}

// CategoryAverages are the rolling means the controller reads
type CategoryAverages struct {
	RTF        float64 `json:"rtf"`
	Latency    float64 `json:"latency_seconds"`
	Efficiency float64 `json:"efficiency"`
	Samples    int     `json:"samples"`
}

// averages computes per-category means over the current window; categories
// with no samples are absent
func (t *AutoTuner) averages() map[Category]CategoryAverages {
	out := make(map[Category]CategoryAverages)
	for _, s := range t.window.snapshot() {
		a := out[s.Category]
		a.RTF += s.rtf()
		a.Latency += s.Latency.Seconds()
		a.Efficiency += s.efficiency()
		a.Samples++
		out[s.Category] = a
	}
	for c, a := range out {
		n := float64(a.Samples)
		a.RTF /= n
		a.Latency /= n
		a.Efficiency /= n
		out[c] = a
	}
	return out
}

// Tune runs one controller pass. It does nothing until enough samples have
// accumulated.
func (t *AutoTuner) Tune() {
	t.cfgMu.RLock()
	targetRTF := t.cfg.TargetRTF
	maxLatency := t.cfg.MaxLatency
	minSamples := t.cfg.MinSamples
	t.cfgMu.RUnlock()

	samples := t.window.snapshot()
	if len(samples) < minSamples {
		return
	}

	for category, avg := range t.averages() {
		state, ok := t.states[category]
		if !ok {
			continue
		}

		size := state.BatchSize()

		switch {
		case avg.RTF > targetRTF*rtfOverTarget || avg.Latency > maxLatency.Seconds():
			if state.setBatchSize(size - 1) {
				observability.RecordTunerAdjustment(category.String(), "batch_size", "down")
				t.logger.Info().
					Str("category", category.String()).
					Int("batch_size", state.BatchSize()).
					Float64("rtf", avg.RTF).
					Float64("latency", avg.Latency).
					Msg("decreased batch size")
			}

		case avg.Efficiency > highEfficiency && avg.RTF < targetRTF*rtfHeadroom:
			if state.setBatchSize(size + 1) {
				observability.RecordTunerAdjustment(category.String(), "batch_size", "up")
				t.logger.Info().
					Str("category", category.String()).
					Int("batch_size", state.BatchSize()).
					Float64("rtf", avg.RTF).
					Float64("efficiency", avg.Efficiency).
					Msg("increased batch size")
			}
		}

		// Timeout moves inversely with efficiency: flush sooner when batches
		// run underfilled, wait longer when they fill up
		timeout := state.Timeout()
		switch {
		case avg.Efficiency < lowEfficiency:
			if state.setTimeout(time.Duration(float64(timeout) * timeoutShrinkFactor)) {
				observability.RecordTunerAdjustment(category.String(), "timeout", "down")
			}
		case avg.Efficiency > veryHighEfficiency:
			if state.setTimeout(time.Duration(float64(timeout) * timeoutGrowFactor)) {
				observability.RecordTunerAdjustment(category.String(), "timeout", "up")
			}
		}
	}
}

// Averages exposes the rolling per-category means for the status snapshot
func (t *AutoTuner) Averages() map[string]CategoryAverages {
	out := make(map[string]CategoryAverages)
	for c, a := range t.averages() {
		out[c.String()] = a
	}
	return out
}
