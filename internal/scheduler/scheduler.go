package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/litetts/synthcore/internal/config"
	"github.com/litetts/synthcore/internal/observability"
	"github.com/litetts/synthcore/internal/synth"
	"github.com/litetts/synthcore/internal/voice"
)

// Scheduler is the admission front of the serving core. It validates and
// categorizes requests, owns the per-category queues, and wires the
// dispatcher and auto-tuner together.
type Scheduler struct {
	dispatcher *Dispatcher
	tuner      *AutoTuner
	cache      *voice.Cache
	queues     map[Category]*categoryQueue
	states     map[Category]*TuningState
	logger     zerolog.Logger

	mu         sync.RWMutex
	thresholds Thresholds

	cancelTuner context.CancelFunc
	tunerDone   chan struct{}
	autoTune    bool
}

// New builds a scheduler from configuration and its collaborators. Nothing
// here is a process-wide singleton; tests construct fresh instances.
func New(cfg *config.Config, backend synth.Backend, cache *voice.Cache) *Scheduler {
	states := map[Category]*TuningState{
		CategoryShort:  NewTuningState(cfg.ShortBatchSize, time.Duration(cfg.ShortBatchTimeoutMs)*time.Millisecond),
		CategoryMedium: NewTuningState(cfg.MediumBatchSize, time.Duration(cfg.MediumBatchTimeoutMs)*time.Millisecond),
		CategoryLong:   NewTuningState(cfg.LongBatchSize, time.Duration(cfg.LongBatchTimeoutMs)*time.Millisecond),
	}

	tuner := NewAutoTuner(AutoTunerConfig{
		Interval:   cfg.AutoTuneIntervalDuration(),
		TargetRTF:  cfg.TargetRTF,
		MaxLatency: time.Duration(cfg.MaxLatencyMs) * time.Millisecond,
		MinSamples: cfg.MinTuneSamples,
		WindowSize: cfg.TuneWindowSize,
	}, states)

	dispatcher := NewDispatcher(backend, cache, tuner, cfg.MemoryCeilingBytes)

	s := &Scheduler{
		dispatcher: dispatcher,
		tuner:      tuner,
		cache:      cache,
		states:     states,
		queues:     make(map[Category]*categoryQueue),
		logger:     observability.ComponentLogger("scheduler"),
		thresholds: Thresholds{
			Short:  cfg.ShortThreshold,
			Medium: cfg.MediumThreshold,
			Long:   cfg.LongThreshold,
		},
		autoTune: cfg.AutoTuneEnabled,
	}

	for _, category := range queuedCategories {
		category := category
		s.queues[category] = newCategoryQueue(category, states[category], func(batch []*Request, trigger string) {
			s.dispatcher.Dispatch(context.Background(), batch)
		})
	}

	return s
}

// Start launches the auto-tuner loop when enabled
func (s *Scheduler) Start() {
	if !s.autoTune || s.cancelTuner != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelTuner = cancel
	s.tunerDone = make(chan struct{})

	go func() {
		defer close(s.tunerDone)
		s.tuner.Run(ctx)
	}()

	s.logger.Info().Msg("auto-tuner started")
}

// Stop cancels pending flush timers and the tuner loop. Already-admitted
// requests in flight still resolve.
func (s *Scheduler) Stop() {
	for _, q := range s.queues {
		q.stop()
	}
	if s.cancelTuner != nil {
		s.cancelTuner()
		<-s.tunerDone
		s.cancelTuner = nil
	}
}

// Admit validates a request and either enqueues it or, for extra_long
// texts, dispatches it immediately as a singleton batch. The returned
// handle resolves exactly once.
func (s *Scheduler) Admit(ctx context.Context, submit SubmitRequest) (*Handle, error) {
	if strings.TrimSpace(submit.Text) == "" {
		observability.RecordRejection()
		return nil, &ValidationError{Reason: "text is empty"}
	}
	if submit.VoiceID == "" {
		observability.RecordRejection()
		return nil, &ValidationError{Reason: "voice id is empty"}
	}

	s.mu.RLock()
	thresholds := s.thresholds
	s.mu.RUnlock()

	textLen := len(submit.Text)
	category := Categorize(textLen, thresholds)

	req := &Request{
		ID:         uuid.New().String(),
		Text:       submit.Text,
		VoiceID:    submit.VoiceID,
		Params:     submit.Params,
		AdmittedAt: time.Now(),
		TextLen:    textLen,
		Category:   category,
		Priority:   submit.Priority,
		handle:     newHandle(),
	}

	observability.RecordAdmission(category.String())

	if category == CategoryExtraLong {
		// No batching benefit for very large inputs
		go s.dispatcher.Dispatch(context.Background(), []*Request{req})
		return req.handle, nil
	}

	s.queues[category].enqueue(req)
	return req.handle, nil
}

// ApplyTunables hot-applies the reloadable configuration subset
func (s *Scheduler) ApplyTunables(t config.Tunables) {
	s.mu.Lock()
	s.thresholds = Thresholds{Short: t.ShortThreshold, Medium: t.MediumThreshold, Long: t.LongThreshold}
	s.mu.Unlock()

	s.dispatcher.SetMemoryCeiling(t.MemoryCeilingBytes)
	s.tuner.SetTargets(t.TargetRTF, time.Duration(t.MaxLatencyMs)*time.Millisecond)

	s.logger.Info().
		Int("short_threshold", t.ShortThreshold).
		Int("medium_threshold", t.MediumThreshold).
		Int("long_threshold", t.LongThreshold).
		Uint64("memory_ceiling", t.MemoryCeilingBytes).
		Msg("tunables reloaded")
}

// QueueStatus is the live state of one category in the status snapshot
type QueueStatus struct {
	Depth     int    `json:"depth"`
	BatchSize int    `json:"batch_size"`
	TimeoutMs int64  `json:"timeout_ms"`
	Category  string `json:"category"`
}

// Status is a read-only snapshot for the monitoring surface
type Status struct {
	Queues  map[string]QueueStatus      `json:"queues"`
	Cache   voice.Stats                 `json:"cache"`
	Rolling map[string]CategoryAverages `json:"rolling"`
}

// Status combines queue depths, tuned parameters, cache counters, and
// rolling performance averages
func (s *Scheduler) Status() Status {
	queues := make(map[string]QueueStatus, len(s.queues))
	for category, q := range s.queues {
		state := s.states[category]
		queues[category.String()] = QueueStatus{
			Category:  category.String(),
			Depth:     q.depth(),
			BatchSize: state.BatchSize(),
			TimeoutMs: state.Timeout().Milliseconds(),
		}
	}

	return Status{
		Queues:  queues,
		Cache:   s.cache.GetStats(),
		Rolling: s.tuner.Averages(),
	}
}
