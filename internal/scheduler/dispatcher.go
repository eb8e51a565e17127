package scheduler

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"github.com/litetts/synthcore/internal/audio"
	"github.com/litetts/synthcore/internal/observability"
	"github.com/litetts/synthcore/internal/synth"
	"github.com/litetts/synthcore/internal/voice"
)

// memoryProbe reports current process memory usage in bytes
type memoryProbe func() (uint64, error)

// processRSS probes the resident set size of this process
func processRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Dispatcher drains formed batches: it enforces the memory budget, groups
// requests by voice, resolves embeddings through the cache, invokes the
// synthesis backend per group, and resolves every completion handle exactly
// once.
type Dispatcher struct {
	backend synth.Backend
	cache   *voice.Cache
	tuner   *AutoTuner
	logger  zerolog.Logger

	ceilingBytes atomic.Uint64
	probe        memoryProbe
}

// NewDispatcher creates a dispatcher over the given backend and cache
func NewDispatcher(backend synth.Backend, cache *voice.Cache, tuner *AutoTuner, ceilingBytes uint64) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		cache:   cache,
		tuner:   tuner,
		logger:  observability.ComponentLogger("dispatcher"),
		probe:   processRSS,
	}
	d.ceilingBytes.Store(ceilingBytes)
	return d
}

// SetMemoryCeiling updates the memory budget at runtime
func (d *Dispatcher) SetMemoryCeiling(bytes uint64) {
	d.ceilingBytes.Store(bytes)
}

// Dispatch processes one batch. Every request in the batch ends up resolved
// with a result or a typed error; Dispatch itself never returns one.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []*Request) {
	if len(batch) == 0 {
		return
	}

	// Memory budget is the only backpressure: split in half while over the
	// ceiling, fail the request only when a singleton still exceeds it
	ceiling := d.ceilingBytes.Load()
	if ceiling > 0 {
		if rss, err := d.probe(); err == nil && rss > ceiling {
			if len(batch) > 1 {
				observability.RecordBatchSplit()
				d.logger.Warn().
					Uint64("rss_bytes", rss).
					Uint64("ceiling_bytes", ceiling).
					Int("batch_size", len(batch)).
					Msg("memory ceiling exceeded, splitting batch")

				mid := len(batch) / 2
				d.Dispatch(ctx, batch[:mid])
				d.Dispatch(ctx, batch[mid:])
				return
			}

			observability.RecordError("resource_exhausted", "dispatcher")
			batch[0].handle.resolve(nil, &ResourceExhaustedError{
				MemoryBytes:  rss,
				CeilingBytes: ceiling,
			})
			return
		}
	}

	metrics := observability.NewBatchMetrics(batch[0].Category.String())

	// Partition by voice, preserving relative order within each group
	groups := make(map[string][]*Request)
	var voiceOrder []string
	for _, req := range batch {
		if _, ok := groups[req.VoiceID]; !ok {
			voiceOrder = append(voiceOrder, req.VoiceID)
		}
		groups[req.VoiceID] = append(groups[req.VoiceID], req)
	}

	var totalAudio atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, voiceID := range voiceOrder {
		group := groups[voiceID]
		voiceID := voiceID
		g.Go(func() error {
			produced := d.dispatchGroup(gctx, voiceID, group)
			totalAudio.Add(int64(produced))
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordDone(time.Duration(totalAudio.Load()))

	d.recordSample(batch, metrics.Elapsed(), time.Duration(totalAudio.Load()))
}

// dispatchGroup synthesizes one voice group and resolves its handles.
// Returns the total duration of audio produced.
func (d *Dispatcher) dispatchGroup(ctx context.Context, voiceID string, group []*Request) time.Duration {
	embedding, err := d.cache.Get(ctx, voiceID)
	if err != nil {
		observability.RecordError("cache_miss", "dispatcher")
		cacheErr := &CacheMissError{VoiceID: voiceID, Cause: err}
		for _, req := range group {
			req.handle.resolve(nil, cacheErr)
		}
		return 0
	}

	items := make([]synth.BatchItem, 0, len(group))
	for _, req := range group {
		items = append(items, synth.BatchItem{
			RequestID: req.ID,
			Text:      req.Text,
			Params:    req.Params,
		})
	}

	results, err := d.backend.SynthesizeBatch(ctx, voiceID, embedding, items)
	if err != nil {
		// Whole-call failure fails every request in the group alike
		observability.RecordError("backend", "dispatcher")
		backendErr := &BackendError{VoiceID: voiceID, Cause: err}
		for _, req := range group {
			req.handle.resolve(nil, backendErr)
		}
		return 0
	}

	byID := make(map[string]synth.ItemResult, len(results))
	for _, r := range results {
		byID[r.RequestID] = r
	}

	var produced time.Duration
	for _, req := range group {
		r, ok := byID[req.ID]
		if !ok {
			req.handle.resolve(nil, &BackendError{VoiceID: voiceID, Cause: errMissingResult(req.ID)})
			continue
		}
		if r.Err != nil {
			req.handle.resolve(nil, &BackendError{VoiceID: voiceID, Cause: r.Err})
			continue
		}

		duration, derr := audio.PCMDuration(r.Audio, r.SampleRate)
		if derr != nil {
			req.handle.resolve(nil, &BackendError{VoiceID: voiceID, Cause: derr})
			continue
		}
		produced += duration

		req.handle.resolve(&Result{
			RequestID:  req.ID,
			Audio:      r.Audio,
			SampleRate: r.SampleRate,
			Duration:   duration,
		}, nil)
	}

	return produced
}

// recordSample feeds one completed batch into the tuner's rolling window.
// When no audio was produced the estimate stands in so failed batches still
// pull RTF upward.
func (d *Dispatcher) recordSample(batch []*Request, elapsed, produced time.Duration) {
	if d.tuner == nil {
		return
	}

	audioDuration := produced
	if audioDuration == 0 {
		for _, req := range batch {
			audioDuration += audio.EstimateDuration(req.TextLen)
		}
	}

	oldest := batch[0].AdmittedAt
	for _, req := range batch[1:] {
		if req.AdmittedAt.Before(oldest) {
			oldest = req.AdmittedAt
		}
	}

	category := batch[0].Category
	configuredMax := len(batch)
	if state, ok := d.tuner.states[category]; ok {
		configuredMax = state.BatchSize()
	}

	d.tuner.Record(BatchSample{
		Category:       category,
		Size:           len(batch),
		ConfiguredMax:  configuredMax,
		ProcessingTime: elapsed,
		AudioDuration:  audioDuration,
		Latency:        time.Since(oldest),
	})
}

type errMissingResult string

func (e errMissingResult) Error() string {
	return "backend returned no result for request " + string(e)
}
