package scheduler

import (
	"sync"
	"time"

	"github.com/litetts/synthcore/internal/observability"
	"github.com/rs/zerolog"
)

// dispatchFunc receives a formed batch; trigger is "size" or "timeout"
type dispatchFunc func(batch []*Request, trigger string)

// categoryQueue is the FIFO queue and timeout scheduler for one category.
// At most one timer is outstanding; the generation counter makes cancel an
// atomic check-and-clear so a fired timer that lost the race to a
// size-triggered flush becomes a no-op.
type categoryQueue struct {
	category Category
	tuning   *TuningState
	dispatch dispatchFunc
	logger   zerolog.Logger

	mu       sync.Mutex
	pending  []*Request
	timer    *time.Timer
	timerGen uint64
}

func newCategoryQueue(category Category, tuning *TuningState, dispatch dispatchFunc) *categoryQueue {
	return &categoryQueue{
		category: category,
		tuning:   tuning,
		dispatch: dispatch,
		logger:   observability.ComponentLogger("queue").With().Str("category", category.String()).Logger(),
	}
}

// enqueue appends a request and either forms a batch (queue reached the
// tuned size) or arms the flush timer if none is pending
func (q *categoryQueue) enqueue(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, req)
	observability.SetQueueDepth(q.category.String(), len(q.pending))

	if len(q.pending) >= q.tuning.BatchSize() {
		q.formLocked("size")
		return
	}

	if q.timer == nil {
		q.armTimerLocked()
	}
}

// armTimerLocked starts the flush timer for the current tuned timeout
func (q *categoryQueue) armTimerLocked() {
	q.timerGen++
	gen := q.timerGen
	q.timer = time.AfterFunc(q.tuning.Timeout(), func() {
		q.onTimer(gen)
	})
}

// onTimer flushes whatever is queued when the timer's generation is still
// live; a stale generation means a size-triggered flush already consumed
// the queue
func (q *categoryQueue) onTimer(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.timerGen {
		return
	}
	q.timer = nil

	if len(q.pending) == 0 {
		return
	}
	q.formLocked("timeout")
}

// formLocked consumes up to the tuned batch size in admission order and
// hands the batch off. Any remainder stays queued with the timer re-armed.
func (q *categoryQueue) formLocked(trigger string) {
	// Invalidate and stop any pending timer
	q.timerGen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	if len(q.pending) == 0 {
		return
	}

	n := q.tuning.BatchSize()
	if n > len(q.pending) {
		n = len(q.pending)
	}

	batch := q.pending[:n:n]
	q.pending = append([]*Request(nil), q.pending[n:]...)
	observability.SetQueueDepth(q.category.String(), len(q.pending))
	observability.RecordBatchFormed(q.category.String(), trigger, len(batch))

	q.logger.Debug().
		Int("batch_size", len(batch)).
		Int("remaining", len(q.pending)).
		Str("trigger", trigger).
		Msg("batch formed")

	if len(q.pending) > 0 {
		q.armTimerLocked()
	}

	go q.dispatch(batch, trigger)
}

// depth returns the current queue length
func (q *categoryQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// timerPending reports whether a flush timer is armed
func (q *categoryQueue) timerPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timer != nil
}

// stop cancels any pending timer without flushing
func (q *categoryQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.timerGen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}
