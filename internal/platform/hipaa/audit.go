package hipaa

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one audit trail entry. Detail is sanitized before persistence;
// raw PHI never reaches the store through this package.
type Event struct {
	ID         uuid.UUID
	Tenant     string
	Action     string // e.g. "patient.viewed", "patient:view.denied"
	EntityType string
	EntityID   string
	ActorID    *uuid.UUID
	ActorName  string
	ActorRole  string
	IPAddress  string
	UserAgent  string
	Detail     map[string]any
	CreatedAt  time.Time
}

// EventStore persists audit events. Implementations must be safe for
// concurrent use; the recorder calls Insert from both request goroutines and
// its background worker.
type EventStore interface {
	Insert(ctx context.Context, e *Event) error
}

const (
	defaultQueueSize    = 1024
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 2 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

type queuedEvent struct {
	event    *Event
	attempts int
}

// Recorder writes the audit trail. Two disciplines coexist:
//
//   - Record writes synchronously. Denials and compliance-critical events go
//     through here so the audit row exists before the response does.
//   - Enqueue is fire-and-forget for routine access events. Writes retry a
//     bounded number of times from a background worker; when the queue is
//     full the event is dropped and counted, never blocking a request.
type Recorder struct {
	store EventStore
	log   zerolog.Logger

	queue   chan queuedEvent
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool

	mu      sync.Mutex
	dropped int64
}

// NewRecorder builds a recorder and starts its background worker. queueSize
// <= 0 selects the default.
func NewRecorder(store EventStore, queueSize int, log zerolog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Recorder{
		store: store,
		log:   log,
		queue: make(chan queuedEvent, queueSize),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

func (r *Recorder) prepare(e *Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Detail = SanitizeDetail(e.Detail)
}

// Record sanitizes and persists the event synchronously.
func (r *Recorder) Record(ctx context.Context, e *Event) error {
	r.prepare(e)
	return r.store.Insert(ctx, e)
}

// Enqueue sanitizes the event and hands it to the background worker. It
// never blocks: when the queue is full the event is dropped with a log line
// and the drop counter is bumped.
func (r *Recorder) Enqueue(e *Event) {
	r.prepare(e)

	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		r.log.Warn().Str("action", e.Action).Msg("audit recorder closed, event dropped")
		r.countDrop()
		return
	}

	select {
	case r.queue <- queuedEvent{event: e}:
	default:
		r.log.Error().Str("action", e.Action).Msg("audit queue full, event dropped")
		r.countDrop()
	}
}

// Backlog returns the number of events waiting for the background worker.
func (r *Recorder) Backlog() int {
	return len(r.queue)
}

// Dropped returns the number of events lost to a full queue or shutdown.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting events and drains the queue. Events still failing
// after their retry budget at shutdown are logged and lost.
func (r *Recorder) Close() {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.closeMu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) countDrop() {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

// worker drains the queue. Each write gets its own timeout on a detached
// context; request cancellation must not cancel audit persistence.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for qe := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		err := r.store.Insert(ctx, qe.event)
		cancel()
		if err == nil {
			continue
		}

		qe.attempts++
		if qe.attempts >= defaultMaxAttempts {
			r.log.Error().Err(err).
				Str("action", qe.event.Action).
				Int("attempts", qe.attempts).
				Msg("audit event lost after retries")
			r.countDrop()
			continue
		}

		r.log.Warn().Err(err).
			Str("action", qe.event.Action).
			Int("attempt", qe.attempts).
			Msg("audit write failed, will retry")
		time.Sleep(defaultRetryBackoff)

		// Requeue unless the recorder is shutting down or the queue is full.
		r.closeMu.Lock()
		if r.closed {
			r.countDrop()
		} else {
			select {
			case r.queue <- qe:
			default:
				r.countDrop()
			}
		}
		r.closeMu.Unlock()
	}
}
