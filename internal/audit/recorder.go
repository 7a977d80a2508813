// Package audit emits discrete audit-worthy events as plain data.
// Persistence, PHI redaction, and retention belong to the sink; the
// recorder never blocks callers on write completion.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// EventKind identifies an audit-worthy occurrence.
type EventKind string

const (
	EventAssessmentCompleted EventKind = "assessment.completed"
	EventEscalationTriggered EventKind = "escalation.triggered"
	EventThresholdAdjusted   EventKind = "threshold.adjusted"
	EventProtocolStarted     EventKind = "protocol.started"
	EventProtocolAdvanced    EventKind = "protocol.advanced"
	EventProtocolCancelled   EventKind = "protocol.cancelled"
	EventProtocolFailed      EventKind = "protocol.failed"
)

// Event is an immutable audit record.
type Event struct {
	ID           string         `json:"id"`
	Kind         EventKind      `json:"kind"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	InstanceID   string         `json:"instance_id,omitempty"`
	AssessmentID string         `json:"assessment_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Emitter accepts audit events without blocking the caller.
type Emitter interface {
	Emit(evt Event)
}

// Sink durably writes audit events.
type Sink interface {
	Write(ctx context.Context, evt Event) error
}

// Recorder buffers events on a channel and writes them in the background.
// When the buffer is full events are dropped and counted, never blocking
// assessment or protocol control flow.
type Recorder struct {
	sink    Sink
	logger  *logging.Logger
	ch      chan Event
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex // guards closed against in-flight Emit sends
	closed bool
}

var _ Emitter = (*Recorder)(nil)

// NewRecorder starts a recorder draining into the sink.
func NewRecorder(sink Sink, bufferSize int, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	r := &Recorder{
		sink:   sink,
		logger: logger.WithComponent("audit-recorder"),
		ch:     make(chan Event, bufferSize),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Emit enqueues an event. Nil recorders, full buffers, and closed
// recorders are tolerated; in all three cases the event is dropped
// rather than blocking or crashing the caller.
func (r *Recorder) Emit(evt Event) {
	if r == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		dropped := r.dropped.Add(1)
		r.logger.Warn("audit recorder closed, event dropped",
			"kind", evt.Kind,
			"dropped_total", dropped,
		)
		return
	}

	select {
	case r.ch <- evt:
	default:
		dropped := r.dropped.Add(1)
		r.logger.Warn("audit buffer full, event dropped",
			"kind", evt.Kind,
			"dropped_total", dropped,
		)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close stops accepting events and waits for the buffer to flush.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.ch)
		r.wg.Wait()
	})
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for evt := range r.ch {
		if r.sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Write(ctx, evt); err != nil {
			r.logger.Error("audit write failed", "error", err, "kind", evt.Kind, "event_id", evt.ID)
		}
		cancel()
	}
}
