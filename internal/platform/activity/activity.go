// Package activity delivers structured activity events emitted by the case
// workflow engine after its transactions commit. Delivery is best effort:
// a failing sink is logged and never propagated back into the case mutation.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the workflow engine.
const (
	EventCaseCreated      = "case_created"
	EventCaseAssigned     = "case_assigned"
	EventCaseViewed       = "case_viewed"
	EventCaseCancelled    = "case_cancelled"
	EventCaseCompleted    = "case_completed"
	EventDocumentUploaded = "document_uploaded"
)

// Event is a single activity record.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	UserID     uuid.UUID         `json:"user_id"`
	CaseID     uuid.UUID         `json:"case_id"`
	HospitalID string            `json:"hospital_id"`
	Extra      map[string]string `json:"extra,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Emitter receives activity events. Implementations must not block the
// caller for long and must swallow their own failures.
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc is a function adapter for Emitter.
type EmitterFunc func(event Event)

func (f EmitterFunc) Emit(event Event) { f(event) }

// New fills in the generated fields of an event.
func New(eventType string, userID, caseID uuid.UUID, hospitalID string, extra map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		UserID:     userID,
		CaseID:     caseID,
		HospitalID: hospitalID,
		Extra:      extra,
		OccurredAt: time.Now().UTC(),
	}
}

// LogEmitter writes every event as a structured log line.
type LogEmitter struct {
	logger zerolog.Logger
}

func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(event Event) {
	evt := e.logger.Info().
		Str("type", "activity").
		Str("event_id", event.ID).
		Str("event", event.Type).
		Str("user_id", event.UserID.String()).
		Str("case_id", event.CaseID.String()).
		Str("hospital_id", event.HospitalID).
		Time("occurred_at", event.OccurredAt)
	for k, v := range event.Extra {
		evt = evt.Str(k, v)
	}
	evt.Msg("activity")
}

// MemoryRecorder keeps events in memory; used in tests and development.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns recorded events of the given type.
func (r *MemoryRecorder) ByType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Fanout forwards each event to every registered emitter.
type Fanout struct {
	emitters []Emitter
}

func NewFanout(emitters ...Emitter) *Fanout {
	return &Fanout{emitters: emitters}
}

func (f *Fanout) Emit(event Event) {
	for _, e := range f.emitters {
		e.Emit(event)
	}
}
