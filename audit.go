package authgate

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"sync"
	"time"
)

// AuditEvent is one login-flow event. It never carries passwords, reset tokens or
// session tokens.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Username  string            `json:"username,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the engine's audit worker, one at a time and in the
// order the transitions happened.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to [AuditSink]. A nil func discards events.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Record(ctx context.Context, event AuditEvent) {
	if f != nil {
		f(ctx, event)
	}
}

// AuditJournal appends events to w as JSON lines.
type AuditJournal struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewAuditJournal(w io.Writer) *AuditJournal {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &AuditJournal{enc: enc}
}

func (j *AuditJournal) Record(_ context.Context, event AuditEvent) {
	if j == nil {
		return
	}
	j.mu.Lock()
	_ = j.enc.Encode(event)
	j.mu.Unlock()
}

// AuditRecorder keeps events in memory, for tests and embedding applications that
// poll the trail.
type AuditRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *AuditRecorder) Record(_ context.Context, event AuditEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *AuditRecorder) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}
