// Package telemetry is the gateway's structured event sink: the pipeline
// (internal/pipeline) emits one RequestRecord per completed request and
// free-form log lines, and a Sink fans them out to whatever is listening —
// a websocket hub for the management UI, a test spy, or nothing at all.
package telemetry

import (
	"sync"
	"time"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// RequestRecord is the per-request summary the pipeline's final step
// produces: enough to reconstruct what happened without re-reading bodies.
type RequestRecord struct {
	RequestID      string
	SessionID      string
	ClientFormat   domain.ClientFormat
	RequestModel   string
	ResolvedModel  string
	Provider       domain.CredentialKind
	CredentialUUID string
	Stream         bool

	StartedAt time.Time
	Duration  time.Duration
	Status    string // "completed" | "failed"

	RetryCount int
	Error      string

	InputTokens  int
	OutputTokens int
}

// Sink receives telemetry events. Implementations must not block the
// pipeline for long: a slow or disconnected subscriber should drop events
// rather than stall a request.
type Sink interface {
	EmitRequest(rec RequestRecord)
	EmitLog(message string)
}

// NopSink discards everything. It is the default when no sink is wired.
type NopSink struct{}

func (NopSink) EmitRequest(RequestRecord) {}
func (NopSink) EmitLog(string)            {}

// Hub is a pub/sub Sink: EmitRequest/EmitLog fan out to every currently
// subscribed channel. Subscribers that fall behind have events dropped
// rather than backing up the emitting goroutine — telemetry is best-effort.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// Event is the envelope delivered to Hub subscribers; exactly one of
// Request/Log is set.
type Event struct {
	Request *RequestRecord
	Log     string
	At      time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe func the caller must run when done (e.g. on websocket close).
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Event, buffer)
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) EmitRequest(rec RequestRecord) {
	h.broadcast(Event{Request: &rec, At: time.Now()})
}

func (h *Hub) EmitLog(message string) {
	h.broadcast(Event{Log: message, At: time.Now()})
}

func (h *Hub) broadcast(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber is behind; drop rather than block the pipeline.
		}
	}
}
