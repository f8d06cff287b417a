package core

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action names the operation an audit event describes.
type Action string

// Audited operations.
const (
	ActionCapture Action = "capture"
	ActionLaunch  Action = "launch"
	ActionReset   Action = "reset"
	ActionRestart Action = "restart"
)

// Outcome is the terminal result of an audited operation.
type Outcome string

// Audit outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEvent is the single structured event emitted per capture or restore.
type AuditEvent struct {
	Action    Action             `json:"action"`
	Workspace string             `json:"workspace,omitempty"`
	Template  string             `json:"template"`
	Session   string             `json:"session,omitempty"`
	RowCounts map[EntityType]int `json:"row_counts"`
	Outcome   Outcome            `json:"outcome"`
	Error     string             `json:"error,omitempty"`
	Actor     string             `json:"actor,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Duration  time.Duration      `json:"duration"`
}

// AuditRecorder receives one event per completed or failed operation.
type AuditRecorder interface {
	Record(event AuditEvent)
}

// MemoryAuditRecorder collects events in memory for tests and embedding.
type MemoryAuditRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditRecorder returns an empty recorder.
func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{}
}

// Record implements AuditRecorder.
func (r *MemoryAuditRecorder) Record(event AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in order.
func (r *MemoryAuditRecorder) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ZapAuditRecorder forwards audit events to a structured log stream for
// deployments where the audit subsystem tails logs.
type ZapAuditRecorder struct {
	logger *zap.Logger
}

// NewZapAuditRecorder wraps the supplied logger.
func NewZapAuditRecorder(logger *zap.Logger) *ZapAuditRecorder {
	return &ZapAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *ZapAuditRecorder) Record(event AuditEvent) {
	counts := make(map[string]int, len(event.RowCounts))
	for entity, n := range event.RowCounts {
		counts[string(entity)] = n
	}
	r.logger.Info("audit",
		zap.String("action", string(event.Action)),
		zap.String("workspace", event.Workspace),
		zap.String("template", event.Template),
		zap.String("session", event.Session),
		zap.Any("row_counts", counts),
		zap.String("outcome", string(event.Outcome)),
		zap.String("error", event.Error),
		zap.String("actor", event.Actor),
		zap.Time("timestamp", event.Timestamp),
		zap.Duration("duration", event.Duration),
	)
}
