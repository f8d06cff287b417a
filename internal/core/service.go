package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"haccare/internal/infra/archive"
	"haccare/pkg/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Service is the engine's public surface: snapshot capture, launch, reset,
// restart, and the status-only lifecycle toggles. One Service instance
// serializes operations per workspace through its lock table; operations on
// different workspaces run fully in parallel.
type Service struct {
	store    Store
	registry *Registry
	locks    *workspaceLocks
	logger   *zap.Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	clock    Clock
	retry    RetryPolicy
	archive  archive.Store
	newID    func() string
}

// Option customizes Service construction.
type Option func(*Service)

// WithLogger installs a structured logger. The default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithAuditRecorder installs the audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) { s.audit = recorder }
}

// WithMetricsRecorder installs the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRetryPolicy overrides transient-failure retry behavior.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *Service) { s.retry = policy }
}

// WithArchive installs a blob archive; each captured snapshot version is
// additionally published there as a portable compressed document.
func WithArchive(store archive.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithIDGenerator overrides destination identifier generation. Tests use
// this for readable identifiers; production keeps the UUID default.
func WithIDGenerator(generate func() string) Option {
	return func(s *Service) { s.newID = generate }
}

// NewService wires a Service over the supplied store and registry. A nil
// registry selects the built-in clinical registry. Registry construction
// errors (cyclic or dangling graphs) fail here, before any operation runs.
func NewService(store Store, registry *Registry, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if registry == nil {
		var err error
		registry, err = domain.NewClinicalRegistry()
		if err != nil {
			return nil, err
		}
	}
	s := &Service{
		store:    store,
		registry: registry,
		locks:    newWorkspaceLocks(),
		logger:   zap.NewNop(),
		audit:    NewMemoryAuditRecorder(),
		metrics:  NopMetricsRecorder{},
		clock:    ClockFunc(time.Now),
		retry:    DefaultRetryPolicy(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry exposes the entity registry for callers that need dependency
// order or descriptors (the documentation subsystem, status surfaces).
func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) emit(event AuditEvent) {
	if event.RowCounts == nil {
		event.RowCounts = map[EntityType]int{}
	}
	s.audit.Record(event)
	s.metrics.ObserveOperation(event.Action, event.Outcome, event.Duration)
	for entity, rows := range event.RowCounts {
		s.metrics.ObserveEntityRows(event.Action, entity, rows)
	}
}

func sessionID(scope Scope) string {
	if session, ok := scope.(SessionScope); ok {
		return session.SessionID
	}
	return ""
}
