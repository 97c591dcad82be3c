package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinauth.org/internal/ids"
	"clinauth.org/internal/obs"
)

// ErrUnavailable marks a failed durable audit write. Callers enforcing the
// fail-closed rule must treat the guarded operation as denied when they see
// it.
var ErrUnavailable = errors.New("audit: unavailable")

// Store is the durable append-only backend.
type Store interface {
	// Head returns the chain hash of the newest entry, or "" for an empty log.
	Head(ctx context.Context) (string, error)
	Append(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder is the write interface handed to the decision engine.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Logger seals entries into the hash chain and appends them to the store.
// When the durable path fails, the entry is emitted on the secondary channel
// (the process JSON log) so the event is not silently lost, and the error is
// classified ErrUnavailable.
type Logger struct {
	store Store
	now   func() time.Time

	// Serializes head-read + append so the chain stays linear under
	// concurrent records.
	mu sync.Mutex
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLogger constructs a Logger over the given store.
func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Recorder = (*Logger)(nil)

// Record assigns identity and chain position to the entry and appends it.
func (l *Logger) Record(ctx context.Context, e *Entry) error {
	if e == nil {
		return errors.New("audit: nil entry")
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Decision == "" {
		e.Decision = DecisionDenied
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	head, err := l.store.Head(ctx)
	if err != nil {
		return l.fail(e, fmt.Errorf("read chain head: %w", err))
	}
	if head == "" {
		head = GenesisHash()
	}
	if err := e.Seal(head); err != nil {
		return l.fail(e, err)
	}
	if err := l.store.Append(ctx, e); err != nil {
		return l.fail(e, fmt.Errorf("append: %w", err))
	}
	return nil
}

// Query runs a compliance query against the store.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	f.Normalize()
	return l.store.Query(ctx, f)
}

// fail emits the entry on the secondary channel and wraps the cause.
func (l *Logger) fail(e *Entry, cause error) error {
	obs.ObserveAuditFailure()
	obs.LogEvent(map[string]any{
		"ts":    l.now().UTC().Format(time.RFC3339Nano),
		"type":  "audit_fallback",
		"error": cause.Error(),
		"entry": e,
	})
	return fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
