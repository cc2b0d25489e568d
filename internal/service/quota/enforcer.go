// Package quota decides whether an exchange may proceed and performs the
// race-safe usage increment once a billable answer has been produced.
package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

const (
	// DefaultLimit is the free-tier allowance of billable exchanges.
	DefaultLimit = 10
	// DefaultCASRetries bounds the conditional-write retry loop.
	DefaultCASRetries = 3
	// UnmeteredRemaining is the remaining value reported for linked sessions.
	UnmeteredRemaining = 999
)

var (
	// ErrExhausted indicates the metered session has used up its allowance.
	ErrExhausted = errors.New("quota: free-tier limit reached")
	// ErrConflict indicates the counter update lost its retry budget to
	// concurrent writers. No partial state was committed.
	ErrConflict = errors.New("quota: concurrent update conflict")
)

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted   bool
	UsageCount int
	Remaining  int
}

// Enforcer applies the free-tier policy against a session store.
type Enforcer struct {
	store   store.SessionStore
	limit   int
	retries int
	logger  *zap.Logger
}

// NewEnforcer creates an Enforcer. Non-positive limit or retries fall back to
// the defaults.
func NewEnforcer(s store.SessionStore, limit, retries int, logger *zap.Logger) *Enforcer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if retries <= 0 {
		retries = DefaultCASRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{store: s, limit: limit, retries: retries, logger: logger}
}

// Limit returns the configured free-tier allowance.
func (e *Enforcer) Limit() int {
	return e.limit
}

// CheckAdmission reports whether a new exchange may proceed for the session.
// Unmetered sessions are always admitted.
func (e *Enforcer) CheckAdmission(session chat.Session) Decision {
	if e.isUnmetered(session) {
		return Decision{Admitted: true, UsageCount: session.UsageCount, Remaining: UnmeteredRemaining}
	}

	remaining := e.limit - session.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Admitted:   session.UsageCount < e.limit,
		UsageCount: session.UsageCount,
		Remaining:  remaining,
	}
}

// Remaining converts a usage count into the remaining allowance reported to
// clients.
func (e *Enforcer) Remaining(session chat.Session) int {
	return e.CheckAdmission(session).Remaining
}

// RecordOutcome commits the quota consequence of a classified exchange. For
// unmetered sessions or non-billable verdicts the counter is untouched. For a
// billable verdict on a metered session the counter is incremented by exactly
// one using compare-and-swap against the backing store: on conflict the
// authoritative count is re-read and the admission decision re-evaluated
// against the fresh value. Exhausting the retry budget returns ErrConflict; a
// fresh count at or beyond the limit returns ErrExhausted. In both cases the
// returned count is the latest value observed.
func (e *Enforcer) RecordOutcome(ctx context.Context, session chat.Session, billable bool) (int, error) {
	if !billable || e.isUnmetered(session) {
		return session.UsageCount, nil
	}

	current := session.UsageCount
	for attempt := 0; attempt < e.retries; attempt++ {
		if current >= e.limit {
			return current, ErrExhausted
		}

		ok, err := e.store.CompareAndSwapUsage(ctx, session.ID, current, current+1)
		if err != nil {
			return current, fmt.Errorf("record outcome: %w", err)
		}
		if ok {
			return current + 1, nil
		}

		fresh, err := e.store.Get(ctx, session.ID)
		if err != nil {
			return current, fmt.Errorf("record outcome: %w", err)
		}
		current = fresh.UsageCount

		// A concurrent link made the session unmetered; stop charging it.
		if e.isUnmetered(fresh) {
			return current, nil
		}

		e.logger.Debug("usage counter raced, retrying",
			zap.String("session", session.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("fresh_count", current))
	}

	e.logger.Warn("usage counter retry budget exhausted",
		zap.String("session", session.ID),
		zap.Int("retries", e.retries))
	return current, ErrConflict
}

// isUnmetered is the single tier-bypass predicate: linked sessions are exempt
// from metering regardless of their counter.
func (e *Enforcer) isUnmetered(session chat.Session) bool {
	return session.Linked()
}
