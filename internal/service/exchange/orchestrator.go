// Package exchange composes the session store, quota enforcer, history window,
// answer classifier and inference collaborator into the per-request pipeline:
// admission check, inference, classification, commit.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/analysis/billing"
	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/service/ai"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

var (
	// ErrInvalidInput indicates a missing session identifier or message.
	ErrInvalidInput = errors.New("exchange: session id and message are required")
	// ErrInference indicates the collaborator failed or timed out. The
	// exchange consumed no quota.
	ErrInference = errors.New("exchange: inference failed")
)

// Result is the outcome of a completed (or denied) exchange. On error returns
// the usage numbers reflect the pre-request state so callers never report
// fabricated counts.
type Result struct {
	Answer     string
	Billable   bool
	UsageCount int
	Remaining  int
}

// Orchestrator drives one exchange at a time through the pipeline.
type Orchestrator struct {
	store      store.SessionStore
	quota      *quota.Enforcer
	classifier billing.Classifier
	generator  ai.Generator
	timeout    time.Duration
	logger     *zap.Logger
}

// New wires the pipeline. A non-positive timeout falls back to 30 seconds.
func New(s store.SessionStore, q *quota.Enforcer, c billing.Classifier, g ai.Generator, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      s,
		quota:      q,
		classifier: c,
		generator:  g,
		timeout:    timeout,
		logger:     logger,
	}
}

// Handle runs the full pipeline for one request. Error taxonomy:
// quota.ErrExhausted for denied metered sessions (expected flow),
// ErrInference for collaborator failures (never charged), store and conflict
// errors for operational failures (never charged, retryable).
func (o *Orchestrator) Handle(ctx context.Context, sessionID, message, accountID string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, ErrInvalidInput
	}

	session, decision, err := o.Admit(ctx, sessionID, accountID)
	if err != nil {
		return Result{}, err
	}

	if !decision.Admitted {
		return Result{UsageCount: decision.UsageCount, Remaining: 0}, quota.ErrExhausted
	}

	inferCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	answer, err := o.generator.Generate(inferCtx, message, session.History)
	if err != nil {
		// A failed or timed-out inference never consumes quota.
		return Result{UsageCount: decision.UsageCount, Remaining: decision.Remaining},
			fmt.Errorf("%w: %v", ErrInference, err)
	}

	return o.Commit(ctx, session, message, answer)
}

// Admit validates input, loads or lazily creates the session, applies a
// pending account link and evaluates admission. It performs no quota
// mutation.
func (o *Orchestrator) Admit(ctx context.Context, sessionID, accountID string) (chat.Session, quota.Decision, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return chat.Session{}, quota.Decision{}, ErrInvalidInput
	}

	session, created, err := o.store.CreateIfAbsent(ctx, sessionID)
	if err != nil {
		return chat.Session{}, quota.Decision{}, err
	}
	if created {
		o.logger.Info("session created", zap.String("session", sessionID))
	}

	// A credentialed request on an unlinked session links it in passing.
	if accountID != "" && !session.Linked() {
		session, err = o.store.LinkAccount(ctx, sessionID, accountID)
		if err != nil {
			return chat.Session{}, quota.Decision{}, err
		}
	}

	return session, o.quota.CheckAdmission(session), nil
}

// Commit classifies the answer and commits state in order: usage counter
// first, then the rolling history, then the best-effort audit record. History
// and audit failures never roll back the counter; the user already received
// the answer.
func (o *Orchestrator) Commit(ctx context.Context, session chat.Session, question, answer string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{}, ErrInvalidInput
	}

	verdict := o.classifier.Classify(answer, billing.TurnContext{
		Question: question,
		History:  session.History,
	})
	billable := verdict == billing.Billable

	newCount, err := o.quota.RecordOutcome(ctx, session, billable)
	if errors.Is(err, quota.ErrExhausted) {
		// Concurrent exchanges drained the allowance between admission and
		// commit; the fresh counter says deny.
		return Result{UsageCount: newCount, Remaining: 0}, err
	}
	if err != nil {
		pre := o.quota.CheckAdmission(session)
		return Result{UsageCount: pre.UsageCount, Remaining: pre.Remaining}, err
	}

	session.UsageCount = newCount
	updated, histErr := o.store.AppendHistory(ctx, session.ID, []chat.HistoryEntry{
		{Role: chat.RoleUser, Content: question},
		{Role: chat.RoleAssistant, Content: answer},
	})
	if histErr != nil {
		o.logger.Warn("history append failed",
			zap.String("session", session.ID), zap.Error(histErr))
	} else {
		session = updated
		session.UsageCount = newCount
	}

	record := chat.Exchange{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		AccountID: session.LinkedAccountID,
		Question:  question,
		Answer:    answer,
		Billable:  billable,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.SaveExchange(ctx, record); err != nil {
		// Best effort: the audit trail lags, the exchange stands.
		o.logger.Warn("exchange record not persisted",
			zap.String("session", session.ID), zap.Error(err))
	}

	o.logger.Info("exchange committed",
		zap.String("session", session.ID),
		zap.Bool("billable", billable),
		zap.Int("usage", newCount))

	return Result{
		Answer:     answer,
		Billable:   billable,
		UsageCount: newCount,
		Remaining:  o.quota.Remaining(session),
	}, nil
}
