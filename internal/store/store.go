// Package store persists sessions, exchange audit records and account
// credentials. The durable SQLite store is the single source of truth for the
// usage counter; the in-memory store mirrors its contract for tests and
// diskless dev runs.
package store

import (
	"context"
	"errors"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
)

var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("store: session not found")
	// ErrUnavailable indicates the backing store could not be reached.
	// Callers must not treat it as "quota available".
	ErrUnavailable = errors.New("store: backing store unavailable")
)

// SessionStore is the durable record keyed by the opaque session identifier.
// All operations are idempotent with respect to repeated identical input.
type SessionStore interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, sessionID string) (chat.Session, error)

	// CreateIfAbsent returns the existing session or creates a fresh one
	// (usage 0, empty history). The bool reports whether it was created.
	CreateIfAbsent(ctx context.Context, sessionID string) (chat.Session, bool, error)

	// AppendHistory appends the entries to the rolling window, evicting the
	// oldest entries beyond the configured window, and persists the result.
	AppendHistory(ctx context.Context, sessionID string, entries []chat.HistoryEntry) (chat.Session, error)

	// LinkAccount ties the session to a verified account. Linking is
	// idempotent; an already-linked session keeps its original account.
	LinkAccount(ctx context.Context, sessionID, accountID string) (chat.Session, error)

	// CompareAndSwapUsage sets the usage counter to next only if it still
	// equals old. Returns false (and no error) when another writer won.
	CompareAndSwapUsage(ctx context.Context, sessionID string, old, next int) (bool, error)

	// SaveExchange writes one immutable audit record.
	SaveExchange(ctx context.Context, ex chat.Exchange) error

	// ListExchanges returns the newest exchanges recorded for an account.
	ListExchanges(ctx context.Context, accountID string, limit int) ([]chat.Exchange, error)
}

// TokenStore resolves and registers account credentials.
type TokenStore interface {
	// AccountIDForToken resolves a bearer credential to an account
	// identifier, or "" when the credential is unknown.
	AccountIDForToken(ctx context.Context, token string) (string, error)

	// SaveAccountToken registers a credential for an account.
	SaveAccountToken(ctx context.Context, token, accountID string) error
}
