package store

import (
	"context"
	"sync"
	"time"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/service/history"
)

// Memory implements SessionStore and TokenStore with process-local maps.
type Memory struct {
	mu        sync.RWMutex
	window    int
	sessions  map[string]chat.Session
	exchanges []chat.Exchange
	tokens    map[string]string
}

var (
	_ SessionStore = (*Memory)(nil)
	_ TokenStore   = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store keeping at most window history
// entries per session.
func NewMemory(window int) *Memory {
	if window <= 0 {
		window = history.DefaultWindow
	}
	return &Memory{
		window:   window,
		sessions: make(map[string]chat.Session),
		tokens:   make(map[string]string),
	}
}

func (m *Memory) Get(_ context.Context, sessionID string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *Memory) CreateIfAbsent(_ context.Context, sessionID string) (chat.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[sessionID]; ok {
		return cloneSession(session), false, nil
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:        sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[sessionID] = session
	return session, true, nil
}

func (m *Memory) AppendHistory(_ context.Context, sessionID string, entries []chat.HistoryEntry) (chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrNotFound
	}

	updated := append(append([]chat.HistoryEntry(nil), session.History...), entries...)
	session.History = history.Truncate(updated, m.window)
	session.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = session
	return cloneSession(session), nil
}

func (m *Memory) LinkAccount(_ context.Context, sessionID, accountID string) (chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrNotFound
	}

	if session.LinkedAccountID == "" {
		session.LinkedAccountID = accountID
		session.UpdatedAt = time.Now().UTC()
		m.sessions[sessionID] = session
	}
	return cloneSession(session), nil
}

func (m *Memory) CompareAndSwapUsage(_ context.Context, sessionID string, old, next int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if session.UsageCount != old {
		return false, nil
	}

	session.UsageCount = next
	session.UpdatedAt = time.Now().UTC()
	m.sessions[sessionID] = session
	return true, nil
}

func (m *Memory) SaveExchange(_ context.Context, ex chat.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exchanges = append(m.exchanges, ex)
	return nil
}

func (m *Memory) ListExchanges(_ context.Context, accountID string, limit int) ([]chat.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []chat.Exchange
	for i := len(m.exchanges) - 1; i >= 0 && len(result) < limit; i-- {
		if m.exchanges[i].AccountID == accountID {
			result = append(result, m.exchanges[i])
		}
	}
	return result, nil
}

func (m *Memory) AccountIDForToken(_ context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[token], nil
}

func (m *Memory) SaveAccountToken(_ context.Context, token, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = accountID
	return nil
}

func cloneSession(s chat.Session) chat.Session {
	s.History = append([]chat.HistoryEntry(nil), s.History...)
	return s
}
