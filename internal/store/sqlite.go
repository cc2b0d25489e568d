package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/service/history"
)

// SQLite is the durable SessionStore backed by a local SQLite database.
type SQLite struct {
	db     *sql.DB
	window int
}

var (
	_ SessionStore = (*SQLite)(nil)
	_ TokenStore   = (*SQLite)(nil)
)

// OpenSQLite creates or opens the database at path and initializes the schema.
func OpenSQLite(path string, window int) (*SQLite, error) {
	if window <= 0 {
		window = history.DefaultWindow
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLite{db: db, window: window}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		usage_count INTEGER NOT NULL DEFAULT 0,
		linked_account_id TEXT NOT NULL DEFAULT '',
		history_json TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		billable INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);
	CREATE INDEX IF NOT EXISTS idx_exchanges_account ON exchanges(account_id, created_at);

	CREATE TABLE IF NOT EXISTS account_tokens (
		token TEXT PRIMARY KEY,
		account_id TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Get(ctx context.Context, sessionID string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, usage_count, linked_account_id, history_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

func (s *SQLite) CreateIfAbsent(ctx context.Context, sessionID string) (chat.Session, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, usage_count, linked_account_id, history_json, created_at, updated_at)
		VALUES (?, 0, '', '[]', ?, ?)
		ON CONFLICT(session_id) DO NOTHING`, sessionID, now, now)
	if err != nil {
		return chat.Session{}, false, unavailable("create session", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	session, err := s.Get(ctx, sessionID)
	return session, created, err
}

func (s *SQLite) AppendHistory(ctx context.Context, sessionID string, entries []chat.HistoryEntry) (chat.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Session{}, unavailable("append history", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT session_id, usage_count, linked_account_id, history_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		return chat.Session{}, err
	}

	updated := append(append([]chat.HistoryEntry(nil), session.History...), entries...)
	session.History = history.Truncate(updated, s.window)
	session.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(session.History)
	if err != nil {
		return chat.Session{}, fmt.Errorf("encode history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET history_json = ?, updated_at = ? WHERE session_id = ?`,
		string(raw), session.UpdatedAt, sessionID); err != nil {
		return chat.Session{}, unavailable("append history", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Session{}, unavailable("append history", err)
	}
	return session, nil
}

func (s *SQLite) LinkAccount(ctx context.Context, sessionID, accountID string) (chat.Session, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET linked_account_id = ?, updated_at = ?
		WHERE session_id = ? AND linked_account_id = ''`,
		accountID, time.Now().UTC(), sessionID); err != nil {
		return chat.Session{}, unavailable("link account", err)
	}
	return s.Get(ctx, sessionID)
}

// CompareAndSwapUsage performs the conditional counter write. The WHERE clause
// carries the last observed value, so a lost race leaves the row untouched.
func (s *SQLite) CompareAndSwapUsage(ctx context.Context, sessionID string, old, next int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET usage_count = ?, updated_at = ?
		WHERE session_id = ? AND usage_count = ?`,
		next, time.Now().UTC(), sessionID, old)
	if err != nil {
		return false, unavailable("swap usage", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("swap usage", err)
	}
	return n == 1, nil
}

func (s *SQLite) SaveExchange(ctx context.Context, ex chat.Exchange) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, session_id, account_id, question, answer, billable, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SessionID, ex.AccountID, ex.Question, ex.Answer, boolToInt(ex.Billable), ex.CreatedAt); err != nil {
		return unavailable("save exchange", err)
	}
	return nil
}

func (s *SQLite) ListExchanges(ctx context.Context, accountID string, limit int) ([]chat.Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, account_id, question, answer, billable, created_at
		FROM exchanges WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, unavailable("list exchanges", err)
	}
	defer rows.Close()

	var result []chat.Exchange
	for rows.Next() {
		var ex chat.Exchange
		var billable int
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.AccountID, &ex.Question, &ex.Answer, &billable, &ex.CreatedAt); err != nil {
			return nil, unavailable("list exchanges", err)
		}
		ex.Billable = billable == 1
		result = append(result, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list exchanges", err)
	}
	return result, nil
}

func (s *SQLite) AccountIDForToken(ctx context.Context, token string) (string, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id FROM account_tokens WHERE token = ?`, token).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("lookup token", err)
	}
	return accountID, nil
}

func (s *SQLite) SaveAccountToken(ctx context.Context, token, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO account_tokens (token, account_id) VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET account_id = excluded.account_id`,
		token, accountID); err != nil {
		return unavailable("save token", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (chat.Session, error) {
	var session chat.Session
	var historyJSON string
	err := row.Scan(&session.ID, &session.UsageCount, &session.LinkedAccountID,
		&historyJSON, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, unavailable("read session", err)
	}

	if err := json.Unmarshal([]byte(historyJSON), &session.History); err != nil {
		return chat.Session{}, fmt.Errorf("decode history: %w", err)
	}
	return session, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
