package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

type fullStore interface {
	store.SessionStore
	store.TokenStore
}

func runForEachStore(t *testing.T, test func(t *testing.T, s fullStore)) {
	t.Run("memory", func(t *testing.T) {
		test(t, store.NewMemory(10))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "advisor.db"), 10)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		test(t, s)
	})
}

func TestCreateIfAbsent(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()

		session, created, err := s.CreateIfAbsent(ctx, "visitor-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 0, session.UsageCount)
		assert.Empty(t, session.History)
		assert.False(t, session.Linked())

		again, created, err := s.CreateIfAbsent(ctx, "visitor-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, session.ID, again.ID)
	})
}

func TestGetMissingSession(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		_, err := s.Get(context.Background(), "never-seen")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestAppendHistoryTruncatesWindow(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()
		_, _, err := s.CreateIfAbsent(ctx, "visitor-1")
		require.NoError(t, err)

		for i := 0; i < 8; i++ {
			_, err := s.AppendHistory(ctx, "visitor-1", []chat.HistoryEntry{
				{Role: chat.RoleUser, Content: "question"},
				{Role: chat.RoleAssistant, Content: "answer"},
			})
			require.NoError(t, err)
		}

		session, err := s.Get(ctx, "visitor-1")
		require.NoError(t, err)
		assert.Len(t, session.History, 10)
	})
}

func TestLinkAccountIsSticky(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()
		_, _, err := s.CreateIfAbsent(ctx, "visitor-1")
		require.NoError(t, err)

		linked, err := s.LinkAccount(ctx, "visitor-1", "acct-1")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", linked.LinkedAccountID)

		// Repeated links keep the first account.
		linked, err = s.LinkAccount(ctx, "visitor-1", "acct-2")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", linked.LinkedAccountID)
	})
}

func TestCompareAndSwapUsage(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()
		_, _, err := s.CreateIfAbsent(ctx, "visitor-1")
		require.NoError(t, err)

		ok, err := s.CompareAndSwapUsage(ctx, "visitor-1", 0, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		// Stale writer loses without corrupting the counter.
		ok, err = s.CompareAndSwapUsage(ctx, "visitor-1", 0, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		session, err := s.Get(ctx, "visitor-1")
		require.NoError(t, err)
		assert.Equal(t, 1, session.UsageCount)
	})
}

func TestSaveAndListExchanges(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)

		for i, id := range []string{"ex-1", "ex-2", "ex-3"} {
			err := s.SaveExchange(ctx, chat.Exchange{
				ID:        id,
				SessionID: "visitor-1",
				AccountID: "acct-1",
				Question:  "how to improve fill rate",
				Answer:    "enable mediation",
				Billable:  true,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
			require.NoError(t, err)
		}
		err := s.SaveExchange(ctx, chat.Exchange{
			ID: "ex-other", SessionID: "visitor-2", AccountID: "acct-2",
			Question: "q", Answer: "a", CreatedAt: base,
		})
		require.NoError(t, err)

		got, err := s.ListExchanges(ctx, "acct-1", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ex-3", got[0].ID)
		assert.Equal(t, "ex-2", got[1].ID)
		assert.True(t, got[0].Billable)
	})
}

func TestAccountTokens(t *testing.T) {
	runForEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()

		id, err := s.AccountIDForToken(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, id)

		require.NoError(t, s.SaveAccountToken(ctx, "tok-123", "acct-1"))
		id, err = s.AccountIDForToken(ctx, "tok-123")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", id)
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.db")
	ctx := context.Background()

	s, err := store.OpenSQLite(path, 10)
	require.NoError(t, err)
	_, _, err = s.CreateIfAbsent(ctx, "visitor-1")
	require.NoError(t, err)
	ok, err := s.CompareAndSwapUsage(ctx, "visitor-1", 0, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close())

	reopened, err := store.OpenSQLite(path, 10)
	require.NoError(t, err)
	defer reopened.Close()

	session, err := reopened.Get(ctx, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, 3, session.UsageCount)
}

func TestUnavailableErrorIsDistinct(t *testing.T) {
	if errors.Is(store.ErrUnavailable, store.ErrNotFound) {
		t.Fatal("error taxonomy must keep unavailable distinct from not-found")
	}
}
