package account_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecpmlab/advisor/backend/internal/service/account"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

func TestLookupStripsBearerPrefix(t *testing.T) {
	svc := account.NewService(store.NewMemory(10), nil)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "tok-123", "acct-1"))

	id, err := svc.Lookup(ctx, "Bearer tok-123")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)

	id, err = svc.Lookup(ctx, "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)
}

func TestLookupUnknownCredentialIsAnonymous(t *testing.T) {
	svc := account.NewService(store.NewMemory(10), nil)

	id, err := svc.Lookup(context.Background(), "Bearer made-up")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = svc.Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, id)
}
