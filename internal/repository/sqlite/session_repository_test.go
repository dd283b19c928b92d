package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SessionRepository {
	t.Helper()
	db, err := Open(t.TempDir() + "/session.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := &SessionRepository{db: db}
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	token, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "fresh store holds no session")

	require.NoError(t, repo.Save(ctx, "refresh-1"))
	token, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", token)

	// saving again overwrites the single row
	require.NoError(t, repo.Save(ctx, "refresh-2"))
	token, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", token)

	require.NoError(t, repo.Clear(ctx))
	token, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSessionRepositoryClearIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Clear(ctx))
	require.NoError(t, repo.Clear(ctx))
}
