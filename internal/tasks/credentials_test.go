package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
)

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Refresh", func(t *testing.T) {
		t.Run("ExpiresAt Is Now Plus Lifetime", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "alice", -time.Minute)
			e.refresher.Grants["refresh-alice"] = services.TokenGrant{AccessToken: "new-access", ExpiresIn: 60 * time.Second}

			creds, err := e.store.Get(ctx, "alice")
			require.NoError(t, err)

			updated, err := e.store.Refresh(ctx, *creds)
			require.NoError(t, err)
			assert.Equal(t, "new-access", updated.AccessToken)
			assert.True(t, updated.ExpiresAt.Equal(e.now.Add(60*time.Second)), "expires at %v", updated.ExpiresAt)
			assert.Equal(t, "refresh-alice", updated.RefreshToken)
		})

		t.Run("Rotated Refresh Token Is Stored", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "alice", -time.Minute)
			e.refresher.Grants["refresh-alice"] = services.TokenGrant{
				AccessToken: "new-access", RefreshToken: "rotated", ExpiresIn: time.Hour,
			}

			creds, err := e.store.Get(ctx, "alice")
			require.NoError(t, err)
			_, err = e.store.Refresh(ctx, *creds)
			require.NoError(t, err)

			stored, err := e.store.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "rotated", stored.RefreshToken)
		})

		t.Run("Failure Leaves Credentials Unchanged", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "alice", -time.Minute)
			e.refresher.Errors["refresh-alice"] = shared.ErrRefreshFailed

			before, err := e.store.Get(ctx, "alice")
			require.NoError(t, err)

			_, err = e.store.Refresh(ctx, *before)
			require.ErrorIs(t, err, shared.ErrRefreshFailed)

			after, err := e.store.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	})

	t.Run("Fresh", func(t *testing.T) {
		t.Run("Valid Credentials Are Returned As Is", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "alice", time.Minute)

			creds, err := e.store.Fresh(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "access-alice", creds.AccessToken)
			assert.Empty(t, e.refresher.Calls())
		})

		t.Run("Expiring Within Threshold Is Refreshed", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "alice", 10*time.Second)

			creds, err := e.store.Fresh(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "access-refresh-alice", creds.AccessToken)
			assert.Equal(t, []string{"refresh-alice"}, e.refresher.Calls())
		})

		t.Run("Unknown User", func(t *testing.T) {
			e := newEnv(t)
			_, err := e.store.Fresh(ctx, "nobody")
			assert.ErrorIs(t, err, shared.ErrNotFound)
		})
	})

	t.Run("ExpiringBefore Excludes Boundary", func(t *testing.T) {
		e := newEnv(t)
		e.addUser(t, "before", -time.Second)
		e.addUser(t, "equal", 0)
		e.addUser(t, "after", time.Second)

		expiring, err := e.store.ExpiringBefore(ctx, e.now)
		require.NoError(t, err)
		require.Len(t, expiring, 1)
		assert.Equal(t, "before", expiring[0].UserID)
	})

	t.Run("Sweep", func(t *testing.T) {
		t.Run("Refreshes Only Before Horizon", func(t *testing.T) {
			e := newEnv(t)
			horizon := e.now.Add(-6 * time.Hour)
			e.addUser(t, "stale", -7*time.Hour)
			e.addUser(t, "boundary", -6*time.Hour)
			e.addUser(t, "recent", -time.Hour)

			result, err := e.store.Sweep(ctx, horizon)
			require.NoError(t, err)
			assert.Equal(t, []string{"stale"}, result.Refreshed)
			assert.Empty(t, result.Failed)
			assert.Equal(t, []string{"refresh-stale"}, e.refresher.Calls())
		})

		t.Run("One Failure Does Not Block Others", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "a", -time.Hour)
			e.addUser(t, "b", -time.Hour)
			e.addUser(t, "c", -time.Hour)
			e.refresher.Errors["refresh-b"] = shared.ErrRefreshFailed

			result, err := e.store.Sweep(ctx, e.now)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrRefreshFailed)

			assert.Equal(t, []string{"a", "c"}, result.Refreshed)
			require.Len(t, result.Failed, 1)
			assert.Equal(t, "b", result.Failed[0].ID)
			assert.Equal(t, PhaseRefresh, result.Failed[0].Phase)

			stored, err := e.store.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "access-refresh-a", stored.AccessToken)
		})

		t.Run("Nothing Expiring", func(t *testing.T) {
			e := newEnv(t)
			e.addUser(t, "a", time.Hour)

			result, err := e.store.Sweep(ctx, e.now)
			require.NoError(t, err)
			assert.Empty(t, result.Refreshed)
		})
	})
}
