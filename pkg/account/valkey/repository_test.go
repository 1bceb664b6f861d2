package accountvalkey_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/link-checkout/internal/dbtest/valkeytest"
	"github.com/openkcm/link-checkout/internal/serviceerr"
	"github.com/openkcm/link-checkout/pkg/account"
	accountvalkey "github.com/openkcm/link-checkout/pkg/account/valkey"
)

func TestRepository(t *testing.T) {
	ctx := t.Context()
	valkeyClient, _, terminate := valkeytest.Start(ctx)
	defer terminate(ctx)

	repo := accountvalkey.NewRepository(valkeyClient, "link-test:", time.Hour)

	t.Run("load missing account", func(t *testing.T) {
		_, err := repo.Load(ctx, "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
		assert.ErrorIs(t, err, accountvalkey.ErrGetAccount)
	})

	t.Run("store and load", func(t *testing.T) {
		snap := account.Snapshot{
			ID:                        "acct_123",
			Phase:                     account.PhaseRequiresVerification,
			Email:                     "jane@example.com",
			LastAddedPaymentDetailsID: "pd_1",
		}
		require.NoError(t, repo.Store(ctx, "host-a", snap))

		got, err := repo.Load(ctx, "host-a")
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	})

	t.Run("store rejects invalid snapshot", func(t *testing.T) {
		err := repo.Store(ctx, "host-b", account.Snapshot{Phase: account.PhaseVerified})
		assert.ErrorIs(t, err, account.ErrMissingAccountID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Store(ctx, "host-c", account.Snapshot{ID: "acct_9", Phase: account.PhaseVerified}))
		require.NoError(t, repo.Delete(ctx, "host-c"))

		_, err := repo.Load(ctx, "host-c")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("delete missing account is not an error", func(t *testing.T) {
		assert.NoError(t, repo.Delete(ctx, "never-stored"))
	})
}
