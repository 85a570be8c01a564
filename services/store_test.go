package services

import (
	"context"
	"errors"
	"testing"

	"delivery-escrow-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomically_RollsBackStateAndEvents(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("boom")

	err := env.store.Atomically(env.ctx, func(ctx context.Context) error {
		require.NoError(t, env.ledger.Mint(ctx, alice, models.Tokens(5)))
		require.NoError(t, env.store.emit(ctx, EventFaucetClaimed, nil, alice, FaucetClaimedEvent{Account: alice}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, env.balance(alice).IsZero())
	assert.Empty(t, env.eventTypes())
}

func TestAtomically_NestedFailureRollsBackAlone(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("boom")

	err := env.store.Atomically(env.ctx, func(ctx context.Context) error {
		require.NoError(t, env.ledger.Mint(ctx, alice, models.Tokens(5)))
		nested := env.store.Atomically(ctx, func(ctx context.Context) error {
			require.NoError(t, env.ledger.Mint(ctx, bob, models.Tokens(7)))
			return boom
		})
		assert.ErrorIs(t, nested, boom)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.Tokens(5), env.balance(alice))
	assert.True(t, env.balance(bob).IsZero())
}

func TestSerialize_IsReentrant(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	err := env.store.Serialize(env.ctx, func(ctx context.Context) error {
		return env.store.Serialize(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
