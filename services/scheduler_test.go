package services

import (
	"testing"
	"time"

	"delivery-escrow-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEscrow_DetectsShortfall(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, 100)
	env.createRequest(alice, 40)

	report, err := CheckEscrow(env.ctx, env.deliveries)
	require.NoError(t, err)
	assert.True(t, report.Balanced)

	// custody drained outside the registry
	require.NoError(t, env.ledger.Transfer(env.ctx, escrowAcct, bob, models.Tokens(15)))

	report, err = CheckEscrow(env.ctx, env.deliveries)
	require.NoError(t, err)
	assert.False(t, report.Balanced)
	assert.Equal(t, models.Tokens(15), report.Shortfall)
	assert.Equal(t, models.Tokens(25), report.CustodyBalance)
}

func TestStartMaintenanceScheduler(t *testing.T) {
	env := newTestEnv(t)
	sched, err := StartMaintenanceScheduler(env.clock, time.Minute, env.badges, env.deliveries)
	require.NoError(t, err)
	assert.Len(t, sched.Jobs(), 2)
	require.NoError(t, sched.Shutdown())
}
