package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"delivery-escrow-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fanOut runs fn n times concurrently and returns every result.
func fanOut(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestFaucetClaim_ConcurrentSameAccount(t *testing.T) {
	env := newTestEnv(t)
	fundedFaucet(t, env)

	errs := fanOut(20, func(int) error {
		_, err := env.faucet.Claim(env.ctx, alice)
		return err
	})

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrCooldownActive)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, models.Tokens(100), env.balance(alice))
	assert.Equal(t, 1, countType(env.eventTypes(), EventFaucetClaimed))
}

func TestFaucetClaim_ConcurrentCap(t *testing.T) {
	env := newTestEnv(t)
	env.faucet = NewFaucet(env.store, env.ledger, FaucetConfig{
		Custody:  faucetAcct,
		Amount:   models.Tokens(100),
		Cooldown: 24 * time.Hour,
		TotalCap: models.Tokens(300),
	})
	fundedFaucet(t, env)

	accounts := make([]string, 10)
	for i := range accounts {
		accounts[i] = models.MustAccount(fmt.Sprintf("0x%040x", 0x500+i))
	}

	errs := fanOut(len(accounts), func(i int) error {
		_, err := env.faucet.Claim(env.ctx, accounts[i])
		return err
	})

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrCapReached)
	}
	assert.Equal(t, 3, ok)

	stats, err := env.faucet.GetStats(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Tokens(300), stats.TotalDispensed)
	assert.True(t, stats.CapReached)
	assert.True(t, stats.CustodyBalance.IsZero())
}

func TestDelivery_RacingConfirmationsSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, 100)
	env.registerAvailable(carol)

	id := env.createRequest(alice, 25)
	_, err := env.deliveries.AcceptRequest(env.ctx, id, carol)
	require.NoError(t, err)

	errs := fanOut(40, func(i int) error {
		if i%2 == 0 {
			_, err := env.deliveries.ConfirmDeliveryAsUser(env.ctx, id, alice)
			return err
		}
		_, err := env.deliveries.ConfirmDeliveryAsDriver(env.ctx, id, carol)
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}

	req, err := env.deliveries.GetRequest(env.ctx, id)
	require.NoError(t, err)
	assert.True(t, req.Completed)

	deliveries, _, err := env.drivers.GetDriverStats(env.ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), deliveries)
	assert.Equal(t, models.Tokens(25), env.balance(carol))
	assert.True(t, env.balance(escrowAcct).IsZero())

	types := env.eventTypes()
	assert.Equal(t, 2, countType(types, EventDeliveryConfirmed))
	assert.Equal(t, 1, countType(types, EventDeliveryCompleted))
}

func TestDelivery_RacingAcceptsAssignOnce(t *testing.T) {
	env := newTestEnv(t)
	env.fund(alice, 100)
	drivers := []string{bob, carol, dave}
	for _, d := range drivers {
		env.registerAvailable(d)
	}
	id := env.createRequest(alice, 10)

	errs := fanOut(len(drivers)*4, func(i int) error {
		_, err := env.deliveries.AcceptRequest(env.ctx, id, drivers[i%len(drivers)])
		return err
	})

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrRequestUnavailable), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, countType(env.eventTypes(), EventRequestAccepted))
}
