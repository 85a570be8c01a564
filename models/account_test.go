package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccount(t *testing.T) {
	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	got, err := ParseAccount("  " + lower + " ")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)

	upper, err := ParseAccount("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	require.NoError(t, err)
	assert.Equal(t, got, upper)
}

func TestParseAccount_Rejects(t *testing.T) {
	for _, s := range []string{
		"",
		"not-an-address",
		"0x1234",
		"0x0000000000000000000000000000000000000000",
	} {
		_, err := ParseAccount(s)
		assert.ErrorIs(t, err, ErrInvalidAccount, s)
	}
}

func TestMustAccountPanics(t *testing.T) {
	assert.Panics(t, func() { MustAccount("nope") })
}

func TestDeriveStatus(t *testing.T) {
	driver := "0x2000000000000000000000000000000000000002"

	r := &DeliveryRequest{}
	assert.Equal(t, RequestStatusOpen, r.DeriveStatus())
	assert.True(t, r.IsActive())

	r.AssignedDriver = &driver
	assert.Equal(t, RequestStatusAssigned, r.DeriveStatus())

	r.RequesterConfirmed, r.DriverConfirmed = true, true
	assert.True(t, r.BothConfirmed())

	r.Completed = true
	assert.Equal(t, RequestStatusCompleted, r.DeriveStatus())
	assert.False(t, r.IsActive())

	assert.Equal(t, RequestStatusCancelled, (&DeliveryRequest{Cancelled: true}).DeriveStatus())
}

func TestBadgeTier(t *testing.T) {
	assert.Equal(t, "bronze", BadgeTier(0))
	assert.Equal(t, "bronze", BadgeTier(1))
	assert.Equal(t, "gold", BadgeTier(3))
	assert.Equal(t, "diamond", BadgeTier(5))
	assert.Equal(t, "diamond", BadgeTier(40))
}

func TestOutboxEventInvolves(t *testing.T) {
	requester := "0x1000000000000000000000000000000000000001"
	driver := "0x2000000000000000000000000000000000000002"
	ev := &OutboxEvent{Account: driver, Counterparty: requester}

	assert.True(t, ev.Involves(driver))
	assert.True(t, ev.Involves(requester))
	assert.False(t, ev.Involves("0x3000000000000000000000000000000000000003"))
	assert.False(t, (&OutboxEvent{Account: driver}).Involves(""))
}
