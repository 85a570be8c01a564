package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var (
	escrowAcct   = models.MustAccount("0x2D4aCA74bCb99ae8d56B6B639d3a483C37A8B136")
	faucetAcct   = models.MustAccount("0x7e1Dc330db3BA354C50FDBAC63415aeC2Bc6e107")
	operatorAcct = models.MustAccount("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	alice = models.MustAccount("0x1000000000000000000000000000000000000001")
	bob   = models.MustAccount("0x2000000000000000000000000000000000000002")
	carol = models.MustAccount("0x3000000000000000000000000000000000000003")
	dave  = models.MustAccount("0x4000000000000000000000000000000000000004")
)

var errMinterDown = errors.New("minter unavailable")

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type testEnv struct {
	t          *testing.T
	ctx        context.Context
	clock      fakeClock
	store      *Store
	ledger     *LedgerService
	drivers    *DriverRegistry
	faucet     *Faucet
	minter     *LedgerBadgeMinter
	badges     *BadgeIssuer
	deliveries *DeliveryRegistry
	events     *EventLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := utils.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewStore(db, clock)
	ledger := NewLedgerService(store)
	drivers := NewDriverRegistry(store, escrowAcct, operatorAcct)
	minter := NewLedgerBadgeMinter(store, nil)
	badges := NewBadgeIssuer(store, drivers, minter, models.DefaultMilestoneSize)

	return &testEnv{
		t:          t,
		ctx:        context.Background(),
		clock:      clock,
		store:      store,
		ledger:     ledger,
		drivers:    drivers,
		faucet:     NewFaucet(store, ledger, DefaultFaucetConfig(faucetAcct)),
		minter:     minter,
		badges:     badges,
		deliveries: NewDeliveryRegistry(store, ledger, drivers, badges, escrowAcct),
		events:     NewEventLog(store),
	}
}

// fund mints tokens to account and lets escrow pull all of it.
func (e *testEnv) fund(account string, tokens uint64) {
	e.t.Helper()
	require.NoError(e.t, e.ledger.Mint(e.ctx, account, models.Tokens(tokens)))
	require.NoError(e.t, e.ledger.Approve(e.ctx, account, escrowAcct, models.Tokens(tokens)))
}

func (e *testEnv) balance(account string) models.Amount {
	e.t.Helper()
	bal, err := e.ledger.BalanceOf(e.ctx, account)
	require.NoError(e.t, err)
	return bal
}

func (e *testEnv) registerAvailable(driver string) {
	e.t.Helper()
	_, err := e.drivers.RegisterDriver(e.ctx, driver)
	require.NoError(e.t, err)
	require.NoError(e.t, e.drivers.SetDriverAvailability(e.ctx, driver, true))
}

func (e *testEnv) createRequest(requester string, tokens uint64) uint64 {
	e.t.Helper()
	req, err := e.deliveries.CreateRequest(e.ctx, requester, RequestDetails{
		Description:     "box of books",
		PickupLocation:  "12 Main St",
		DropoffLocation: "48 Oak Ave",
	}, models.Tokens(tokens))
	require.NoError(e.t, err)
	return req.ID
}

// deliver runs one request from creation to settlement.
func (e *testEnv) deliver(requester, driver string, tokens uint64) uint64 {
	e.t.Helper()
	id := e.createRequest(requester, tokens)
	_, err := e.deliveries.AcceptRequest(e.ctx, id, driver)
	require.NoError(e.t, err)
	_, err = e.deliveries.ConfirmDeliveryAsUser(e.ctx, id, requester)
	require.NoError(e.t, err)
	req, err := e.deliveries.ConfirmDeliveryAsDriver(e.ctx, id, driver)
	require.NoError(e.t, err)
	require.True(e.t, req.Completed)
	return id
}

func (e *testEnv) eventTypes() []string {
	e.t.Helper()
	events, err := e.events.ListSince(e.ctx, 0, 0)
	require.NoError(e.t, err)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func countType(types []string, want EventType) int {
	n := 0
	for _, t := range types {
		if t == string(want) {
			n++
		}
	}
	return n
}

// failingLedger wraps a ledger and fails transfers to selected accounts.
type failingLedger struct {
	TokenLedger
	failTransferTo map[string]error
}

func (f *failingLedger) Transfer(ctx context.Context, from, to string, amount models.Amount) error {
	if err, ok := f.failTransferTo[to]; ok {
		return err
	}
	return f.TokenLedger.Transfer(ctx, from, to, amount)
}

// flakyMinter fails while fail is set.
type flakyMinter struct {
	inner BadgeMinter
	fail  bool
	calls int
}

func (m *flakyMinter) MintBadge(ctx context.Context, driver string, milestone uint64) (uint64, error) {
	m.calls++
	if m.fail {
		return 0, errMinterDown
	}
	return m.inner.MintBadge(ctx, driver, milestone)
}
