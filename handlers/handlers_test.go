package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"delivery-escrow-system/middleware"
	"delivery-escrow-system/models"
	"delivery-escrow-system/services"
	"delivery-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testToken = "gateway-secret"

var (
	escrow   = models.MustAccount("0x2D4aCA74bCb99ae8d56B6B639d3a483C37A8B136")
	faucet   = models.MustAccount("0x7e1Dc330db3BA354C50FDBAC63415aeC2Bc6e107")
	operator = models.MustAccount("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	alice    = models.MustAccount("0x1000000000000000000000000000000000000001")
	carol    = models.MustAccount("0x3000000000000000000000000000000000000003")
)

type fixture struct {
	t      *testing.T
	app    *fiber.App
	ledger *services.LedgerService
	bus    *services.EventBus
	events *services.EventLog
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := utils.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store := services.NewStore(db, clockwork.NewFakeClock())
	ledger := services.NewLedgerService(store)
	drivers := services.NewDriverRegistry(store, escrow, operator)
	minter := services.NewLedgerBadgeMinter(store, nil)
	badges := services.NewBadgeIssuer(store, drivers, minter, models.DefaultMilestoneSize)
	deliveries := services.NewDeliveryRegistry(store, ledger, drivers, badges, escrow)
	fct := services.NewFaucet(store, ledger, services.DefaultFaucetConfig(faucet))
	events := services.NewEventLog(store)
	bus := services.NewEventBus()

	app := fiber.New()
	eventHandler := &EventHandler{Log: events, Bus: bus, KeepAlive: time.Hour}
	SetupEventStreamRoute(app, eventHandler, testToken)
	app.Use(middleware.GatewayAuthMiddleware(testToken))
	SetupDeliveryRoutes(app, &DeliveryHandler{Deliveries: deliveries, Events: events})
	SetupDriverRoutes(app, &DriverHandler{Drivers: drivers, Deliveries: deliveries})
	SetupFaucetRoutes(app, &FaucetHandler{Faucet: fct})
	SetupBadgeRoutes(app, &BadgeHandler{Badges: badges, Minter: minter})
	SetupLedgerRoutes(app, &LedgerHandler{Ledger: ledger, Deliveries: deliveries})
	SetupEventRoutes(app, eventHandler)

	return &fixture{t: t, app: app, ledger: ledger, bus: bus, events: events, db: db}
}

// call sends a gateway-authenticated request as account (empty = anonymous).
func (f *fixture) call(method, path, account, roles string, body interface{}) (int, map[string]interface{}) {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-User-ID", account)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	if len(raw) > 0 {
		require.NoError(f.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func tokens(n uint64) string {
	return models.Tokens(n).String()
}

func TestDeliveryFlowOverHTTP(t *testing.T) {
	f := newFixture(t)

	status, _ := f.call("POST", "/s/admin/ledger/mint", operator, "operator", fiber.Map{"account": alice, "amount": tokens(100)})
	require.Equal(t, fiber.StatusOK, status)
	status, _ = f.call("POST", "/s/ledger/approve", alice, "", fiber.Map{"amount": tokens(100)})
	require.Equal(t, fiber.StatusOK, status)

	status, body := f.call("POST", "/s/requests", alice, "", fiber.Map{
		"description":      "groceries",
		"pickup_location":  "market",
		"dropoff_location": "home",
		"amount":           tokens(50),
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "open", body["status"])

	status, body = f.call("POST", "/s/requests/1/accept", carol, "", nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "driver_not_eligible", body["error"])

	status, _ = f.call("POST", "/s/drivers/register", carol, "", nil)
	require.Equal(t, fiber.StatusCreated, status)
	status, body = f.call("PUT", "/s/drivers/availability", carol, "", fiber.Map{"available": true})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["available"])

	status, body = f.call("POST", "/s/requests/1/accept", carol, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "assigned", body["status"])

	status, _ = f.call("POST", "/s/requests/1/confirm/user", alice, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	status, body = f.call("POST", "/s/requests/1/confirm/driver", carol, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "completed", body["status"])

	status, body = f.call("GET", "/ledger/"+carol+"/balance", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, tokens(50), body["balance"])

	status, body = f.call("GET", "/drivers/"+carol+"/badges", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["badge_count"])
	assert.Equal(t, float64(4), body["next_badge_in"])

	status, body = f.call("GET", "/requests/1/events", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["events"], 5)

	status, body = f.call("GET", "/requests/active", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["request_ids"])
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	status, body := f.call("GET", "/requests/9", "", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "request_not_found", body["error"])

	status, _ = f.call("GET", "/requests/abc", "", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = f.call("POST", "/s/requests", alice, "", fiber.Map{"amount": tokens(1)})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "insufficient_allowance", body["error"])

	status, body = f.call("POST", "/s/requests", alice, "", fiber.Map{"amount": "0"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_amount", body["error"])

	status, _ = f.call("POST", "/s/requests", "", "", fiber.Map{"amount": tokens(1)})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = f.call("POST", "/s/admin/badges/sync", alice, "user", nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	// operator role but not the operator account
	status, body = f.call("PUT", "/s/admin/drivers/"+carol+"/rating", alice, "operator", fiber.Map{"rating": 50})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "not_authorized", body["error"])

	status, body = f.call("PUT", "/s/admin/drivers/"+carol+"/rating", operator, "operator", fiber.Map{"rating": 50})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "driver_not_registered", body["error"])
}

func TestFaucetOverHTTP(t *testing.T) {
	f := newFixture(t)

	status, body := f.call("POST", "/s/admin/faucet/fund", operator, "operator", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["minted"])

	status, body = f.call("POST", "/s/faucet/claim", alice, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, tokens(100), body["amount"])

	status, body = f.call("POST", "/s/faucet/claim", alice, "", nil)
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, "cooldown_active", body["error"])
	assert.Equal(t, float64(24*60*60), body["retry_after_seconds"])

	status, body = f.call("GET", "/faucet/"+alice, "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["can_claim_now"])

	status, body = f.call("GET", "/faucet/stats", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, tokens(100), body["total_dispensed"])
}

func TestGatewayTokenRequired(t *testing.T) {
	f := newFixture(t)
	resp, err := f.app.Test(httptest.NewRequest("GET", "/drivers", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestEventsCursor(t *testing.T) {
	f := newFixture(t)
	status, _ := f.call("POST", "/s/drivers/register", carol, "", nil)
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = f.call("PUT", "/s/drivers/availability", carol, "", fiber.Map{"available": true})
	require.Equal(t, fiber.StatusOK, status)

	status, body := f.call("GET", "/events?after=0&limit=1", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["events"], 1)
	assert.Equal(t, float64(1), body["next_cursor"])

	status, body = f.call("GET", "/events?after=1", "", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	events := body["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "DriverStatusChanged", events[0].(map[string]interface{})["type"])
}

func TestEventStreamReplaysBacklog(t *testing.T) {
	f := newFixture(t)
	status, _ := f.call("POST", "/s/drivers/register", carol, "", nil)
	require.Equal(t, fiber.StatusCreated, status)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.app.Test(httptest.NewRequest("GET", "/events/stream?token="+testToken, nil), -1)
		done <- result{resp, err}
	}()

	// the stream ends once the bus closes its subscription
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.bus.Close()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after bus close")
	}
	require.NoError(t, res.err)
	defer res.resp.Body.Close()
	assert.Equal(t, "text/event-stream", res.resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(res.resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "id: 1\nevent: DriverRegistered\n")
}

// openStream runs the SSE request until the bus closes and returns the body.
func (f *fixture) openStream(path string) string {
	f.t.Helper()
	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.app.Test(httptest.NewRequest("GET", path, nil), -1)
		done <- result{resp, err}
	}()

	require.Eventually(f.t, func() bool { return f.bus.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.bus.Close()

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		f.t.Fatal("stream did not end after bus close")
	}
	require.NoError(f.t, res.err)
	defer res.resp.Body.Close()
	raw, err := io.ReadAll(res.resp.Body)
	require.NoError(f.t, err)
	return string(raw)
}

func TestEventStreamReplaysEveryPage(t *testing.T) {
	f := newFixture(t)

	total := services.MaxEventPage + 100
	rows := make([]models.OutboxEvent, total)
	now := time.Now().UTC()
	for i := range rows {
		rows[i] = models.OutboxEvent{
			UID:          fmt.Sprintf("seed-%d", i),
			Type:         string(services.EventDriverStatusChange),
			Account:      carol,
			Payload:      "{}",
			CreatedAt:    now,
			DispatchedAt: &now,
		}
	}
	require.NoError(t, f.db.CreateInBatches(rows, 100).Error)

	body := f.openStream("/events/stream?token=" + testToken + "&after=5")
	assert.Equal(t, total-5, strings.Count(body, "\nevent: DriverStatusChanged\n"))
	assert.NotContains(t, body, "id: 5\n")
	assert.Contains(t, body, "id: 6\n")
	assert.Contains(t, body, fmt.Sprintf("id: %d\n", total))
}

func TestEventStreamFiltersByParticipant(t *testing.T) {
	f := newFixture(t)

	status, _ := f.call("POST", "/s/admin/ledger/mint", operator, "operator", fiber.Map{"account": alice, "amount": tokens(100)})
	require.Equal(t, fiber.StatusOK, status)
	status, _ = f.call("POST", "/s/ledger/approve", alice, "", fiber.Map{"amount": tokens(100)})
	require.Equal(t, fiber.StatusOK, status)
	status, _ = f.call("POST", "/s/drivers/register", carol, "", nil)
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = f.call("PUT", "/s/drivers/availability", carol, "", fiber.Map{"available": true})
	require.Equal(t, fiber.StatusOK, status)
	status, _ = f.call("POST", "/s/requests", alice, "", fiber.Map{
		"description":      "flowers",
		"pickup_location":  "shop",
		"dropoff_location": "office",
		"amount":           tokens(20),
	})
	require.Equal(t, fiber.StatusCreated, status)
	for _, step := range []struct{ path, who string }{
		{"/s/requests/1/accept", carol},
		{"/s/requests/1/confirm/user", alice},
		{"/s/requests/1/confirm/driver", carol},
	} {
		status, body := f.call("POST", step.path, step.who, "", nil)
		require.Equal(t, fiber.StatusOK, status, body)
	}

	body := f.openStream("/events/stream?token=" + testToken + "&account=" + alice)
	assert.Contains(t, body, "event: RequestCreated\n")
	assert.Contains(t, body, "event: RequestAccepted\n")
	assert.Equal(t, 2, strings.Count(body, "event: DeliveryConfirmed\n"))
	assert.Contains(t, body, "event: DeliveryCompleted\n")
	assert.NotContains(t, body, "event: DriverRegistered\n")
}

func TestEventStreamRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	status, _ := f.call("GET", "/events/stream?token=bad", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
