// handlers/event_stream.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"delivery-escrow-system/middleware"
	"delivery-escrow-system/models"
	"delivery-escrow-system/services"
	"delivery-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
)

type EventHandler struct {
	Log *services.EventLog
	Bus *services.EventBus

	KeepAlive time.Duration
}

// SetupEventStreamRoute must be registered before the global gateway
// middleware: EventSource clients authenticate with a query token instead.
func SetupEventStreamRoute(app *fiber.App, h *EventHandler, gatewayToken string) {
	app.Get("/events/stream", middleware.SSEAuthMiddleware(gatewayToken), h.Stream)
}

func SetupEventRoutes(app *fiber.App, h *EventHandler) {
	app.Get("/events", h.List)
}

// List is the cursor read: ?after=<id>&limit=<n>.
func (h *EventHandler) List(c *fiber.Ctx) error {
	after, err := strconv.ParseUint(c.Query("after", "0"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid after cursor", err)
	}
	events, err := h.Log.ListSince(c.UserContext(), after, c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, err)
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return c.JSON(fiber.Map{"events": events, "next_cursor": next})
}

// Stream replays every event after Last-Event-ID (or ?after=) and then follows the bus.
// With ?account= only events involving that account are written.
func (h *EventHandler) Stream(c *fiber.Ctx) error {
	account := middleware.CurrentAccount(c)

	lastID, _ := strconv.ParseUint(c.Get("Last-Event-ID", c.Query("after", "0")), 10, 64)

	// Subscribe before replaying so nothing falls between the two.
	live, cancel := h.Bus.Subscribe(256)
	ctx := c.UserContext()
	backlog, err := h.Log.ListSince(ctx, lastID, services.MaxEventPage)
	if err != nil {
		cancel()
		return respondError(c, err)
	}

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		send := func(ev models.OutboxEvent) bool {
			if ev.ID <= lastID {
				return true
			}
			lastID = ev.ID
			if account != "" && !ev.Involves(account) {
				return true
			}
			if err := writeEvent(w, ev); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		// Replay page by page; a short page means the log is caught up.
		for page := backlog; ; {
			for _, ev := range page {
				if !send(ev) {
					return
				}
			}
			if len(page) < services.MaxEventPage {
				break
			}
			page, err = h.Log.ListSince(ctx, lastID, services.MaxEventPage)
			if err != nil {
				utils.Log.Warnf("⚠️ SSE replay after %d failed: %v", lastID, err)
				return
			}
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-live:
				if !ok {
					return
				}
				if !send(ev) {
					utils.Log.Debugf("SSE client gone (account=%q)", account)
					return
				}
			case <-ticker.C:
				w.WriteString(": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})

	return nil
}

func writeEvent(w *bufio.Writer, ev models.OutboxEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
	return err
}
