// handlers/delivery_routes.go
package handlers

import (
	"delivery-escrow-system/middleware"
	"delivery-escrow-system/models"
	"delivery-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

type DeliveryHandler struct {
	Deliveries *services.DeliveryRegistry
	Events     *services.EventLog
}

// RequestBody is the create/update payload. Amount is in the token's smallest unit.
type RequestBody struct {
	Description     string        `json:"description"`
	PickupLocation  string        `json:"pickup_location"`
	DropoffLocation string        `json:"dropoff_location"`
	Amount          models.Amount `json:"amount"`
}

func (b RequestBody) details() services.RequestDetails {
	return services.RequestDetails{
		Description:     b.Description,
		PickupLocation:  b.PickupLocation,
		DropoffLocation: b.DropoffLocation,
	}
}

func SetupDeliveryRoutes(app *fiber.App, h *DeliveryHandler) {
	// 🔓 Public reads
	app.Get("/requests/active", h.GetActiveRequests)
	app.Get("/requests/count", h.RequestCount)
	app.Get("/requests/:id", h.GetRequest)
	app.Get("/requests/:id/driver", h.GetAssignedDriver)
	app.Get("/requests/:id/confirmations", h.GetConfirmationStatus)
	app.Get("/requests/:id/events", h.GetRequestEvents)
	app.Get("/requesters/:account/requests", h.GetRequestsByRequester)

	// 🔐 Caller-scoped mutations
	secured := app.Group("/s/requests", middleware.UserContextMiddleware())
	secured.Get("/mine", h.GetMyRequests)
	secured.Post("/", h.CreateRequest)
	secured.Put("/:id", h.UpdateRequest)
	secured.Post("/:id/cancel", h.CancelRequest)
	secured.Post("/:id/accept", h.AcceptRequest)
	secured.Post("/:id/confirm/user", h.ConfirmAsUser)
	secured.Post("/:id/confirm/driver", h.ConfirmAsDriver)
}

func (h *DeliveryHandler) CreateRequest(c *fiber.Ctx) error {
	var body RequestBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	req, err := h.Deliveries.CreateRequest(c.UserContext(), middleware.CurrentAccount(c), body.details(), body.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

func (h *DeliveryHandler) UpdateRequest(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	var body RequestBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	req, err := h.Deliveries.UpdateRequest(c.UserContext(), id, middleware.CurrentAccount(c), body.details(), body.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

func (h *DeliveryHandler) CancelRequest(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	req, err := h.Deliveries.CancelRequest(c.UserContext(), id, middleware.CurrentAccount(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

func (h *DeliveryHandler) AcceptRequest(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	req, err := h.Deliveries.AcceptRequest(c.UserContext(), id, middleware.CurrentAccount(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

func (h *DeliveryHandler) ConfirmAsUser(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	req, err := h.Deliveries.ConfirmDeliveryAsUser(c.UserContext(), id, middleware.CurrentAccount(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

func (h *DeliveryHandler) ConfirmAsDriver(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	req, err := h.Deliveries.ConfirmDeliveryAsDriver(c.UserContext(), id, middleware.CurrentAccount(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

func (h *DeliveryHandler) GetRequest(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	req, err := h.Deliveries.GetRequest(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

func (h *DeliveryHandler) GetActiveRequests(c *fiber.Ctx) error {
	ids, err := h.Deliveries.GetActiveRequests(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return c.JSON(fiber.Map{"request_ids": ids})
}

func (h *DeliveryHandler) RequestCount(c *fiber.Ctx) error {
	count, err := h.Deliveries.RequestCount(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *DeliveryHandler) GetAssignedDriver(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	driver, err := h.Deliveries.GetAssignedDriver(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if driver == "" {
		return c.JSON(fiber.Map{"assigned": false, "driver": nil})
	}
	return c.JSON(fiber.Map{"assigned": true, "driver": driver})
}

func (h *DeliveryHandler) GetConfirmationStatus(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	status, err := h.Deliveries.GetConfirmationStatus(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

func (h *DeliveryHandler) GetRequestEvents(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "invalid request id", err)
	}
	if _, err := h.Deliveries.GetRequest(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	events, err := h.Events.ListForRequest(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *DeliveryHandler) GetRequestsByRequester(c *fiber.Ctx) error {
	reqs, err := h.Deliveries.GetRequestsByRequester(c.UserContext(), c.Params("account"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"requests": reqs})
}

func (h *DeliveryHandler) GetMyRequests(c *fiber.Ctx) error {
	account := middleware.CurrentAccount(c)
	asRequester, err := h.Deliveries.GetRequestsByRequester(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	asDriver, err := h.Deliveries.GetRequestsByDriver(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"requested": asRequester,
		"driving":   asDriver,
	})
}
