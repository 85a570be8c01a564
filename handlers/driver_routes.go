// handlers/driver_routes.go
package handlers

import (
	"delivery-escrow-system/middleware"
	"delivery-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

type DriverHandler struct {
	Drivers    *services.DriverRegistry
	Deliveries *services.DeliveryRegistry
}

func SetupDriverRoutes(app *fiber.App, h *DriverHandler) {
	app.Get("/drivers", h.GetAllDrivers)
	app.Get("/drivers/available", h.GetAvailableDrivers)
	app.Get("/drivers/count", h.GetDriverCount)
	app.Get("/drivers/:account", h.GetDriver)
	app.Get("/drivers/:account/requests", h.GetDriverRequests)

	secured := app.Group("/s/drivers", middleware.UserContextMiddleware())
	secured.Post("/register", h.RegisterDriver)
	secured.Put("/availability", h.SetAvailability)

	// 🛡️ Operator only
	admin := app.Group("/s/admin/drivers", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleOperator))
	admin.Put("/:account/rating", h.UpdateRating)
}

func (h *DriverHandler) RegisterDriver(c *fiber.Ctx) error {
	driver, err := h.Drivers.RegisterDriver(c.UserContext(), middleware.CurrentAccount(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(driver)
}

func (h *DriverHandler) SetAvailability(c *fiber.Ctx) error {
	var body struct {
		Available *bool `json:"available"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if body.Available == nil {
		return badRequest(c, "available is required", nil)
	}
	account := middleware.CurrentAccount(c)
	if err := h.Drivers.SetDriverAvailability(c.UserContext(), account, *body.Available); err != nil {
		return respondError(c, err)
	}
	driver, err := h.Drivers.GetDriver(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(driver)
}

func (h *DriverHandler) UpdateRating(c *fiber.Ctx) error {
	var body struct {
		Rating *int `json:"rating"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if body.Rating == nil {
		return badRequest(c, "rating is required", nil)
	}
	account := c.Params("account")
	if err := h.Drivers.UpdateDriverStats(c.UserContext(), middleware.CurrentAccount(c), account, *body.Rating); err != nil {
		return respondError(c, err)
	}
	driver, err := h.Drivers.GetDriver(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(driver)
}

func (h *DriverHandler) GetDriver(c *fiber.Ctx) error {
	driver, err := h.Drivers.GetDriver(c.UserContext(), c.Params("account"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(driver)
}

func (h *DriverHandler) GetAllDrivers(c *fiber.Ctx) error {
	accounts, err := h.Drivers.GetAllDrivers(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"drivers": nonNil(accounts)})
}

func (h *DriverHandler) GetAvailableDrivers(c *fiber.Ctx) error {
	accounts, err := h.Drivers.GetAvailableDrivers(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"drivers": nonNil(accounts)})
}

func (h *DriverHandler) GetDriverCount(c *fiber.Ctx) error {
	count, err := h.Drivers.GetDriverCount(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *DriverHandler) GetDriverRequests(c *fiber.Ctx) error {
	reqs, err := h.Deliveries.GetRequestsByDriver(c.UserContext(), c.Params("account"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"requests": reqs})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
