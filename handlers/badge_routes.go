// handlers/badge_routes.go
package handlers

import (
	"delivery-escrow-system/middleware"
	"delivery-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

type BadgeHandler struct {
	Badges *services.BadgeIssuer
	Minter *services.LedgerBadgeMinter
}

func SetupBadgeRoutes(app *fiber.App, h *BadgeHandler) {
	app.Get("/drivers/:account/badges", h.GetDriverBadges)

	admin := app.Group("/s/admin/badges", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleOperator))
	admin.Post("/sync", h.Sync)
	admin.Post("/:account/check", h.Check)
}

// GetDriverBadges is the driver dashboard view: count, progress and tokens.
func (h *BadgeHandler) GetDriverBadges(c *fiber.Ctx) error {
	account := c.Params("account")
	ctx := c.UserContext()

	count, err := h.Badges.BadgeCount(ctx, account)
	if err != nil {
		return respondError(c, err)
	}
	next, err := h.Badges.NextBadgeIn(ctx, account)
	if err != nil {
		return respondError(c, err)
	}
	badges, err := h.Minter.ListBadges(ctx, account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"badge_count":    count,
		"next_badge_in":  next,
		"milestone_size": h.Badges.MilestoneSize(),
		"badges":         badges,
	})
}

func (h *BadgeHandler) Check(c *fiber.Ctx) error {
	minted, err := h.Badges.RecordDeliveryAndMaybeMint(c.UserContext(), c.Params("account"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"minted": minted})
}

func (h *BadgeHandler) Sync(c *fiber.Ctx) error {
	minted, err := h.Badges.SyncLaggingBadges(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"minted": minted})
}
