// handlers/faucet_routes.go
package handlers

import (
	"delivery-escrow-system/middleware"
	"delivery-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

type FaucetHandler struct {
	Faucet *services.Faucet
}

func SetupFaucetRoutes(app *fiber.App, h *FaucetHandler) {
	app.Get("/faucet/stats", h.GetStats)
	app.Get("/faucet/:account", h.GetInfo)

	secured := app.Group("/s/faucet", middleware.UserContextMiddleware())
	secured.Post("/claim", h.Claim)

	admin := app.Group("/s/admin/faucet", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleOperator))
	admin.Post("/fund", h.Fund)
}

func (h *FaucetHandler) Claim(c *fiber.Ctx) error {
	account := middleware.CurrentAccount(c)
	amount, err := h.Faucet.Claim(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"account": account,
		"amount":  amount,
	})
}

func (h *FaucetHandler) GetInfo(c *fiber.Ctx) error {
	info, err := h.Faucet.GetFaucetInfo(c.UserContext(), c.Params("account"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(info)
}

func (h *FaucetHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.Faucet.GetStats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

func (h *FaucetHandler) Fund(c *fiber.Ctx) error {
	minted, err := h.Faucet.FundFaucet(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"minted": minted})
}
