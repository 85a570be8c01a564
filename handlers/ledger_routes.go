// handlers/ledger_routes.go
package handlers

import (
	"delivery-escrow-system/middleware"
	"delivery-escrow-system/models"
	"delivery-escrow-system/services"

	"github.com/gofiber/fiber/v2"
)

// LedgerHandler exposes the reference ledger to wallets in local deployments,
// plus the operator's escrow reconciliation view.
type LedgerHandler struct {
	Ledger     *services.LedgerService
	Deliveries *services.DeliveryRegistry
}

func SetupLedgerRoutes(app *fiber.App, h *LedgerHandler) {
	app.Get("/ledger/supply", h.TotalSupply)
	app.Get("/ledger/:account/balance", h.Balance)

	secured := app.Group("/s/ledger", middleware.UserContextMiddleware())
	secured.Post("/approve", h.ApproveEscrow)
	secured.Get("/allowance", h.EscrowAllowance)
	secured.Get("/history", h.History)

	admin := app.Group("/s/admin/ledger", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleOperator))
	admin.Post("/mint", h.Mint)
	admin.Get("/escrow", h.EscrowReport)
}

func (h *LedgerHandler) Balance(c *fiber.Ctx) error {
	balance, err := h.Ledger.BalanceOf(c.UserContext(), c.Params("account"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"balance": balance, "decimals": models.TokenDecimals})
}

func (h *LedgerHandler) TotalSupply(c *fiber.Ctx) error {
	supply, err := h.Ledger.TotalSupply(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"total_supply": supply, "decimals": models.TokenDecimals})
}

// ApproveEscrow sets the caller's allowance for the escrow account.
func (h *LedgerHandler) ApproveEscrow(c *fiber.Ctx) error {
	var body struct {
		Amount models.Amount `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	owner := middleware.CurrentAccount(c)
	if err := h.Ledger.Approve(c.UserContext(), owner, h.Deliveries.EscrowAccount(), body.Amount); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"owner":   owner,
		"spender": h.Deliveries.EscrowAccount(),
		"amount":  body.Amount,
	})
}

func (h *LedgerHandler) EscrowAllowance(c *fiber.Ctx) error {
	amount, err := h.Ledger.Allowance(c.UserContext(), middleware.CurrentAccount(c), h.Deliveries.EscrowAccount())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"allowance": amount})
}

func (h *LedgerHandler) History(c *fiber.Ctx) error {
	transfers, err := h.Ledger.History(c.UserContext(), middleware.CurrentAccount(c), c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"transfers": transfers})
}

func (h *LedgerHandler) Mint(c *fiber.Ctx) error {
	var body struct {
		Account string        `json:"account"`
		Amount  models.Amount `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if body.Amount.IsZero() {
		return respondError(c, services.ErrInvalidAmount)
	}
	if err := h.Ledger.Mint(c.UserContext(), body.Account, body.Amount); err != nil {
		return respondError(c, err)
	}
	balance, err := h.Ledger.BalanceOf(c.UserContext(), body.Account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"account": body.Account, "balance": balance})
}

func (h *LedgerHandler) EscrowReport(c *fiber.Ctx) error {
	report, err := services.CheckEscrow(c.UserContext(), h.Deliveries)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
