// handlers/errors.go
package handlers

import (
	"errors"
	"strconv"

	"delivery-escrow-system/models"
	"delivery-escrow-system/services"
	"delivery-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
)

type errorKind struct {
	err    error
	status int
	code   string
}

// Outer kinds first: a rebalance failure wraps a ledger error and reports as the rebalance.
var errorKinds = []errorKind{
	{services.ErrEscrowRebalanceFailed, fiber.StatusUnprocessableEntity, "escrow_rebalance_failed"},
	{services.ErrSettlementFailed, fiber.StatusBadGateway, "settlement_failed"},
	{services.ErrMintFailed, fiber.StatusBadGateway, "mint_failed"},
	{models.ErrInvalidAccount, fiber.StatusBadRequest, "invalid_account"},
	{services.ErrInvalidAmount, fiber.StatusBadRequest, "invalid_amount"},
	{services.ErrNotAuthorized, fiber.StatusForbidden, "not_authorized"},
	{services.ErrRequestNotFound, fiber.StatusNotFound, "request_not_found"},
	{services.ErrDriverNotRegistered, fiber.StatusNotFound, "driver_not_registered"},
	{services.ErrRequestClosed, fiber.StatusConflict, "request_closed"},
	{services.ErrRequestUnavailable, fiber.StatusConflict, "request_unavailable"},
	{services.ErrAlreadyAssigned, fiber.StatusConflict, "already_assigned"},
	{services.ErrAlreadyRegistered, fiber.StatusConflict, "already_registered"},
	{services.ErrDriverNotEligible, fiber.StatusConflict, "driver_not_eligible"},
	{services.ErrCapReached, fiber.StatusConflict, "cap_reached"},
	{services.ErrInsufficientAllowance, fiber.StatusUnprocessableEntity, "insufficient_allowance"},
	{services.ErrInsufficientFunds, fiber.StatusUnprocessableEntity, "insufficient_funds"},
	{services.ErrRatingOutOfRange, fiber.StatusUnprocessableEntity, "rating_out_of_range"},
	{services.ErrCooldownActive, fiber.StatusTooManyRequests, "cooldown_active"},
}

// respondError maps a domain error kind to its HTTP status.
func respondError(c *fiber.Ctx, err error) error {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		body := fiber.Map{
			"error":   k.code,
			"details": err.Error(),
		}
		var cooldown *services.CooldownError
		if errors.As(err, &cooldown) {
			secs := cooldown.SecondsRemaining()
			body["retry_after_seconds"] = secs
			c.Set(fiber.HeaderRetryAfter, strconv.FormatUint(secs, 10))
		}
		if k.status >= fiber.StatusInternalServerError {
			utils.Log.Errorf("❌ %s %s: %v", c.Method(), c.Path(), err)
		}
		return c.Status(k.status).JSON(body)
	}

	utils.Log.Errorf("❌ %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"details": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	body := fiber.Map{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

var errInvalidID = errors.New("request id must be a positive integer")

func paramID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return id, nil
}
