// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"delivery-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
)

// tokenMatches compares in constant time; an unset expected token matches nothing.
func tokenMatches(got, expected string) bool {
	if got == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// serviceToken pulls the settlement service token out of an Authorization value.
func serviceToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
		return strings.TrimSpace(authorization[7:])
	}
	return authorization
}

// GatewayAuthMiddleware admits only calls relayed by the marketplace gateway,
// which presents GATEWAY_SERVICE_TOKEN on every request.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	if expectedToken == "" {
		utils.Log.Error("❌ GATEWAY_SERVICE_TOKEN is empty, every settlement call will be refused")
	}

	return func(c *fiber.Ctx) error {
		token := serviceToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			utils.Log.Warnf("🚫 [gateway] no service token on %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}
		if !tokenMatches(token, expectedToken) {
			utils.Log.Warnf("❌ [gateway] bad service token on %s %s from %s", c.Method(), c.Path(), c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}
