// middleware/sse_auth.go
package middleware

import (
	"strings"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
)

// SSEAuthMiddleware authenticates EventSource clients, which cannot set headers:
// the gateway token comes in `token`, and an optional `account` query param
// narrows the stream to one account.
//
// Usage:
//
//	app.Get("/events/stream", middleware.SSEAuthMiddleware(token), eventHandler.Stream)
func SSEAuthMiddleware(expectedToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			token = serviceToken(c.Get(fiber.HeaderAuthorization))
		}
		if !tokenMatches(token, expectedToken) {
			utils.Log.Warnf("[SSEAuth] ❌ rejected stream request from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		if raw := strings.TrimSpace(c.Query("account")); raw != "" {
			account, err := models.ParseAccount(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":   "invalid account",
					"details": err.Error(),
				})
			}
			c.Locals(LocalUserID, account)
		}

		utils.Log.Debugf("[SSEAuth] ✅ stream authenticated (account=%q)", CurrentAccount(c))
		return c.Next()
	}
}
