// middleware/auth.go
package middleware

import (
	"strings"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"

	"github.com/gofiber/fiber/v2"
)

const (
	LocalUserID    = "user_id"    // checksummed account address
	LocalUserRoles = "user_roles" // []string

	RoleOperator = "operator"
)

// UserContextMiddleware extracts the caller account and roles set by Gateway.
// X-User-ID is the caller's account address; it is required on secured routes.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawID := c.Get("X-User-ID")
		if rawID == "" {
			utils.Log.Warnf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		account, err := models.ParseAccount(rawID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "X-User-ID is not a valid account address",
				"details": err.Error(),
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, strings.ToLower(r))
			}
		}

		c.Locals(LocalUserID, account)
		c.Locals(LocalUserRoles, roles)

		utils.Log.Debugf("👤 [USER_CTX] UserID=%s, Roles=%v | Path: %s", account, roles, c.Path())
		return c.Next()
	}
}

// RequireRole rejects callers without role. Must run after UserContextMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			utils.Log.Warnf("🚫 [USER_CTX] %s lacks role %q for %s", CurrentAccount(c), role, c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}
		return c.Next()
	}
}

func CurrentAccount(c *fiber.Ctx) string {
	account, _ := c.Locals(LocalUserID).(string)
	return account
}

func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(LocalUserRoles).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
