package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const LocalRequestID = "request_id"

// RequestID propagates the gateway's X-Request-ID or mints one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Locals(LocalRequestID, id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}
