package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const UserIDHeader = "X-User-ID"

// UserMiddleware trusts the caller identity set by the upstream gateway.
func UserMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(UserIDHeader))
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing " + UserIDHeader + " header",
			})
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid " + UserIDHeader + " header",
			})
		}

		c.Locals("user_id", raw)
		return c.Next()
	}
}
