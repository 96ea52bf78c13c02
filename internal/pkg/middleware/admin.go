package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
)

// AdminKeyMiddleware protects operator endpoints with a shared admin key.
// Only the bcrypt hash of the key is kept in configuration.
func AdminKeyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		hash := env.GetEnv("ADMIN_KEY_HASH", "")
		if hash == "" {
			log.Error("[Admin] ADMIN_KEY_HASH is not configured, rejecting admin request")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "service_unavailable",
				"message": "Admin access not configured",
			})
		}

		key := strings.TrimSpace(c.Get("X-Admin-Key"))
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing X-Admin-Key header",
			})
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "Invalid admin key",
			})
		}
		return c.Next()
	}
}
