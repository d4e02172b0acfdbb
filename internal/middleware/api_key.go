package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/markr-app/markr-api/internal/utils"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth validates the X-API-Key header against the configured service
// keys using constant-time comparison. On success a short key fingerprint is
// bound to the request for logging and auditing.
func APIKeyAuth(keys []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := strings.TrimSpace(c.Get(apiKeyHeader))
		if provided == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "api key required")
		}

		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
				c.Locals("client_key", keyFingerprint(provided))
				return c.Next()
			}
		}

		return utils.SendError(c, fiber.StatusUnauthorized, "invalid api key")
	}
}

// keyFingerprint derives a stable short identifier that is safe to log and
// store; it never exposes the secret itself.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// ClientKeyFingerprint returns the fingerprint bound by APIKeyAuth, if any.
func ClientKeyFingerprint(c *fiber.Ctx) string {
	if value := c.Locals("client_key"); value != nil {
		if fingerprint, ok := value.(string); ok {
			return fingerprint
		}
	}
	return ""
}
