package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func setupAPIKeyApp(keys []string) *fiber.App {
	app := fiber.New()
	app.Get("/", APIKeyAuth(keys), func(c *fiber.Ctx) error {
		return c.SendString(ClientKeyFingerprint(c))
	})
	return app
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	app := setupAPIKeyApp([]string{"secret-key"})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyAuthRejectsWrongKey(t *testing.T) {
	app := setupAPIKeyApp([]string{"secret-key"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "wrong-key")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyAuthAcceptsConfiguredKey(t *testing.T) {
	app := setupAPIKeyApp([]string{"first-key", "second-key"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "second-key")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestKeyFingerprintIsStableAndShort(t *testing.T) {
	first := keyFingerprint("secret-key")
	second := keyFingerprint("secret-key")
	other := keyFingerprint("another-key")

	require.Equal(t, first, second)
	require.NotEqual(t, first, other)
	require.Len(t, first, 8)
	require.NotContains(t, first, "secret")
}
