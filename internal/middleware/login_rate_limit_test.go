package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visioncare/telehealth/internal/logging"
)

func rateLimitedApp(cache *redis.Client, perMin int) *fiber.App {
	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, perMin, "login", logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func postLogin(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestLoginRateLimitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	app := rateLimitedApp(cache, 3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, fiber.StatusOK, postLogin(t, app, `{"email":"a@example.com"}`))
	}
	assert.Equal(t, fiber.StatusTooManyRequests, postLogin(t, app, `{"email":"A@example.com"}`))

	// other subjects keep their own budget
	assert.Equal(t, fiber.StatusOK, postLogin(t, app, `{"email":"b@example.com"}`))

	assert.True(t, mr.Exists("rl:login:a@example.com"))
	assert.Greater(t, mr.TTL("rl:login:a@example.com").Seconds(), 0.0)
}

func TestLoginRateLimitLocalFallback(t *testing.T) {
	app := rateLimitedApp(nil, 2)

	assert.Equal(t, fiber.StatusOK, postLogin(t, app, `{"phone":"+1 555"}`))
	assert.Equal(t, fiber.StatusOK, postLogin(t, app, `{"phone":"+1555"}`))
	assert.Equal(t, fiber.StatusTooManyRequests, postLogin(t, app, `{"phone":"+1-555"}`))
	assert.Equal(t, fiber.StatusOK, postLogin(t, app, `{"phone":"+1666"}`))
}

func TestLoginRateLimitRepairsCounterWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	app := rateLimitedApp(cache, 3)

	// a counter left behind by an INCR whose EXPIRE never landed
	require.NoError(t, mr.Set("rl:login:a@example.com", "10"))

	assert.Equal(t, fiber.StatusTooManyRequests, postLogin(t, app, `{"email":"a@example.com"}`))
	assert.Greater(t, mr.TTL("rl:login:a@example.com").Seconds(), 0.0)

	mr.FastForward(time.Minute)
	assert.Equal(t, fiber.StatusOK, postLogin(t, app, `{"email":"a@example.com"}`))
}
