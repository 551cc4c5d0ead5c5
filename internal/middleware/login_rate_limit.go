package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	defaultLoginPerMin = 20
	localLimiterSlots  = 10000
	rateWindow         = time.Minute
)

// LoginRateLimit throttles credential endpoints per subject (the email or
// phone in the body, else the client IP). With Redis the window is shared
// across instances; without it each instance keeps token buckets in memory.
// Redis errors fail open.
func LoginRateLimit(cache *redis.Client, maxPerMin int, scope string, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = defaultLoginPerMin
	}
	local := newLocalLimiter(maxPerMin)

	return func(c *fiber.Ctx) error {
		key := "rl:" + scope + ":" + rateSubject(c)

		if cache == nil {
			if !local.allow(key) {
				return tooManyAttempts()
			}
			return c.Next()
		}

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit lookup failed", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			if err := cache.Expire(ctx, key, rateWindow).Err(); err != nil {
				// a counter without a TTL would throttle the subject forever
				logger.Warn("rate limit expire failed", slog.String("scope", scope), slog.Any("error", err))
				cache.Del(context.WithoutCancel(ctx), key)
				return c.Next()
			}
		}
		if cnt > int64(maxPerMin) {
			ensureWindow(ctx, cache, key, logger)
			return tooManyAttempts()
		}
		return c.Next()
	}
}

// ensureWindow gives a throttled counter a TTL if it lost its own.
func ensureWindow(ctx context.Context, cache *redis.Client, key string, logger *slog.Logger) {
	ttl, err := cache.TTL(ctx, key).Result()
	if err != nil || ttl >= 0 {
		return
	}
	// -1 means no expiry; -2 means the key is already gone
	if ttl == -1 {
		if err := cache.Expire(ctx, key, rateWindow).Err(); err != nil {
			logger.Warn("rate limit window repair failed", slog.Any("error", err))
		}
	}
}

func tooManyAttempts() error {
	return fiber.NewError(http.StatusTooManyRequests, "Too many attempts, try again later")
}

func rateSubject(c *fiber.Ctx) string {
	var req struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	_ = c.BodyParser(&req)
	if s := strings.ToLower(strings.TrimSpace(req.Email)); s != "" {
		return s
	}
	if s := strings.NewReplacer(" ", "", "-", "").Replace(req.Phone); s != "" {
		return s
	}
	return c.IP()
}

// localLimiter keeps a bounded set of per-subject token buckets.
type localLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func newLocalLimiter(perMin int) *localLimiter {
	cache, _ := lru.New[string, *rate.Limiter](localLimiterSlots)
	return &localLimiter{
		limiters: cache,
		limit:    rate.Every(time.Minute / time.Duration(perMin)),
		burst:    perMin,
	}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}
