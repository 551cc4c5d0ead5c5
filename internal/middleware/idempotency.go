package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idem:v2:"
	idempotencyTimeout   = 2 * time.Second
	maxIdempotencyKeyLen = 200
)

// replay is the Redis record for one key. While the first request runs it
// holds only the fingerprint.
type replay struct {
	Fingerprint string `json:"fp"`
	Done        bool   `json:"done"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"ct,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the response of a POST that repeats an Idempotency-Key
// header with the same body. Reusing a key with a different body is rejected
// with 422, and a key whose first request is still running gets 409.
// Requests without the header, and every request when cache is nil, pass
// through. Client errors, including those returned as *fiber.Error, are
// recorded; server errors are not, so the caller may retry.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost || cache == nil {
			return c.Next()
		}
		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key too long")
		}

		sum := sha256.Sum256(c.Body())
		fp := hex.EncodeToString(sum[:])
		cacheKey := idempotencyPrefix + c.Path() + ":" + key

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyTimeout)
		defer cancel()

		pending, _ := json.Marshal(replay{Fingerprint: fp})
		reserved, err := cache.SetNX(ctx, cacheKey, pending, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("path", c.Path()), slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return replayStored(ctx, c, cache, cacheKey, fp, logger)
		}

		handlerErr := c.Next()
		status := responseStatus(c, handlerErr)

		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), idempotencyTimeout)
		defer persistCancel()

		if status >= fiber.StatusInternalServerError {
			cache.Del(persistCtx, cacheKey)
			return handlerErr
		}
		if handlerErr != nil {
			// render client errors now so the recorded body is what the caller sees
			if err := c.App().ErrorHandler(c, handlerErr); err != nil {
				cache.Del(persistCtx, cacheKey)
				return err
			}
		}

		done, err := json.Marshal(replay{
			Fingerprint: fp,
			Done:        true,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		})
		if err == nil {
			err = cache.Set(persistCtx, cacheKey, done, ttl).Err()
		}
		if err != nil {
			// the response already went through; only the replay is lost
			logger.Warn("idempotency persist failed", slog.String("path", c.Path()), slog.Any("error", err))
			cache.Del(persistCtx, cacheKey)
		}
		return nil
	}
}

func replayStored(ctx context.Context, c *fiber.Ctx, cache *redis.Client, cacheKey, fp string, logger *slog.Logger) error {
	raw, err := cache.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry")
	}
	if err != nil {
		logger.Error("idempotency lookup failed", slog.String("path", c.Path()), slog.Any("error", err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
	}

	var rec replay
	if err := json.Unmarshal(raw, &rec); err != nil {
		logger.Warn("idempotency record unreadable", slog.String("path", c.Path()), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	if rec.Fingerprint != fp {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
	}
	if !rec.Done {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	c.Set("Idempotent-Replayed", "true")
	if rec.ContentType != "" {
		c.Set(fiber.HeaderContentType, rec.ContentType)
	}
	return c.Status(rec.Status).Send(rec.Body)
}
