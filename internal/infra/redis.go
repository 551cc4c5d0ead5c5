package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisConnectPingTimeout = 5 * time.Second
	// OTP and rate-limit calls sit on the login path; fail them fast.
	redisCommandTimeout     = 500 * time.Millisecond
)

// NewRedisClient opens the client backing OTP challenges, login throttling
// and idempotency records, and pings it once.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = redisCommandTimeout
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = redisCommandTimeout
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, redisConnectPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}
	return client, nil
}
