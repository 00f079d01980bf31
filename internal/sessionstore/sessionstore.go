// Package sessionstore implements the Session Store Client (§4.5): a
// non-blocking GET against the shared session cache, composed as
// breaker "redis" → 3-second timeout → key-value read → JSON parse on the
// worker pool.
package sessionstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sessiongate/gateway/internal/apperr"
	"github.com/sessiongate/gateway/internal/breaker"
	"github.com/sessiongate/gateway/internal/session"
	"github.com/sessiongate/gateway/internal/workerpool"
)

// DefaultReadTimeout is the per-read deadline of §4.5/§5.
const DefaultReadTimeout = 3 * time.Second

// Client reads session records from the shared Redis-backed cache.
type Client struct {
	redis   *redis.Client
	breaker *breaker.Breaker
	pool    *workerpool.Pool
	logger  *slog.Logger
	timeout time.Duration
}

// New builds a session store client. breaker must be the registry's
// "redis"-policy breaker; pool is shared with the rest of the pipeline for
// dispatching JSON parse work off the main path.
func New(redisClient *redis.Client, b *breaker.Breaker, pool *workerpool.Pool, logger *slog.Logger) *Client {
	return &Client{
		redis:   redisClient,
		breaker: b,
		pool:    pool,
		logger:  logger,
		timeout: DefaultReadTimeout,
	}
}

// Get looks up the session record for (partner, sessionID). It never
// blocks the caller beyond the configured timeout and breaker-open calls
// return immediately without attempting I/O (P5).
func (c *Client) Get(ctx context.Context, partner, sessionID string) (*session.Record, error) {
	key := session.RedisKey(partner, sessionID)

	var value string
	ran, err := c.breaker.Do(func() error {
		readCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		v, getErr := c.redis.Get(readCtx, key).Result()
		if getErr == redis.Nil {
			value = ""
			return nil
		}
		if getErr != nil {
			return getErr
		}
		value = v
		return nil
	})
	if !ran {
		return nil, apperr.BreakerOpen(c.breaker.Name())
	}
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			return nil, apperr.Wrap(apperr.SessionServiceUnavailable, "session read timed out", err)
		}
		return nil, apperr.Wrap(apperr.SessionServiceUnavailable, "session read failed", err)
	}
	if value == "" {
		return nil, apperr.New(apperr.SessionInvalid, fmt.Sprintf("session not found: %s", key))
	}

	rec, parseErr := workerpool.Submit(ctx, c.pool, func() (*session.Record, error) {
		return session.Decode([]byte(value))
	})
	if parseErr != nil {
		c.logger.Error("sessionstore: parse failure", slog.String("key", key), slog.Int("payloadLength", len(value)))
		return nil, apperr.Wrap(apperr.Internal, "session record parse failed", parseErr)
	}
	return rec, nil
}
