package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// IdempotencyHeader carries the client's key for a state-changing request
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// Locker holds short-lived exclusive locks
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a locker; keys are namespaced under prefix
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire takes the lock if nobody holds it
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, "PROCESSING", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Idempotency serialises requests carrying the same Idempotency-Key for the
// same customer. A second request arriving while the first is in flight gets
// 409; once the first finishes the handler's own replay logic answers.
// Requests without a key pass through. When the locker is unreachable the
// request proceeds and the database constraint is the only guard.
func Idempotency(locker Locker, ttl time.Duration, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if key == "" || locker == nil {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": fmt.Sprintf("%s must be at most %d characters", IdempotencyHeader, maxIdempotencyKeyLength),
				"code":    "INVALID_IDEMPOTENCY_KEY",
			})
			return
		}

		owner := "anonymous"
		if userCtx, ok := GetUserContext(c); ok {
			owner = userCtx.UserID.String()
		}
		lockKey := owner + ":" + key

		acquired, err := locker.Acquire(c.Request.Context(), lockKey, ttl)
		if err != nil {
			logger.WithError(err).WithField("path", c.Request.URL.Path).Warn("Idempotency lock unavailable, continuing without it")
			c.Next()
			return
		}
		if !acquired {
			logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"owner": owner,
			}).Info("Concurrent request with the same idempotency key")
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":   "request_in_progress",
				"message": "A request with this Idempotency-Key is already being processed",
				"code":    "IDEMPOTENCY_IN_PROGRESS",
			})
			return
		}

		defer func() {
			// the request context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := locker.Release(ctx, lockKey); err != nil {
				logger.WithError(err).Warn("Failed to release idempotency lock")
			}
		}()

		c.Next()
	}
}
