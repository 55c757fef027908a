package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Limiter is a fixed-window counter kept in Redis so every instance of the
// service shares the same budget.
type Limiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	log    logrus.FieldLogger
	now    func() time.Time
}

func New(client redis.Cmdable, prefix string, limit int, window time.Duration, log logrus.FieldLogger) *Limiter {
	return &Limiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		log:    log,
		now:    time.Now,
	}
}

// Allow counts one hit for key and reports whether it is within the limit.
// When it is not, the returned duration is the time left in the window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return true, 0, fmt.Errorf("redis rate limit failed: %w", err)
	}

	if incr.Val() > int64(l.limit) {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

// Middleware limits requests per client address. Redis errors let the
// request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l.limit <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		allowed, retryAfter, err := l.Allow(r.Context(), key)
		if err != nil {
			l.log.WithError(err).WithField("client", key).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
