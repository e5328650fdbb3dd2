// Package ratelimit throttles repeated requests, such as login attempts,
// with a token bucket kept in Redis so every API replica shares it.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter allows Limit requests per Window for each key.
type Limiter struct {
	rdb    redis.Scripter
	Limit  int
	Window time.Duration
	prefix string
	Now    func() time.Time
}

// New returns a Limiter whose keys live under "rl:<prefix>".
func New(rdb redis.Scripter, limit int, window time.Duration, prefix string) *Limiter {
	if !strings.HasPrefix(prefix, "rl:") {
		prefix = "rl:" + prefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Limiter{rdb: rdb, Limit: limit, Window: window, prefix: prefix, Now: time.Now}
}

// Decision is the outcome of one Allow call. RetryAfter is set when the
// request was refused.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow takes a token for key. A nil client or a non-positive limit allows
// everything.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil || l.rdb == nil || l.Limit <= 0 || l.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	interval := l.Window.Milliseconds() / int64(l.Limit)
	if interval < 1 {
		interval = 1
	}
	res, err := bucket.Run(ctx, l.rdb, []string{l.prefix + key}, l.Limit, interval, l.Now().UnixMilli()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit %s: unexpected reply %v", key, res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Middleware refuses requests over the limit with 429 and a Retry-After
// header. Redis failures let the request through.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		d, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"code":    "rate_limited",
				"message": "too many attempts, try again later",
			}})
			return
		}
		c.Next()
	}
}

// bucket keeps the remaining tokens and the last refill time in a hash per
// key and returns {allowed, remaining, wait_ms}.
var bucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
else
  local add = math.floor((now - ts) / interval)
  if add > 0 then
    tokens = math.min(tokens + add, capacity)
    ts = ts + add * interval
  end
end
local allowed = 0
local wait = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
else
  wait = ts + interval - now
end
redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, interval * capacity)
return {allowed, tokens, wait}
`)
