package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/atm-service/internal/domain"
)

const (
	loginThrottleScope  = "login"
	loginThrottleWindow = time.Minute

	// malformedCardSubject is the single bucket shared by every entry that is not a
	// valid card number, so random input cannot open fresh buckets.
	malformedCardSubject = "malformed"
)

// loginAttemptScript counts one attempt in a fixed window. A key that lost its
// expiry is given the window again rather than counting forever.
var loginAttemptScript = redis.NewScript(`
local attempts = redis.call("INCR", KEYS[1])
if attempts == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {attempts, ttl}
`)

// LoginVerdict is the outcome of registering one login attempt.
type LoginVerdict struct {
	Attempts   int
	Allowed    bool
	RetryAfter time.Duration
}

// LoginThrottle limits login attempts per card across every server instance.
type LoginThrottle interface {
	RegisterAttempt(ctx context.Context, rawCard string) (LoginVerdict, error)
}

// RedisLoginThrottle keeps one fixed-window counter per card in Redis.
type RedisLoginThrottle struct {
	client    redis.UniversalClient
	prefix    string
	perMinute int
}

// NewRedisLoginThrottle allows perMinute attempts per card each minute. A nil
// client or a non-positive limit allows everything.
func NewRedisLoginThrottle(client redis.UniversalClient, prefix string, perMinute int) *RedisLoginThrottle {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "atm:rate_limit"
	}
	return &RedisLoginThrottle{client: client, prefix: prefix, perMinute: perMinute}
}

// LoginSubject maps raw keypad input to its throttle bucket: the parsed card
// number, or one shared bucket for anything that is not a card number.
func LoginSubject(rawCard string) string {
	card, err := domain.ParseCardNumber(rawCard)
	if err != nil {
		return malformedCardSubject
	}
	return card.String()
}

// Key returns the Redis key counting attempts for rawCard.
func (t *RedisLoginThrottle) Key(rawCard string) string {
	return t.prefix + ":" + loginThrottleScope + ":" + LoginSubject(rawCard)
}

func (t *RedisLoginThrottle) RegisterAttempt(ctx context.Context, rawCard string) (LoginVerdict, error) {
	if t == nil || t.client == nil || t.perMinute <= 0 {
		return LoginVerdict{Allowed: true}, nil
	}

	window := loginThrottleWindow.Milliseconds()
	result, err := loginAttemptScript.Run(ctx, t.client, []string{t.Key(rawCard)}, window).Int64Slice()
	if err != nil {
		return LoginVerdict{}, fmt.Errorf("failed to count login attempt: %w", err)
	}
	if len(result) != 2 {
		return LoginVerdict{}, fmt.Errorf("unexpected login throttle reply of %d values", len(result))
	}
	return loginVerdict(result[0], time.Duration(result[1])*time.Millisecond, t.perMinute), nil
}

// loginVerdict turns a window's attempt count and remaining lifetime into a
// decision. RetryAfter is whole seconds, at least one.
func loginVerdict(attempts int64, remaining time.Duration, perMinute int) LoginVerdict {
	verdict := LoginVerdict{Attempts: int(attempts), Allowed: attempts <= int64(perMinute)}
	if verdict.Allowed {
		return verdict
	}
	verdict.RetryAfter = remaining.Round(time.Second)
	if verdict.RetryAfter < remaining {
		verdict.RetryAfter += time.Second
	}
	if verdict.RetryAfter < time.Second {
		verdict.RetryAfter = time.Second
	}
	return verdict
}
