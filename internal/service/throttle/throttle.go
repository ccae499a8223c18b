// Package throttle bounds per-tenant provider sends with a Redis token
// bucket. It fails open: when Redis is unreachable or the throttle is
// unconfigured the send proceeds and provider-side 429 handling takes over.
package throttle

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Bucket holds token bucket parameters. Capacity bounds the burst size and
// RefillRate restores tokens per second.
type Bucket struct {
	Capacity   int64
	RefillRate float64
}

// PerMinute derives a bucket that sustains perMinute sends with an equal burst.
func PerMinute(perMinute int) Bucket {
	if perMinute <= 0 {
		return Bucket{}
	}
	return Bucket{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// Throttle implements domain.SendThrottle over Redis. Each tenant draws from
// its own bucket keyed send:<tenant_id>; bucket state is mirrored to postgres
// so a restart does not reset spent budgets.
type Throttle struct {
	redis  *redis.Client
	pool   *pgxpool.Pool
	bucket Bucket
	script *redis.Script
}

// New returns nil when Redis is absent or the bucket is zero; a nil Throttle
// admits every send.
func New(rdb *redis.Client, pool *pgxpool.Pool, bucket Bucket) *Throttle {
	if rdb == nil || bucket.Capacity <= 0 || bucket.RefillRate <= 0 {
		return nil
	}
	return &Throttle{
		redis:  rdb,
		pool:   pool,
		bucket: bucket,
		script: redis.NewScript(luaTokenBucketScript),
	}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

if last_refill == nil then
  last_refill = now
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  else
    retry_after = 0
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)

return { allowed, tokens, last_refill, retry_after }
`

// Allow consumes one token from the tenant's bucket. When the bucket is
// empty it reports how long until the next token accrues.
func (t *Throttle) Allow(ctx domain.Context, tenantID string, _ domain.Channel) (bool, time.Duration, error) {
	if t == nil || t.redis == nil {
		return true, 0, nil
	}

	now := time.Now()
	nowSec := float64(now.UnixNano()) / 1e9
	key := "send:" + tenantID

	res, err := t.script.Run(ctx, t.redis, []string{"rate:" + key}, t.bucket.Capacity, t.bucket.RefillRate, nowSec, 1).Result()
	if err != nil {
		slog.Error("send throttle script error", slog.String("tenant_id", tenantID), slog.Any("error", err))
		// Fail open on Redis errors to avoid stalling the queue; provider 429 handling still applies.
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		slog.Error("send throttle unexpected script result", slog.String("tenant_id", tenantID), slog.Any("result", res))
		return true, 0, nil
	}

	allowed := toInt64(vals[0]) == 1
	tokens := toFloat64(vals[1])
	lastRefill := toFloat64(vals[2])
	retryAfter := time.Duration(toFloat64(vals[3]) * float64(time.Second))

	if t.pool != nil {
		t.mirrorToPostgres(ctx, key, tokens, lastRefill)
	}

	return allowed, retryAfter, nil
}

func (t *Throttle) mirrorToPostgres(ctx domain.Context, key string, tokens, lastRefillSec float64) {
	if t.pool == nil {
		return
	}

	sec := int64(lastRefillSec)
	nsec := int64((lastRefillSec - float64(sec)) * 1e9)
	if nsec < 0 {
		nsec = 0
	}
	lastRefill := time.Unix(sec, nsec)

	_, err := t.pool.Exec(ctx,
		`INSERT INTO rate_limit_buckets (bucket_key, capacity, refill_rate, tokens, last_refill)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (bucket_key) DO UPDATE SET
		   capacity = EXCLUDED.capacity,
		   refill_rate = EXCLUDED.refill_rate,
		   tokens = EXCLUDED.tokens,
		   last_refill = EXCLUDED.last_refill`,
		key, t.bucket.Capacity, t.bucket.RefillRate, tokens, lastRefill,
	)
	if err != nil {
		slog.Error("failed to mirror send throttle bucket to postgres", slog.String("key", key), slog.Any("error", err))
	}
}

// WarmFromPostgres restores mirrored bucket state into Redis at startup so a
// process restart does not hand every tenant a full bucket.
func (t *Throttle) WarmFromPostgres(ctx domain.Context) error {
	if t == nil || t.pool == nil || t.redis == nil {
		return nil
	}

	rows, err := t.pool.Query(ctx, `SELECT bucket_key, tokens, EXTRACT(EPOCH FROM last_refill) FROM rate_limit_buckets`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var tokens float64
		var lastRefillSec float64
		if err := rows.Scan(&key, &tokens, &lastRefillSec); err != nil {
			return err
		}
		sec := int64(lastRefillSec)
		nsec := int64((lastRefillSec - float64(sec)) * 1e9)
		if nsec < 0 {
			nsec = 0
		}
		// Stored as seconds-with-fraction, the representation the Lua script reads.
		storedLastRefill := float64(sec) + float64(nsec)/1e9
		if err := t.redis.HMSet(ctx, "rate:"+key, "tokens", tokens, "last_refill", storedLastRefill).Err(); err != nil {
			slog.Error("failed to warm send throttle bucket from postgres", slog.String("key", key), slog.Any("error", err))
		}
	}
	return rows.Err()
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return math.NaN()
	}
}
