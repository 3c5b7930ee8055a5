package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default request quota values. The rate API meters by requests per minute;
// the reserved pool keeps checkout snapshot assembly ahead of best-effort
// health probes.
const (
	DefaultQuotaTotal    = 300
	DefaultQuotaReserved = 200
	DefaultQuotaWindow   = time.Minute
)

// Redis key prefixes for quota counters.
const (
	quotaKeyTotal    = "quota:rate:total:"
	quotaKeyCheckout = "quota:rate:checkout:"
	quotaKeyProbe    = "quota:rate:probe:"
)

// QuotaPool selects which budget pool a request draws from.
type QuotaPool int

const (
	// PoolCheckout is for snapshot assembly on the checkout path. It draws
	// from the reserved budget.
	PoolCheckout QuotaPool = iota
	// PoolProbe is for health monitor probes. It draws from the shared
	// budget and is expected to back off when the pool runs dry.
	PoolProbe
)

// String returns a string representation of the pool.
func (p QuotaPool) String() string {
	switch p {
	case PoolCheckout:
		return "checkout"
	case PoolProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// RequestQuota coordinates rate-API request consumption across processes
// using Redis. Counters live in a window aligned to the quota period, so the
// API server and a standalone monitor share one view of the remaining budget.
type RequestQuota struct {
	redis    redis.Cmdable
	total    int
	reserved int
	shared   int
	window   time.Duration
	keyTTL   time.Duration
}

// RequestQuotaConfig holds configuration for the request quota.
type RequestQuotaConfig struct {
	// Redis is the client used for cross-process coordination. Required.
	Redis redis.Cmdable

	// Total is the request budget per window. Default: 300.
	Total int

	// Reserved is the share of Total set aside for the checkout pool.
	// Default: 200. The remainder is the probe pool.
	Reserved int

	// Window is the quota period. Default: 1m.
	Window time.Duration
}

// QuotaUsage contains current consumption for the active window.
type QuotaUsage struct {
	TotalUsed    int
	CheckoutUsed int
	ProbeUsed    int
	Total        int
	Reserved     int
	Shared       int
	WindowStart  time.Time
}

// Validate checks if the configuration is valid.
func (c *RequestQuotaConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Total < 0 {
		return errors.New("total quota cannot be negative")
	}
	if c.Reserved < 0 {
		return errors.New("reserved quota cannot be negative")
	}

	total := c.Total
	if total == 0 {
		total = DefaultQuotaTotal
	}
	reserved := c.Reserved
	if reserved == 0 {
		reserved = DefaultQuotaReserved
	}
	if reserved > total {
		return fmt.Errorf("reserved quota (%d) cannot exceed total quota (%d)", reserved, total)
	}

	return nil
}

// NewRequestQuota creates a quota with the given configuration.
func NewRequestQuota(cfg *RequestQuotaConfig) (*RequestQuota, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total := cfg.Total
	if total == 0 {
		total = DefaultQuotaTotal
	}
	reserved := cfg.Reserved
	if reserved == 0 {
		reserved = DefaultQuotaReserved
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultQuotaWindow
	}

	return &RequestQuota{
		redis:    cfg.Redis,
		total:    total,
		reserved: reserved,
		shared:   total - reserved,
		window:   window,
		keyTTL:   window * 2,
	}, nil
}

// windowTimestamp returns the aligned start of the current window.
func (q *RequestQuota) windowTimestamp() int64 {
	return time.Now().Truncate(q.window).UnixMilli()
}

func (q *RequestQuota) keys(windowTS int64) (totalKey, checkoutKey, probeKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return quotaKeyTotal + ts, quotaKeyCheckout + ts, quotaKeyProbe + ts
}

// acquireScript atomically checks and increments the total and pool counters
// so concurrent callers cannot overshoot the budget.
var acquireScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local totalBudget = tonumber(ARGV[1])
	local poolBudget = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + 1 > totalBudget then
		return 0
	end
	if poolUsed + 1 > poolBudget then
		return 0
	end

	redis.call('INCR', totalKey)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCR', poolKey)
	redis.call('EXPIRE', poolKey, ttl)

	return 1
`)

// TryAcquire attempts to consume one request from the given pool.
//
// Returns:
//   - allowed: true if the request may proceed
//   - wait: suggested wait before retrying, the remainder of the window
//
// A Redis error denies the request: overshooting a provider quota costs more
// than one skipped refresh.
func (q *RequestQuota) TryAcquire(ctx context.Context, pool QuotaPool) (bool, time.Duration) {
	windowTS := q.windowTimestamp()
	totalKey, checkoutKey, probeKey := q.keys(windowTS)

	poolKey, poolBudget := checkoutKey, q.reserved
	if pool == PoolProbe {
		poolKey, poolBudget = probeKey, q.shared
	}

	ttlSeconds := int(q.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	allowed, err := acquireScript.Run(ctx, q.redis,
		[]string{totalKey, poolKey}, q.total, poolBudget, ttlSeconds).Int64()
	if err != nil || allowed != 1 {
		return false, q.waitTime(windowTS)
	}

	return true, 0
}

// waitTime returns the time until the next window opens.
func (q *RequestQuota) waitTime(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(q.window)
	wait := time.Until(windowEnd)
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Usage returns consumption for the current window. Missing keys read as 0.
func (q *RequestQuota) Usage(ctx context.Context) (*QuotaUsage, error) {
	windowTS := q.windowTimestamp()
	totalKey, checkoutKey, probeKey := q.keys(windowTS)

	pipe := q.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	checkoutCmd := pipe.Get(ctx, checkoutKey)
	probeCmd := pipe.Get(ctx, probeKey)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	return &QuotaUsage{
		TotalUsed:    intOrZero(totalCmd),
		CheckoutUsed: intOrZero(checkoutCmd),
		ProbeUsed:    intOrZero(probeCmd),
		Total:        q.total,
		Reserved:     q.reserved,
		Shared:       q.shared,
		WindowStart:  time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// Remaining returns the unconsumed budget for a pool in the current window.
func (q *RequestQuota) Remaining(ctx context.Context, pool QuotaPool) (int, error) {
	usage, err := q.Usage(ctx)
	if err != nil {
		return 0, err
	}

	var remaining int
	if pool == PoolCheckout {
		remaining = q.reserved - usage.CheckoutUsed
	} else {
		remaining = q.shared - usage.ProbeUsed
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
