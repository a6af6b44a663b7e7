package biz

import (
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

// Dimension identifies one admission-control axis of the gateway limiter.
type Dimension string

const (
	DimensionGlobal Dimension = "global"
	DimensionIP     Dimension = "ip"
	DimensionAPIKey Dimension = "api_key"
)

// DimensionConfig is the token-bucket shape of one dimension.
type DimensionConfig struct {
	Name  Dimension
	RPS   float64
	Burst int
}

// Decision is the outcome of a multi-dimension admission check.
type Decision struct {
	Allowed bool
	// DeniedBy names the first dimension that lacked capacity.
	DeniedBy Dimension
	// RetryAfter estimates when one token becomes available on the
	// denying dimension.
	RetryAfter time.Duration
	// Remaining holds the per-dimension token counts observed by this
	// check. On denial they are the untouched pre-check counts: a denial
	// never debits any dimension.
	Remaining map[Dimension]int
}

// MultiLimiter runs N independent token buckets, one per configured
// dimension, with two-phase check-then-commit semantics: every dimension is
// peeked first, and tokens are consumed only when all dimensions admit the
// request. A denial therefore leaves every bucket untouched.
type MultiLimiter struct {
	mu     sync.Mutex
	dims   []DimensionConfig
	global *rate.Limiter
	perIP  map[string]*rate.Limiter
	perKey map[string]*rate.Limiter
	logger *log.Helper
}

// NewMultiLimiter creates a limiter over the given dimensions. Dimensions
// with a non-positive RPS are ignored.
func NewMultiLimiter(dims []DimensionConfig, logger log.Logger) *MultiLimiter {
	ml := &MultiLimiter{
		perIP:  make(map[string]*rate.Limiter),
		perKey: make(map[string]*rate.Limiter),
		logger: log.NewHelper(logger),
	}
	for _, d := range dims {
		if d.RPS <= 0 {
			continue
		}
		if d.Burst <= 0 {
			d.Burst = 1
		}
		ml.dims = append(ml.dims, d)
		if d.Name == DimensionGlobal {
			ml.global = rate.NewLimiter(rate.Limit(d.RPS), d.Burst)
		}
	}
	return ml
}

// Check runs the two-phase admission check for the given identifiers.
// Dimensions whose identifier is empty (no API key, unknown IP) are skipped.
// The call never blocks; callers decide whether to reject or queue.
func (ml *MultiLimiter) Check(apiKey, ip string) Decision {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	type participant struct {
		dim Dimension
		lim *rate.Limiter
	}
	var participants []participant

	for _, d := range ml.dims {
		switch d.Name {
		case DimensionGlobal:
			participants = append(participants, participant{d.Name, ml.global})
		case DimensionIP:
			if ip == "" {
				continue
			}
			participants = append(participants, participant{d.Name, ml.keyed(ml.perIP, ip, d)})
		case DimensionAPIKey:
			if apiKey == "" {
				continue
			}
			participants = append(participants, participant{d.Name, ml.keyed(ml.perKey, apiKey, d)})
		}
	}

	decision := Decision{Allowed: true, Remaining: make(map[Dimension]int, len(participants))}

	// Phase one: peek every dimension without consuming.
	for _, p := range participants {
		tokens := p.lim.TokensAt(now)
		decision.Remaining[p.dim] = tokenCount(tokens)
		if tokens < 1 {
			decision.Allowed = false
			if decision.DeniedBy == "" {
				decision.DeniedBy = p.dim
				decision.RetryAfter = timeToToken(tokens, p.lim.Limit())
			}
		}
	}
	if !decision.Allowed {
		ml.logger.Debugw("admission denied",
			"dimension", string(decision.DeniedBy),
			"retry_after", decision.RetryAfter)
		return decision
	}

	// Phase two: commit one token on each dimension.
	for _, p := range participants {
		p.lim.AllowN(now, 1)
		decision.Remaining[p.dim] = tokenCount(p.lim.TokensAt(now))
	}
	return decision
}

// keyed returns the limiter for key, creating a full bucket on first use.
func (ml *MultiLimiter) keyed(m map[string]*rate.Limiter, key string, d DimensionConfig) *rate.Limiter {
	lim, ok := m[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.RPS), d.Burst)
		m[key] = lim
	}
	return lim
}

// Stats reports tracked key counts per dimension for the admin surface.
func (ml *MultiLimiter) Stats() map[string]int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	stats := map[string]int{
		"tracked_ips":      len(ml.perIP),
		"tracked_api_keys": len(ml.perKey),
	}
	if ml.global != nil {
		stats["global_remaining"] = tokenCount(ml.global.Tokens())
	}
	return stats
}

func tokenCount(tokens float64) int {
	if tokens < 0 {
		return 0
	}
	return int(tokens)
}

// timeToToken estimates how long until a bucket short by (1 - tokens)
// accumulates one full token.
func timeToToken(tokens float64, limit rate.Limit) time.Duration {
	if limit <= 0 {
		return 0
	}
	deficit := 1 - tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / float64(limit) * float64(time.Second))
}

// ToolLimiters holds optional per-tool limiters keyed by API key, imposing
// tighter ceilings than the gateway-wide limiter for named tools.
type ToolLimiters struct {
	limiters map[string]*MultiLimiter
}

// NewToolLimiters builds one API-key-dimension limiter per configured tool.
func NewToolLimiters(limits map[string]DimensionConfig, logger log.Logger) *ToolLimiters {
	tl := &ToolLimiters{limiters: make(map[string]*MultiLimiter, len(limits))}
	for tool, cfg := range limits {
		cfg.Name = DimensionAPIKey
		tl.limiters[tool] = NewMultiLimiter([]DimensionConfig{cfg}, logger)
	}
	return tl
}

// Check admits or denies a call to tool under apiKey. Tools without a
// configured limit are always admitted.
func (tl *ToolLimiters) Check(tool, apiKey string) Decision {
	lim, ok := tl.limiters[tool]
	if !ok {
		return Decision{Allowed: true}
	}
	return lim.Check(apiKey, "")
}
