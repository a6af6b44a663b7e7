package model

import "time"

// ProxyHealth is the selection eligibility of a pool member.
type ProxyHealth string

const (
	ProxyHealthy   ProxyHealth = "healthy"
	ProxyUnhealthy ProxyHealth = "unhealthy"
)

// ProxyStats is the externally visible state of one proxy, reported by the
// admin surface. Credentials embedded in the endpoint are redacted before
// the struct leaves the pool.
type ProxyStats struct {
	Endpoint            string      `json:"endpoint"`
	Health              ProxyHealth `json:"health"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LatencyEMAMillis    float64     `json:"latency_ema_ms"`
	LastChecked         time.Time   `json:"last_checked"`
	LastFailure         time.Time   `json:"last_failure,omitempty"`
}

// PoolStats aggregates pool health for the admin surface.
type PoolStats struct {
	Healthy   int          `json:"healthy"`
	Unhealthy int          `json:"unhealthy"`
	Strategy  string       `json:"strategy"`
	Proxies   []ProxyStats `json:"proxies"`
}
