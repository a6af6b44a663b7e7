// Package biz contains the business logic layer of the gateway: admission
// control, proxy pooling, retry execution, policy enforcement and the
// request governor binding them together.
package biz

import (
	"context"
	"time"

	"EgressGate/internal/conf"
	"EgressGate/internal/model"
	"EgressGate/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRequestGovernor,
	NewGatewayPolicyGuard,
	NewGatewayRetryEngine,
	NewGatewayProxyPool,
	NewGatewayLimiter,
	NewGatewayToolLimiters,
	NewHTTPClientFactory,
	NewPermissionChecker,
)

// AuditSink receives governance decisions, fire-and-forget. Implementations
// must never block the request path; slow or failing storage is their
// problem to absorb.
type AuditSink interface {
	RecordRobots(ctx context.Context, entry model.RobotsAuditEntry)
	RecordTos(ctx context.Context, entry model.TosAuditEntry)
	RecordTrace(ctx context.Context, trace model.ToolTrace)
}

// PolicySource supplies policy snapshots on demand.
type PolicySource interface {
	Load(ctx context.Context) (*model.PolicySnapshot, error)
}

// ResponseCache stores serialized tool responses with per-key TTLs.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Stats(ctx context.Context) map[string]interface{}
}

// PermissionChecker decides whether an API key may invoke a tool at all.
// The rate limiters decide how often; this decides if.
type PermissionChecker interface {
	Allowed(apiKey, tool string) bool
}

// PermissiveChecker allows every tool for every key. It is the default when
// no permission configuration is present.
type PermissiveChecker struct{}

// Allowed implements PermissionChecker.
func (PermissiveChecker) Allowed(string, string) bool { return true }

// NewPermissionChecker returns the configured permission checker. Tool
// permissions are managed by the registry layer; the gateway defaults to
// permissive.
func NewPermissionChecker() PermissionChecker {
	return PermissiveChecker{}
}

// NewHTTPClientFactory builds the outbound client factory from gateway
// configuration.
func NewHTTPClientFactory(c *conf.Gateway) *httpclient.Factory {
	return httpclient.NewFactory(c.RequestTimeout.AsDuration(), c.Proxy.InsecureSkipVerify)
}

// NewGatewayLimiter builds the gateway-wide multi-dimension limiter from
// configuration.
func NewGatewayLimiter(c *conf.Gateway, logger log.Logger) *MultiLimiter {
	dims := make([]DimensionConfig, 0, len(c.RateLimit.Dimensions))
	for _, d := range c.RateLimit.Dimensions {
		dims = append(dims, DimensionConfig{
			Name:  Dimension(d.Name),
			RPS:   d.Rps,
			Burst: d.Burst,
		})
	}
	return NewMultiLimiter(dims, logger)
}

// NewGatewayToolLimiters builds the per-tool limiter registry from
// configuration.
func NewGatewayToolLimiters(c *conf.Gateway, logger log.Logger) *ToolLimiters {
	limits := make(map[string]DimensionConfig, len(c.RateLimit.ToolLimits))
	for tool, d := range c.RateLimit.ToolLimits {
		limits[tool] = DimensionConfig{RPS: d.Rps, Burst: d.Burst}
	}
	return NewToolLimiters(limits, logger)
}

// NewGatewayRetryEngine builds the retry engine from configuration.
func NewGatewayRetryEngine(c *conf.Gateway, logger log.Logger) *RetryEngine {
	return NewRetryEngine(RetryConfig{
		MaxRetries:     c.Retry.MaxRetries,
		InitialDelay:   c.Retry.InitialDelay.AsDuration(),
		MaxDelay:       c.Retry.MaxDelay.AsDuration(),
		Multiplier:     c.Retry.Multiplier,
		OverallTimeout: c.Retry.OverallTimeout.AsDuration(),
	}, logger)
}

// NewGatewayProxyPool builds the proxy pool from configuration.
func NewGatewayProxyPool(c *conf.Gateway, factory *httpclient.Factory, logger log.Logger) (*ProxyPool, error) {
	return NewProxyPool(ProxyPoolConfig{
		Strategy:            c.Proxy.Strategy,
		UnhealthyThreshold:  c.Proxy.UnhealthyThreshold,
		RecoveryInterval:    c.Proxy.RecoveryInterval.AsDuration(),
		HealthCheckInterval: c.Proxy.HealthCheckInterval.AsDuration(),
		HealthCheckURL:      c.Proxy.HealthCheckUrl,
		HealthCheckTimeout:  c.Proxy.HealthCheckTimeout.AsDuration(),
	}, c.Proxy.Endpoints, factory, logger)
}

// NewGatewayPolicyGuard builds the policy guard from configuration.
func NewGatewayPolicyGuard(c *conf.Gateway, source PolicySource, audit AuditSink, cache ResponseCache, logger log.Logger) *PolicyGuard {
	return NewPolicyGuard(PolicyGuardConfig{
		RobotsEnabled:   c.Robots.Enabled,
		RobotsTimeout:   c.Robots.Timeout.AsDuration(),
		RobotsCacheTTL:  c.Robots.CacheTtl.AsDuration(),
		RobotsCacheSize: c.Robots.CacheSize,
		TosEnabled:      c.Tos.Enabled,
		TosRequireAllow: c.Tos.RequireAllow,
		TosTimeout:      c.Tos.Timeout.AsDuration(),
		TosCacheTTL:     c.Tos.CacheTtl.AsDuration(),
		TosCacheSize:    c.Tos.CacheSize,
		RefreshInterval: c.Policy.RefreshInterval.AsDuration(),
		DefaultCacheTTL: c.Policy.CacheTtl.AsDuration(),
	}, source, audit, cache, logger)
}
