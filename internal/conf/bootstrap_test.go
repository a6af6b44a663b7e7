package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewBootstrapDefaults(t *testing.T) {
	bc, err := NewBootstrap(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)

	assert.Equal(t, 2.0, bc.Gateway.Policy.DefaultRps)
	assert.Equal(t, 4, bc.Gateway.Policy.DefaultConcurrency)
	assert.True(t, bc.Gateway.Robots.Enabled)
	assert.Equal(t, 24*time.Hour, bc.Gateway.Robots.CacheTtl.AsDuration())
	assert.False(t, bc.Gateway.Tos.Enabled)
	assert.Equal(t, 3, bc.Gateway.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, bc.Gateway.Retry.InitialDelay.AsDuration())
	assert.Equal(t, "round_robin", bc.Gateway.Proxy.Strategy)
	assert.Equal(t, 30*time.Second, bc.Gateway.RequestTimeout.AsDuration())
}

func TestNewBootstrapLoadsStructuredSections(t *testing.T) {
	bc, err := NewBootstrap(writeConfig(t, `
gateway:
  policy:
    allowed_domains: ["example.com"]
    denied_domains: ["blocked.org"]
    domain_rps:
      example.com: 5.5
    domain_concurrency:
      example.com: 9
  rate_limit:
    dimensions:
      - name: global
        rps: 50
        burst: 100
      - name: api_key
        rps: 10
        burst: 20
    tool_limits:
      web_search:
        rps: 2
        burst: 4
  proxy:
    strategy: sticky
    endpoints:
      - socks5://10.0.0.1:1080
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"example.com"}, bc.Gateway.Policy.AllowedDomains)
	assert.Equal(t, []string{"blocked.org"}, bc.Gateway.Policy.DeniedDomains)
	assert.Equal(t, 5.5, bc.Gateway.Policy.DomainRps["example.com"])
	assert.Equal(t, 9, bc.Gateway.Policy.DomainConcurrency["example.com"])

	require.Len(t, bc.Gateway.RateLimit.Dimensions, 2)
	assert.Equal(t, "global", bc.Gateway.RateLimit.Dimensions[0].Name)
	assert.Equal(t, 50.0, bc.Gateway.RateLimit.Dimensions[0].Rps)
	assert.Equal(t, 100, bc.Gateway.RateLimit.Dimensions[0].Burst)

	require.Contains(t, bc.Gateway.RateLimit.ToolLimits, "web_search")
	assert.Equal(t, 2.0, bc.Gateway.RateLimit.ToolLimits["web_search"].Rps)

	assert.Equal(t, "sticky", bc.Gateway.Proxy.Strategy)
	assert.Equal(t, []string{"socks5://10.0.0.1:1080"}, bc.Gateway.Proxy.Endpoints)
}

func TestNewBootstrapEnvOverride(t *testing.T) {
	t.Setenv("EGRESSGATE_LOG_LEVEL", "debug")
	t.Setenv("EGRESSGATE_DATA_REDIS_ADDR", "127.0.0.1:6390")

	bc, err := NewBootstrap(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", bc.Log.Level)
	assert.Equal(t, "127.0.0.1:6390", bc.Data.Redis.Addr)
}

func TestNewBootstrapRejectsUnknownStrategy(t *testing.T) {
	_, err := NewBootstrap(writeConfig(t, `
gateway:
  proxy:
    strategy: spin_the_wheel
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy")
}

func TestNewBootstrapRejectsUnknownDimension(t *testing.T) {
	_, err := NewBootstrap(writeConfig(t, `
gateway:
  rate_limit:
    dimensions:
      - name: user_agent
        rps: 5
        burst: 5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestNewBootstrapRejectsBadRetryMultiplier(t *testing.T) {
	_, err := NewBootstrap(writeConfig(t, `
gateway:
  retry:
    multiplier: 0.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiplier")
}

func TestNewBootstrapMissingFileFails(t *testing.T) {
	_, err := NewBootstrap(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
