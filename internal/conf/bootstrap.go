// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with EGRESSGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Optional environment variables:
//   - MYSQL_DSN or EGRESSGATE_DATA_DATABASE_SOURCE: MySQL connection string
//     (audit persistence and DB-backed policy source are disabled without it)
//   - EGRESSGATE_DATA_REDIS_ADDR: Redis address (response cache falls back to
//     in-memory without it)
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with EGRESSGATE_ prefix
	v.SetEnvPrefix("EGRESSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow well-known unprefixed environment variable names as well
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "EGRESSGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "EGRESSGATE_DATA_REDIS_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Gateway: &Gateway{
			Policy: &Gateway_Policy{
				AllowedDomains:     v.GetStringSlice("gateway.policy.allowed_domains"),
				DeniedDomains:      v.GetStringSlice("gateway.policy.denied_domains"),
				DefaultRps:         v.GetFloat64("gateway.policy.default_rps"),
				DefaultConcurrency: v.GetInt("gateway.policy.default_concurrency"),
				CacheTtl:           durationpb.New(v.GetDuration("gateway.policy.cache_ttl")),
				RefreshInterval:    durationpb.New(v.GetDuration("gateway.policy.refresh_interval")),
				RobotsRequireAllow: v.GetBool("gateway.policy.robots_require_allow"),
			},
			Robots: &Gateway_Robots{
				Enabled:   v.GetBool("gateway.robots.enabled"),
				Timeout:   durationpb.New(v.GetDuration("gateway.robots.timeout")),
				CacheTtl:  durationpb.New(v.GetDuration("gateway.robots.cache_ttl")),
				CacheSize: v.GetInt("gateway.robots.cache_size"),
			},
			Tos: &Gateway_Tos{
				Enabled:      v.GetBool("gateway.tos.enabled"),
				RequireAllow: v.GetBool("gateway.tos.require_allow"),
				Timeout:      durationpb.New(v.GetDuration("gateway.tos.timeout")),
				CacheTtl:     durationpb.New(v.GetDuration("gateway.tos.cache_ttl")),
				CacheSize:    v.GetInt("gateway.tos.cache_size"),
			},
			RateLimit: &Gateway_RateLimit{},
			Retry: &Gateway_Retry{
				MaxRetries:     v.GetInt("gateway.retry.max_retries"),
				InitialDelay:   durationpb.New(v.GetDuration("gateway.retry.initial_delay")),
				MaxDelay:       durationpb.New(v.GetDuration("gateway.retry.max_delay")),
				Multiplier:     v.GetFloat64("gateway.retry.multiplier"),
				OverallTimeout: durationpb.New(v.GetDuration("gateway.retry.overall_timeout")),
			},
			Proxy: &Gateway_Proxy{
				Strategy:            v.GetString("gateway.proxy.strategy"),
				Endpoints:           v.GetStringSlice("gateway.proxy.endpoints"),
				UnhealthyThreshold:  v.GetInt("gateway.proxy.unhealthy_threshold"),
				RecoveryInterval:    durationpb.New(v.GetDuration("gateway.proxy.recovery_interval")),
				HealthCheckInterval: durationpb.New(v.GetDuration("gateway.proxy.health_check_interval")),
				HealthCheckUrl:      v.GetString("gateway.proxy.health_check_url"),
				HealthCheckTimeout:  durationpb.New(v.GetDuration("gateway.proxy.health_check_timeout")),
				InsecureSkipVerify:  v.GetBool("gateway.proxy.insecure_skip_verify"),
			},
			RequestTimeout: durationpb.New(v.GetDuration("gateway.request_timeout")),
		},
	}

	// Structured sub-sections that plain Get accessors cannot express
	if err := v.UnmarshalKey("gateway.policy.domain_rps", &bc.Gateway.Policy.DomainRps); err != nil {
		return nil, fmt.Errorf("invalid gateway.policy.domain_rps: %w", err)
	}
	if err := v.UnmarshalKey("gateway.policy.domain_concurrency", &bc.Gateway.Policy.DomainConcurrency); err != nil {
		return nil, fmt.Errorf("invalid gateway.policy.domain_concurrency: %w", err)
	}
	if err := v.UnmarshalKey("gateway.rate_limit.dimensions", &bc.Gateway.RateLimit.Dimensions); err != nil {
		return nil, fmt.Errorf("invalid gateway.rate_limit.dimensions: %w", err)
	}
	if err := v.UnmarshalKey("gateway.rate_limit.tool_limits", &bc.Gateway.RateLimit.ToolLimits); err != nil {
		return nil, fmt.Errorf("invalid gateway.rate_limit.tool_limits: %w", err)
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 1*time.Minute)

	// Data defaults: both stores optional, no address means disabled
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Policy defaults
	v.SetDefault("gateway.policy.allowed_domains", []string{})
	v.SetDefault("gateway.policy.denied_domains", []string{})
	v.SetDefault("gateway.policy.default_rps", 2.0)
	v.SetDefault("gateway.policy.default_concurrency", 4)
	v.SetDefault("gateway.policy.cache_ttl", 5*time.Minute)
	v.SetDefault("gateway.policy.refresh_interval", 1*time.Minute)
	v.SetDefault("gateway.policy.robots_require_allow", false)

	// Robots defaults
	v.SetDefault("gateway.robots.enabled", true)
	v.SetDefault("gateway.robots.timeout", 5*time.Second)
	v.SetDefault("gateway.robots.cache_ttl", 24*time.Hour)
	v.SetDefault("gateway.robots.cache_size", 4096)

	// ToS defaults
	v.SetDefault("gateway.tos.enabled", false)
	v.SetDefault("gateway.tos.require_allow", false)
	v.SetDefault("gateway.tos.timeout", 8*time.Second)
	v.SetDefault("gateway.tos.cache_ttl", 24*time.Hour)
	v.SetDefault("gateway.tos.cache_size", 4096)

	// Retry defaults
	v.SetDefault("gateway.retry.max_retries", 3)
	v.SetDefault("gateway.retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("gateway.retry.max_delay", 10*time.Second)
	v.SetDefault("gateway.retry.multiplier", 2.0)
	v.SetDefault("gateway.retry.overall_timeout", 2*time.Minute)

	// Proxy defaults
	v.SetDefault("gateway.proxy.strategy", "round_robin")
	v.SetDefault("gateway.proxy.endpoints", []string{})
	v.SetDefault("gateway.proxy.unhealthy_threshold", 3)
	v.SetDefault("gateway.proxy.recovery_interval", 5*time.Minute)
	v.SetDefault("gateway.proxy.health_check_interval", 1*time.Minute)
	v.SetDefault("gateway.proxy.health_check_url", "https://www.gstatic.com/generate_204")
	v.SetDefault("gateway.proxy.health_check_timeout", 10*time.Second)
	v.SetDefault("gateway.proxy.insecure_skip_verify", false)

	v.SetDefault("gateway.request_timeout", 30*time.Second)
}

// Validate checks that the loaded configuration is internally consistent.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}

	if bc.Gateway.Policy.DefaultRps <= 0 {
		problems = append(problems, "gateway.policy.default_rps must be positive")
	}
	if bc.Gateway.Policy.DefaultConcurrency <= 0 {
		problems = append(problems, "gateway.policy.default_concurrency must be positive")
	}
	if bc.Gateway.Retry.MaxRetries < 0 {
		problems = append(problems, "gateway.retry.max_retries must not be negative")
	}
	if bc.Gateway.Retry.Multiplier < 1.0 {
		problems = append(problems, "gateway.retry.multiplier must be >= 1.0")
	}
	switch bc.Gateway.Proxy.Strategy {
	case "round_robin", "least_latency", "sticky":
	default:
		problems = append(problems, fmt.Sprintf("gateway.proxy.strategy %q is not one of round_robin, least_latency, sticky", bc.Gateway.Proxy.Strategy))
	}
	for name, d := range bc.Gateway.RateLimit.ToolLimits {
		if d.Rps <= 0 {
			problems = append(problems, fmt.Sprintf("gateway.rate_limit.tool_limits.%s.rps must be positive", name))
		}
	}
	for _, d := range bc.Gateway.RateLimit.Dimensions {
		switch d.Name {
		case "global", "ip", "api_key":
		default:
			problems = append(problems, fmt.Sprintf("gateway.rate_limit.dimensions name %q is not one of global, ip, api_key", d.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
