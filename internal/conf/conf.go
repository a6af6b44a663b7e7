package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration of the EgressGate service.
type Bootstrap struct {
	Server  *Server
	Data    *Data
	Log     *Log
	Gateway *Gateway
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the admin HTTP server.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds optional backing-store configuration. Both Redis and the
// database are optional: without Redis the response cache runs in-memory,
// without a database the audit sink is a no-op and policy comes from
// configuration.
type Data struct {
	Redis    *Data_Redis
	Database *Data_Database
}

// Data_Redis configures the Redis response cache backend.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_Database configures the MySQL audit/policy store.
type Data_Database struct {
	Driver string
	Source string
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string // "json" or "console"
	Env        string // "production" or "development"
	OutputFile string
}

// Gateway groups the request-governance tunables.
type Gateway struct {
	Policy    *Gateway_Policy
	Robots    *Gateway_Robots
	Tos       *Gateway_Tos
	RateLimit *Gateway_RateLimit
	Retry     *Gateway_Retry
	Proxy     *Gateway_Proxy
	// RequestTimeout bounds a single outbound HTTP attempt.
	RequestTimeout *durationpb.Duration
}

// Gateway_Policy is the static egress policy used when no policy source
// database is configured, and the defaults merged under a loaded snapshot.
type Gateway_Policy struct {
	AllowedDomains     []string           `mapstructure:"allowed_domains"`
	DeniedDomains      []string           `mapstructure:"denied_domains"`
	DomainRps          map[string]float64 `mapstructure:"domain_rps"`
	DomainConcurrency  map[string]int     `mapstructure:"domain_concurrency"`
	DefaultRps         float64            `mapstructure:"default_rps"`
	DefaultConcurrency int                `mapstructure:"default_concurrency"`
	CacheTtl           *durationpb.Duration
	RefreshInterval    *durationpb.Duration
	RobotsRequireAllow bool `mapstructure:"robots_require_allow"`
}

// Gateway_Robots configures robots.txt enforcement.
type Gateway_Robots struct {
	Enabled   bool
	Timeout   *durationpb.Duration
	CacheTtl  *durationpb.Duration
	CacheSize int
}

// Gateway_Tos configures Terms-of-Service scanning.
type Gateway_Tos struct {
	Enabled      bool
	RequireAllow bool `mapstructure:"require_allow"`
	Timeout      *durationpb.Duration
	CacheTtl     *durationpb.Duration
	CacheSize    int
}

// Gateway_RateLimit configures gateway-level admission control.
type Gateway_RateLimit struct {
	Dimensions []*Gateway_RateLimitDimension
	// ToolLimits imposes tighter per-API-key ceilings for named tools.
	ToolLimits map[string]*Gateway_RateLimitDimension `mapstructure:"tool_limits"`
}

// Gateway_RateLimitDimension is one token bucket: requests per second plus
// a burst allowance.
type Gateway_RateLimitDimension struct {
	Name  string  `mapstructure:"name"`
	Rps   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Gateway_Retry configures the backoff executor for outbound calls.
type Gateway_Retry struct {
	MaxRetries     int
	InitialDelay   *durationpb.Duration
	MaxDelay       *durationpb.Duration
	Multiplier     float64
	OverallTimeout *durationpb.Duration
}

// Gateway_Proxy configures the egress proxy pool.
type Gateway_Proxy struct {
	Strategy            string   // round_robin, least_latency, sticky
	Endpoints           []string `mapstructure:"endpoints"`
	UnhealthyThreshold  int
	RecoveryInterval    *durationpb.Duration
	HealthCheckInterval *durationpb.Duration
	HealthCheckUrl      string
	HealthCheckTimeout  *durationpb.Duration
	InsecureSkipVerify  bool `mapstructure:"insecure_skip_verify"`
}
