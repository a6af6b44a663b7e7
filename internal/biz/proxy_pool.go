package biz

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"EgressGate/internal/model"
	"EgressGate/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
)

// latencyEMAAlpha weights new latency samples in the rolling estimate.
const latencyEMAAlpha = 0.3

// Proxy is one pool member. All mutable fields are guarded by mu; the
// endpoint and probe client are fixed at construction.
type Proxy struct {
	endpoint string
	client   *http.Client

	mu                  sync.Mutex
	consecutiveFailures int
	latencyEMA          float64 // milliseconds
	lastChecked         time.Time
	lastFailure         time.Time
}

// Endpoint returns the proxy endpoint URL with credentials intact; use
// httpclient.RedactEndpoint before logging it.
func (p *Proxy) Endpoint() string { return p.endpoint }

// healthyAt reports selection eligibility: below the failure threshold, or
// past the recovery interval since the last failure. The optimistic
// reinstatement lets real traffic re-validate a previously failing proxy.
func (p *Proxy) healthyAt(now time.Time, threshold int, recovery time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consecutiveFailures < threshold {
		return true
	}
	return recovery > 0 && now.Sub(p.lastFailure) >= recovery
}

// ProxyPoolConfig carries the pool tunables.
type ProxyPoolConfig struct {
	Strategy            string
	UnhealthyThreshold  int
	RecoveryInterval    time.Duration
	HealthCheckInterval time.Duration
	HealthCheckURL      string
	HealthCheckTimeout  time.Duration
}

// ProxyPool is a health-tracked set of egress proxies. The member set is
// fixed after startup; only health state mutates. Selection never fails:
// an exhausted pool yields nil, meaning "use a direct connection".
type ProxyPool struct {
	cfg      ProxyPoolConfig
	strategy selectionStrategy
	proxies  []*Proxy
	logger   *log.Helper

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
}

// NewProxyPool builds a pool over the given endpoints using clients from
// factory for health probes. Endpoints that fail client construction are
// skipped with a warning rather than failing startup.
func NewProxyPool(cfg ProxyPoolConfig, endpoints []string, factory *httpclient.Factory, logger log.Logger) (*ProxyPool, error) {
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}

	pool := &ProxyPool{
		cfg:    cfg,
		logger: log.NewHelper(logger),
		stopCh: make(chan struct{}),
	}

	switch cfg.Strategy {
	case "", "round_robin":
		pool.strategy = &roundRobinStrategy{}
	case "least_latency":
		pool.strategy = &leastLatencyStrategy{}
	case "sticky":
		pool.strategy = &stickyStrategy{}
	default:
		return nil, fmt.Errorf("unknown proxy strategy: %s", cfg.Strategy)
	}

	for _, endpoint := range endpoints {
		client, err := factory.ForProxy(endpoint)
		if err != nil {
			pool.logger.Warnw("skipping invalid proxy endpoint",
				"endpoint", httpclient.RedactEndpoint(endpoint),
				"error", err.Error())
			continue
		}
		pool.proxies = append(pool.proxies, &Proxy{endpoint: endpoint, client: client})
	}

	return pool, nil
}

// Select picks a healthy proxy for the given destination domain. A nil
// result means no proxy is usable and the caller should connect directly.
func (pp *ProxyPool) Select(domain string) *Proxy {
	now := time.Now()
	var healthy []*Proxy
	for _, p := range pp.proxies {
		if p.healthyAt(now, pp.cfg.UnhealthyThreshold, pp.cfg.RecoveryInterval) {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	return pp.strategy.pick(domain, healthy)
}

// ReportSuccess resets the failure counter and folds the observed latency
// into the rolling estimate.
func (pp *ProxyPool) ReportSuccess(p *Proxy, latency time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures = 0
	ms := float64(latency.Milliseconds())
	if p.latencyEMA == 0 {
		p.latencyEMA = ms
	} else {
		p.latencyEMA = latencyEMAAlpha*ms + (1-latencyEMAAlpha)*p.latencyEMA
	}
}

// ReportFailure increments the consecutive-failure counter. Crossing the
// unhealthy threshold excludes the proxy from selection until the recovery
// interval elapses.
func (pp *ProxyPool) ReportFailure(p *Proxy, reason string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.consecutiveFailures++
	p.lastFailure = time.Now()
	failures := p.consecutiveFailures
	p.mu.Unlock()

	if failures == pp.cfg.UnhealthyThreshold {
		pp.logger.Warnw("proxy marked unhealthy",
			"endpoint", httpclient.RedactEndpoint(p.endpoint),
			"consecutive_failures", failures,
			"reason", reason)
	}
}

// StartHealthCheck launches the background probe loop. It is a no-op when
// no probe URL or interval is configured, or when the pool is empty.
func (pp *ProxyPool) StartHealthCheck() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.started || pp.cfg.HealthCheckURL == "" || pp.cfg.HealthCheckInterval <= 0 || len(pp.proxies) == 0 {
		return
	}
	pp.started = true

	go func() {
		ticker := time.NewTicker(pp.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pp.probeAll()
			case <-pp.stopCh:
				return
			}
		}
	}()

	pp.logger.Infow("proxy health check started",
		"interval", pp.cfg.HealthCheckInterval,
		"url", pp.cfg.HealthCheckURL)
}

// StopHealthCheck terminates the probe loop.
func (pp *ProxyPool) StopHealthCheck() {
	pp.stopOnce.Do(func() { close(pp.stopCh) })
}

// probeAll issues one health probe per proxy and feeds the results back as
// regular success/failure reports.
func (pp *ProxyPool) probeAll() {
	for _, p := range pp.proxies {
		pp.probe(p)
	}
}

func (pp *ProxyPool) probe(p *Proxy) {
	timeout := pp.cfg.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pp.cfg.HealthCheckURL, nil)
	if err != nil {
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)

	p.mu.Lock()
	p.lastChecked = time.Now()
	p.mu.Unlock()

	if err != nil {
		pp.ReportFailure(p, fmt.Sprintf("health probe: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		pp.ReportFailure(p, fmt.Sprintf("health probe: status %d", resp.StatusCode))
		return
	}
	pp.ReportSuccess(p, time.Since(start))
}

// Statistics snapshots pool health for the admin surface.
func (pp *ProxyPool) Statistics() model.PoolStats {
	now := time.Now()
	stats := model.PoolStats{Strategy: pp.strategy.name()}
	for _, p := range pp.proxies {
		p.mu.Lock()
		ps := model.ProxyStats{
			Endpoint:            httpclient.RedactEndpoint(p.endpoint),
			ConsecutiveFailures: p.consecutiveFailures,
			LatencyEMAMillis:    p.latencyEMA,
			LastChecked:         p.lastChecked,
			LastFailure:         p.lastFailure,
		}
		p.mu.Unlock()

		if p.healthyAt(now, pp.cfg.UnhealthyThreshold, pp.cfg.RecoveryInterval) {
			ps.Health = model.ProxyHealthy
			stats.Healthy++
		} else {
			ps.Health = model.ProxyUnhealthy
			stats.Unhealthy++
		}
		stats.Proxies = append(stats.Proxies, ps)
	}
	return stats
}

// selectionStrategy is the closed set of pool selection behaviors, chosen
// once at construction.
type selectionStrategy interface {
	name() string
	pick(domain string, healthy []*Proxy) *Proxy
}

type roundRobinStrategy struct {
	mu   sync.Mutex
	next int
}

func (s *roundRobinStrategy) name() string { return "round_robin" }

func (s *roundRobinStrategy) pick(_ string, healthy []*Proxy) *Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := healthy[s.next%len(healthy)]
	s.next++
	return p
}

type leastLatencyStrategy struct{}

func (s *leastLatencyStrategy) name() string { return "least_latency" }

// pick prefers the lowest rolling latency. Proxies with no samples yet
// report zero and therefore win, which gives new members traffic to
// establish an estimate.
func (s *leastLatencyStrategy) pick(_ string, healthy []*Proxy) *Proxy {
	best := healthy[0]
	best.mu.Lock()
	bestEMA := best.latencyEMA
	best.mu.Unlock()
	for _, p := range healthy[1:] {
		p.mu.Lock()
		ema := p.latencyEMA
		p.mu.Unlock()
		if ema < bestEMA {
			best, bestEMA = p, ema
		}
	}
	return best
}

type stickyStrategy struct{}

func (s *stickyStrategy) name() string { return "sticky" }

// pick hashes the destination domain so the same host keeps hitting the
// same proxy while the healthy set is stable.
func (s *stickyStrategy) pick(domain string, healthy []*Proxy) *Proxy {
	h := fnv.New32a()
	_, _ = h.Write([]byte(domain))
	return healthy[int(h.Sum32())%len(healthy)]
}
