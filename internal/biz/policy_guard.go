package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// PolicyGuardConfig carries the guard tunables.
type PolicyGuardConfig struct {
	RobotsEnabled  bool
	RobotsTimeout  time.Duration
	RobotsCacheTTL time.Duration
	RobotsCacheSize int

	TosEnabled      bool
	TosRequireAllow bool
	TosTimeout      time.Duration
	TosCacheTTL     time.Duration
	TosCacheSize    int

	// RefreshInterval is the minimum spacing between policy reloads
	// triggered from the request path.
	RefreshInterval time.Duration
	// DefaultCacheTTL bounds cached responses when the policy snapshot
	// does not specify a TTL.
	DefaultCacheTTL time.Duration
}

// PolicyGuard is the gatekeeper for "may this URL be fetched right now".
// It combines domain allow/deny policy, per-host rate and concurrency
// budgets, robots.txt and Terms-of-Service compliance, and a dual-keyed
// response cache.
type PolicyGuard struct {
	cfg    PolicyGuardConfig
	source PolicySource
	audit  AuditSink
	cache  ResponseCache
	robots *robotsChecker
	tos    *tosChecker
	logger *log.Helper

	snapshot atomic.Pointer[model.PolicySnapshot]
	budgets  sync.Map // host -> *domainBudget

	refreshMu   sync.Mutex
	lastRefresh time.Time
}

// NewPolicyGuard creates a guard. The initial policy snapshot is loaded
// synchronously; a failing source leaves an empty (deny-everything)
// snapshot in place until a later refresh succeeds.
func NewPolicyGuard(cfg PolicyGuardConfig, source PolicySource, audit AuditSink, cache ResponseCache, logger log.Logger) *PolicyGuard {
	helper := log.NewHelper(logger)

	robotsClient := &http.Client{Timeout: cfg.RobotsTimeout}
	tosClient := &http.Client{Timeout: cfg.TosTimeout}

	pg := &PolicyGuard{
		cfg:    cfg,
		source: source,
		audit:  audit,
		cache:  cache,
		robots: newRobotsChecker(robotsClient, cfg.RobotsCacheSize, cfg.RobotsCacheTTL, logger),
		tos:    newTosChecker(tosClient, cfg.TosCacheSize, cfg.TosCacheTTL, logger),
		logger: helper,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := source.Load(ctx)
	if err != nil {
		helper.Warnw("initial policy load failed, starting with empty policy", "error", err.Error())
		snap = &model.PolicySnapshot{}
	}
	pg.snapshot.Store(snap)
	pg.lastRefresh = time.Now()

	return pg
}

// current returns the active snapshot.
func (pg *PolicyGuard) current() *model.PolicySnapshot {
	return pg.snapshot.Load()
}

// Enforce decides whether url may be fetched right now on behalf of tool.
// On success it returns a held concurrency permit which the caller must
// release exactly once after the HTTP exchange completes. Any failure past
// permit acquisition releases the permit before propagating, so permits
// never leak on error paths.
func (pg *PolicyGuard) Enforce(ctx context.Context, rawURL, tool string) (*Permit, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, ErrInvalidRequest("malformed URL %q: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidRequest("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, ErrInvalidRequest("URL %q has no host", rawURL)
	}

	snap := pg.current()
	if !domainAllowed(host, snap) {
		return nil, ErrPolicyDenied("domain %s is not allowed by egress policy", host)
	}

	budget := pg.budgetFor(host, snap)
	if ok, retryAfter := budget.tryConsume(); !ok {
		return nil, ErrThrottled(retryAfter.Seconds(), "rate limit for domain %s exhausted", host)
	}

	permit, err := budget.acquire(ctx)
	if err != nil {
		return nil, err
	}
	// Past this point every failure must release the permit first.

	if pg.cfg.RobotsEnabled {
		decision := pg.robots.check(ctx, u)
		pg.audit.RecordRobots(ctx, model.RobotsAuditEntry{
			Tool:      tool,
			URL:       rawURL,
			Host:      host,
			RobotsURL: decision.RobotsURL,
			Allowed:   decision.Allowed,
			Error:     decision.Error,
			CheckedAt: decision.CheckedAt,
		})
		if snap.RobotsRequireAllow && !decision.Allowed && !decision.FailOpen {
			permit.Release()
			return nil, ErrPolicyDenied("robots.txt disallows fetching %s", rawURL)
		}
	}

	if pg.cfg.TosEnabled {
		decision := pg.tos.check(ctx, u.Scheme, u.Host)
		pg.audit.RecordTos(ctx, model.TosAuditEntry{
			Tool:      tool,
			URL:       rawURL,
			Host:      host,
			TosURL:    decision.TosURL,
			TosFound:  decision.TosFound,
			Verdict:   decision.Verdict,
			Summary:   decision.Summary,
			Error:     decision.Error,
			CheckedAt: decision.CheckedAt,
		})
		if pg.cfg.TosRequireAllow && decision.Verdict == model.ScrapingDenied {
			permit.Release()
			return nil, ErrPolicyDenied("terms of service for %s prohibit scraping: %s", host, decision.Summary)
		}
	}

	return permit, nil
}

// domainAllowed applies the suffix rule: a host matches an entry when it
// equals the entry or ends with "." + entry. Deny wins over allow; a "*"
// allowlist entry admits everything not denied.
func domainAllowed(host string, snap *model.PolicySnapshot) bool {
	for _, entry := range snap.DeniedDomains {
		if hostMatches(host, entry) {
			return false
		}
	}
	for _, entry := range snap.AllowedDomains {
		if entry == "*" || hostMatches(host, entry) {
			return true
		}
	}
	return false
}

func hostMatches(host, entry string) bool {
	return host == entry || strings.HasSuffix(host, "."+entry)
}

// RefreshIfNeeded reloads the policy snapshot when the refresh interval has
// elapsed. Concurrent callers collapse into one reload: the mutex holder
// refreshes while the rest wait and then observe the just-completed result.
// A failing source keeps the previous snapshot and still advances the
// refresh clock so a dead source is not hammered from the request path.
func (pg *PolicyGuard) RefreshIfNeeded(ctx context.Context) {
	pg.refreshMu.Lock()
	defer pg.refreshMu.Unlock()

	if time.Since(pg.lastRefresh) < pg.cfg.RefreshInterval {
		return
	}
	pg.reloadLocked(ctx)
}

// ForceRefresh reloads unconditionally (admin surface).
func (pg *PolicyGuard) ForceRefresh(ctx context.Context) error {
	pg.refreshMu.Lock()
	defer pg.refreshMu.Unlock()
	return pg.reloadLocked(ctx)
}

func (pg *PolicyGuard) reloadLocked(ctx context.Context) error {
	snap, err := pg.source.Load(ctx)
	pg.lastRefresh = time.Now()
	if err != nil {
		pg.logger.Warnw("policy refresh failed, keeping previous snapshot", "error", err.Error())
		return err
	}
	pg.snapshot.Store(snap)
	pg.logger.Debugw("policy snapshot refreshed",
		"allowed_domains", len(snap.AllowedDomains),
		"denied_domains", len(snap.DeniedDomains))
	return nil
}

// CacheGet looks up a cached response for tool by canonical payload.
func (pg *PolicyGuard) CacheGet(ctx context.Context, tool string, payload map[string]interface{}) ([]byte, bool) {
	key, err := payloadCacheKey(tool, payload)
	if err != nil {
		return nil, false
	}
	return pg.cacheGet(ctx, key)
}

// CacheSet stores a response for tool under its canonical payload key.
func (pg *PolicyGuard) CacheSet(ctx context.Context, tool string, payload map[string]interface{}, response []byte) {
	key, err := payloadCacheKey(tool, payload)
	if err != nil {
		return
	}
	pg.cacheSet(ctx, key, response)
}

// CacheGetURL looks up a cached response for tool by raw URL.
func (pg *PolicyGuard) CacheGetURL(ctx context.Context, tool, rawURL string) ([]byte, bool) {
	return pg.cacheGet(ctx, urlCacheKey(tool, rawURL))
}

// CacheSetURL stores a response for tool under its raw URL key.
func (pg *PolicyGuard) CacheSetURL(ctx context.Context, tool, rawURL string, response []byte) {
	pg.cacheSet(ctx, urlCacheKey(tool, rawURL), response)
}

func (pg *PolicyGuard) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := pg.cache.Get(ctx, key)
	if err != nil {
		pg.logger.Warnw("response cache read failed", "error", err.Error())
		return nil, false
	}
	return data, ok
}

func (pg *PolicyGuard) cacheSet(ctx context.Context, key string, response []byte) {
	ttl := pg.cfg.DefaultCacheTTL
	if snapTTL := pg.current().CacheTTL; snapTTL > 0 {
		ttl = snapTTL
	}
	if err := pg.cache.Set(ctx, key, response, ttl); err != nil {
		pg.logger.Warnw("response cache write failed", "error", err.Error())
	}
}

// payloadCacheKey canonicalizes payload through JSON marshaling, which
// emits map keys in sorted order, then hashes the result.
func payloadCacheKey(tool string, payload map[string]interface{}) (string, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("resp:%s:%s", tool, hex.EncodeToString(sum[:])), nil
}

func urlCacheKey(tool, rawURL string) string {
	return fmt.Sprintf("url:%s:%s", tool, rawURL)
}

// ClearTosCache drops ToS decisions for host, or all hosts when host is empty.
func (pg *PolicyGuard) ClearTosCache(host string) {
	pg.tos.clear(host)
	pg.logger.Infow("ToS cache cleared", "host", host)
}

// CacheStats reports cache sizes for the admin surface.
func (pg *PolicyGuard) CacheStats(ctx context.Context) map[string]interface{} {
	budgetHosts := 0
	pg.budgets.Range(func(_, _ interface{}) bool {
		budgetHosts++
		return true
	})
	return map[string]interface{}{
		"robots_entries": pg.robots.entries(),
		"tos_entries":    pg.tos.entries(),
		"budget_hosts":   budgetHosts,
		"response_cache": pg.cache.Stats(ctx),
	}
}
