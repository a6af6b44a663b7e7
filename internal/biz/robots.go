package biz

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/temoto/robotstxt"
)

// maxRobotsBody caps how much of a robots.txt file is read.
const maxRobotsBody = 512 * 1024

// robotsChecker evaluates robots-exclusion rules per host with a TTL-bound
// decision cache. An unreachable or erroring robots.txt resolves to
// allowed (fail-open); only a parsed disallow is an authoritative denial.
type robotsChecker struct {
	client *http.Client
	cache  *expirable.LRU[string, model.RobotsDecision]
	logger *log.Helper
}

func newRobotsChecker(client *http.Client, cacheSize int, cacheTTL time.Duration, logger log.Logger) *robotsChecker {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &robotsChecker{
		client: client,
		cache:  expirable.NewLRU[string, model.RobotsDecision](cacheSize, nil, cacheTTL),
		logger: log.NewHelper(logger),
	}
}

// check returns the cached decision for the URL's origin, fetching and
// parsing robots.txt on a cache miss. Decisions are keyed by scheme and
// host:port so distinct origins on the same hostname never share a rule
// set. Decisions are cached whether they came from a parsed rule set or a
// fail-open resolution.
func (rc *robotsChecker) check(ctx context.Context, u *url.URL) model.RobotsDecision {
	host := u.Hostname()
	key := u.Scheme + "://" + u.Host
	if d, ok := rc.cache.Get(key); ok {
		return d
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	decision := model.RobotsDecision{
		Host:      host,
		RobotsURL: robotsURL,
		CheckedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		decision.Allowed = true
		decision.FailOpen = true
		decision.Error = err.Error()
		rc.cache.Add(key, decision)
		return decision
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		decision.Allowed = true
		decision.FailOpen = true
		decision.Error = err.Error()
		rc.logger.Debugw("robots.txt fetch failed, allowing",
			"host", host, "error", err.Error())
		rc.cache.Add(key, decision)
		return decision
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		decision.Allowed = true
		decision.FailOpen = true
		decision.Error = fmt.Sprintf("robots.txt returned status %d", resp.StatusCode)
		rc.cache.Add(key, decision)
		return decision
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		decision.Allowed = true
		decision.FailOpen = true
		decision.Error = err.Error()
		rc.cache.Add(key, decision)
		return decision
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		decision.Allowed = true
		decision.FailOpen = true
		decision.Error = err.Error()
		rc.cache.Add(key, decision)
		return decision
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	decision.Allowed = data.TestAgent(path, "*")
	rc.cache.Add(key, decision)
	return decision
}

func (rc *robotsChecker) entries() int { return rc.cache.Len() }
