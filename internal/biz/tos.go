package biz

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxTosBody caps how much of a ToS page is scanned.
const maxTosBody = 1024 * 1024

// tosProbePaths is the fixed ordered list of common Terms-of-Service
// locations probed at the destination's scheme+host.
var tosProbePaths = []string{
	"/terms",
	"/terms-of-service",
	"/terms-of-use",
	"/terms_of_service",
	"/tos",
	"/legal/terms",
	"/terms-and-conditions",
	"/about/terms",
}

// tosProhibitedPhrases is the fixed phrase table scanned case-insensitively
// against a found ToS page. The first match records an explicit scraping
// prohibition. English and Chinese variants.
var tosProhibitedPhrases = []string{
	"scraping is prohibited",
	"scraping is not allowed",
	"scraping is not permitted",
	"no scraping",
	"do not scrape",
	"crawling is prohibited",
	"automated access is prohibited",
	"automated data collection is prohibited",
	"robots are not allowed",
	"禁止爬虫",
	"禁止抓取",
	"禁止采集",
	"不得抓取",
	"不得使用自动化工具",
	"禁止自动化访问",
}

// tosChecker probes for Terms-of-Service pages and scans them for explicit
// scraping prohibitions. Its verdicts are tri-state: a found page with no
// matching phrase allows, a matching phrase denies, and no page found at
// all is unknown. Fetch failures never produce a denial.
type tosChecker struct {
	client *http.Client
	cache  *expirable.LRU[string, model.TosDecision]
	logger *log.Helper
}

func newTosChecker(client *http.Client, cacheSize int, cacheTTL time.Duration, logger log.Logger) *tosChecker {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &tosChecker{
		client: client,
		cache:  expirable.NewLRU[string, model.TosDecision](cacheSize, nil, cacheTTL),
		logger: log.NewHelper(logger),
	}
}

// check returns the cached decision for host, probing on a miss. The host
// is taken as the URL's authority, port included, so probes hit the actual
// destination origin; decisions are cached under that host:port key. The
// cache TTL bounds how long a verdict is trusted; after expiry the next
// request triggers a fresh probe.
func (tc *tosChecker) check(ctx context.Context, scheme, host string) model.TosDecision {
	if d, ok := tc.cache.Get(host); ok {
		return d
	}

	decision := model.TosDecision{
		Host:      host,
		Verdict:   model.ScrapingUnknown,
		CheckedAt: time.Now(),
	}
	var lastErr string

	for _, path := range tosProbePaths {
		tosURL := fmt.Sprintf("%s://%s%s", scheme, host, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tosURL, nil)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		resp, err := tc.client.Do(req)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxTosBody))
		resp.Body.Close()
		if err != nil {
			lastErr = err.Error()
			continue
		}

		decision.TosFound = true
		decision.TosURL = tosURL
		page := strings.ToLower(string(body))
		decision.Verdict = model.ScrapingAllowed
		for _, phrase := range tosProhibitedPhrases {
			if strings.Contains(page, strings.ToLower(phrase)) {
				decision.Verdict = model.ScrapingDenied
				decision.Summary = fmt.Sprintf("matched prohibiting phrase: %q", phrase)
				break
			}
		}
		break
	}

	if !decision.TosFound {
		decision.Error = lastErr
		tc.logger.Debugw("no ToS page found", "host", host, "last_error", lastErr)
	}

	tc.cache.Add(host, decision)
	return decision
}

// clear drops cached decisions for host, or every decision when host is
// empty. Entries are keyed host:port, so clearing by bare hostname drops
// the decisions for all of that host's ports.
func (tc *tosChecker) clear(host string) {
	if host == "" {
		tc.cache.Purge()
		return
	}
	want := bareHost(host)
	for _, key := range tc.cache.Keys() {
		if key == host || bareHost(key) == want {
			tc.cache.Remove(key)
		}
	}
}

// bareHost strips an optional :port from a host:port authority.
func bareHost(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func (tc *tosChecker) entries() int { return tc.cache.Len() }
