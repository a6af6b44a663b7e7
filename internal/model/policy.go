package model

import "time"

// PolicySnapshot is a point-in-time view of the egress policy pulled from
// the policy source. Snapshots are immutable once loaded; a refresh swaps
// the whole snapshot so requests never observe a half-applied policy.
type PolicySnapshot struct {
	// AllowedDomains lists hosts (or parent domains) that may be fetched.
	// The single entry "*" allows every host not explicitly denied.
	AllowedDomains []string `json:"allowed_domains"`
	// DeniedDomains lists hosts (or parent domains) that must never be
	// fetched. Deny wins over allow.
	DeniedDomains []string `json:"denied_domains"`
	// DomainRPS maps host -> requests per second. Hosts without an entry
	// use DefaultRPS.
	DomainRPS map[string]float64 `json:"domain_rps"`
	// DomainConcurrency maps host -> max in-flight requests. Hosts without
	// an entry use DefaultConcurrency.
	DomainConcurrency map[string]int `json:"domain_concurrency"`
	DefaultRPS        float64        `json:"default_rps"`
	DefaultConcurrency int           `json:"default_concurrency"`
	// CacheTTL bounds cached responses written through this policy.
	CacheTTL time.Duration `json:"cache_ttl"`
	// RobotsRequireAllow turns a parsed robots.txt disallow into a hard
	// denial instead of an advisory decision.
	RobotsRequireAllow bool `json:"robots_require_allow"`
}

// ScrapingVerdict is the tri-state outcome of a Terms-of-Service scan.
type ScrapingVerdict string

const (
	// ScrapingAllowed means a ToS page was found and no prohibiting phrase matched.
	ScrapingAllowed ScrapingVerdict = "allow"
	// ScrapingDenied means a ToS page explicitly prohibits scraping.
	ScrapingDenied ScrapingVerdict = "deny"
	// ScrapingUnknown means no ToS page could be located.
	ScrapingUnknown ScrapingVerdict = "unknown"
)

// RobotsDecision is the cached per-host outcome of a robots.txt evaluation.
type RobotsDecision struct {
	Host      string    `json:"host"`
	RobotsURL string    `json:"robots_url"`
	Allowed   bool      `json:"allowed"`
	// FailOpen marks decisions produced by an unreachable or erroring
	// robots.txt rather than a parsed rule set.
	FailOpen  bool      `json:"fail_open"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// TosDecision is the cached per-host outcome of a Terms-of-Service probe.
type TosDecision struct {
	Host          string          `json:"host"`
	TosURL        string          `json:"tos_url,omitempty"`
	TosFound      bool            `json:"tos_found"`
	Verdict       ScrapingVerdict `json:"scraping_allowed"`
	// Summary records the matched prohibiting phrase when Verdict is deny.
	Summary   string    `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
