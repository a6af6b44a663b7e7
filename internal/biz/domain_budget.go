package biz

import (
	"context"
	"sync"
	"time"

	"EgressGate/internal/model"

	"golang.org/x/time/rate"
)

// domainBudget is the per-host admission cell: a token bucket refilled at
// the host's configured rate (capacity equals the rate, so at most one
// second of burst accumulates) plus a counting semaphore bounding in-flight
// requests. Cells are created lazily on first request to a host and live
// for the process lifetime; a later policy change applies to hosts first
// seen after it, never to cells already in use.
type domainBudget struct {
	host string
	lim  *rate.Limiter
	sem  chan struct{}
}

func newDomainBudget(host string, rps float64, concurrency int) *domainBudget {
	if rps <= 0 {
		rps = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &domainBudget{
		host: host,
		lim:  rate.NewLimiter(rate.Limit(rps), burst),
		sem:  make(chan struct{}, concurrency),
	}
}

// tryConsume takes one rate token, or reports how long until one is available.
func (b *domainBudget) tryConsume() (bool, time.Duration) {
	now := time.Now()
	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	return false, timeToToken(b.lim.TokensAt(now), b.lim.Limit())
}

// acquire blocks until an in-flight slot frees up or ctx ends.
func (b *domainBudget) acquire(ctx context.Context) (*Permit, error) {
	select {
	case b.sem <- struct{}{}:
		return newPermit(func() { <-b.sem }), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inFlight reports the slots currently held.
func (b *domainBudget) inFlight() int { return len(b.sem) }

// Permit is a held concurrency slot. Release is idempotent: however many
// error paths run through it, the slot is returned exactly once.
type Permit struct {
	once    sync.Once
	release func()
}

func newPermit(release func()) *Permit {
	return &Permit{release: release}
}

// Release returns the slot to the host's semaphore.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// budgetFor returns the cell for host, creating it from the snapshot's
// limits on first sight. The sync.Map keeps unrelated hosts free of any
// shared lock.
func (pg *PolicyGuard) budgetFor(host string, snap *model.PolicySnapshot) *domainBudget {
	if cell, ok := pg.budgets.Load(host); ok {
		return cell.(*domainBudget)
	}

	rps := snap.DefaultRPS
	if v, ok := snap.DomainRPS[host]; ok {
		rps = v
	}
	concurrency := snap.DefaultConcurrency
	if v, ok := snap.DomainConcurrency[host]; ok {
		concurrency = v
	}

	cell, _ := pg.budgets.LoadOrStore(host, newDomainBudget(host, rps, concurrency))
	return cell.(*domainBudget)
}
