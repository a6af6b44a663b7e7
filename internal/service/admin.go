package service

import (
	"context"

	"EgressGate/internal/biz"
	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// AdminService serves operational introspection and control: proxy pool
// health, rate limiter occupancy, cache statistics, ToS cache invalidation
// and on-demand policy reload.
type AdminService struct {
	limiter *biz.MultiLimiter
	pool    *biz.ProxyPool
	guard   *biz.PolicyGuard
	logger  *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(limiter *biz.MultiLimiter, pool *biz.ProxyPool, guard *biz.PolicyGuard, logger log.Logger) *AdminService {
	return &AdminService{
		limiter: limiter,
		pool:    pool,
		guard:   guard,
		logger:  log.NewHelper(logger),
	}
}

// ProxyStats reports per-proxy health, failure counts and latency.
func (s *AdminService) ProxyStats(context.Context) model.PoolStats {
	return s.pool.Statistics()
}

// RateLimitStats reports how many per-identifier buckets each dimension
// currently tracks.
func (s *AdminService) RateLimitStats(context.Context) map[string]int {
	return s.limiter.Stats()
}

// CacheStats reports response cache backend statistics together with the
// robots and ToS decision cache sizes.
func (s *AdminService) CacheStats(ctx context.Context) map[string]interface{} {
	return s.guard.CacheStats(ctx)
}

// ClearTosCache drops the cached ToS verdict for one host, or every host
// when host is empty.
func (s *AdminService) ClearTosCache(_ context.Context, host string) {
	s.logger.Infow("clearing ToS cache", "host", host)
	s.guard.ClearTosCache(host)
}

// ReloadPolicy forces an immediate policy snapshot refresh.
func (s *AdminService) ReloadPolicy(ctx context.Context) error {
	s.logger.Info("manual policy reload requested")
	if err := s.guard.ForceRefresh(ctx); err != nil {
		s.logger.Errorw("manual policy reload failed", "error", err)
		return err
	}
	return nil
}
