package service

import (
	"context"
	"testing"
	"time"

	"EgressGate/internal/biz"
	"EgressGate/internal/model"
	"EgressGate/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPolicySource struct {
	snap *model.PolicySnapshot
	err  error
}

func (s *stubPolicySource) Load(context.Context) (*model.PolicySnapshot, error) {
	return s.snap, s.err
}

type stubAuditSink struct{}

func (stubAuditSink) RecordRobots(context.Context, model.RobotsAuditEntry) {}
func (stubAuditSink) RecordTos(context.Context, model.TosAuditEntry)      {}
func (stubAuditSink) RecordTrace(context.Context, model.ToolTrace)        {}

type stubCache struct{}

func (stubCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (stubCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (stubCache) Stats(context.Context) map[string]interface{} {
	return map[string]interface{}{"backend": "stub"}
}

func newTestAdminService(t *testing.T, source biz.PolicySource) *AdminService {
	t.Helper()
	logger := log.DefaultLogger

	limiter := biz.NewMultiLimiter([]biz.DimensionConfig{
		{Name: biz.DimensionGlobal, RPS: 10, Burst: 10},
	}, logger)

	factory := httpclient.NewFactory(time.Second, false)
	pool, err := biz.NewProxyPool(biz.ProxyPoolConfig{Strategy: "round_robin"},
		[]string{"http://127.0.0.1:3128"}, factory, logger)
	require.NoError(t, err)

	guard := biz.NewPolicyGuard(biz.PolicyGuardConfig{}, source, stubAuditSink{}, stubCache{}, logger)

	return NewAdminService(limiter, pool, guard, logger)
}

func TestAdminServiceStats(t *testing.T) {
	svc := newTestAdminService(t, &stubPolicySource{snap: &model.PolicySnapshot{}})
	ctx := context.Background()

	proxies := svc.ProxyStats(ctx)
	assert.Equal(t, "round_robin", proxies.Strategy)
	assert.Len(t, proxies.Proxies, 1)

	rl := svc.RateLimitStats(ctx)
	assert.Contains(t, rl, "global_remaining")

	cache := svc.CacheStats(ctx)
	assert.Contains(t, cache, "response_cache")
}

func TestAdminServiceReloadPolicy(t *testing.T) {
	svc := newTestAdminService(t, &stubPolicySource{snap: &model.PolicySnapshot{}})
	assert.NoError(t, svc.ReloadPolicy(context.Background()))
}

func TestAdminServiceReloadPolicyPropagatesFailure(t *testing.T) {
	source := &stubPolicySource{snap: &model.PolicySnapshot{}}
	svc := newTestAdminService(t, source)

	source.err = context.DeadlineExceeded
	assert.Error(t, svc.ReloadPolicy(context.Background()))
}

func TestAdminServiceClearTosCache(t *testing.T) {
	svc := newTestAdminService(t, &stubPolicySource{snap: &model.PolicySnapshot{}})
	svc.ClearTosCache(context.Background(), "example.com")
	svc.ClearTosCache(context.Background(), "")
}
