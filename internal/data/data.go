// Package data provides data access layer implementations: the Redis or
// in-memory response cache, the MySQL audit sink and the policy source.
package data

import (
	"EgressGate/internal/biz"
	"EgressGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewResponseCache,
	NewAuditSink,
	NewPolicySource,
	wire.Bind(new(biz.AuditSink), new(*AuditSinkImpl)),
)

// Data holds the data layer dependencies. Both stores are optional; the
// gateway degrades to in-memory caching and no-op audit persistence when
// they are absent.
type Data struct {
	redisClient *redis.Client
	db          *gorm.DB
}

// NewData creates the Data holder. Store connection failures never prevent
// startup.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, response cache will run in-memory")
	}
	if db == nil {
		helper.Warn("database is nil, audit persistence disabled and policy comes from configuration")
	}

	d := &Data{redisClient: rdb, db: db}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}
