package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"EgressGate/internal/biz"
	"EgressGate/internal/conf"
	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// PolicySnapshotRow is the GORM model for the egress_policy_snapshots table.
// Each row is a complete policy document; the latest row wins.
type PolicySnapshotRow struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Document  string    `gorm:"column:document;type:json;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (PolicySnapshotRow) TableName() string { return "egress_policy_snapshots" }

// NewPolicySource returns the DB-backed source when a database is available
// and the static config-backed source otherwise.
func NewPolicySource(d *Data, bc *conf.Bootstrap, logger log.Logger) biz.PolicySource {
	helper := log.NewHelper(logger)
	static := staticPolicySource{policy: bc.Gateway.Policy}
	if d.db == nil {
		helper.Info("policy source: configuration (no database)")
		return static
	}
	helper.Info("policy source: database with configuration fallback")
	return &dbPolicySource{db: d.db, fallback: static, logger: helper}
}

// staticPolicySource derives every snapshot from the bootstrap configuration.
type staticPolicySource struct {
	policy *conf.Gateway_Policy
}

// Load implements biz.PolicySource.
func (s staticPolicySource) Load(context.Context) (*model.PolicySnapshot, error) {
	return snapshotFromConfig(s.policy), nil
}

// dbPolicySource reads the newest policy document from MySQL. Fields absent
// from the document fall back to their configured defaults, and a table with
// no rows yields the configuration snapshot.
type dbPolicySource struct {
	db       *gorm.DB
	fallback staticPolicySource
	logger   *log.Helper
}

// Load implements biz.PolicySource.
func (s *dbPolicySource) Load(ctx context.Context) (*model.PolicySnapshot, error) {
	var row PolicySnapshotRow
	err := s.db.WithContext(ctx).Order("id DESC").First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.logger.Debug("no policy rows in database, using configuration snapshot")
			return s.fallback.Load(ctx)
		}
		return nil, fmt.Errorf("policy source: failed to load snapshot: %w", err)
	}

	snap := snapshotFromConfig(s.fallback.policy)
	if err := json.Unmarshal([]byte(row.Document), snap); err != nil {
		return nil, fmt.Errorf("policy source: malformed snapshot row %d: %w", row.ID, err)
	}
	return snap, nil
}

func snapshotFromConfig(p *conf.Gateway_Policy) *model.PolicySnapshot {
	snap := &model.PolicySnapshot{
		AllowedDomains:     append([]string(nil), p.AllowedDomains...),
		DeniedDomains:      append([]string(nil), p.DeniedDomains...),
		DomainRPS:          make(map[string]float64, len(p.DomainRps)),
		DomainConcurrency:  make(map[string]int, len(p.DomainConcurrency)),
		DefaultRPS:         p.DefaultRps,
		DefaultConcurrency: p.DefaultConcurrency,
		RobotsRequireAllow: p.RobotsRequireAllow,
	}
	for host, rps := range p.DomainRps {
		snap.DomainRPS[host] = rps
	}
	for host, limit := range p.DomainConcurrency {
		snap.DomainConcurrency[host] = limit
	}
	if p.CacheTtl != nil {
		snap.CacheTTL = p.CacheTtl.AsDuration()
	}
	return snap
}
