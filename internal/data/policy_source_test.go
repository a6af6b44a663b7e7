package data

import (
	"context"
	"testing"
	"time"

	"EgressGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func testPolicyConf() *conf.Gateway_Policy {
	return &conf.Gateway_Policy{
		AllowedDomains:     []string{"example.com"},
		DeniedDomains:      []string{"blocked.org"},
		DomainRps:          map[string]float64{"example.com": 5},
		DomainConcurrency:  map[string]int{"example.com": 8},
		DefaultRps:         2,
		DefaultConcurrency: 4,
		CacheTtl:           durationpb.New(5 * time.Minute),
		RobotsRequireAllow: true,
	}
}

func TestStaticPolicySourceMapsConfig(t *testing.T) {
	bc := &conf.Bootstrap{Gateway: &conf.Gateway{Policy: testPolicyConf()}}
	source := NewPolicySource(&Data{}, bc, log.DefaultLogger)

	snap, err := source.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"example.com"}, snap.AllowedDomains)
	assert.Equal(t, []string{"blocked.org"}, snap.DeniedDomains)
	assert.Equal(t, 5.0, snap.DomainRPS["example.com"])
	assert.Equal(t, 8, snap.DomainConcurrency["example.com"])
	assert.Equal(t, 2.0, snap.DefaultRPS)
	assert.Equal(t, 4, snap.DefaultConcurrency)
	assert.Equal(t, 5*time.Minute, snap.CacheTTL)
	assert.True(t, snap.RobotsRequireAllow)
}

func TestStaticPolicySourceCopiesSlices(t *testing.T) {
	policy := testPolicyConf()
	bc := &conf.Bootstrap{Gateway: &conf.Gateway{Policy: policy}}
	source := NewPolicySource(&Data{}, bc, log.DefaultLogger)

	snap, err := source.Load(context.Background())
	require.NoError(t, err)

	// mutating the snapshot must not reach back into the config
	snap.AllowedDomains[0] = "mutated"
	snap.DomainRPS["example.com"] = 999

	assert.Equal(t, "example.com", policy.AllowedDomains[0])
	assert.Equal(t, 5.0, policy.DomainRps["example.com"])
}

func TestSnapshotFromConfigDocumentOverlay(t *testing.T) {
	// a partial policy document overrides only the fields it names
	snap := snapshotFromConfig(testPolicyConf())
	assert.Equal(t, 2.0, snap.DefaultRPS)
	assert.True(t, snap.RobotsRequireAllow)
}
