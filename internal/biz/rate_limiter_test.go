package biz

import (
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(dims ...DimensionConfig) *MultiLimiter {
	return NewMultiLimiter(dims, log.DefaultLogger)
}

func TestMultiLimiterBurstThenDeny(t *testing.T) {
	ml := newTestLimiter(DimensionConfig{Name: DimensionGlobal, RPS: 1, Burst: 2})

	d1 := ml.Check("", "")
	assert.True(t, d1.Allowed)
	d2 := ml.Check("", "")
	assert.True(t, d2.Allowed)

	d3 := ml.Check("", "")
	assert.False(t, d3.Allowed)
	assert.Equal(t, DimensionGlobal, d3.DeniedBy)
	assert.Greater(t, d3.RetryAfter.Seconds(), 0.0)
}

func TestMultiLimiterNoPartialDebit(t *testing.T) {
	ml := newTestLimiter(
		DimensionConfig{Name: DimensionGlobal, RPS: 1, Burst: 10},
		DimensionConfig{Name: DimensionAPIKey, RPS: 1, Burst: 1},
	)

	d1 := ml.Check("key-a", "")
	require.True(t, d1.Allowed)
	globalAfterFirst := d1.Remaining[DimensionGlobal]

	// key-a's bucket is empty, the denial must not touch the global bucket
	d2 := ml.Check("key-a", "")
	require.False(t, d2.Allowed)
	assert.Equal(t, DimensionAPIKey, d2.DeniedBy)
	assert.Equal(t, globalAfterFirst, d2.Remaining[DimensionGlobal])

	// a different key still gets through on the untouched global budget
	d3 := ml.Check("key-b", "")
	assert.True(t, d3.Allowed)
}

func TestMultiLimiterSkipsEmptyIdentifiers(t *testing.T) {
	ml := newTestLimiter(
		DimensionConfig{Name: DimensionAPIKey, RPS: 1, Burst: 1},
		DimensionConfig{Name: DimensionIP, RPS: 1, Burst: 1},
	)

	// no API key and no IP: no dimension participates
	for i := 0; i < 5; i++ {
		d := ml.Check("", "")
		assert.True(t, d.Allowed)
	}
}

func TestMultiLimiterPerIPIsolation(t *testing.T) {
	ml := newTestLimiter(DimensionConfig{Name: DimensionIP, RPS: 1, Burst: 1})

	assert.True(t, ml.Check("", "10.0.0.1").Allowed)
	assert.False(t, ml.Check("", "10.0.0.1").Allowed)
	assert.True(t, ml.Check("", "10.0.0.2").Allowed)
}

func TestMultiLimiterIgnoresNonPositiveRPS(t *testing.T) {
	ml := newTestLimiter(DimensionConfig{Name: DimensionGlobal, RPS: 0, Burst: 5})

	for i := 0; i < 10; i++ {
		assert.True(t, ml.Check("", "").Allowed)
	}
}

func TestMultiLimiterStats(t *testing.T) {
	ml := newTestLimiter(
		DimensionConfig{Name: DimensionGlobal, RPS: 5, Burst: 5},
		DimensionConfig{Name: DimensionIP, RPS: 5, Burst: 5},
		DimensionConfig{Name: DimensionAPIKey, RPS: 5, Burst: 5},
	)

	ml.Check("key-a", "10.0.0.1")
	ml.Check("key-b", "10.0.0.1")

	stats := ml.Stats()
	assert.Equal(t, 1, stats["tracked_ips"])
	assert.Equal(t, 2, stats["tracked_api_keys"])
	assert.Contains(t, stats, "global_remaining")
}

func TestToolLimitersUnknownToolAlwaysAllowed(t *testing.T) {
	tl := NewToolLimiters(nil, log.DefaultLogger)

	for i := 0; i < 5; i++ {
		assert.True(t, tl.Check("anything", "key").Allowed)
	}
}

func TestToolLimitersPerKeyCeiling(t *testing.T) {
	tl := NewToolLimiters(map[string]DimensionConfig{
		"web_search": {RPS: 1, Burst: 1},
	}, log.DefaultLogger)

	assert.True(t, tl.Check("web_search", "key-a").Allowed)
	d := tl.Check("web_search", "key-a")
	assert.False(t, d.Allowed)
	assert.Equal(t, DimensionAPIKey, d.DeniedBy)

	// other keys and other tools are unaffected
	assert.True(t, tl.Check("web_search", "key-b").Allowed)
	assert.True(t, tl.Check("fetch_page", "key-a").Allowed)
}
