package data

import (
	"context"
	"testing"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func TestAuditSinkNeverBlocksWithoutDatabase(t *testing.T) {
	sink := NewAuditSink(&Data{}, log.DefaultLogger)
	ctx := context.Background()

	// far more events than the queue holds; every call must return promptly
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			sink.RecordTrace(ctx, model.ToolTrace{
				TraceID:   "t",
				Tool:      "fetch_page",
				StartedAt: time.Now(),
				Success:   true,
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("audit sink blocked the caller")
	}
}

func TestAuditSinkRecordsAllKinds(t *testing.T) {
	sink := NewAuditSink(&Data{}, log.DefaultLogger)
	ctx := context.Background()

	sink.RecordRobots(ctx, model.RobotsAuditEntry{Host: "example.com", Allowed: true, CheckedAt: time.Now()})
	sink.RecordTos(ctx, model.TosAuditEntry{Host: "example.com", Verdict: model.ScrapingUnknown, CheckedAt: time.Now()})
	sink.RecordTrace(ctx, model.ToolTrace{
		TraceID: "t",
		Tool:    "web_search",
		Attempts: []model.RetryAttempt{
			{Attempt: 0, Delay: time.Second, Error: "503"},
		},
	})
}

func TestAuditTableNames(t *testing.T) {
	assert.Equal(t, "robots_decisions", RobotsDecisionLog{}.TableName())
	assert.Equal(t, "tos_decisions", TosDecisionLog{}.TableName())
	assert.Equal(t, "tool_traces", ToolTraceLog{}.TableName())
	assert.Equal(t, "egress_policy_snapshots", PolicySnapshotRow{}.TableName())
}
