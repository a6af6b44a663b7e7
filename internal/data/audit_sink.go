package data

import (
	"context"
	"encoding/json"
	"time"

	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// auditQueueSize bounds the async writer queue. A full queue drops events
// rather than blocking the request path.
const auditQueueSize = 1000

// RobotsDecisionLog is the GORM model for the robots_decisions table.
type RobotsDecisionLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Tool      string    `gorm:"column:tool;type:varchar(100);not null"`
	URL       string    `gorm:"column:url;type:text;not null"`
	Host      string    `gorm:"column:host;type:varchar(255);not null;index"`
	RobotsURL string    `gorm:"column:robots_url;type:text"`
	Allowed   bool      `gorm:"column:allowed;not null"`
	Error     string    `gorm:"column:error_message;type:text"`
	CheckedAt time.Time `gorm:"column:checked_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (RobotsDecisionLog) TableName() string { return "robots_decisions" }

// TosDecisionLog is the GORM model for the tos_decisions table.
type TosDecisionLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Tool      string    `gorm:"column:tool;type:varchar(100);not null"`
	URL       string    `gorm:"column:url;type:text;not null"`
	Host      string    `gorm:"column:host;type:varchar(255);not null;index"`
	TosURL    string    `gorm:"column:tos_url;type:text"`
	TosFound  bool      `gorm:"column:tos_found;not null"`
	Verdict   string    `gorm:"column:scraping_allowed;type:varchar(10);not null"`
	Summary   string    `gorm:"column:tos_summary;type:text"`
	Error     string    `gorm:"column:error_message;type:text"`
	CheckedAt time.Time `gorm:"column:checked_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (TosDecisionLog) TableName() string { return "tos_decisions" }

// ToolTraceLog is the GORM model for the tool_traces table.
type ToolTraceLog struct {
	ID           int64     `gorm:"primaryKey;column:id"`
	TraceID      string    `gorm:"column:trace_id;type:varchar(36);not null;index"`
	Tool         string    `gorm:"column:tool;type:varchar(100);not null;index"`
	StartedAt    time.Time `gorm:"column:started_at;not null"`
	DurationMS   int64     `gorm:"column:duration_ms;not null"`
	Success      bool      `gorm:"column:success;not null"`
	ErrorType    string    `gorm:"column:error_type;type:varchar(50)"`
	ErrorMessage string    `gorm:"column:error_message;type:text"`
	ResultRef    string    `gorm:"column:result_ref;type:varchar(255)"`
	Attempts     string    `gorm:"column:attempts;type:json"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (ToolTraceLog) TableName() string { return "tool_traces" }

// AuditSinkImpl implements biz.AuditSink with an async bounded channel
// consumed by one background writer, so slow audit storage never blocks
// the request path. Without a database, events are consumed and discarded.
type AuditSinkImpl struct {
	db      *gorm.DB
	eventCh chan interface{}
	logger  *log.Helper
}

// NewAuditSink creates the sink and starts its writer goroutine.
func NewAuditSink(d *Data, logger log.Logger) *AuditSinkImpl {
	s := &AuditSinkImpl{
		db:      d.db,
		eventCh: make(chan interface{}, auditQueueSize),
		logger:  log.NewHelper(logger),
	}

	go s.start()

	return s
}

// start processes audit events from the channel.
func (s *AuditSinkImpl) start() {
	for event := range s.eventCh {
		if s.db == nil {
			continue
		}
		ctx := context.Background()
		if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
			s.logger.Errorw("failed to write audit record", "error", err)
		}
	}
}

// enqueue offers an event to the writer, dropping it when the queue is full.
func (s *AuditSinkImpl) enqueue(event interface{}, kind string) {
	select {
	case s.eventCh <- event:
	default:
		s.logger.Warnw("audit queue full, dropping event", "kind", kind)
	}
}

// RecordRobots implements biz.AuditSink.
func (s *AuditSinkImpl) RecordRobots(_ context.Context, entry model.RobotsAuditEntry) {
	s.enqueue(&RobotsDecisionLog{
		Tool:      entry.Tool,
		URL:       entry.URL,
		Host:      entry.Host,
		RobotsURL: entry.RobotsURL,
		Allowed:   entry.Allowed,
		Error:     entry.Error,
		CheckedAt: entry.CheckedAt,
	}, "robots")
}

// RecordTos implements biz.AuditSink.
func (s *AuditSinkImpl) RecordTos(_ context.Context, entry model.TosAuditEntry) {
	s.enqueue(&TosDecisionLog{
		Tool:      entry.Tool,
		URL:       entry.URL,
		Host:      entry.Host,
		TosURL:    entry.TosURL,
		TosFound:  entry.TosFound,
		Verdict:   string(entry.Verdict),
		Summary:   entry.Summary,
		Error:     entry.Error,
		CheckedAt: entry.CheckedAt,
	}, "tos")
}

// RecordTrace implements biz.AuditSink.
func (s *AuditSinkImpl) RecordTrace(_ context.Context, trace model.ToolTrace) {
	attempts := ""
	if len(trace.Attempts) > 0 {
		if data, err := json.Marshal(trace.Attempts); err == nil {
			attempts = string(data)
		}
	}
	s.enqueue(&ToolTraceLog{
		TraceID:      trace.TraceID,
		Tool:         trace.Tool,
		StartedAt:    trace.StartedAt,
		DurationMS:   trace.DurationMS,
		Success:      trace.Success,
		ErrorType:    trace.ErrorType,
		ErrorMessage: trace.ErrorMessage,
		ResultRef:    trace.ResultRef,
		Attempts:     attempts,
	}, "trace")
}
