package model

import "time"

// RobotsAuditEntry records one robots.txt decision, blocking or not.
type RobotsAuditEntry struct {
	Tool      string    `json:"tool"`
	URL       string    `json:"url"`
	Host      string    `json:"host"`
	RobotsURL string    `json:"robots_url"`
	Allowed   bool      `json:"allowed"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// TosAuditEntry records one Terms-of-Service decision, blocking or not.
type TosAuditEntry struct {
	Tool      string          `json:"tool"`
	URL       string          `json:"url"`
	Host      string          `json:"host"`
	TosURL    string          `json:"tos_url,omitempty"`
	TosFound  bool            `json:"tos_found"`
	Verdict   ScrapingVerdict `json:"scraping_allowed"`
	Summary   string          `json:"tos_summary,omitempty"`
	Error     string          `json:"error,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// ToolTrace records the outcome of one governed tool invocation.
type ToolTrace struct {
	TraceID      string    `json:"trace_id"`
	Tool         string    `json:"tool"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorType    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ResultRef    string    `json:"result_ref,omitempty"`
	// Attempts is the retry history of the underlying HTTP exchange.
	Attempts []RetryAttempt `json:"attempts,omitempty"`
}

// RetryAttempt describes one failed attempt before a retry was scheduled.
type RetryAttempt struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Error   string        `json:"error"`
}
