package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"EgressGate/internal/model"
	"EgressGate/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// maxResponseBody caps how much of an upstream response is buffered.
const maxResponseBody = 16 * 1024 * 1024

// ToolRequest describes one governed tool invocation.
type ToolRequest struct {
	Tool     string
	APIKey   string
	ClientIP string
	// Payload is the tool's input, used as the canonical cache key.
	Payload map[string]interface{}
	// Egress describes the outbound HTTP exchange this tool performs.
	// Nil for tools without network egress; such calls pass admission
	// control and the payload cache only.
	Egress *EgressRequest
}

// EgressRequest is the outbound HTTP exchange of a tool invocation.
type EgressRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// ToolResult is the governed outcome handed back to the adapter layer.
type ToolResult struct {
	TraceID    string
	FromCache  bool
	StatusCode int
	Body       []byte
	Attempts   []model.RetryAttempt
}

// cachedExchange is the envelope stored in the response cache.
type cachedExchange struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// RequestGovernor binds the governance components into the single request
// path used by every outbound tool call.
type RequestGovernor struct {
	limiter      *MultiLimiter
	toolLimiters *ToolLimiters
	perms        PermissionChecker
	guard        *PolicyGuard
	pool         *ProxyPool
	retry        *RetryEngine
	audit        AuditSink
	factory      *httpclient.Factory
	logger       *log.Helper
}

// NewRequestGovernor wires the pipeline.
func NewRequestGovernor(
	limiter *MultiLimiter,
	toolLimiters *ToolLimiters,
	perms PermissionChecker,
	guard *PolicyGuard,
	pool *ProxyPool,
	retry *RetryEngine,
	audit AuditSink,
	factory *httpclient.Factory,
	logger log.Logger,
) *RequestGovernor {
	return &RequestGovernor{
		limiter:      limiter,
		toolLimiters: toolLimiters,
		perms:        perms,
		guard:        guard,
		pool:         pool,
		retry:        retry,
		audit:        audit,
		factory:      factory,
		logger:       log.NewHelper(logger),
	}
}

// Execute runs req through the full governance pipeline and records a trace
// for the outcome, whichever path it took.
func (g *RequestGovernor) Execute(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	traceID := uuid.NewString()
	started := time.Now()

	result, err := g.execute(ctx, req, traceID)

	trace := model.ToolTrace{
		TraceID:    traceID,
		Tool:       req.Tool,
		StartedAt:  started,
		DurationMS: time.Since(started).Milliseconds(),
		Success:    err == nil,
		ErrorType:  ErrorType(err),
	}
	if err != nil {
		trace.ErrorMessage = err.Error()
	}
	if result != nil {
		trace.Attempts = result.Attempts
		if result.FromCache {
			trace.ResultRef = "cache"
		}
	}
	g.audit.RecordTrace(ctx, trace)

	return result, err
}

func (g *RequestGovernor) execute(ctx context.Context, req ToolRequest, traceID string) (*ToolResult, error) {
	// Gateway-wide admission, then the tool's tighter ceiling.
	if d := g.limiter.Check(req.APIKey, req.ClientIP); !d.Allowed {
		return nil, ErrThrottled(d.RetryAfter.Seconds(),
			"gateway rate limit exceeded on %s dimension", d.DeniedBy)
	}
	if d := g.toolLimiters.Check(req.Tool, req.APIKey); !d.Allowed {
		return nil, ErrThrottled(d.RetryAfter.Seconds(),
			"rate limit for tool %s exceeded", req.Tool)
	}

	if !g.perms.Allowed(req.APIKey, req.Tool) {
		return nil, ErrPolicyDenied("API key is not permitted to invoke tool %s", req.Tool)
	}

	g.guard.RefreshIfNeeded(ctx)

	if data, ok := g.guard.CacheGet(ctx, req.Tool, req.Payload); ok {
		return cachedResult(traceID, data)
	}

	if req.Egress == nil {
		// Admission passed; the adapter performs no network egress.
		return &ToolResult{TraceID: traceID}, nil
	}

	permit, err := g.guard.Enforce(ctx, req.Egress.URL, req.Tool)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	if data, ok := g.guard.CacheGetURL(ctx, req.Tool, req.Egress.URL); ok {
		return cachedResult(traceID, data)
	}

	host := hostOf(req.Egress.URL)
	proxy := g.pool.Select(host)
	client, err := g.clientFor(proxy)
	if err != nil {
		return nil, err
	}

	var lastLatency time.Duration
	retryResult := g.retry.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		start := time.Now()
		exchange, err := g.exchange(ctx, client, req.Egress)
		lastLatency = time.Since(start)
		if err != nil {
			return nil, err
		}
		return exchange, nil
	}, nil)

	if !retryResult.Success {
		if proxyRelayFailed(retryResult.Err) {
			g.pool.ReportFailure(proxy, retryResult.Err.Error())
		} else {
			g.pool.ReportSuccess(proxy, lastLatency)
		}
		g.logger.Warnw("upstream exchange failed",
			"trace_id", traceID,
			"tool", req.Tool,
			"host", host,
			"attempts", len(retryResult.Attempts),
			"error", retryResult.Err.Error())
		return &ToolResult{TraceID: traceID, Attempts: retryResult.Attempts},
			ErrUpstreamUnavailable(retryResult.Err)
	}
	g.pool.ReportSuccess(proxy, lastLatency)

	exchange := retryResult.Value.(*cachedExchange)
	if data, err := json.Marshal(exchange); err == nil {
		g.guard.CacheSet(ctx, req.Tool, req.Payload, data)
		g.guard.CacheSetURL(ctx, req.Tool, req.Egress.URL, data)
	}

	return &ToolResult{
		TraceID:    traceID,
		StatusCode: exchange.StatusCode,
		Body:       exchange.Body,
		Attempts:   retryResult.Attempts,
	}, nil
}

// proxyRelayFailed decides whether an exchange failure counts against the
// proxy's health. Same classification as the pool's health probe: transport
// errors and 5xx are proxy failures, any other status means the proxy
// relayed the request fine.
func proxyRelayFailed(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// clientFor builds the HTTP client for the selected proxy, degrading to a
// direct connection when the proxy endpoint cannot be used.
func (g *RequestGovernor) clientFor(proxy *Proxy) (*http.Client, error) {
	if proxy == nil {
		return g.factory.ForProxy("")
	}
	client, err := g.factory.ForProxy(proxy.Endpoint())
	if err != nil {
		g.logger.Warnw("proxy client construction failed, using direct connection",
			"endpoint", httpclient.RedactEndpoint(proxy.Endpoint()),
			"error", err.Error())
		return g.factory.ForProxy("")
	}
	return client, nil
}

// exchange performs one HTTP attempt. Status codes >= 400 surface as
// HTTPStatusError so the retry engine can classify them.
func (g *RequestGovernor) exchange(ctx context.Context, client *http.Client, egress *EgressRequest) (*cachedExchange, error) {
	method := egress.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(egress.Body) > 0 {
		body = bytes.NewReader(egress.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, egress.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range egress.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	return &cachedExchange{StatusCode: resp.StatusCode, Body: respBody}, nil
}

func cachedResult(traceID string, data []byte) (*ToolResult, error) {
	var exchange cachedExchange
	if err := json.Unmarshal(data, &exchange); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return &ToolResult{
		TraceID:    traceID,
		FromCache:  true,
		StatusCode: exchange.StatusCode,
		Body:       exchange.Body,
	}, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
