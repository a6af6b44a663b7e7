package service

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"EgressGate/internal/biz"
	"EgressGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// FetchRequest is the HTTP body accepted by the fetch endpoint.
type FetchRequest struct {
	Tool    string                 `json:"tool"`
	APIKey  string                 `json:"api_key"`
	Payload map[string]interface{} `json:"payload"`
	Egress  *FetchEgress           `json:"egress"`
}

// FetchEgress describes the outbound exchange of a fetch request. Body is
// base64 so binary payloads survive the JSON envelope.
type FetchEgress struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// FetchResponse mirrors biz.ToolResult for the HTTP surface.
type FetchResponse struct {
	TraceID    string               `json:"trace_id"`
	FromCache  bool                 `json:"from_cache"`
	StatusCode int                  `json:"status_code"`
	Body       json.RawMessage      `json:"body,omitempty"`
	BodyB64    string               `json:"body_b64,omitempty"`
	Attempts   []model.RetryAttempt `json:"attempts,omitempty"`
}

// GatewayService exposes governed outbound fetches to tool adapters that
// call over HTTP instead of embedding the governor in-process.
type GatewayService struct {
	governor *biz.RequestGovernor
	logger   *log.Helper
}

// NewGatewayService creates a new GatewayService instance.
func NewGatewayService(governor *biz.RequestGovernor, logger log.Logger) *GatewayService {
	return &GatewayService{governor: governor, logger: log.NewHelper(logger)}
}

// Fetch runs one tool invocation through the governance pipeline.
func (s *GatewayService) Fetch(ctx context.Context, req *FetchRequest, clientIP string) (*FetchResponse, error) {
	if req.Tool == "" {
		return nil, biz.ErrInvalidRequest("tool name is required")
	}

	toolReq := biz.ToolRequest{
		Tool:     req.Tool,
		APIKey:   req.APIKey,
		ClientIP: clientIP,
		Payload:  req.Payload,
	}
	if req.Egress != nil {
		body, err := base64.StdEncoding.DecodeString(req.Egress.Body)
		if err != nil {
			return nil, biz.ErrInvalidRequest("egress body is not valid base64")
		}
		toolReq.Egress = &biz.EgressRequest{
			Method:  req.Egress.Method,
			URL:     req.Egress.URL,
			Headers: req.Egress.Headers,
			Body:    body,
		}
	}

	result, err := s.governor.Execute(ctx, toolReq)
	if err != nil {
		return nil, err
	}

	resp := &FetchResponse{
		TraceID:    result.TraceID,
		FromCache:  result.FromCache,
		StatusCode: result.StatusCode,
		Attempts:   result.Attempts,
	}
	if json.Valid(result.Body) {
		resp.Body = json.RawMessage(result.Body)
	} else if len(result.Body) > 0 {
		resp.BodyB64 = base64.StdEncoding.EncodeToString(result.Body)
	}
	return resp, nil
}
