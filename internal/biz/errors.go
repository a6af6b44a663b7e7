package biz

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons for the governance taxonomy. Reason strings are stable and
// used by callers to branch on the class of failure.
const (
	ReasonInvalidRequest      = "INVALID_REQUEST"
	ReasonPolicyDenied        = "POLICY_DENIED"
	ReasonThrottled           = "THROTTLED"
	ReasonUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// ErrInvalidRequest reports a malformed URL, scheme or host. Terminal, no retry.
func ErrInvalidRequest(format string, args ...interface{}) *errors.Error {
	return errors.New(400, ReasonInvalidRequest, fmt.Sprintf(format, args...))
}

// ErrPolicyDenied reports a domain, robots.txt or ToS denial. Terminal, no
// network call is made (or no retry attempted) once raised.
func ErrPolicyDenied(format string, args ...interface{}) *errors.Error {
	return errors.New(403, ReasonPolicyDenied, fmt.Sprintf(format, args...))
}

// ErrThrottled reports an exhausted rate limit. retryAfterSeconds is exposed
// in metadata for Retry-After headers.
func ErrThrottled(retryAfterSeconds float64, format string, args ...interface{}) *errors.Error {
	e := errors.New(429, ReasonThrottled, fmt.Sprintf(format, args...))
	return e.WithMetadata(map[string]string{
		"retry_after": fmt.Sprintf("%.3f", retryAfterSeconds),
	})
}

// ErrUpstreamUnavailable reports an exhausted retry budget against the real
// target. It wraps the last underlying error.
func ErrUpstreamUnavailable(cause error) *errors.Error {
	e := errors.New(502, ReasonUpstreamUnavailable, "upstream request failed after retries")
	if cause != nil {
		return e.WithCause(cause)
	}
	return e
}

// IsInvalidRequest reports whether err carries the InvalidRequest reason.
func IsInvalidRequest(err error) bool { return errors.Reason(err) == ReasonInvalidRequest }

// IsPolicyDenied reports whether err carries the PolicyDenied reason.
func IsPolicyDenied(err error) bool { return errors.Reason(err) == ReasonPolicyDenied }

// IsThrottled reports whether err carries the Throttled reason.
func IsThrottled(err error) bool { return errors.Reason(err) == ReasonThrottled }

// IsUpstreamUnavailable reports whether err carries the UpstreamUnavailable reason.
func IsUpstreamUnavailable(err error) bool {
	return errors.Reason(err) == ReasonUpstreamUnavailable
}

// ErrorType classifies err for audit records: one of the four taxonomy
// reasons, "INTERNAL" for anything else, or "" for nil.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	switch reason := errors.Reason(err); reason {
	case ReasonInvalidRequest, ReasonPolicyDenied, ReasonThrottled, ReasonUpstreamUnavailable:
		return reason
	default:
		return "INTERNAL"
	}
}
