// Package provider implements invokers for the credential router.
//
// This package contains:
//   - ChatRequest / ChatResponse: the transport-neutral request and reply
//   - HTTPInvoker: chat-messages endpoint over HTTP (streaming or blocking)
//   - GRPCInvoker: unary gRPC call with bearer metadata
//   - Failure classification for HTTP statuses, throttle phrases and gRPC codes
package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

// ChatRequest is one query sent to the backend.
type ChatRequest struct {
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id"`
	Inputs         map[string]any `json:"inputs"`

	// Blocking asks for a single JSON reply instead of a streamed one.
	Blocking bool `json:"-"`
}

// ChatResponse is the backend's answer.
type ChatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// asChatRequest accepts ChatRequest, *ChatRequest or a bare query string.
func asChatRequest(req any) (ChatRequest, error) {
	switch r := req.(type) {
	case ChatRequest:
		return r, nil
	case *ChatRequest:
		if r == nil {
			return ChatRequest{}, fmt.Errorf("nil request")
		}
		return *r, nil
	case string:
		return ChatRequest{Query: r}, nil
	default:
		return ChatRequest{}, fmt.Errorf("unsupported request type %T", req)
	}
}

// keyring maps credential ids to their secrets.
type keyring map[domain.CredentialID]string

func newKeyring(keys map[domain.CredentialID]string) keyring {
	k := make(keyring, len(keys))
	for id, secret := range keys {
		k[id] = secret
	}
	return k
}

func (k keyring) lookup(id domain.CredentialID) (string, error) {
	secret, ok := k[id]
	if !ok || secret == "" {
		return "", domain.NewFailure(domain.KindAuthRejected, fmt.Errorf("no key configured for %s", id))
	}
	return secret, nil
}

var throttlePatterns = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
	"request count exceeded",
	"throttl",
}

// DetectThrottlePattern reports whether message reads like a rate limit.
func DetectThrottlePattern(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps a non-2xx HTTP status and its body to a failure.
func ClassifyStatus(code int, body string, header http.Header) *domain.Failure {
	err := fmt.Errorf("http %d: %s", code, truncate(body, 200))

	switch {
	case code == http.StatusTooManyRequests:
		f := domain.NewFailure(domain.KindRateLimited, err)
		f.RetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
		return f
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.NewFailure(domain.KindAuthRejected, err)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.NewFailure(domain.KindTimedOut, err)
	case DetectThrottlePattern(body):
		return domain.NewFailure(domain.KindRateLimited, err)
	case code >= 400 && code < 500:
		return domain.NewFailure(domain.KindInvalidRequest, err)
	default:
		return domain.NewFailure(domain.KindTransient, err)
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
