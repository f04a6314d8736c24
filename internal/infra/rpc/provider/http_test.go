package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

var testKeys = map[domain.CredentialID]string{
	"key-1": "app-secret-1",
	"key-2": "app-secret-2",
}

func TestHTTPInvoker_Streaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat-messages" {
			t.Errorf("expected path /v1/chat-messages, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer app-secret-2" {
			t.Errorf("Authorization = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if body["query"] != "which template?" || body["response_mode"] != "streaming" {
			t.Errorf("unexpected body %v", body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"event":"message","answer":"Tem","conversation_id":"c-1"}`)
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, `data: not json`)
		fmt.Fprintln(w, `data: {"event":"agent_message","answer":"plate 3"}`)
		fmt.Fprintln(w, `data: {"event":"message_end","message_id":"m-9"}`)
		fmt.Fprintln(w, `data: {"event":"message","answer":"ignored"}`)
	}))
	defer server.Close()

	p := NewHTTPInvoker(server.URL+"/", "/v1/chat-messages", testKeys, 5*time.Second)
	out, err := p.Invoke(context.Background(), "key-2", ChatRequest{Query: "which template?"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	resp := out.(*ChatResponse)
	if resp.Answer != "Template 3" {
		t.Errorf("Answer = %q, want %q", resp.Answer, "Template 3")
	}
	if resp.ConversationID != "c-1" || resp.MessageID != "m-9" {
		t.Errorf("ids = %q/%q", resp.ConversationID, resp.MessageID)
	}
}

func TestHTTPInvoker_StreamDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"answer":"a"}`)
		fmt.Fprintln(w, `data: {"data":{"answer":"b"}}`)
		fmt.Fprintln(w, `data: [DONE]`)
		fmt.Fprintln(w, `data: {"answer":"c"}`)
	}))
	defer server.Close()

	p := NewHTTPInvoker(server.URL, "/chat-messages", testKeys, 5*time.Second)
	out, err := p.Invoke(context.Background(), "key-1", "q")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := out.(*ChatResponse).Answer; got != "ab" {
		t.Errorf("Answer = %q, want ab", got)
	}
}

func TestHTTPInvoker_Blocking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["response_mode"] != "blocking" {
			t.Errorf("response_mode = %v, want blocking", body["response_mode"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"answer": "42", "message_id": "m-1"})
	}))
	defer server.Close()

	p := NewHTTPInvoker(server.URL, "/chat-messages", testKeys, 5*time.Second)
	out, err := p.Invoke(context.Background(), "key-1", &ChatRequest{Query: "q", Blocking: true})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := out.(*ChatResponse); got.Answer != "42" || got.MessageID != "m-1" {
		t.Errorf("response = %+v", got)
	}
}

func TestHTTPInvoker_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		kind       domain.ErrorKind
		wantAfter  time.Duration
	}{
		{"unauthorized", 401, `{"code":"unauthorized"}`, "", domain.KindAuthRejected, 0},
		{"forbidden", 403, "forbidden", "", domain.KindAuthRejected, 0},
		{"too many requests", 429, "slow down", "7", domain.KindRateLimited, 7 * time.Second},
		{"throttle phrase", 400, "Rate limit exceeded for this app", "", domain.KindRateLimited, 0},
		{"bad request", 400, "query is required", "", domain.KindInvalidRequest, 0},
		{"gateway timeout", 504, "", "", domain.KindTimedOut, 0},
		{"server error", 502, "bad gateway", "", domain.KindTransient, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			p := NewHTTPInvoker(server.URL, "/chat-messages", testKeys, 5*time.Second)
			_, err := p.Invoke(context.Background(), "key-1", "q")

			var f *domain.Failure
			if !errors.As(err, &f) {
				t.Fatalf("error %v is not a Failure", err)
			}
			if f.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", f.Kind, tt.kind)
			}
			if f.RetryAfter != tt.wantAfter {
				t.Errorf("RetryAfter = %v, want %v", f.RetryAfter, tt.wantAfter)
			}
		})
	}
}

func TestHTTPInvoker_StreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"event":"message","answer":"par"}`)
		fmt.Fprintln(w, `data: {"event":"error","status":429,"code":"too_many_requests","message":"quota"}`)
	}))
	defer server.Close()

	p := NewHTTPInvoker(server.URL, "/chat-messages", testKeys, 5*time.Second)
	_, err := p.Invoke(context.Background(), "key-1", "q")

	var f *domain.Failure
	if !errors.As(err, &f) || f.Kind != domain.KindRateLimited {
		t.Errorf("error = %v, want rate limited failure", err)
	}
}

func TestHTTPInvoker_UnknownKeyAndBadRequest(t *testing.T) {
	p := NewHTTPInvoker("http://127.0.0.1:1", "/chat-messages", testKeys, time.Second)

	var f *domain.Failure
	_, err := p.Invoke(context.Background(), "key-9", "q")
	if !errors.As(err, &f) || f.Kind != domain.KindAuthRejected {
		t.Errorf("unknown key error = %v, want auth rejected", err)
	}

	_, err = p.Invoke(context.Background(), "key-1", 42)
	if !errors.As(err, &f) || f.Kind != domain.KindInvalidRequest {
		t.Errorf("bad request type error = %v, want invalid request", err)
	}
}

func TestHTTPInvoker_DeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewHTTPInvoker(server.URL, "/chat-messages", testKeys, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Invoke(ctx, "key-1", "q")
	var f *domain.Failure
	if !errors.As(err, &f) || f.Kind != domain.KindTimedOut {
		t.Errorf("error = %v, want timed out failure", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"120", 2 * time.Minute},
		{"-5", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
