package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
)

const maxStreamLine = 1 << 20

// HTTPInvoker posts chat requests to {baseURL}{endpoint} with the
// credential's key as a bearer token.
type HTTPInvoker struct {
	url        string
	keys       keyring
	httpClient *http.Client
}

// NewHTTPInvoker creates an HTTP invoker. The client timeout is a backstop;
// the dispatcher's per-attempt deadline normally fires first.
func NewHTTPInvoker(
	baseURL, endpoint string,
	keys map[domain.CredentialID]string,
	timeout time.Duration,
) *HTTPInvoker {
	return &HTTPInvoker{
		url:  strings.TrimRight(baseURL, "/") + endpoint,
		keys: newKeyring(keys),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Invoke sends one request with credential id and returns a ChatResponse.
func (p *HTTPInvoker) Invoke(ctx context.Context, id domain.CredentialID, req any) (any, error) {
	chat, err := asChatRequest(req)
	if err != nil {
		return nil, domain.NewFailure(domain.KindInvalidRequest, err)
	}

	key, err := p.keys.lookup(id)
	if err != nil {
		return nil, err
	}

	mode := "streaming"
	if chat.Blocking {
		mode = "blocking"
	}
	inputs := chat.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}

	jsonData, err := json.Marshal(map[string]any{
		"inputs":          inputs,
		"query":           chat.Query,
		"response_mode":   mode,
		"conversation_id": chat.ConversationID,
		"user":            chat.User,
	})
	if err != nil {
		return nil, domain.NewFailure(domain.KindInvalidRequest, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, domain.NewFailure(domain.KindInvalidRequest, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyStatus(resp.StatusCode, string(body), resp.Header)
	}

	var out *ChatResponse
	if chat.Blocking {
		out, err = decodeBlocking(ctx, resp.Body)
	} else {
		out, err = decodeStream(ctx, resp.Body)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// streamEvent is one "data:" line of a streamed reply.
type streamEvent struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Status         int    `json:"status"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	Data           *struct {
		Answer string `json:"answer"`
	} `json:"data"`
}

// decodeStream accumulates answer chunks until [DONE], message_end or EOF.
// Lines that are not JSON are skipped.
func decodeStream(ctx context.Context, body io.Reader) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	var out ChatResponse
	var answer strings.Builder

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}

		if ev.Event == "error" {
			return nil, streamFailure(ev)
		}

		switch {
		case ev.Answer != "":
			answer.WriteString(ev.Answer)
		case ev.Data != nil:
			answer.WriteString(ev.Data.Answer)
		}
		if ev.ConversationID != "" {
			out.ConversationID = ev.ConversationID
		}
		if ev.MessageID != "" {
			out.MessageID = ev.MessageID
		}
		if ev.Event == "message_end" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, transportFailure(ctx, fmt.Errorf("read stream: %w", err))
	}

	out.Answer = answer.String()
	return &out, nil
}

func decodeBlocking(ctx context.Context, body io.Reader) (*ChatResponse, error) {
	var out ChatResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, transportFailure(ctx, err)
		}
		return nil, domain.NewFailure(domain.KindTransient, fmt.Errorf("parse response: %w", err))
	}
	return &out, nil
}

func streamFailure(ev streamEvent) *domain.Failure {
	msg := ev.Message
	if ev.Code != "" {
		msg = ev.Code + ": " + msg
	}
	if ev.Status >= 400 {
		return ClassifyStatus(ev.Status, msg, http.Header{})
	}
	if DetectThrottlePattern(msg) {
		return domain.NewFailure(domain.KindRateLimited, fmt.Errorf("stream error: %s", msg))
	}
	return domain.NewFailure(domain.KindTransient, fmt.Errorf("stream error: %s", msg))
}

func transportFailure(ctx context.Context, err error) *domain.Failure {
	if ctx.Err() == context.DeadlineExceeded {
		return domain.NewFailure(domain.KindTimedOut, err)
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return domain.NewFailure(domain.KindTimedOut, err)
	}
	return domain.NewFailure(domain.KindTransient, err)
}
