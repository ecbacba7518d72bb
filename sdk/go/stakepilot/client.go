// Package stakepilot is a thin Go client for the StakePilot thread API.
package stakepilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the StakePilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ToolCall is a tool invocation embedded in an ai message.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Message mirrors one entry of a thread's message log.
type Message struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId,omitempty"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Name       string     `json:"name,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Seq        uint64     `json:"seq"`
}

type messagesEnvelope struct {
	ThreadID string    `json:"threadId"`
	Messages []Message `json:"messages"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("stakepilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stakepilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the StakePilot API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateThread allocates a new thread identifier.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var env messagesEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/threads", nil, &env); err != nil {
		return "", err
	}
	return env.ThreadID, nil
}

// Messages returns the full message log of the thread.
func (c *Client) Messages(ctx context.Context, threadID string) ([]Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("stakepilot: thread id is required")
	}
	var env messagesEnvelope
	if err := c.do(ctx, http.MethodGet, threadPath(threadID), nil, &env); err != nil {
		return nil, err
	}
	return env.Messages, nil
}

// Submit appends msgs to the thread and returns the stored copies.
func (c *Client) Submit(ctx context.Context, threadID string, msgs []Message) ([]Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, errors.New("stakepilot: thread id is required")
	}
	var env messagesEnvelope
	payload := struct {
		Messages []Message `json:"messages"`
	}{Messages: msgs}
	if err := c.do(ctx, http.MethodPost, threadPath(threadID), payload, &env); err != nil {
		return nil, err
	}
	return env.Messages, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func threadPath(threadID string) string {
	return "/api/v1/threads/" + url.PathEscape(threadID) + "/messages"
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	// endpoint segments are already escaped.
	u := c.baseURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
