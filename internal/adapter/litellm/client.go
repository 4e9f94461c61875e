// Package litellm provides an HTTP client for a LiteLLM proxy. It serves
// chat completions to the planner and synthesizer through the oracle port.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/oracle"
	"github.com/matross-gh/platform-engineering-copilot/internal/resilience"
)

// Model represents a configured model in LiteLLM.
type Model struct {
	ModelName string            `json:"model_name"`
	Provider  string            `json:"litellm_provider,omitempty"`
	ModelID   string            `json:"model_id,omitempty"`
	Params    map[string]string `json:"litellm_params,omitempty"`
}

// ChatMessage is one message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the OpenAI-compatible chat completion body.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse is the subset of the completion response the copilot reads.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Content returns the first choice's text, or "" when there is none.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Client talks to the LiteLLM proxy.
type Client struct {
	baseURL    string
	masterKey  string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a LiteLLM client with the given per-call timeout.
func NewClient(baseURL, masterKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// ChatCompletion sends a chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	return &resp, nil
}

// Complete implements oracle.Oracle. Every failure is reported as
// domain.ErrOracleUnavailable so callers can degrade uniformly.
func (c *Client) Complete(ctx context.Context, req oracle.Request) (string, error) {
	chat := ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		chat.Messages = append(chat.Messages, ChatMessage{Role: "system", Content: req.System})
	}
	chat.Messages = append(chat.Messages, ChatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		chat.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	resp, err := c.ChatCompletion(ctx, chat)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	content := strings.TrimSpace(resp.Content())
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrOracleUnavailable)
	}
	return content, nil
}

// ListModels returns all configured models from LiteLLM.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/model/info", nil)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	var result struct {
		Data []Model `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal models: %w", err)
	}
	return result.Data, nil
}

// Health checks if LiteLLM is reachable. It bypasses the breaker so a
// probe never counts against it.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.send(ctx, http.MethodGet, "/health/liveliness", nil)
	return err == nil, err
}

// BreakerState reports the attached breaker's state, or closed when none.
func (c *Client) BreakerState() resilience.State {
	if c.breaker == nil {
		return resilience.StateClosed
	}
	return c.breaker.State()
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("litellm API error %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.breaker == nil {
		return c.send(ctx, method, path, body)
	}

	var result []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		data, err := c.send(ctx, method, path, body)
		if err != nil {
			return err
		}
		result = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
