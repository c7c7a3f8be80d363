// Package openai adapts OpenAI-compatible Chat Completions endpoints
// (OpenAI, Groq, OpenRouter, vLLM, ...) to the provider contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/integrations/httpjson"
	"voice-orchestrator/internal/provider"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	doneSentinel = "[DONE]"
)

// chatMessage is the wire message of the Chat Completions endpoint.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

// chatChunk is one streamed completion delta.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

// Formatter maps the generic conversation onto Chat Completions messages.
// The endpoint accepts arbitrary role order so no reshaping is needed.
type Formatter struct {
	Model      string
	Generation provider.Generation
}

func (f Formatter) Format(conversation []domain.ConversationMessage) (chatRequest, error) {
	req := chatRequest{
		Model:     f.Model,
		MaxTokens: f.Generation.MaxTokens,
	}
	if f.Generation.Temperature > 0 {
		t := f.Generation.Temperature
		req.Temperature = &t
	}
	if f.Generation.TopP > 0 {
		p := f.Generation.TopP
		req.TopP = &p
	}
	for _, m := range conversation {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(req.Messages) == 0 {
		return chatRequest{}, errors.New("openai: conversation has no messages")
	}
	return req, nil
}

// Client is a focused OpenAI-compatible client for chat completions.
type Client struct {
	label      string
	baseURL    string
	httpClient *http.Client
	key        provider.KeySource
	formatter  Formatter
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLabel(label string) Option {
	return func(c *Client) {
		if strings.TrimSpace(label) != "" {
			c.label = strings.TrimSpace(label)
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.formatter.Model = strings.TrimSpace(model)
		}
	}
}

func WithGeneration(g provider.Generation) Option {
	return func(c *Client) {
		c.formatter.Generation = g
	}
}

// NewClient creates a new Client authenticating with key. A paramstore.Key
// fetches the token from SSM on first use and reuses it for the lifetime of
// the process.
func NewClient(key provider.KeySource, opts ...Option) (*Client, error) {
	if key == nil {
		return nil, errors.New("openai: key source must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpjson.NewStreamingClient(),
		key:        key,
		formatter:  Formatter{Model: DefaultModel},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.label == "" {
		c.label = fmt.Sprintf("OpenAI (%s)", c.formatter.Model)
	}
	return c, nil
}

func (c *Client) Label() string { return c.label }

func (c *Client) Model() string { return c.formatter.Model }

// resolvedHTTPClient returns the configured HTTP client, or a default one if
// none was set (e.g. in tests that nil out the field).
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return httpjson.NewStreamingClient()
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Invoke performs one non-streaming chat completion.
func (c *Client) Invoke(ctx context.Context, conversation []domain.ConversationMessage) domain.ProviderCallResult {
	started := time.Now()
	text, err := c.Chat(ctx, conversation)
	if err != nil {
		return provider.Failure(c.label, err, started)
	}
	return provider.Success(c.label, text, started)
}

// Chat returns the first choice of a chat completion.
func (c *Client) Chat(ctx context.Context, conversation []domain.ConversationMessage) (string, error) {
	req, err := c.newRequest(ctx, conversation, false)
	if err != nil {
		return "", err
	}

	raw, err := httpjson.Do(c.resolvedHTTPClient(), req)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", &provider.MalformedError{Reason: "openai: decode response", Err: decErr}
	}
	if payload.Error != nil && payload.Error.Message != "" {
		return "", &provider.MalformedError{Reason: "openai: error payload: " + payload.Error.Message}
	}
	if len(payload.Choices) == 0 {
		return "", &provider.MalformedError{Reason: "openai: no choices in response"}
	}
	text, err := provider.Content(payload.Choices[0].Message.Content)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	return text, nil
}

// Stream performs a streaming chat completion and emits every content delta.
func (c *Client) Stream(ctx context.Context, conversation []domain.ConversationMessage, emit func(string) error) error {
	req, err := c.newRequest(ctx, conversation, true)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := httpjson.Open(c.resolvedHTTPClient(), req)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	emitted := false
	done := false
	parseErr := httpjson.ParseSSE(res.Body, func(ev httpjson.Event) error {
		data := strings.TrimSpace(ev.Data)
		if data == doneSentinel {
			done = true
			return errStop
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return &provider.MalformedError{Reason: "openai: decode stream chunk", Err: err}
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return &provider.MalformedError{Reason: "openai: stream error: " + chunk.Error.Message}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				done = true
			}
			if choice.Delta.Content == "" {
				continue
			}
			emitted = true
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if parseErr != nil && !errors.Is(parseErr, errStop) {
		return fmt.Errorf("openai: stream: %w", parseErr)
	}
	if !done && ctx.Err() != nil {
		return fmt.Errorf("openai: stream: %w", ctx.Err())
	}
	if !emitted {
		return fmt.Errorf("openai: %w", provider.ErrEmptyContent)
	}
	if !done {
		return fmt.Errorf("openai: stream: %w", provider.ErrTruncated)
	}
	return nil
}

var errStop = errors.New("stream finished")

func (c *Client) newRequest(ctx context.Context, conversation []domain.ConversationMessage, stream bool) (*http.Request, error) {
	if c.formatter.Model == "" {
		return nil, &provider.ConfigError{Err: errors.New("openai: model must not be empty")}
	}
	apiKey, err := c.key.Key(ctx)
	if err != nil {
		return nil, &provider.ConfigError{Err: fmt.Errorf("openai: resolve api key: %w", err)}
	}
	payload, err := c.formatter.Format(conversation)
	if err != nil {
		return nil, &provider.ConfigError{Err: err}
	}
	payload.Stream = stream

	req, err := httpjson.NewPostRequest(ctx, chatURL(c.baseURL), payload)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

var (
	_ provider.StreamAdapter               = (*Client)(nil)
	_ provider.PromptFormatter[chatRequest] = Formatter{}
)
