// Package ollama adapts a local Ollama server's /api/chat endpoint to the
// provider contract.
package ollama

import (
	"bufio"
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
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "gemma:2b"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type options struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *options  `json:"options,omitempty"`
}

// chatResponse is both the non-streaming body and one NDJSON stream line.
type chatResponse struct {
	Model   string  `json:"model"`
	Message message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error"`
}

// Formatter maps the conversation onto Ollama chat messages.
type Formatter struct {
	Model      string
	Generation provider.Generation
}

func (f Formatter) Format(conversation []domain.ConversationMessage) (chatRequest, error) {
	req := chatRequest{Model: f.Model}
	if f.Generation != (provider.Generation{}) {
		req.Options = &options{
			Temperature: f.Generation.Temperature,
			TopP:        f.Generation.TopP,
			TopK:        f.Generation.TopK,
			NumPredict:  f.Generation.MaxTokens,
		}
	}
	for _, m := range conversation {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		req.Messages = append(req.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	if len(req.Messages) == 0 {
		return chatRequest{}, errors.New("ollama: conversation has no messages")
	}
	return req, nil
}

// Adapter calls a local Ollama model. No credential is needed.
type Adapter struct {
	label      string
	baseURL    string
	httpClient *http.Client
	formatter  Formatter
}

type Option func(*Adapter)

func WithLabel(label string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(label) != "" {
			a.label = strings.TrimSpace(label)
		}
	}
}

func WithModel(model string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(model) != "" {
			a.formatter.Model = strings.TrimSpace(model)
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(baseURL) != "" {
			a.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = httpClient
	}
}

func WithGeneration(g provider.Generation) Option {
	return func(a *Adapter) {
		a.formatter.Generation = g
	}
}

func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:    DefaultBaseURL,
		httpClient: httpjson.NewStreamingClient(),
		formatter:  Formatter{Model: DefaultModel},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.label == "" {
		a.label = fmt.Sprintf("Ollama (%s)", a.formatter.Model)
	}
	return a
}

func (a *Adapter) Label() string { return a.label }

func (a *Adapter) Model() string { return a.formatter.Model }

func (a *Adapter) Invoke(ctx context.Context, conversation []domain.ConversationMessage) domain.ProviderCallResult {
	started := time.Now()
	text, err := a.chat(ctx, conversation)
	if err != nil {
		return provider.Failure(a.label, err, started)
	}
	return provider.Success(a.label, text, started)
}

func (a *Adapter) chat(ctx context.Context, conversation []domain.ConversationMessage) (string, error) {
	req, err := a.newRequest(ctx, conversation, false)
	if err != nil {
		return "", err
	}
	raw, err := httpjson.Do(a.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &provider.MalformedError{Reason: "ollama: decode response", Err: err}
	}
	if resp.Error != "" {
		return "", &provider.MalformedError{Reason: "ollama: error payload: " + resp.Error}
	}
	text, err := provider.Content(resp.Message.Content)
	if err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return text, nil
}

// Stream reads the newline-delimited JSON stream of /api/chat.
func (a *Adapter) Stream(ctx context.Context, conversation []domain.ConversationMessage, emit func(string) error) error {
	req, err := a.newRequest(ctx, conversation, true)
	if err != nil {
		return err
	}
	res, err := httpjson.Open(a.httpClient, req)
	if err != nil {
		return fmt.Errorf("ollama: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 4096), 512*1024)
	emitted := false
	done := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return &provider.MalformedError{Reason: "ollama: decode stream line", Err: err}
		}
		if chunk.Error != "" {
			return &provider.MalformedError{Reason: "ollama: stream error: " + chunk.Error}
		}
		if chunk.Message.Content != "" {
			emitted = true
			if err := emit(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama: stream: %w", err)
	}
	if !emitted {
		return fmt.Errorf("ollama: %w", provider.ErrEmptyContent)
	}
	if !done {
		return fmt.Errorf("ollama: stream: %w", provider.ErrTruncated)
	}
	return nil
}

func (a *Adapter) newRequest(ctx context.Context, conversation []domain.ConversationMessage, stream bool) (*http.Request, error) {
	payload, err := a.formatter.Format(conversation)
	if err != nil {
		return nil, &provider.ConfigError{Err: err}
	}
	payload.Stream = stream
	req, err := httpjson.NewPostRequest(ctx, a.baseURL+"/api/chat", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return req, nil
}

var (
	_ provider.StreamAdapter               = (*Adapter)(nil)
	_ provider.PromptFormatter[chatRequest] = Formatter{}
)
