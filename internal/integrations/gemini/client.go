// Package gemini adapts Google's Gemini generateContent API to the provider
// contract.
package gemini

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
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"
)

// DefaultGeneration mirrors the sampling parameters the assistant has always
// used with Gemini.
var DefaultGeneration = provider.Generation{
	Temperature: 0.7,
	TopP:        0.9,
	TopK:        40,
	MaxTokens:   1024,
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// generateResponse is the minimal response shape of generateContent.
type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Formatter builds generateContent requests. Gemini requires alternating
// user/model turns, so the conversation is reshaped with provider.Alternate.
type Formatter struct {
	Generation   provider.Generation
	Bridge       provider.Bridge
	LastUserOnly bool
}

func (f Formatter) Format(conversation []domain.ConversationMessage) (generateRequest, error) {
	req := generateRequest{
		GenerationConfig: generationConfig{
			Temperature:     f.Generation.Temperature,
			TopP:            f.Generation.TopP,
			TopK:            f.Generation.TopK,
			MaxOutputTokens: f.Generation.MaxTokens,
		},
	}

	if f.LastUserOnly {
		last, ok := domain.ChatRequest{Messages: conversation}.LastUserMessage()
		if !ok || strings.TrimSpace(last.Content) == "" {
			return generateRequest{}, errors.New("gemini: no user message to send")
		}
		req.Contents = []content{{Role: "user", Parts: []part{{Text: last.Content}}}}
		return req, nil
	}

	alt := provider.Alternate(conversation, f.Bridge)
	if len(alt.Turns) == 0 {
		return generateRequest{}, errors.New("gemini: conversation has no turns")
	}
	if alt.System != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: alt.System}}}
	}
	req.Contents = make([]content, 0, len(alt.Turns))
	for _, m := range alt.Turns {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	return req, nil
}

// Adapter calls Gemini generateContent.
type Adapter struct {
	label      string
	model      string
	baseURL    string
	key        provider.KeySource
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
			a.model = strings.TrimSpace(model)
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

func WithBridge(b provider.Bridge) Option {
	return func(a *Adapter) {
		a.formatter.Bridge = b
	}
}

// WithLastUserOnly sends only the most recent user message instead of the
// whole conversation.
func WithLastUserOnly(on bool) Option {
	return func(a *Adapter) {
		a.formatter.LastUserOnly = on
	}
}

// NewAdapter creates a Gemini adapter authenticating with key.
func NewAdapter(key provider.KeySource, opts ...Option) (*Adapter, error) {
	if key == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	a := &Adapter{
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		key:        key,
		httpClient: httpjson.NewStreamingClient(),
		formatter: Formatter{
			Generation: DefaultGeneration,
			Bridge:     provider.DefaultBridge,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.label == "" {
		a.label = fmt.Sprintf("Gemini (%s)", a.model)
	}
	return a, nil
}

func (a *Adapter) Label() string { return a.label }

func (a *Adapter) Model() string { return a.model }

// Invoke performs one generateContent call.
func (a *Adapter) Invoke(ctx context.Context, conversation []domain.ConversationMessage) domain.ProviderCallResult {
	started := time.Now()
	text, err := a.generate(ctx, conversation)
	if err != nil {
		return provider.Failure(a.label, err, started)
	}
	return provider.Success(a.label, text, started)
}

func (a *Adapter) generate(ctx context.Context, conversation []domain.ConversationMessage) (string, error) {
	apiKey, err := a.key.Key(ctx)
	if err != nil {
		return "", &provider.ConfigError{Err: fmt.Errorf("gemini: resolve api key: %w", err)}
	}
	payload, err := a.formatter.Format(conversation)
	if err != nil {
		return "", &provider.ConfigError{Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, a.model)
	req, err := httpjson.NewPostRequest(ctx, url, payload)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	req.Header.Set("x-goog-api-key", apiKey)

	raw, err := httpjson.Do(a.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", err)
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &provider.MalformedError{Reason: "gemini: decode response", Err: err}
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return "", &provider.MalformedError{Reason: "gemini: error payload: " + resp.Error.Message}
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", &provider.MalformedError{Reason: "gemini: prompt blocked: " + resp.PromptFeedback.BlockReason}
		}
		return "", &provider.MalformedError{Reason: "gemini: no candidates in response"}
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text, err := provider.Content(sb.String())
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return text, nil
}

var (
	_ provider.Adapter                          = (*Adapter)(nil)
	_ provider.PromptFormatter[generateRequest] = Formatter{}
)
