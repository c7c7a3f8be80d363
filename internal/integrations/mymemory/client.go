// Package mymemory is a client for the MyMemory translation API.
package mymemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"voice-orchestrator/internal/integrations/httpjson"
)

const (
	DefaultBaseURL = "https://api.mymemory.translated.net"

	// MaxQueryLength is the longest text the free tier accepts per request.
	MaxQueryLength = 480
)

// ErrNoTranslation is returned when the response carries no usable
// translation, e.g. a quota warning or a length-limit sentinel.
var ErrNoTranslation = errors.New("mymemory: no valid translation")

// sentinels are upper-cased markers MyMemory returns in place of a translation.
var sentinels = []string{
	"QUERY LENGTH LIMIT EXCEEDED",
	"INVALID",
	"MYMEMORY WARNING",
}

type getResponse struct {
	ResponseData struct {
		TranslatedText  string `json:"translatedText"`
		ResponseDetails string `json:"responseDetails"`
	} `json:"responseData"`
	ResponseDetails string `json:"responseDetails"`
	Matches         []struct {
		Translation string `json:"translation"`
	} `json:"matches"`
}

// Client translates text through MyMemory's GET /get endpoint.
type Client struct {
	baseURL    string
	email      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEmail sends the "de" parameter, which raises the daily quota.
func WithEmail(email string) Option {
	return func(c *Client) {
		c.email = strings.TrimSpace(email)
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpjson.NewClient(httpjson.DefaultTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Translate translates text from source to target language.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", source+"|"+target)
	if c.email != "" {
		q.Set("de", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("mymemory: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := httpjson.Do(c.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("mymemory: request failed: %w", err)
	}

	var resp getResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("mymemory: decode response: %w", err)
	}

	if t := resp.ResponseData.TranslatedText; usable(t) {
		return t, nil
	}
	if len(resp.Matches) > 0 && strings.TrimSpace(resp.Matches[0].Translation) != "" {
		return resp.Matches[0].Translation, nil
	}

	detail := resp.ResponseData.ResponseDetails
	if detail == "" {
		detail = resp.ResponseDetails
	}
	if detail == "" {
		detail = resp.ResponseData.TranslatedText
	}
	return "", fmt.Errorf("%w: %s", ErrNoTranslation, detail)
}

func usable(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	upper := strings.ToUpper(text)
	for _, s := range sentinels {
		if strings.Contains(upper, s) {
			return false
		}
	}
	return true
}
