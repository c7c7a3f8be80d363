package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/integrations/httpjson"
	"voice-orchestrator/internal/provider"
)

var hi = []domain.ConversationMessage{{Role: domain.RoleUser, Content: "hi"}}

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilKey(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(provider.StaticKey("sk"))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
	require.Equal(t, "OpenAI (gpt-4o-mini)", c.Label())

	c, err = NewClient(provider.StaticKey("sk"), WithModel("llama-3.1-8b"), WithLabel("Groq"))
	require.NoError(t, err)
	require.Equal(t, "llama-3.1-8b", c.Model())
	require.Equal(t, "Groq", c.Label())
}

// ---------------------------------------------------------------------------
// Formatter
// ---------------------------------------------------------------------------

func TestFormatter(t *testing.T) {
	f := Formatter{Model: "m", Generation: provider.Generation{Temperature: 0.5, MaxTokens: 256}}
	req, err := f.Format([]domain.ConversationMessage{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: "  "},
		{Role: domain.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, []chatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}}, req.Messages)
	require.NotNil(t, req.Temperature)
	require.Equal(t, 0.5, *req.Temperature)
	require.Nil(t, req.TopP)
	require.Equal(t, 256, req.MaxTokens)

	_, err = f.Format(nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Client.Chat / Invoke
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		provider.StaticKey("sk-test"),
		WithBaseURL(srv.URL),
		WithModel("gpt-mock"),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"model":"gpt-mock"`)
		require.NotContains(t, string(reqBody), `"stream"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "Hello from mock" }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), hi)
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)

	res := c.Invoke(context.Background(), hi)
	require.True(t, res.Succeeded())
	require.Equal(t, "OpenAI (gpt-mock)", res.ProviderLabel)
}

func TestClient_Chat_Non200(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"bad"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Chat(context.Background(), hi)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unexpected status")

		var se *httpjson.StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, status, se.StatusCode)
		srv.Close()
	}
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	res := newTestClient(t, srv).Invoke(context.Background(), hi)
	require.Equal(t, domain.ErrorKindMalformed, res.Err.Kind)
	require.Contains(t, res.Err.Message, "decode response")
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Chat(context.Background(), hi)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Chat_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	}))
	defer srv.Close()

	res := newTestClient(t, srv).Invoke(context.Background(), hi)
	require.Equal(t, domain.ErrorKindEmptyContent, res.Err.Kind)
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	res := c.Invoke(context.Background(), hi)
	require.Equal(t, domain.OutcomeTimeout, res.Outcome)
}

func TestClient_Chat_NetworkError(t *testing.T) {
	c, err := NewClient(provider.StaticKey("sk-test"))
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Chat(context.Background(), hi)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Chat_KeyError(t *testing.T) {
	c, err := NewClient(provider.StaticKey(""))
	require.NoError(t, err)
	res := c.Invoke(context.Background(), hi)
	require.Equal(t, domain.ErrorKindConfiguration, res.Err.Kind)
}

// ---------------------------------------------------------------------------
// Client.Stream
// ---------------------------------------------------------------------------

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(reqBody), `"stream":true`)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
}

func TestClient_Stream_Fragments(t *testing.T) {
	srv := sseServer(t, strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`: keep-alive`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		``,
		`data: [DONE]`,
		``,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
		``,
	}, "\n"))
	defer srv.Close()

	var got []string
	err := newTestClient(t, srv).Stream(context.Background(), hi, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo"}, got)
}

func TestClient_Stream_ErrorChunk(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	defer srv.Close()

	err := newTestClient(t, srv).Stream(context.Background(), hi, func(string) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "overloaded")
}

func TestClient_Stream_Empty(t *testing.T) {
	srv := sseServer(t, "data: [DONE]\n\n")
	defer srv.Close()

	err := newTestClient(t, srv).Stream(context.Background(), hi, func(string) error { return nil })
	require.ErrorIs(t, err, provider.ErrEmptyContent)
}

func TestClient_Stream_EmitErrorStops(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	defer srv.Close()

	stop := errors.New("client gone")
	calls := 0
	err := newTestClient(t, srv).Stream(context.Background(), hi, func(string) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestClient_Stream_Truncated(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
	defer srv.Close()

	var got []string
	err := newTestClient(t, srv).Stream(context.Background(), hi, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.ErrorIs(t, err, provider.ErrTruncated)
	require.Equal(t, []string{"Hel"}, got)
}

func TestClient_Stream_FinishReasonWithoutDone(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"+
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	defer srv.Close()

	err := newTestClient(t, srv).Stream(context.Background(), hi, func(string) error { return nil })
	require.NoError(t, err)
}
