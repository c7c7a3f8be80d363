package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/httpapi"
	"voice-orchestrator/internal/logbuf"
	"voice-orchestrator/internal/usecase"
)

type stubChat struct {
	out       usecase.ChatOutput
	err       error
	events    []domain.StreamEvent
	history   []domain.Exchange
	in        usecase.ChatInput
	chatCalls int
	streamed  int
	panicMsg  string
}

func (s *stubChat) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.chatCalls++
	s.in = in
	return s.out, s.err
}

func (s *stubChat) Stream(_ context.Context, in usecase.ChatInput, emit func(domain.StreamEvent) error) error {
	s.streamed++
	s.in = in
	for _, ev := range s.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubChat) History(_ context.Context, _ string) ([]domain.Exchange, error) {
	return s.history, s.err
}

func newTestServer(t *testing.T, chat *stubChat) (*Server, *logbuf.Buffer) {
	t.Helper()
	buf := logbuf.New(10)
	srv, err := New(chat, buf)
	require.NoError(t, err)
	return srv, buf
}

func do(t *testing.T, srv *Server, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func postChat(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

const validBody = `{"messages":[{"role":"user","content":"What is the capital of Indonesia?"}],"conversationId":"conv-1"}`

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(nil, logbuf.New(1))
	require.Error(t, err)

	_, err = New(&stubChat{}, nil)
	require.Error(t, err)
}

func TestLiveness(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})
	resp, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, httpapi.LivenessText, body)
}

func TestChat_HappyPath(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{
		Reply:          domain.ChatReply{Role: domain.RoleAssistant, Content: "Jakarta.", Provider: "Gemini (gemini-2.0-flash)"},
		ConversationID: "conv-1",
	}}
	srv, _ := newTestServer(t, chat)

	resp, body := do(t, srv, postChat("/api/chat", validBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(httpapi.CorrelationHeader))

	out := parseBody[httpapi.ChatResponse](t, body)
	require.Equal(t, "Jakarta.", out.Reply.Content)
	require.Equal(t, "Gemini (gemini-2.0-flash)", out.Reply.Provider)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "conv-1", chat.in.ConversationID)
}

func TestChat_DegradedReplyIsOK(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{Reply: domain.ChatReply{
		Role: domain.RoleAssistant, Content: "Sorry, I could not get an answer right now.", Provider: domain.SystemErrorLabel, Degraded: true,
	}}}
	srv, _ := newTestServer(t, chat)

	resp, body := do(t, srv, postChat("/api/chat", validBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[httpapi.ChatResponse](t, body)
	require.True(t, out.Reply.Degraded)
	require.Equal(t, domain.SystemErrorLabel, out.Reply.Provider)
}

func TestChat_ValidationErrors(t *testing.T) {
	for _, body := range []string{``, `{}`, `{"messages":[]}`, `{"messages":"hi"}`, `not-json`} {
		chat := &stubChat{}
		srv, _ := newTestServer(t, chat)
		resp, raw := do(t, srv, postChat("/api/chat", body))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		out := parseBody[httpapi.ErrorResponse](t, raw)
		require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
		require.Zero(t, chat.chatCalls)
		require.Zero(t, chat.streamed)
	}
}

func TestChat_MessagesRequiredMessage(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})
	_, raw := do(t, srv, postChat("/api/chat", `{}`))
	require.Equal(t, "Messages array is required.", parseBody[httpapi.ErrorResponse](t, raw).Message)
}

func TestChat_UnexpectedErrorIs500(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{err: errors.New("boom")})
	resp, raw := do(t, srv, postChat("/api/chat", validBody))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInternal), parseBody[httpapi.ErrorResponse](t, raw).Error)
}

func TestChat_PanicIsRecovered(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{panicMsg: "handler exploded"})
	resp, _ := do(t, srv, postChat("/api/chat", validBody))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestChat_UsesProvidedCorrelationID(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})
	req := postChat("/api/chat", validBody)
	req.Header.Set("x-correlation-id", "corr-123")
	resp, _ := do(t, srv, req)
	require.Equal(t, "corr-123", resp.Header.Get(httpapi.CorrelationHeader))
}

func TestChat_CORS(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})
	req := postChat("/api/chat", validBody)
	req.Header.Set("Origin", "http://192.168.100.55:5173")
	resp, _ := do(t, srv, req)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

var streamEvents = []domain.StreamEvent{
	{Type: domain.StreamEventChunk, Content: "Hel", Provider: "Ollama (gemma:2b)"},
	{Type: domain.StreamEventChunk, Content: "lo", Provider: "Ollama (gemma:2b)"},
	{Type: domain.StreamEventEnd, Provider: "Ollama (gemma:2b)"},
}

func TestChat_StreamFlagReturnsEventStream(t *testing.T) {
	chat := &stubChat{events: streamEvents}
	srv, _ := newTestServer(t, chat)

	body := `{"messages":[{"role":"user","content":"hi"}],"stream":true}`
	resp, raw := do(t, srv, postChat("/api/chat", body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), httpapi.EventStreamType)
	require.Equal(t, 1, chat.streamed)
	require.Zero(t, chat.chatCalls)

	want := ""
	for _, ev := range streamEvents {
		want += string(httpapi.EncodeEvent(ev))
	}
	require.Equal(t, want, raw)
}

func TestChat_AcceptHeaderSelectsStream(t *testing.T) {
	chat := &stubChat{events: streamEvents}
	srv, _ := newTestServer(t, chat)

	req := postChat("/api/chat", validBody)
	req.Header.Set("Accept", "text/event-stream")
	_, raw := do(t, srv, req)
	require.True(t, strings.HasSuffix(raw, string(httpapi.EncodeEvent(streamEvents[2]))))
	require.Equal(t, 1, chat.streamed)
}

func TestChatStreamRoute(t *testing.T) {
	chat := &stubChat{events: streamEvents}
	srv, _ := newTestServer(t, chat)

	resp, raw := do(t, srv, postChat("/api/chat/stream", validBody))
	require.Contains(t, resp.Header.Get("Content-Type"), httpapi.EventStreamType)
	require.Contains(t, raw, `"type":"chunk"`)

	resp, _ = do(t, srv, postChat("/api/chat/stream", `{}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLogs(t *testing.T) {
	srv, buf := newTestServer(t, &stubChat{})

	resp, raw := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "[]", raw)

	buf.Append(logbuf.Entry{Time: time.Now(), Level: "INFO", Message: "orchestration started"})
	_, raw = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	entries := parseBody[[]logbuf.Entry](t, raw)
	require.Len(t, entries, 1)
	require.Equal(t, "orchestration started", entries[0].Message)
}

func TestHistory(t *testing.T) {
	chat := &stubChat{history: []domain.Exchange{{ConversationID: "conv-1", Question: "hi", Answer: "hello"}}}
	srv, _ := newTestServer(t, chat)

	resp, raw := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[httpapi.HistoryResponse](t, raw)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Len(t, out.Exchanges, 1)

	chat.err = &usecase.Error{Code: usecase.ErrorNotFound, Reason: "transcripts_disabled"}
	resp, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1", nil))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogsWebSocketRequiresUpgrade(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})
	resp, _ := do(t, srv, httptest.NewRequest(http.MethodGet, "/ws/logs", nil))
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
