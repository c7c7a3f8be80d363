package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/integrations/httpjson"
	"voice-orchestrator/internal/provider"
)

type mockEngine struct {
	outcome  domain.OrchestrationOutcome
	streamer provider.StreamAdapter
	runs     int
	lastReq  domain.ChatRequest
	prefer   string
}

func (m *mockEngine) Run(_ context.Context, req domain.ChatRequest) domain.OrchestrationOutcome {
	m.runs++
	m.lastReq = req
	return m.outcome
}

func (m *mockEngine) Streamer(preferred, _ string) (provider.StreamAdapter, bool) {
	m.prefer = preferred
	return m.streamer, m.streamer != nil
}

type suffixPost struct{ suffix string }

func (p suffixPost) Apply(_ context.Context, reply domain.ChatReply) domain.ChatReply {
	reply.Content += p.suffix
	return reply
}

type mockTranscripts struct {
	recordErr  error
	recorded   []domain.ChatReply
	questions  []string
	convIDs    []string
	history    []domain.Exchange
	historyErr error
}

func (m *mockTranscripts) RecordExchange(_ context.Context, conversationID, question string, reply domain.ChatReply) error {
	m.convIDs = append(m.convIDs, conversationID)
	m.questions = append(m.questions, question)
	m.recorded = append(m.recorded, reply)
	return m.recordErr
}

func (m *mockTranscripts) History(_ context.Context, _ string, _ int) ([]domain.Exchange, error) {
	return m.history, m.historyErr
}

type mockStreamer struct {
	fragments []string
	err       error
	calls     int
}

func (m *mockStreamer) Label() string { return "OpenAI (gpt-4o-mini)" }
func (m *mockStreamer) Model() string { return "gpt-4o-mini" }
func (m *mockStreamer) Invoke(context.Context, []domain.ConversationMessage) domain.ProviderCallResult {
	return domain.ProviderCallResult{}
}

func (m *mockStreamer) Stream(_ context.Context, _ []domain.ConversationMessage, emit func(string) error) error {
	m.calls++
	for _, f := range m.fragments {
		if err := emit(f); err != nil {
			return err
		}
	}
	return m.err
}

func userInput(text string) ChatInput {
	return ChatInput{Messages: []domain.ConversationMessage{{Role: domain.RoleUser, Content: text}}}
}

func success(content, label string) domain.OrchestrationOutcome {
	return domain.OrchestrationOutcome{
		Content:     content,
		RespondedBy: label,
		Policy:      "race",
		Attempts:    []domain.ProviderCallResult{{Outcome: domain.OutcomeSuccess, Content: content, ProviderLabel: label}},
	}
}

func newTestService(t *testing.T, engine Orchestrator, opts ...Option) *ChatService {
	t.Helper()
	svc, err := NewChatService(engine, suffixPost{}, opts...)
	require.NoError(t, err)
	return svc
}

func expectChatError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func collect(events *[]domain.StreamEvent) func(domain.StreamEvent) error {
	return func(ev domain.StreamEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, suffixPost{})
	require.Error(t, err)

	_, err = NewChatService(&mockEngine{}, nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestChat_HappyPath(t *testing.T) {
	engine := &mockEngine{outcome: success("Jakarta.", "Gemini (gemini-2.0-flash)")}
	store := &mockTranscripts{}
	svc, err := NewChatService(engine, suffixPost{suffix: "!"}, WithTranscripts(store))
	require.NoError(t, err)

	out, err := svc.Chat(context.Background(), ChatInput{
		Messages:       []domain.ConversationMessage{{Role: domain.RoleUser, Content: "Capital of Indonesia?"}},
		ConversationID: "conv-1",
		Strategy:       "all_settled",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RoleAssistant, out.Reply.Role)
	require.Equal(t, "Jakarta.!", out.Reply.Content)
	require.Equal(t, "Gemini (gemini-2.0-flash)", out.Reply.Provider)
	require.False(t, out.Reply.Degraded)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, "all_settled", engine.lastReq.Strategy)

	require.Equal(t, []string{"conv-1"}, store.convIDs)
	require.Equal(t, []string{"Capital of Indonesia?"}, store.questions)
	require.Equal(t, "Jakarta.!", store.recorded[0].Content)
}

func TestChat_MissingConversationID_GeneratesID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = orig })

	engine := &mockEngine{outcome: success("ok", "p")}
	out, err := newTestService(t, engine).Chat(context.Background(), userInput("hi"))
	require.NoError(t, err)
	require.Equal(t, "generated-id", out.ConversationID)
	require.Equal(t, "generated-id", engine.lastReq.ConversationID)
}

func TestChat_DegradedOutcomeIsNotAnError(t *testing.T) {
	engine := &mockEngine{outcome: domain.OrchestrationOutcome{
		Degraded: true,
		Content:  "Gemini failed (transport): status 500",
		Attempts: []domain.ProviderCallResult{{Outcome: domain.OutcomeFailure, ProviderLabel: "Gemini"}},
	}}
	store := &mockTranscripts{}
	out, err := newTestService(t, engine, WithTranscripts(store)).Chat(context.Background(), userInput("hi"))
	require.NoError(t, err)
	require.True(t, out.Reply.Degraded)
	require.Equal(t, domain.SystemErrorLabel, out.Reply.Provider)
	require.Contains(t, out.Reply.Content, "Gemini failed")
	require.True(t, store.recorded[0].Degraded)
}

func TestChat_ValidationErrorsSkipOrchestration(t *testing.T) {
	engine := &mockEngine{outcome: success("ok", "p")}
	svc := newTestService(t, engine)

	_, err := svc.Chat(context.Background(), ChatInput{})
	expectChatError(t, err, ErrorInvalidInput, "messages_required")

	_, err = svc.Chat(context.Background(), ChatInput{Messages: []domain.ConversationMessage{{Role: domain.RoleAssistant, Content: "hello"}}})
	expectChatError(t, err, ErrorInvalidInput, "no_user_message")

	_, err = svc.Chat(context.Background(), ChatInput{Messages: []domain.ConversationMessage{{Role: "robot", Content: "hello"}}})
	expectChatError(t, err, ErrorInvalidInput, "invalid_role")

	in := userInput("hi")
	in.Strategy = "random"
	_, err = svc.Chat(context.Background(), in)
	expectChatError(t, err, ErrorInvalidInput, "invalid_strategy")

	require.Zero(t, engine.runs)
}

func TestChat_RecordFailureIsNotSurfaced(t *testing.T) {
	store := &mockTranscripts{recordErr: errors.New("ProvisionedThroughputExceededException")}
	out, err := newTestService(t, &mockEngine{outcome: success("ok", "p")}, WithTranscripts(store)).
		Chat(context.Background(), userInput("hi"))
	require.NoError(t, err)
	require.Equal(t, "ok", out.Reply.Content)
	require.Len(t, store.recorded, 1)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestStream_EmitsChunksThenEnd(t *testing.T) {
	sa := &mockStreamer{fragments: []string{"Hel", "lo"}}
	engine := &mockEngine{streamer: sa}
	store := &mockTranscripts{}
	svc := newTestService(t, engine, WithTranscripts(store), WithStreamProvider(" gpt-4o-mini "))

	var events []domain.StreamEvent
	require.NoError(t, svc.Stream(context.Background(), userInput("hi"), collect(&events)))

	require.Equal(t, []domain.StreamEvent{
		{Type: domain.StreamEventChunk, Content: "Hel", Provider: "OpenAI (gpt-4o-mini)"},
		{Type: domain.StreamEventChunk, Content: "lo", Provider: "OpenAI (gpt-4o-mini)"},
		{Type: domain.StreamEventEnd, Provider: "OpenAI (gpt-4o-mini)"},
	}, events)
	require.Equal(t, "gpt-4o-mini", engine.prefer)
	require.Equal(t, "Hello", store.recorded[0].Content)
	require.Zero(t, engine.runs)
}

func TestStream_UpstreamFailureEmitsErrorBeforeEnd(t *testing.T) {
	sa := &mockStreamer{
		fragments: []string{"partial"},
		err:       &httpjson.StatusError{StatusCode: 503, URL: "http://x"},
	}
	var events []domain.StreamEvent
	err := newTestService(t, &mockEngine{streamer: sa}).Stream(context.Background(), userInput("hi"), collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	require.Equal(t, domain.StreamEventChunk, events[0].Type)
	require.Equal(t, domain.StreamEventError, events[1].Type)
	require.Contains(t, events[1].Content, "503")
	require.Equal(t, domain.StreamEventEnd, events[2].Type)
}

func TestStream_NoStreamingProvider(t *testing.T) {
	var events []domain.StreamEvent
	err := newTestService(t, &mockEngine{}).Stream(context.Background(), userInput("hi"), collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.StreamEventError, events[0].Type)
	require.Equal(t, domain.SystemErrorLabel, events[1].Provider)
}

func TestStream_EmitFailureStopsStream(t *testing.T) {
	sa := &mockStreamer{fragments: []string{"a", "b", "c"}}
	gone := errors.New("client went away")
	sent := 0
	err := newTestService(t, &mockEngine{streamer: sa}).Stream(context.Background(), userInput("hi"), func(domain.StreamEvent) error {
		sent++
		return gone
	})
	require.ErrorIs(t, err, gone)
	require.Equal(t, 1, sent)
}

func TestStream_ValidationError(t *testing.T) {
	sa := &mockStreamer{}
	err := newTestService(t, &mockEngine{streamer: sa}).Stream(context.Background(), ChatInput{}, func(domain.StreamEvent) error { return nil })
	expectChatError(t, err, ErrorInvalidInput, "messages_required")
	require.Zero(t, sa.calls)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistory(t *testing.T) {
	_, err := newTestService(t, &mockEngine{}).History(context.Background(), "conv-1")
	expectChatError(t, err, ErrorNotFound, "transcripts_disabled")

	store := &mockTranscripts{history: []domain.Exchange{{Question: "hi", Answer: "hello"}}}
	svc := newTestService(t, &mockEngine{}, WithTranscripts(store))

	got, err := svc.History(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = svc.History(context.Background(), strings.Repeat("x", 200))
	expectChatError(t, err, ErrorInvalidInput, "invalid_conversation_id")

	store.history = nil
	_, err = svc.History(context.Background(), "conv-2")
	expectChatError(t, err, ErrorNotFound, "conversation_not_found")

	store.historyErr = errors.New("boom")
	_, err = svc.History(context.Background(), "conv-2")
	expectChatError(t, err, ErrorInternal, "history_read_failed")
}
