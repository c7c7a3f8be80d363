// Package usecase implements the chat flow: validate, orchestrate, normalize,
// post-process, and archive.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/orchestrator"
	"voice-orchestrator/internal/provider"
)

const recordTimeout = 3 * time.Second

// Orchestrator runs a chat request against the configured providers.
type Orchestrator interface {
	Run(ctx context.Context, req domain.ChatRequest) domain.OrchestrationOutcome
	Streamer(preferred, hint string) (provider.StreamAdapter, bool)
}

// PostProcessor enriches a normalized reply. It never fails.
type PostProcessor interface {
	Apply(ctx context.Context, reply domain.ChatReply) domain.ChatReply
}

// TranscriptStore archives answered exchanges.
type TranscriptStore interface {
	RecordExchange(ctx context.Context, conversationID, question string, reply domain.ChatReply) error
	History(ctx context.Context, conversationID string, limit int) ([]domain.Exchange, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ChatService struct {
	engine         Orchestrator
	post           PostProcessor
	transcripts    TranscriptStore
	streamProvider string
	historyLimit   int
	logger         *slog.Logger
}

type ChatOutput struct {
	Reply          domain.ChatReply
	ConversationID string
	Policy         string
	Attempts       int
}

type Option func(*ChatService)

// WithTranscripts enables best-effort archiving of every reply.
func WithTranscripts(t TranscriptStore) Option {
	return func(s *ChatService) {
		s.transcripts = t
	}
}

// WithStreamProvider names the adapter (label or model) used for streamed replies.
func WithStreamProvider(label string) Option {
	return func(s *ChatService) {
		s.streamProvider = strings.TrimSpace(label)
	}
}

func WithHistoryLimit(n int) Option {
	return func(s *ChatService) {
		s.historyLimit = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewChatService(engine Orchestrator, post PostProcessor, opts ...Option) (*ChatService, error) {
	if engine == nil {
		return nil, errors.New("usecase: orchestrator must not be nil")
	}
	if post == nil {
		return nil, errors.New("usecase: post-processor must not be nil")
	}
	s := &ChatService{engine: engine, post: post, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chat")
	return s, nil
}

// Chat answers one request. Provider failures produce a degraded reply, not
// an error; only invalid input is reported as *Error.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if err := validateInput(in); err != nil {
		return ChatOutput{}, err
	}
	convID := in.ConversationID
	if convID == "" {
		convID = newUUID()
	}
	req := in.Request()
	req.ConversationID = convID

	outcome := s.engine.Run(ctx, req)
	reply := orchestrator.Reply(outcome)
	reply = s.post.Apply(ctx, reply)

	s.record(ctx, req, reply)
	return ChatOutput{
		Reply:          reply,
		ConversationID: convID,
		Policy:         outcome.Policy,
		Attempts:       len(outcome.Attempts),
	}, nil
}

// emitError marks a failure to deliver an event to the caller.
type emitError struct{ err error }

func (e *emitError) Error() string { return "usecase: emit stream event: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Stream answers one request from a single streaming-capable adapter. Events
// are chunk* followed by end; an upstream failure adds one error event before
// end. The returned error is non-nil only for invalid input or when emit fails.
func (s *ChatService) Stream(ctx context.Context, in ChatInput, emit func(domain.StreamEvent) error) error {
	if err := validateInput(in); err != nil {
		return err
	}
	if emit == nil {
		return newError(ErrorInternal, "no_stream_writer", nil)
	}
	convID := in.ConversationID
	if convID == "" {
		convID = newUUID()
	}
	req := in.Request()
	req.ConversationID = convID

	send := func(ev domain.StreamEvent) error {
		if err := emit(ev); err != nil {
			return &emitError{err: err}
		}
		return nil
	}

	sa, ok := s.engine.Streamer(s.streamProvider, in.ModelHint)
	if !ok {
		s.logger.Error("no streaming-capable provider configured")
		if err := send(domain.StreamEvent{Type: domain.StreamEventError, Content: "no streaming provider is available", Provider: domain.SystemErrorLabel}); err != nil {
			return err
		}
		return send(domain.StreamEvent{Type: domain.StreamEventEnd, Provider: domain.SystemErrorLabel})
	}

	label := sa.Label()
	var answer strings.Builder
	started := time.Now()
	err := sa.Stream(ctx, provider.Copy(req.Messages), func(fragment string) error {
		answer.WriteString(fragment)
		return send(domain.StreamEvent{Type: domain.StreamEventChunk, Content: fragment, Provider: label})
	})

	var ee *emitError
	if errors.As(err, &ee) {
		s.logger.Warn("stream aborted by client", "provider", label, "err", ee.err)
		return ee
	}
	if err != nil {
		s.logger.Warn("stream failed", "provider", label, "latency_ms", time.Since(started).Milliseconds(), "err", err)
		if sendErr := send(domain.StreamEvent{Type: domain.StreamEventError, Content: streamFailure(err), Provider: label}); sendErr != nil {
			return sendErr
		}
	} else {
		s.logger.Info("stream finished", "provider", label, "latency_ms", time.Since(started).Milliseconds())
	}
	if err := send(domain.StreamEvent{Type: domain.StreamEventEnd, Provider: label}); err != nil {
		return err
	}

	if answer.Len() > 0 {
		s.record(ctx, req, domain.ChatReply{Role: domain.RoleAssistant, Content: answer.String(), Provider: label, Degraded: err != nil})
	}
	return nil
}

// History returns the archived exchanges of a conversation, oldest first.
func (s *ChatService) History(ctx context.Context, conversationID string) ([]domain.Exchange, error) {
	if s.transcripts == nil {
		return nil, newError(ErrorNotFound, "transcripts_disabled", nil)
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(conversationID) > maxConversationID {
		return nil, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	exchanges, err := s.transcripts.History(ctx, conversationID, s.historyLimit)
	if err != nil {
		return nil, newError(ErrorInternal, "history_read_failed", err)
	}
	if len(exchanges) == 0 {
		return nil, newError(ErrorNotFound, "conversation_not_found", nil)
	}
	return exchanges, nil
}

// record archives the exchange. Failures are logged and never reach the caller.
func (s *ChatService) record(ctx context.Context, req domain.ChatRequest, reply domain.ChatReply) {
	if s.transcripts == nil {
		return
	}
	question, _ := req.LastUserMessage()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.transcripts.RecordExchange(ctx, req.ConversationID, question.Content, reply); err != nil {
		s.logger.Warn("failed to record exchange", "conversation_id", req.ConversationID, "err", err)
	}
}

func streamFailure(err error) string {
	if status, ok := upstreamStatusCode(err); ok {
		return fmt.Sprintf("the provider stopped responding (status %d)", status)
	}
	return "the provider stopped responding: " + err.Error()
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
