package domain

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// SystemErrorLabel is the provider label used when no provider produced an answer.
const SystemErrorLabel = "system-error"

// ConversationMessage is the provider-agnostic chat message shape used by the
// handlers and every provider adapter.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one inbound chat call.
type ChatRequest struct {
	Messages       []ConversationMessage
	ModelHint      string
	Strategy       string
	ConversationID string
}

// LastUserMessage returns the most recent user turn.
func (r ChatRequest) LastUserMessage() (ConversationMessage, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i], true
		}
	}
	return ConversationMessage{}, false
}

// Outcome classifies a single provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// ErrorKind is the failure class reported by an adapter.
type ErrorKind string

const (
	ErrorKindTransport     ErrorKind = "transport"
	ErrorKindMalformed     ErrorKind = "malformed_response"
	ErrorKindEmptyContent  ErrorKind = "empty_content"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindCancelled     ErrorKind = "cancelled"
)

// ErrorInfo describes why a provider attempt did not produce content.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ProviderCallResult is produced once per adapter invocation and never mutated.
type ProviderCallResult struct {
	Outcome       Outcome
	Content       string
	ProviderLabel string
	Err           *ErrorInfo
	Latency       time.Duration
}

// Succeeded reports whether the attempt produced usable content.
func (r ProviderCallResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// OrchestrationOutcome is the decision of which answer becomes the reply.
// Degraded is set when no provider answered and Content is a user-facing
// error message.
type OrchestrationOutcome struct {
	Content     string
	RespondedBy string
	Degraded    bool
	Policy      string
	Attempts    []ProviderCallResult
}

// ChatReply is the wire-level assistant reply.
type ChatReply struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Degraded bool   `json:"degraded,omitempty"`
	Audio    *Audio `json:"audio,omitempty"`
}

// Audio is the speech rendition attached to a reply.
type Audio struct {
	Format   string `json:"format"`
	Voice    string `json:"voice"`
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
	Bytes    int    `json:"bytes"`
}

// Stream event types.
const (
	StreamEventChunk = "chunk"
	StreamEventError = "error"
	StreamEventEnd   = "end"
)

// StreamEvent is one fragment of a streamed reply.
type StreamEvent struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Provider string `json:"provider,omitempty"`
}
