// Package httpapi holds the wire shapes and status mapping shared by the
// HTTP server and the Lambda handler.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/usecase"
)

const (
	LivenessText      = "Chat backend is ready."
	CorrelationHeader = "X-Correlation-Id"
	EventStreamType   = "text/event-stream"
	ContentTypeJSON   = "application/json"

	messagesRequiredMsg = "Messages array is required."
)

type ChatResponse struct {
	Reply          domain.ChatReply `json:"reply"`
	ConversationID string           `json:"conversationId,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HistoryResponse struct {
	ConversationID string            `json:"conversationId"`
	Exchanges      []domain.Exchange `json:"exchanges"`
}

// ErrorFor maps a service error to a status and body. Anything that is not a
// *usecase.Error is an internal error.
func ErrorFor(err error) (int, ErrorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, ErrorResponse{Error: string(usecase.ErrorInternal), Message: "internal error"}
	}
	resp := ErrorResponse{Error: string(ucErr.Code), Message: message(ucErr)}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	case usecase.ErrorNotFound:
		return http.StatusNotFound, resp
	default:
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	}
}

func message(err *usecase.Error) string {
	switch err.Reason {
	case "messages_required":
		return messagesRequiredMsg
	case "no_user_message":
		return "At least one non-empty user message is required."
	case "invalid_strategy":
		return "Unknown orchestration strategy."
	}
	if err.Err != nil {
		return strings.ReplaceAll(err.Reason, "_", " ") + ": " + err.Err.Error()
	}
	return strings.ReplaceAll(err.Reason, "_", " ")
}

// WantsStream reports whether the request asks for the event-stream variant.
func WantsStream(in usecase.ChatInput, accept string) bool {
	return in.Stream || strings.Contains(strings.ToLower(accept), EventStreamType)
}

// EncodeEvent renders ev as one server-sent event frame.
func EncodeEvent(ev domain.StreamEvent) []byte {
	b, err := json.Marshal(ev)
	if err != nil {
		b = []byte(`{"type":"error","content":"unencodable event"}`)
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	return append(out, '\n', '\n')
}
