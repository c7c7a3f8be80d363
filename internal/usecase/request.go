package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/orchestrator"
)

const (
	maxMessages       = 200
	maxMessageLength  = 20000
	maxConversationID = 128
)

const chatRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["messages"],
  "properties": {
    "messages": {
      "type": "array",
      "minItems": 1,
      "maxItems": 200,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "assistant", "system"]},
          "content": {"type": "string", "maxLength": 20000}
        }
      }
    },
    "modelHint": {"type": "string", "maxLength": 200},
    "strategy": {"type": "string", "maxLength": 32},
    "conversationId": {"type": "string", "maxLength": 128, "pattern": "^[A-Za-z0-9._:-]*$"},
    "stream": {"type": "boolean"}
  }
}`

var chatSchema = jsonschema.MustCompileString("chat_request.json", chatRequestSchema)

// ChatInput is a validated chat call.
type ChatInput struct {
	Messages       []domain.ConversationMessage
	ModelHint      string
	Strategy       string
	ConversationID string
	Stream         bool
}

// Request converts the input into the orchestration request.
func (in ChatInput) Request() domain.ChatRequest {
	return domain.ChatRequest{
		Messages:       in.Messages,
		ModelHint:      in.ModelHint,
		Strategy:       in.Strategy,
		ConversationID: in.ConversationID,
	}
}

type chatBody struct {
	Messages       []domain.ConversationMessage `json:"messages"`
	ModelHint      string                       `json:"modelHint"`
	Strategy       string                       `json:"strategy"`
	ConversationID string                       `json:"conversationId"`
	Stream         bool                         `json:"stream"`
}

// DecodeChatRequest parses and validates a raw chat request body.
func DecodeChatRequest(raw []byte) (ChatInput, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ChatInput{}, newError(ErrorInvalidInput, "messages_required", nil)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return ChatInput{}, newError(ErrorInvalidInput, "malformed_json", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return ChatInput{}, newError(ErrorInvalidInput, "malformed_json", errors.New("body must be a JSON object"))
	}
	if msgs, ok := obj["messages"].([]any); !ok || len(msgs) == 0 {
		return ChatInput{}, newError(ErrorInvalidInput, "messages_required", nil)
	}
	if err := chatSchema.Validate(doc); err != nil {
		return ChatInput{}, newError(ErrorInvalidInput, "invalid_request", err)
	}

	var body chatBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ChatInput{}, newError(ErrorInvalidInput, "malformed_json", err)
	}

	in := ChatInput{
		Messages:       body.Messages,
		ModelHint:      strings.TrimSpace(body.ModelHint),
		Strategy:       strings.TrimSpace(body.Strategy),
		ConversationID: strings.TrimSpace(body.ConversationID),
		Stream:         body.Stream,
	}
	if err := validateInput(in); err != nil {
		return ChatInput{}, err
	}
	return in, nil
}

// validateInput checks the invariants that hold however the input was built.
func validateInput(in ChatInput) error {
	if len(in.Messages) == 0 {
		return newError(ErrorInvalidInput, "messages_required", nil)
	}
	if len(in.Messages) > maxMessages {
		return newError(ErrorInvalidInput, "too_many_messages", nil)
	}
	hasUser := false
	for _, m := range in.Messages {
		if !m.Role.Valid() {
			return newError(ErrorInvalidInput, "invalid_role", errors.New(string(m.Role)))
		}
		if len(m.Content) > maxMessageLength {
			return newError(ErrorInvalidInput, "message_too_long", nil)
		}
		if m.Role == domain.RoleUser && strings.TrimSpace(m.Content) != "" {
			hasUser = true
		}
	}
	if !hasUser {
		return newError(ErrorInvalidInput, "no_user_message", nil)
	}
	if in.Strategy != "" {
		if _, err := orchestrator.ParsePolicy(in.Strategy); err != nil {
			return newError(ErrorInvalidInput, "invalid_strategy", err)
		}
	}
	if len(in.ConversationID) > maxConversationID {
		return newError(ErrorInvalidInput, "conversation_id_too_long", nil)
	}
	return nil
}
