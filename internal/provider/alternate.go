package provider

import (
	"strings"

	"voice-orchestrator/internal/domain"
)

// Bridge holds the synthetic turns injected to satisfy providers that
// require strictly alternating user/assistant turns.
type Bridge struct {
	// User opens a conversation that would otherwise start with an
	// assistant turn, and separates two consecutive assistant turns.
	User string
	// Assistant separates two consecutive user turns and acknowledges an
	// inlined system prompt.
	Assistant string
	// Continue is appended when the conversation ends on an assistant turn.
	Continue string
	// InlineSystem turns system prompts into a leading user turn followed by
	// an assistant acknowledgement instead of returning them separately.
	InlineSystem bool
}

// DefaultBridge is used when a formatter is not configured otherwise.
var DefaultBridge = Bridge{
	User:      "Hello.",
	Assistant: "Understood.",
	Continue:  "Please continue.",
}

// Alternated is a conversation reshaped for an alternating-role provider.
type Alternated struct {
	System string
	Turns  []domain.ConversationMessage
}

// Alternate reshapes conversation so that its turns start with user,
// strictly alternate user/assistant and end with user. System turns are
// joined into System unless b.InlineSystem is set. Blank turns are dropped.
// The input is not modified.
func Alternate(conversation []domain.ConversationMessage, b Bridge) Alternated {
	var system []string
	turns := make([]domain.ConversationMessage, 0, len(conversation)+2)

	push := func(m domain.ConversationMessage) {
		if len(turns) == 0 && m.Role == domain.RoleAssistant {
			turns = append(turns, domain.ConversationMessage{Role: domain.RoleUser, Content: b.User})
		}
		if len(turns) > 0 && turns[len(turns)-1].Role == m.Role {
			turns = append(turns, domain.ConversationMessage{Role: opposite(m.Role), Content: bridgeFor(opposite(m.Role), b)})
		}
		turns = append(turns, m)
	}

	for _, m := range conversation {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, content)
		case domain.RoleAssistant:
			push(domain.ConversationMessage{Role: domain.RoleAssistant, Content: content})
		default:
			push(domain.ConversationMessage{Role: domain.RoleUser, Content: content})
		}
	}

	if len(turns) > 0 && turns[len(turns)-1].Role != domain.RoleUser {
		turns = append(turns, domain.ConversationMessage{Role: domain.RoleUser, Content: b.Continue})
	}

	out := Alternated{System: strings.Join(system, "\n\n"), Turns: turns}
	if b.InlineSystem && out.System != "" {
		prefix := []domain.ConversationMessage{
			{Role: domain.RoleUser, Content: out.System},
			{Role: domain.RoleAssistant, Content: b.Assistant},
		}
		out.Turns = append(prefix, turns...)
		if len(turns) == 0 {
			out.Turns = append(out.Turns, domain.ConversationMessage{Role: domain.RoleUser, Content: b.Continue})
		}
		out.System = ""
	}
	return out
}

func opposite(r domain.Role) domain.Role {
	if r == domain.RoleUser {
		return domain.RoleAssistant
	}
	return domain.RoleUser
}

func bridgeFor(r domain.Role, b Bridge) string {
	if r == domain.RoleUser {
		return b.User
	}
	return b.Assistant
}
