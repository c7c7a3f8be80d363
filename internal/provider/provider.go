// Package provider defines the contract every upstream LLM adapter fulfils and
// the helpers adapters use to report their outcome.
package provider

import (
	"context"
	"errors"
	"strings"

	"voice-orchestrator/internal/domain"
)

// Adapter normalizes one upstream chat capability into a uniform contract.
// Invoke is a single attempt without retries; it never panics on upstream
// failures and reports them in the returned result instead of an error.
type Adapter interface {
	Label() string
	Model() string
	Invoke(ctx context.Context, conversation []domain.ConversationMessage) domain.ProviderCallResult
}

// StreamAdapter is an Adapter that can emit incremental content fragments.
type StreamAdapter interface {
	Adapter
	// Stream calls emit for every non-empty fragment in arrival order. It
	// returns a non-nil error when the upstream fails before completion.
	Stream(ctx context.Context, conversation []domain.ConversationMessage, emit func(fragment string) error) error
}

// PromptFormatter converts a generic conversation into a provider-native
// request. Implementations must not mutate the input.
type PromptFormatter[R any] interface {
	Format(conversation []domain.ConversationMessage) (R, error)
}

// KeySource resolves the credential of an upstream provider.
type KeySource interface {
	Key(ctx context.Context) (string, error)
}

// StaticKey is a KeySource backed by a fixed value.
type StaticKey string

func (k StaticKey) Key(context.Context) (string, error) {
	key := strings.TrimSpace(string(k))
	if key == "" {
		return "", errors.New("provider: api key is empty")
	}
	return key, nil
}

// Generation holds the sampling parameters sent to a provider. Zero values
// mean "use the provider default".
type Generation struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Copy returns a copy of conversation so formatters can reshape it freely.
func Copy(conversation []domain.ConversationMessage) []domain.ConversationMessage {
	out := make([]domain.ConversationMessage, len(conversation))
	copy(out, conversation)
	return out
}
