package orchestrator

import (
	"context"
	"time"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/provider"
)

// Sequential tries targets strictly in order and stops at the first success.
// Attempts never overlap.
type Sequential struct{}

func (Sequential) Run(ctx context.Context, targets []Target, conversation []domain.ConversationMessage) domain.OrchestrationOutcome {
	attempts := make([]domain.ProviderCallResult, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, provider.Failure(t.Adapter.Label(), err, time.Now()))
			continue
		}
		res := invoke(ctx, t, conversation)
		attempts = append(attempts, res)
		if res.Succeeded() {
			return succeeded(PolicySequential, res, attempts)
		}
	}
	return degraded(PolicySequential, attempts)
}
