package orchestrator

import (
	"context"

	"voice-orchestrator/internal/domain"
)

// Race starts every target concurrently and returns the first success by
// arrival. A failure that arrives first does not end the race; the strategy
// keeps waiting for the remaining targets. Once a winner is chosen the other
// attempts are cancelled and their results dropped.
type Race struct{}

func (Race) Run(ctx context.Context, targets []Target, conversation []domain.ConversationMessage) domain.OrchestrationOutcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so losers never block after Run has returned.
	results := make(chan tagged, len(targets))
	for i, t := range targets {
		go func(i int, t Target) {
			results <- tagged{index: i, result: invoke(ctx, t, conversation)}
		}(i, t)
	}

	attempts := make([]domain.ProviderCallResult, 0, len(targets))
	for range targets {
		r := <-results
		attempts = append(attempts, r.result)
		if r.result.Succeeded() {
			return succeeded(PolicyRace, r.result, attempts)
		}
	}
	return degraded(PolicyRace, attempts)
}
