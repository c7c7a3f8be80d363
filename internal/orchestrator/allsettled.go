package orchestrator

import (
	"context"

	"voice-orchestrator/internal/domain"
)

// AllSettled starts every target concurrently, waits for all of them and
// picks the success with the lowest Priority. Ties go to the target listed
// first, so the choice never depends on arrival order.
type AllSettled struct{}

func (AllSettled) Run(ctx context.Context, targets []Target, conversation []domain.ConversationMessage) domain.OrchestrationOutcome {
	results := make(chan tagged, len(targets))
	for i, t := range targets {
		go func(i int, t Target) {
			results <- tagged{index: i, result: invoke(ctx, t, conversation)}
		}(i, t)
	}

	settled := make([]domain.ProviderCallResult, len(targets))
	for range targets {
		r := <-results
		settled[r.index] = r.result
	}

	winner := -1
	for i, res := range settled {
		if !res.Succeeded() {
			continue
		}
		if winner < 0 || targets[i].Priority < targets[winner].Priority {
			winner = i
		}
	}
	if winner < 0 {
		return degraded(PolicyAllSettled, settled)
	}
	return succeeded(PolicyAllSettled, settled[winner], settled)
}
