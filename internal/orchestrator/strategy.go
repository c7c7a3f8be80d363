// Package orchestrator dispatches a conversation to several provider adapters
// and decides which answer becomes the reply.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/provider"
)

// Policy names an orchestration strategy.
type Policy string

const (
	// PolicySequential tries targets one after another until one succeeds.
	PolicySequential Policy = "sequential"
	// PolicyRace runs all targets concurrently; the first success wins.
	PolicyRace Policy = "race"
	// PolicyAllSettled waits for every target and picks the highest priority success.
	PolicyAllSettled Policy = "all_settled"
)

// ParsePolicy accepts the canonical policy names plus a few spellings used
// in config files and query strings.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "fallback":
		return PolicySequential, nil
	case "race", "first_success", "first-success":
		return PolicyRace, nil
	case "all_settled", "all-settled", "allsettled", "priority":
		return PolicyAllSettled, nil
	}
	return "", fmt.Errorf("orchestrator: unknown policy %q", s)
}

// Target is one adapter as seen by a strategy.
type Target struct {
	Adapter provider.Adapter
	// Timeout bounds a single attempt. Zero disables the guard.
	Timeout time.Duration
	// Priority orders successes under PolicyAllSettled; lower wins.
	Priority int
}

// Strategy turns a set of targets into one outcome. Run never fails: when no
// target succeeds the outcome is degraded.
type Strategy interface {
	Run(ctx context.Context, targets []Target, conversation []domain.ConversationMessage) domain.OrchestrationOutcome
}

// StrategyFor returns the strategy implementing p.
func StrategyFor(p Policy) (Strategy, error) {
	switch p {
	case PolicySequential:
		return Sequential{}, nil
	case PolicyRace:
		return Race{}, nil
	case PolicyAllSettled:
		return AllSettled{}, nil
	}
	return nil, fmt.Errorf("orchestrator: unknown policy %q", p)
}

// tagged carries one attempt result to the resolution point.
type tagged struct {
	index  int
	result domain.ProviderCallResult
}

// invoke runs one attempt under the timeout guard. Panics and guard timeouts
// become failed results, so callers always receive a result.
func invoke(ctx context.Context, t Target, conversation []domain.ConversationMessage) domain.ProviderCallResult {
	started := time.Now()
	label := t.Adapter.Label()

	res, err := Guard(ctx, t.Timeout, func(ctx context.Context) (res domain.ProviderCallResult) {
		defer func() {
			if r := recover(); r != nil {
				res = provider.Failure(label, fmt.Errorf("adapter panicked: %v", r), started)
			}
		}()
		return t.Adapter.Invoke(ctx, provider.Copy(conversation))
	})
	if err != nil {
		return provider.Failure(label, err, started)
	}
	if res.ProviderLabel == "" {
		res.ProviderLabel = label
	}
	if res.Succeeded() && strings.TrimSpace(res.Content) == "" {
		return provider.Failure(label, provider.ErrEmptyContent, started)
	}
	return res
}

func succeeded(p Policy, winner domain.ProviderCallResult, attempts []domain.ProviderCallResult) domain.OrchestrationOutcome {
	return domain.OrchestrationOutcome{
		Content:     winner.Content,
		RespondedBy: winner.ProviderLabel,
		Policy:      string(p),
		Attempts:    attempts,
	}
}

func degraded(p Policy, attempts []domain.ProviderCallResult) domain.OrchestrationOutcome {
	return domain.OrchestrationOutcome{
		Content:     Summary(attempts),
		RespondedBy: domain.SystemErrorLabel,
		Degraded:    true,
		Policy:      string(p),
		Attempts:    attempts,
	}
}
