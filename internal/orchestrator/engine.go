package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voice-orchestrator/internal/domain"
	"voice-orchestrator/internal/provider"
)

// Engine holds the configured targets and the default policy, and runs one
// orchestration per chat request.
type Engine struct {
	targets []Target
	policy  Policy
	logger  *slog.Logger
}

type EngineOption func(*Engine)

// WithPolicy sets the default policy used when a request does not name one.
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine over targets, in configured order.
func NewEngine(targets []Target, opts ...EngineOption) (*Engine, error) {
	if len(targets) == 0 {
		return nil, errors.New("orchestrator: at least one target is required")
	}
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if t.Adapter == nil {
			return nil, fmt.Errorf("orchestrator: target %d has no adapter", i)
		}
		label := t.Adapter.Label()
		if seen[label] {
			return nil, fmt.Errorf("orchestrator: duplicate target label %q", label)
		}
		seen[label] = true
	}

	e := &Engine{
		targets: append([]Target(nil), targets...),
		policy:  PolicyRace,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := StrategyFor(e.policy); err != nil {
		return nil, err
	}
	e.logger = e.logger.With("component", "orchestrator")
	return e, nil
}

// Policy returns the default policy.
func (e *Engine) Policy() Policy { return e.policy }

// Labels returns the target labels in configured order.
func (e *Engine) Labels() []string {
	out := make([]string, 0, len(e.targets))
	for _, t := range e.targets {
		out = append(out, t.Adapter.Label())
	}
	return out
}

// Run orchestrates req. req.Strategy overrides the default policy and
// req.ModelHint promotes a matching target to the front with top priority.
// Callers are expected to have validated req.Strategy; an unknown value falls
// back to the default policy.
func (e *Engine) Run(ctx context.Context, req domain.ChatRequest) domain.OrchestrationOutcome {
	policy := e.policy
	if req.Strategy != "" {
		p, err := ParsePolicy(req.Strategy)
		if err != nil {
			e.logger.Warn("ignoring unknown strategy override", "strategy", req.Strategy)
		} else {
			policy = p
		}
	}
	strategy, _ := StrategyFor(policy)
	targets := e.ordered(req.ModelHint)

	e.logger.Info("orchestration started", "policy", policy, "targets", len(targets), "model_hint", req.ModelHint)
	outcome := strategy.Run(ctx, targets, req.Messages)

	for _, a := range outcome.Attempts {
		attrs := []any{"provider", a.ProviderLabel, "outcome", a.Outcome, "latency_ms", a.Latency.Milliseconds()}
		if a.Err != nil {
			e.logger.Warn("provider attempt failed", append(attrs, "kind", a.Err.Kind, "err", a.Err.Message)...)
			continue
		}
		e.logger.Info("provider attempt", attrs...)
	}
	if outcome.Degraded {
		e.logger.Error("all providers failed", "policy", policy, "attempts", len(outcome.Attempts))
	} else {
		e.logger.Info("orchestration finished", "policy", policy, "responded_by", outcome.RespondedBy)
	}
	return outcome
}

// Streamer returns the streaming-capable adapter to use for a streamed reply:
// the one named by preferred (label or model), otherwise the first capable
// target honouring hint ordering.
func (e *Engine) Streamer(preferred, hint string) (provider.StreamAdapter, bool) {
	if preferred != "" {
		for _, t := range e.targets {
			if sa, ok := t.Adapter.(provider.StreamAdapter); ok && matches(t.Adapter, preferred) {
				return sa, true
			}
		}
	}
	for _, t := range e.ordered(hint) {
		if sa, ok := t.Adapter.(provider.StreamAdapter); ok {
			return sa, true
		}
	}
	return nil, false
}

func (e *Engine) ordered(hint string) []Target {
	targets := append([]Target(nil), e.targets...)
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return targets
	}
	for i, t := range targets {
		if !matches(t.Adapter, hint) {
			continue
		}
		top := t.Priority
		for _, other := range targets {
			if other.Priority < top {
				top = other.Priority
			}
		}
		t.Priority = top - 1
		copy(targets[1:i+1], targets[:i])
		targets[0] = t
		break
	}
	return targets
}

func matches(a provider.Adapter, hint string) bool {
	return strings.EqualFold(a.Label(), hint) || strings.EqualFold(a.Model(), hint)
}
