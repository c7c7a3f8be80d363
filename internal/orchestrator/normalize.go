package orchestrator

import (
	"fmt"
	"strings"

	"voice-orchestrator/internal/domain"
)

const apology = "Sorry, I could not get an answer right now."

// Normalize maps one attempt result to the wire reply. A failed attempt
// becomes an apology naming the failure, attributed to the error sentinel.
func Normalize(result domain.ProviderCallResult) domain.ChatReply {
	if result.Succeeded() && strings.TrimSpace(result.Content) != "" {
		return domain.ChatReply{
			Role:     domain.RoleAssistant,
			Content:  result.Content,
			Provider: result.ProviderLabel,
		}
	}
	return domain.ChatReply{
		Role:     domain.RoleAssistant,
		Content:  apology + " " + failureDetail(result),
		Provider: domain.SystemErrorLabel,
		Degraded: true,
	}
}

// Reply derives the wire reply from an orchestration outcome.
func Reply(outcome domain.OrchestrationOutcome) domain.ChatReply {
	if !outcome.Degraded {
		return domain.ChatReply{
			Role:     domain.RoleAssistant,
			Content:  outcome.Content,
			Provider: outcome.RespondedBy,
		}
	}
	content := outcome.Content
	if strings.TrimSpace(content) == "" {
		content = Summary(outcome.Attempts)
	}
	return domain.ChatReply{
		Role:     domain.RoleAssistant,
		Content:  content,
		Provider: domain.SystemErrorLabel,
		Degraded: true,
	}
}

// Summary is the user-facing message of a degraded outcome. It names every
// attempted adapter and why it failed.
func Summary(attempts []domain.ProviderCallResult) string {
	if len(attempts) == 0 {
		return apology + " No providers are configured."
	}
	details := make([]string, 0, len(attempts))
	for _, a := range attempts {
		details = append(details, failureDetail(a))
	}
	return apology + " " + strings.Join(details, "; ")
}

func failureDetail(r domain.ProviderCallResult) string {
	label := r.ProviderLabel
	if label == "" {
		label = "unknown provider"
	}
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s failed (%s): %s", label, r.Err.Kind, r.Err.Message)
	case r.Outcome == domain.OutcomeTimeout:
		return label + " timed out"
	default:
		return label + " returned no answer"
	}
}
