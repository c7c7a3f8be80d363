package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-orchestrator/internal/domain"
)

// ErrEmptyContent reports a well-formed response without usable text.
var ErrEmptyContent = errors.New("response carried no content")

// ErrTruncated reports a stream that closed after some fragments but before
// the upstream signalled completion.
var ErrTruncated = errors.New("stream ended before completion")

// MalformedError reports a 2xx response with an unexpected shape.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err == nil {
		return "malformed response: " + e.Reason
	}
	return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// ConfigError reports an adapter that cannot run with its configuration,
// e.g. a missing credential.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Success builds a successful result.
func Success(label, content string, started time.Time) domain.ProviderCallResult {
	return domain.ProviderCallResult{
		Outcome:       domain.OutcomeSuccess,
		Content:       content,
		ProviderLabel: label,
		Latency:       time.Since(started),
	}
}

// Failure builds a failed result from err, classifying it.
func Failure(label string, err error, started time.Time) domain.ProviderCallResult {
	kind := Classify(err)
	outcome := domain.OutcomeFailure
	if kind == domain.ErrorKindTimeout {
		outcome = domain.OutcomeTimeout
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return domain.ProviderCallResult{
		Outcome:       outcome,
		ProviderLabel: label,
		Err:           &domain.ErrorInfo{Kind: kind, Message: msg},
		Latency:       time.Since(started),
	}
}

// Classify maps an adapter error to its failure class. Anything not
// recognised is a transport error.
func Classify(err error) domain.ErrorKind {
	var malformed *MalformedError
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return domain.ErrorKindTransport
	case errors.Is(err, ErrEmptyContent):
		return domain.ErrorKindEmptyContent
	case errors.As(err, &malformed):
		return domain.ErrorKindMalformed
	case errors.As(err, &cfgErr):
		return domain.ErrorKindConfiguration
	case errors.Is(err, context.DeadlineExceeded), isClientTimeout(err):
		return domain.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrorKindCancelled
	default:
		return domain.ErrorKindTransport
	}
}

// Content validates the extracted text of a decoded response.
func Content(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

type timeoutError interface {
	Timeout() bool
}

func isClientTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}
