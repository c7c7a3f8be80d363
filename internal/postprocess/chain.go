// Package postprocess applies best-effort enrichment to a normalized reply:
// translation of the text and an optional speech rendition.
package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"voice-orchestrator/internal/domain"
)

// Processor is one text step of the chain. Process must return a string for
// every input; on internal failure it returns content unchanged.
type Processor interface {
	Name() string
	Process(ctx context.Context, content string) string
}

// Speaker renders text to audio.
type Speaker interface {
	Speak(ctx context.Context, text string) (*domain.Audio, error)
}

// Chain runs its steps in order and then, when configured, attaches audio.
// Apply never fails.
type Chain struct {
	steps       []Processor
	speaker     Speaker
	speechLimit int
	annotate    bool
	logger      *slog.Logger
}

type Option func(*Chain)

// WithSpeaker attaches speech synthesis. Text longer than limit runes is
// truncated at a word boundary before synthesis; limit <= 0 sends it whole.
func WithSpeaker(s Speaker, limit int) Option {
	return func(c *Chain) {
		c.speaker = s
		c.speechLimit = limit
	}
}

// WithAnnotation appends " +<step>" to the reply provider for every step
// that changed the content.
func WithAnnotation(on bool) Option {
	return func(c *Chain) {
		c.annotate = on
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewChain(steps []Processor, opts ...Option) *Chain {
	c := &Chain{logger: slog.Default()}
	for _, s := range steps {
		if s != nil {
			c.steps = append(c.steps, s)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "postprocess")
	return c
}

// Len returns the number of text steps.
func (c *Chain) Len() int { return len(c.steps) }

// Apply runs every step over reply.Content. Degraded replies are processed
// like any other so downstream speech needs no special casing.
func (c *Chain) Apply(ctx context.Context, reply domain.ChatReply) domain.ChatReply {
	if c == nil {
		return reply
	}
	for _, step := range c.steps {
		before := reply.Content
		reply.Content = c.run(ctx, step, before)
		if c.annotate && reply.Content != before {
			reply.Provider += " +" + step.Name()
		}
	}
	if c.speaker != nil {
		reply.Audio = c.speak(ctx, reply.Content)
	}
	return reply
}

func (c *Chain) run(ctx context.Context, step Processor, content string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("post-processor panicked, content passed through", "step", step.Name(), "panic", fmt.Sprint(r))
			out = content
		}
	}()
	return step.Process(ctx, content)
}

func (c *Chain) speak(ctx context.Context, content string) (audio *domain.Audio) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("speech synthesis panicked, reply stays text-only", "panic", fmt.Sprint(r))
			audio = nil
		}
	}()
	text := content
	if c.speechLimit > 0 && utf8.RuneCountInString(text) > c.speechLimit {
		if chunks := SplitChunks(text, c.speechLimit); len(chunks) > 0 {
			text = chunks[0]
		}
	}
	if text == "" {
		return nil
	}
	audio, err := c.speaker.Speak(ctx, text)
	if err != nil {
		c.logger.Warn("speech synthesis failed, reply stays text-only", "err", err)
		return nil
	}
	return audio
}
