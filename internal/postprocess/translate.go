package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultChunkLimit matches the free MyMemory query limit.
const DefaultChunkLimit = 480

// Translator translates one piece of text.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Translation translates content chunk by chunk. A chunk whose translation
// fails keeps its original text, so the result is always complete.
type Translation struct {
	translator Translator
	source     string
	target     string
	limit      int
	logger     *slog.Logger
}

func NewTranslation(translator Translator, source, target string, limit int, logger *slog.Logger) *Translation {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Translation{
		translator: translator,
		source:     source,
		target:     target,
		limit:      limit,
		logger:     logger.With("component", "translate"),
	}
}

func (t *Translation) Name() string { return "translate" }

func (t *Translation) Process(ctx context.Context, content string) string {
	chunks := SplitChunks(content, t.limit)
	if len(chunks) == 0 || t.translator == nil {
		return content
	}
	out := make([]string, len(chunks))
	kept := 0
	for i, chunk := range chunks {
		translated, err := t.translateChunk(ctx, chunk)
		if err != nil {
			t.logger.Warn("chunk kept untranslated", "chunk", i+1, "of", len(chunks), "err", err)
			out[i] = chunk
			kept++
			continue
		}
		out[i] = translated
	}
	if len(chunks) > 1 {
		t.logger.Debug("translated in chunks", "chunks", len(chunks), "untranslated", kept)
	}
	return strings.Join(out, " ")
}

func (t *Translation) translateChunk(ctx context.Context, chunk string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translator panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	translated, err := t.translator.Translate(ctx, chunk, t.source, t.target)
	if err != nil {
		return "", err
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return "", errors.New("empty translation")
	}
	return translated, nil
}
