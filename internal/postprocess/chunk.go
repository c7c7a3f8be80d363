package postprocess

import (
	"strings"
	"unicode"
)

// SplitChunks breaks text into trimmed, non-empty chunks of at most limit
// runes. A chunk ends at a sentence boundary when one falls in the second
// half of the window, otherwise at the last whitespace. Only a single word
// longer than limit is cut mid-word. A limit <= 0 returns the trimmed text
// as one chunk.
func SplitChunks(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		runes = trimLeftSpace(runes)
		if len(runes) == 0 {
			break
		}
		if len(runes) <= limit {
			chunks = append(chunks, strings.TrimSpace(string(runes)))
			break
		}
		cut := breakPoint(runes, limit)
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	return chunks
}

// breakPoint returns the exclusive end of the next chunk; len(runes) > limit.
func breakPoint(runes []rune, limit int) int {
	for i := limit - 1; i >= limit/2; i-- {
		if isSentenceEnd(runes[i]) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	for j := limit; j > 0; j-- {
		if unicode.IsSpace(runes[j]) {
			return j
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func trimLeftSpace(runes []rune) []rune {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return runes[i:]
}
