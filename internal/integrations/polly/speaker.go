// Package polly renders reply text to speech with Amazon Polly.
package polly

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"voice-orchestrator/internal/domain"
)

// MaxTextLength is Polly's limit on billed characters per SynthesizeSpeech call.
const MaxTextLength = 3000

const maxAudioBytes = 8 << 20

// ErrThrottled is returned when Polly rejects the call with TooManyRequests.
var ErrThrottled = errors.New("polly: throttled")

// synthClient is the subset of *polly.Client used by Speaker.
type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	VoiceID      string
	Engine       string
	LanguageCode string
}

// Speaker synthesises mp3 audio and returns it inline as base64.
type Speaker struct {
	client synthClient
	cfg    Config
}

func New(client synthClient, cfg Config) (*Speaker, error) {
	if client == nil {
		return nil, errors.New("polly: client must not be nil")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &Speaker{client: client, cfg: cfg}, nil
}

// MaxLength reports the longest text Speak accepts, in runes.
func (s *Speaker) MaxLength() int { return MaxTextLength }

func (s *Speaker) Speak(ctx context.Context, text string) (*domain.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("polly: text is empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return nil, fmt.Errorf("polly: text has %d characters, limit is %d", n, MaxTextLength)
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	in := &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	}
	if s.cfg.LanguageCode != "" {
		in.LanguageCode = pollytypes.LanguageCode(s.cfg.LanguageCode)
	}

	out, err := s.client.SynthesizeSpeech(ctx, in)
	if err != nil {
		return nil, classify(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, errors.New("polly: empty audio stream")
	}
	defer func() { _ = out.AudioStream.Close() }()

	audio, err := io.ReadAll(io.LimitReader(out.AudioStream, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("polly: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("polly: empty audio stream")
	}
	return &domain.Audio{
		Format:   "mp3",
		Voice:    s.cfg.VoiceID,
		Encoding: "base64",
		Data:     base64.StdEncoding.EncodeToString(audio),
		Bytes:    len(audio),
	}, nil
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		case "TextLengthExceededException", "InvalidSsmlException", "LanguageNotSupportedException":
			return fmt.Errorf("polly: rejected input (%s): %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("polly: synthesize speech: %w", err)
}
