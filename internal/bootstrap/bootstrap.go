// Package bootstrap wires configuration into the running service: provider
// adapters, the orchestration engine, the post-processor chain, the
// transcript archive and the chat service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awspolly "github.com/aws/aws-sdk-go-v2/service/polly"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"voice-orchestrator/internal/config"
	"voice-orchestrator/internal/integrations/gemini"
	"voice-orchestrator/internal/integrations/httpjson"
	"voice-orchestrator/internal/integrations/mymemory"
	"voice-orchestrator/internal/integrations/ollama"
	"voice-orchestrator/internal/integrations/openai"
	"voice-orchestrator/internal/integrations/paramstore"
	"voice-orchestrator/internal/integrations/polly"
	"voice-orchestrator/internal/orchestrator"
	"voice-orchestrator/internal/postprocess"
	"voice-orchestrator/internal/provider"
	"voice-orchestrator/internal/repository"
	"voice-orchestrator/internal/usecase"
)

// AWSLoader returns the shared AWS SDK configuration.
type AWSLoader func(ctx context.Context) (aws.Config, error)

// App is the wired service.
type App struct {
	Engine *orchestrator.Engine
	Chain  *postprocess.Chain
	Chat   *usecase.ChatService
}

type builder struct {
	cfg    config.Config
	logger *slog.Logger
	load   AWSLoader

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
	ssm     *paramstore.Client
}

type Option func(*builder)

func WithLogger(l *slog.Logger) Option {
	return func(b *builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithAWSLoader replaces the default SDK configuration loader.
func WithAWSLoader(load AWSLoader) Option {
	return func(b *builder) {
		if load != nil {
			b.load = load
		}
	}
}

// Build wires the service. AWS configuration is loaded only when a
// component needs it: SSM keys, speech, or the transcript table.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	b := &builder{
		cfg:    cfg,
		logger: slog.Default(),
		load: func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		},
	}
	for _, opt := range opts {
		opt(b)
	}

	targets, err := b.targets(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := orchestrator.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	engine, err := orchestrator.NewEngine(targets,
		orchestrator.WithPolicy(policy),
		orchestrator.WithLogger(b.logger),
	)
	if err != nil {
		return nil, err
	}

	chain, err := b.chain(ctx)
	if err != nil {
		return nil, err
	}

	svcOpts := []usecase.Option{
		usecase.WithLogger(b.logger),
		usecase.WithStreamProvider(cfg.StreamProvider),
		usecase.WithHistoryLimit(cfg.Transcripts.HistoryLimit),
	}
	if cfg.Transcripts.Table != "" {
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Transcripts.Table)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, usecase.WithTranscripts(repo))
	}
	chat, err := usecase.NewChatService(engine, chain, svcOpts...)
	if err != nil {
		return nil, err
	}

	b.logger.Info("service wired",
		"policy", engine.Policy(),
		"providers", engine.Labels(),
		"post_processors", chain.Len(),
		"speech", cfg.Speech.Enabled,
		"transcripts", cfg.Transcripts.Table != "",
	)
	return &App{Engine: engine, Chain: chain, Chat: chat}, nil
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	b.awsOnce.Do(func() {
		b.awsCfg, b.awsErr = b.load(ctx)
		if b.awsErr != nil {
			b.awsErr = fmt.Errorf("bootstrap: load AWS config: %w", b.awsErr)
		}
	})
	return b.awsCfg, b.awsErr
}

func (b *builder) paramStore(ctx context.Context) (*paramstore.Client, error) {
	if b.ssm != nil {
		return b.ssm, nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return nil, err
	}
	b.ssm, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
	return b.ssm, err
}

func (b *builder) targets(ctx context.Context) ([]orchestrator.Target, error) {
	targets := make([]orchestrator.Target, 0, len(b.cfg.Providers))
	for i, p := range b.cfg.Providers {
		adapter, err := b.adapter(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: providers[%d] (%s): %w", i, p.Kind, err)
		}
		targets = append(targets, orchestrator.Target{
			Adapter:  adapter,
			Timeout:  p.Timeout,
			Priority: p.Priority,
		})
	}
	return targets, nil
}

func (b *builder) adapter(ctx context.Context, p config.ProviderConfig) (provider.Adapter, error) {
	// A zero Generation keeps the adapter's own defaults.
	gen := provider.Generation{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		MaxTokens:   p.MaxTokens,
	}
	switch p.Kind {
	case config.KindGemini:
		key, err := b.key(ctx, p)
		if err != nil {
			return nil, err
		}
		opts := []gemini.Option{
			gemini.WithLabel(p.EffectiveLabel()),
			gemini.WithModel(p.EffectiveModel()),
			gemini.WithLastUserOnly(p.LastUserOnly),
		}
		if p.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(p.BaseURL))
		}
		if gen != (provider.Generation{}) {
			opts = append(opts, gemini.WithGeneration(gen))
		}
		return gemini.NewAdapter(key, opts...)
	case config.KindOpenAI:
		key, err := b.key(ctx, p)
		if err != nil {
			return nil, err
		}
		opts := []openai.Option{
			openai.WithLabel(p.EffectiveLabel()),
			openai.WithModel(p.EffectiveModel()),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if gen != (provider.Generation{}) {
			opts = append(opts, openai.WithGeneration(gen))
		}
		return openai.NewClient(key, opts...)
	case config.KindOllama:
		opts := []ollama.Option{
			ollama.WithLabel(p.EffectiveLabel()),
			ollama.WithModel(p.EffectiveModel()),
		}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(p.BaseURL))
		}
		if gen != (provider.Generation{}) {
			opts = append(opts, ollama.WithGeneration(gen))
		}
		return ollama.NewAdapter(opts...), nil
	}
	return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
}

// key prefers an inline key and otherwise reads the SSM parameter lazily on
// first use.
func (b *builder) key(ctx context.Context, p config.ProviderConfig) (provider.KeySource, error) {
	if p.APIKey != "" {
		return provider.StaticKey(p.APIKey), nil
	}
	if p.APIKeyParam == "" {
		return nil, errors.New("api key is not configured")
	}
	store, err := b.paramStore(ctx)
	if err != nil {
		return nil, err
	}
	return paramstore.NewKey(store, b.cfg.ParamName(p.APIKeyParam))
}

func (b *builder) chain(ctx context.Context) (*postprocess.Chain, error) {
	var steps []postprocess.Processor
	if t := b.cfg.Translate; t.Enabled {
		opts := []mymemory.Option{mymemory.WithHTTPClient(httpjson.NewClient(t.Timeout))}
		if t.BaseURL != "" {
			opts = append(opts, mymemory.WithBaseURL(t.BaseURL))
		}
		if t.Email != "" {
			opts = append(opts, mymemory.WithEmail(t.Email))
		}
		steps = append(steps, postprocess.NewTranslation(mymemory.NewClient(opts...), t.Source, t.Target, t.ChunkLimit, b.logger))
	}

	opts := []postprocess.Option{
		postprocess.WithAnnotation(b.cfg.Annotate),
		postprocess.WithLogger(b.logger),
	}
	if s := b.cfg.Speech; s.Enabled {
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		speaker, err := polly.New(awspolly.NewFromConfig(awsCfg), polly.Config{
			VoiceID:      s.Voice,
			Engine:       s.Engine,
			LanguageCode: s.Language,
		})
		if err != nil {
			return nil, err
		}
		limit := s.MaxChars
		if limit <= 0 || limit > speaker.MaxLength() {
			limit = speaker.MaxLength()
		}
		opts = append(opts, postprocess.WithSpeaker(speaker, limit))
	}
	return postprocess.NewChain(steps, opts...), nil
}
