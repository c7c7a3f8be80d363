// Package config loads deployment settings: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voice-orchestrator/internal/orchestrator"
)

// Provider kinds.
const (
	KindGemini = "gemini"
	KindOpenAI = "openai"
	KindOllama = "ollama"
)

const (
	DefaultPort            = 3333
	DefaultProviderTimeout = 20 * time.Second
	DefaultLogBufferSize   = 500
	defaultChunkLimit      = 480
	defaultSpeechMaxChars  = 3000
)

var defaultModels = map[string]string{
	KindGemini: "gemini-2.0-flash",
	KindOpenAI: "gpt-4o-mini",
	KindOllama: "gemma:2b",
}

var kindNames = map[string]string{
	KindGemini: "Gemini",
	KindOpenAI: "OpenAI",
	KindOllama: "Ollama",
}

type Config struct {
	Port           int              `yaml:"port"`
	Policy         string           `yaml:"policy"`
	StreamProvider string           `yaml:"stream_provider"`
	Annotate       bool             `yaml:"annotate"`
	ParamPrefix    string           `yaml:"param_prefix"`
	Providers      []ProviderConfig `yaml:"providers"`
	Translate      TranslateConfig  `yaml:"translate"`
	Speech         SpeechConfig     `yaml:"speech"`
	Transcripts    TranscriptConfig `yaml:"transcripts"`
	Log            LogConfig        `yaml:"log"`
}

// ProviderConfig describes one upstream adapter.
type ProviderConfig struct {
	Kind    string `yaml:"kind"`
	Label   string `yaml:"label"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// APIKeyParam names an SSM parameter holding the key. Relative names are
	// resolved under ParamPrefix.
	APIKeyParam  string        `yaml:"api_key_param"`
	Timeout      time.Duration `yaml:"timeout"`
	Priority     int           `yaml:"priority"`
	Temperature  float64       `yaml:"temperature"`
	TopP         float64       `yaml:"top_p"`
	TopK         int           `yaml:"top_k"`
	MaxTokens    int           `yaml:"max_tokens"`
	LastUserOnly bool          `yaml:"last_user_only"`
}

// EffectiveLabel is the label the adapter reports, e.g. "Ollama (gemma:2b)".
func (p ProviderConfig) EffectiveLabel() string {
	if l := strings.TrimSpace(p.Label); l != "" {
		return l
	}
	return fmt.Sprintf("%s (%s)", kindNames[p.Kind], p.EffectiveModel())
}

func (p ProviderConfig) EffectiveModel() string {
	if m := strings.TrimSpace(p.Model); m != "" {
		return m
	}
	return defaultModels[p.Kind]
}

type TranslateConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Source     string        `yaml:"source"`
	Target     string        `yaml:"target"`
	ChunkLimit int           `yaml:"chunk_limit"`
	Email      string        `yaml:"email"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Voice    string `yaml:"voice"`
	Engine   string `yaml:"engine"`
	Language string `yaml:"language"`
	MaxChars int    `yaml:"max_chars"`
}

type TranscriptConfig struct {
	Table        string `yaml:"table"`
	HistoryLimit int    `yaml:"history_limit"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	BufferSize int    `yaml:"buffer_size"`
}

// Default returns the built-in configuration: Gemini and Ollama raced, with
// English to Indonesian translation.
func Default() Config {
	return Config{
		Port:   DefaultPort,
		Policy: string(orchestrator.PolicyRace),
		Providers: []ProviderConfig{
			{Kind: KindGemini, Timeout: DefaultProviderTimeout, Temperature: 0.7, TopP: 0.9, TopK: 40, MaxTokens: 1024},
			{Kind: KindOllama, Timeout: DefaultProviderTimeout, Priority: 1},
		},
		Translate: TranslateConfig{
			Enabled:    true,
			Source:     "en",
			Target:     "id",
			ChunkLimit: defaultChunkLimit,
			Timeout:    10 * time.Second,
		},
		Speech: SpeechConfig{
			Voice:    "Joanna",
			Engine:   "neural",
			MaxChars: defaultSpeechMaxChars,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			BufferSize: DefaultLogBufferSize,
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		// Providers from a file replace the defaults wholesale, so an omitted
		// timeout would otherwise disable the per-attempt guard.
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return err
	}
	cfg.Policy = envString("ORCHESTRATION_POLICY", cfg.Policy)
	cfg.StreamProvider = envString("STREAM_PROVIDER", cfg.StreamProvider)
	if cfg.Annotate, err = envBool("ANNOTATE_PROVIDER", cfg.Annotate); err != nil {
		return err
	}
	cfg.ParamPrefix = strings.TrimRight(envString("PARAM_PREFIX", cfg.ParamPrefix), "/")

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		setKey(cfg, KindGemini, key)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if !hasKind(cfg, KindOpenAI) {
			cfg.Providers = append(cfg.Providers, ProviderConfig{Kind: KindOpenAI, Timeout: DefaultProviderTimeout, Priority: 2})
		}
		setKey(cfg, KindOpenAI, key)
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].Kind == KindOllama && cfg.Providers[i].BaseURL == "" {
				cfg.Providers[i].BaseURL = host
			}
		}
	}

	if cfg.Translate.Enabled, err = envBool("TRANSLATE_ENABLED", cfg.Translate.Enabled); err != nil {
		return err
	}
	cfg.Translate.Source = envString("TRANSLATE_SOURCE", cfg.Translate.Source)
	cfg.Translate.Target = envString("TRANSLATE_TARGET", cfg.Translate.Target)
	cfg.Translate.Email = envString("TRANSLATE_EMAIL", cfg.Translate.Email)

	if cfg.Speech.Enabled, err = envBool("SPEECH_ENABLED", cfg.Speech.Enabled); err != nil {
		return err
	}
	cfg.Speech.Voice = envString("SPEECH_VOICE", cfg.Speech.Voice)
	cfg.Speech.Engine = envString("SPEECH_ENGINE", cfg.Speech.Engine)
	cfg.Speech.Language = envString("SPEECH_LANGUAGE", cfg.Speech.Language)

	cfg.Transcripts.Table = envString("TRANSCRIPT_TABLE", cfg.Transcripts.Table)

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LOG_FORMAT", cfg.Log.Format)
	if cfg.Log.BufferSize, err = envInt("LOG_BUFFER_SIZE", cfg.Log.BufferSize); err != nil {
		return err
	}
	return nil
}

// setKey fills the key of every provider of kind that has no key configured.
func setKey(cfg *Config, kind, key string) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Kind == kind && p.APIKey == "" && p.APIKeyParam == "" {
			p.APIKey = key
		}
	}
}

func hasKind(cfg *Config, kind string) bool {
	for _, p := range cfg.Providers {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := orchestrator.ParsePolicy(c.Policy); err != nil {
		errs = append(errs, err)
	}
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if _, ok := defaultModels[p.Kind]; !ok {
			errs = append(errs, fmt.Errorf("providers[%d]: unknown kind %q", i, p.Kind))
			continue
		}
		label := strings.ToLower(p.EffectiveLabel())
		if seen[label] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate label %q", i, p.EffectiveLabel()))
		}
		seen[label] = true
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("providers[%d]: timeout must not be negative", i))
		}
		if p.Kind != KindOllama && p.APIKey == "" && p.APIKeyParam == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: %s needs api_key or api_key_param", i, p.Kind))
		}
		if p.APIKeyParam != "" && !strings.HasPrefix(p.APIKeyParam, "/") && c.ParamPrefix == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: relative api_key_param needs param_prefix", i))
		}
	}
	if c.Translate.Enabled {
		if c.Translate.Source == "" || c.Translate.Target == "" {
			errs = append(errs, errors.New("translate: source and target are required"))
		}
		if c.Translate.ChunkLimit < 0 || c.Translate.ChunkLimit > defaultChunkLimit {
			errs = append(errs, fmt.Errorf("translate: chunk_limit must be between 0 (default) and %d", defaultChunkLimit))
		}
	}
	if c.Speech.MaxChars < 0 || c.Speech.MaxChars > defaultSpeechMaxChars {
		errs = append(errs, fmt.Errorf("speech: max_chars must be between 0 (default) and %d", defaultSpeechMaxChars))
	}
	if c.Log.BufferSize < 0 {
		errs = append(errs, errors.New("log: buffer_size must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParamName resolves a provider key parameter against the prefix.
func (c Config) ParamName(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return c.ParamPrefix + "/" + name
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
