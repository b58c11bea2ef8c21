// Package config provides the layered engine configuration: explicit
// per-call overrides take precedence over environment variables, which take
// precedence over the user config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Tag methods.
const (
	TagMethodLexical = "lexical"
	TagMethodLLM     = "llm"
)

// Config is the merged engine configuration.
type Config struct {
	// DBPath overrides the store file location.
	DBPath string `yaml:"dbPath"`

	// EmbedProvider selects the embedding variant:
	// local, hosted-A, hosted-B, mock, none.
	EmbedProvider string `yaml:"embedProvider"`

	// SemanticThreshold is the edge acceptance cutoff on semantic score.
	SemanticThreshold float64 `yaml:"semanticThreshold"`

	// TagThreshold is the edge acceptance cutoff on tag score.
	TagThreshold float64 `yaml:"tagThreshold"`

	// MaxAcceptedDegree caps per-node accepted edges (0 = unlimited).
	MaxAcceptedDegree int `yaml:"maxAcceptedDegree"`

	// TagMethod selects lexical extraction or the external LLM tagger.
	TagMethod string `yaml:"tagMethod"`

	// MaxTags caps the extracted tag set per node.
	MaxTags int `yaml:"maxTags"`

	// Hosted provider credentials.
	HostedAAPIKey string `yaml:"hostedAApiKey"`
	HostedBAPIKey string `yaml:"hostedBApiKey"`

	// Local embedding server settings.
	LocalEmbedURL   string `yaml:"localEmbedUrl"`
	LocalEmbedModel string `yaml:"localEmbedModel"`

	// Presentation-only options, carried for renderers and never read by
	// the engine.
	ColorScheme string         `yaml:"colorScheme"`
	Markdown    MarkdownConfig `yaml:"markdown"`
}

// MarkdownConfig holds renderer presentation options.
type MarkdownConfig struct {
	Width      int  `yaml:"width"`
	ReflowText bool `yaml:"reflowText"`
}

// Overrides are explicit per-call settings; nil fields defer to the
// environment and the config file.
type Overrides struct {
	DBPath            *string
	EmbedProvider     *string
	SemanticThreshold *float64
	TagThreshold      *float64
	MaxAcceptedDegree *int
	TagMethod         *string
	MaxTags           *int
	HostedAAPIKey     *string
	HostedBAPIKey     *string
	LocalEmbedURL     *string
	LocalEmbedModel   *string
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		DBPath:            DefaultDBPath(),
		EmbedProvider:     "local",
		SemanticThreshold: 0.5,
		TagThreshold:      0.3,
		MaxAcceptedDegree: 0,
		TagMethod:         TagMethodLexical,
		MaxTags:           8,
	}
}

// Load builds the merged configuration: defaults, then the config file, then
// environment variables, then explicit overrides. The result is validated.
func Load(overrides Overrides) (Config, error) {
	cfg := Default()

	path := configFilePath()
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	applyOverrides(&cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile merges the YAML config file into cfg. Decoding is strict:
// unknown fields are a validation failure, not silently dropped.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("config file %s: %v: %w", path, err, ErrInvalid)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FOREST_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FOREST_EMBED_PROVIDER"); v != "" {
		cfg.EmbedProvider = v
	}
	if v := os.Getenv("FOREST_SEMANTIC_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SemanticThreshold = f
		}
	}
	if v := os.Getenv("FOREST_TAG_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TagThreshold = f
		}
	}
	if v := os.Getenv("FOREST_MAX_ACCEPTED_DEGREE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAcceptedDegree = n
		}
	}
	if v := os.Getenv("FOREST_TAG_METHOD"); v != "" {
		cfg.TagMethod = v
	}
	if v := os.Getenv("FOREST_MAX_TAGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTags = n
		}
	}
	if v := os.Getenv("FOREST_HOSTED_A_API_KEY"); v != "" {
		cfg.HostedAAPIKey = v
	}
	if v := os.Getenv("FOREST_HOSTED_B_API_KEY"); v != "" {
		cfg.HostedBAPIKey = v
	}
	if v := os.Getenv("FOREST_LOCAL_EMBED_URL"); v != "" {
		cfg.LocalEmbedURL = v
	}
	if v := os.Getenv("FOREST_LOCAL_EMBED_MODEL"); v != "" {
		cfg.LocalEmbedModel = v
	}
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.DBPath != nil {
		cfg.DBPath = *o.DBPath
	}
	if o.EmbedProvider != nil {
		cfg.EmbedProvider = *o.EmbedProvider
	}
	if o.SemanticThreshold != nil {
		cfg.SemanticThreshold = *o.SemanticThreshold
	}
	if o.TagThreshold != nil {
		cfg.TagThreshold = *o.TagThreshold
	}
	if o.MaxAcceptedDegree != nil {
		cfg.MaxAcceptedDegree = *o.MaxAcceptedDegree
	}
	if o.TagMethod != nil {
		cfg.TagMethod = *o.TagMethod
	}
	if o.MaxTags != nil {
		cfg.MaxTags = *o.MaxTags
	}
	if o.HostedAAPIKey != nil {
		cfg.HostedAAPIKey = *o.HostedAAPIKey
	}
	if o.HostedBAPIKey != nil {
		cfg.HostedBAPIKey = *o.HostedBAPIKey
	}
	if o.LocalEmbedURL != nil {
		cfg.LocalEmbedURL = *o.LocalEmbedURL
	}
	if o.LocalEmbedModel != nil {
		cfg.LocalEmbedModel = *o.LocalEmbedModel
	}
}

// Validate checks every boundary constraint.
func (c Config) Validate() error {
	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("semanticThreshold %f out of range [0, 1]: %w", c.SemanticThreshold, ErrInvalid)
	}
	if c.TagThreshold < 0 || c.TagThreshold > 1 {
		return fmt.Errorf("tagThreshold %f out of range [0, 1]: %w", c.TagThreshold, ErrInvalid)
	}
	if c.MaxAcceptedDegree < 0 {
		return fmt.Errorf("maxAcceptedDegree %d cannot be negative: %w", c.MaxAcceptedDegree, ErrInvalid)
	}
	if c.MaxTags < 1 {
		return fmt.Errorf("maxTags %d must be at least 1: %w", c.MaxTags, ErrInvalid)
	}
	switch c.EmbedProvider {
	case "local", "hosted-A", "hosted-B", "mock", "none":
	default:
		return fmt.Errorf("unknown embedProvider %q: %w", c.EmbedProvider, ErrInvalid)
	}
	switch c.TagMethod {
	case TagMethodLexical, TagMethodLLM:
	default:
		return fmt.Errorf("unknown tagMethod %q: %w", c.TagMethod, ErrInvalid)
	}
	return nil
}
