package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ghsum/internal/record"
	"ghsum/internal/source"
	"ghsum/internal/summarizer"
	"ghsum/internal/validate"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "GH_SUMMARIZER_"

type PromptConfig struct {
	User   string `yaml:"user"`
	System string `yaml:"system"`
}

type Config struct {
	AI struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"` // empty: provider default
		APIKey   string `yaml:"api_key"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"ai"`
	Prompts struct {
		SCP       PromptConfig `yaml:"scp"`
		Wikipedia PromptConfig `yaml:"wikipedia"`
	} `yaml:"prompts"`
	SCP struct {
		Endpoint       string `yaml:"endpoint"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"scp"`
	Wikipedia struct {
		URLsFile string `yaml:"urls_file"`
	} `yaml:"wikipedia"`
	Document struct {
		Template string `yaml:"template"`
		Output   string `yaml:"output"` // empty: print to stdout only
	} `yaml:"document"`
	Retry struct {
		MaxRetries   int `yaml:"max_retries"`
		MaxResamples int `yaml:"max_resamples"`
	} `yaml:"retry"`
	Validation struct {
		PolicyMarker string `yaml:"policy_marker"`
		ErrorMarker  string `yaml:"error_marker"`
		MinLength    int    `yaml:"min_length"`
	} `yaml:"validation"`
	History struct {
		DBPath string `yaml:"db_path"` // empty disables run history
		// SkipRecent excludes URLs summarized in the last N runs of a channel.
		SkipRecent int `yaml:"skip_recent"`
	} `yaml:"history"`
	Report string `yaml:"report"`
	Git    struct {
		Commit  bool   `yaml:"commit"`
		Message string `yaml:"message"`
	} `yaml:"git"`
}

// Error is a fatal configuration problem reported before any work starts.
type Error struct {
	Field   string
	Purpose string
	Hint    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("configuration %s is not set or invalid; it is required for %s", e.Field, e.Purpose)
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func Default() *Config {
	var cfg Config
	cfg.AI.Provider = "gemini"
	cfg.SCP.Endpoint = source.DefaultSCPEndpoint
	cfg.SCP.TimeoutSeconds = 30
	cfg.Wikipedia.URLsFile = "./wikipedia_urls.txt"
	cfg.Document.Template = "./README_TEMPLATE.md"
	cfg.Retry.MaxRetries = 3
	cfg.Retry.MaxResamples = 10
	cfg.Validation.PolicyMarker = validate.DefaultPolicyMarker
	cfg.Validation.ErrorMarker = validate.DefaultErrorMarker
	cfg.Validation.MinLength = validate.DefaultMinLength
	cfg.Git.Message = "Update README summaries"
	return &cfg
}

// LoadConfig reads .env, then the YAML file at path (a missing file keeps the
// defaults), then GH_SUMMARIZER_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	// 3. Override with Environment Variables if present
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	setString("PROVIDER", &cfg.AI.Provider)
	setString("MODEL", &cfg.AI.Model)
	setString("BASE_URL", &cfg.AI.BaseURL)
	if strings.EqualFold(cfg.AI.Provider, "openai") {
		setString("OPENAI_API_KEY", &cfg.AI.APIKey)
	} else {
		setString("GEMINI_API_KEY", &cfg.AI.APIKey)
	}
	setString("SCP_USER_PROMPT", &cfg.Prompts.SCP.User)
	setString("SCP_SYSTEM_PROMPT", &cfg.Prompts.SCP.System)
	setString("WIKIPEDIA_USER_PROMPT", &cfg.Prompts.Wikipedia.User)
	setString("WIKIPEDIA_SYSTEM_PROMPT", &cfg.Prompts.Wikipedia.System)
	setString("SCP_ENDPOINT", &cfg.SCP.Endpoint)
	if v := strings.TrimSpace(os.Getenv(envPrefix + "MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{
				Field:   envPrefix + "MAX_RETRIES",
				Purpose: "bounding retries",
				Hint:    fmt.Sprintf("%q is not a whole number", v),
			}
		}
		cfg.Retry.MaxRetries = n
	}
	return nil
}

// Validate checks everything a run needs before orchestration begins.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AI.APIKey) == "" {
		hint := "Set GH_SUMMARIZER_GEMINI_API_KEY. You can get one from https://aistudio.google.com/app/apikey"
		if strings.EqualFold(c.AI.Provider, "openai") {
			hint = "Set GH_SUMMARIZER_OPENAI_API_KEY"
		}
		return &Error{Field: "ai.api_key", Purpose: "content summarization", Hint: hint}
	}
	for _, p := range c.PromptTemplates() {
		if err := p.Validate(); err != nil {
			return &Error{
				Field:   fmt.Sprintf("prompts.%s.user", p.Channel),
				Purpose: fmt.Sprintf("%s content summarization", p.Channel),
				Hint:    err.Error(),
			}
		}
	}
	if err := source.ValidateEndpoint(c.SCP.Endpoint); err != nil {
		return &Error{Field: "scp.endpoint", Purpose: "fetching random SCP articles", Hint: err.Error()}
	}
	if c.Retry.MaxRetries < 0 {
		return &Error{Field: "retry.max_retries", Purpose: "bounding retries", Hint: "Must not be negative"}
	}
	if c.Retry.MaxResamples < 0 {
		return &Error{Field: "retry.max_resamples", Purpose: "bounding resamples", Hint: "Must not be negative"}
	}
	if strings.TrimSpace(c.Document.Template) == "" {
		return &Error{Field: "document.template", Purpose: "rendering the document"}
	}
	if strings.TrimSpace(c.Wikipedia.URLsFile) == "" {
		return &Error{Field: "wikipedia.urls_file", Purpose: "choosing Wikipedia articles"}
	}
	return nil
}

func (c *Config) PromptTemplates() []summarizer.PromptTemplate {
	return []summarizer.PromptTemplate{
		{Channel: record.ChannelSCP, User: c.Prompts.SCP.User, System: c.Prompts.SCP.System},
		{Channel: record.ChannelWikipedia, User: c.Prompts.Wikipedia.User, System: c.Prompts.Wikipedia.System},
	}
}

func (c *Config) Gate() validate.Gate {
	return validate.Gate{
		PolicyMarker: c.Validation.PolicyMarker,
		ErrorMarker:  c.Validation.ErrorMarker,
		MinLength:    c.Validation.MinLength,
	}
}

func (c *Config) SCPTimeout() time.Duration {
	return time.Duration(c.SCP.TimeoutSeconds) * time.Second
}

func (c *Config) GeneratorOptions() summarizer.Options {
	return summarizer.Options{
		Provider: c.AI.Provider,
		APIKey:   c.AI.APIKey,
		Model:    c.AI.Model,
		BaseURL:  c.AI.BaseURL,
	}
}
