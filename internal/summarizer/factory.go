package summarizer

import (
	"context"
	"fmt"
	"strings"
)

type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

func NewGenerator(ctx context.Context, opts Options) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "gemini"
	}

	switch provider {
	case "gemini":
		return NewGeminiGenerator(ctx, opts.APIKey, opts.Model)
	case "openai":
		model := opts.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		return NewOpenAIGenerator(opts.APIKey, model, opts.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", opts.Provider)
	}
}
