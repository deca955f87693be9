package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash-lite"
	summaryTemperature = 0.6
)

// GeminiGenerator implements Generator using Gemini text generation. The model
// is only handed the article URL and reads the page through the URL context tool.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey string, modelName string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: modelName}, nil
}

func (g *GeminiGenerator) Model() string { return g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt.User), generationConfig(prompt.System))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	return cleanOutput(resp.Text()), nil
}

func generationConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](summaryTemperature),
		ResponseMIMEType: "text/plain",
		// Filtering is left to the prompt's INAPPROPRIATE marker instead.
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
		},
		Tools: []*genai.Tool{{URLContext: &genai.URLContext{}}},
		// -1 lets the model pick its own thinking budget.
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](-1)},
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

func classifyGeminiError(err error) error {
	if code, ok := geminiStatus(err); ok && transientStatus(code) {
		return &TransientError{Provider: "gemini", Status: code, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Provider: "gemini", Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}

func geminiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}
