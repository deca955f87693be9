package summarizer

import (
	"fmt"
	"strings"

	"ghsum/internal/record"
)

// URLPlaceholder returns the token a channel's user prompt must contain.
func URLPlaceholder(ch record.Channel) string {
	return fmt.Sprintf("{%s_url}", ch)
}

// PromptTemplate holds the configured prompts for one channel.
type PromptTemplate struct {
	Channel record.Channel
	System  string
	User    string
}

func (p PromptTemplate) Validate() error {
	if strings.TrimSpace(p.User) == "" {
		return fmt.Errorf("%s user prompt is empty", p.Channel)
	}
	if !strings.Contains(p.User, URLPlaceholder(p.Channel)) {
		return fmt.Errorf("%s user prompt must contain %s", p.Channel, URLPlaceholder(p.Channel))
	}
	return nil
}

// Build fills the URL placeholder with the candidate's URL.
func (p PromptTemplate) Build(url string) Prompt {
	return Prompt{
		System: p.System,
		User:   strings.ReplaceAll(p.User, URLPlaceholder(p.Channel), url),
	}
}
