package summarizer

import (
	"context"
	"errors"
	"fmt"
)

// Prompt is one generation request: an optional system instruction plus the user turn.
type Prompt struct {
	System string
	User   string
}

// Generator produces a summary for a prompt. Implementations return the raw
// model text; classifying it is the caller's job.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// TransientError marks a generation failure that may succeed if repeated
// (rate limiting, overloaded backend, dropped connection).
type TransientError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s generation failed transiently (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s generation failed transiently: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func transientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
