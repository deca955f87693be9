package source

import (
	"context"
	"errors"
	"fmt"
)

// Item is one candidate article drawn from a source.
type Item struct {
	Title    string
	AltTitle string
	URL      string
}

// Source draws one random candidate per call.
type Source interface {
	Next(ctx context.Context) (Item, error)
}

// FetchError is returned when a source could not produce an item.
type FetchError struct {
	Source    string
	Status    int
	Body      string
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch failed", e.Source)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a fetch failure worth repeating.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}
