package orchestrator

import (
	"errors"
	"fmt"

	"ghsum/internal/record"
	"ghsum/internal/source"
)

// Stage is the state a channel was in when it finished.
type Stage string

const (
	StageSourcing   Stage = "sourcing"
	StageGenerating Stage = "generating"
	StageValidating Stage = "validating"
)

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusAbandoned Status = "abandoned"
)

var (
	ErrRetriesExhausted   = errors.New("retry budget exhausted")
	ErrResamplesExhausted = errors.New("resample limit reached")
	ErrMalformedOutput    = errors.New("malformed generator output")
	ErrErrorMarker        = errors.New("generator returned its error marker")
)

// StageError explains why a channel was abandoned.
type StageError struct {
	Channel record.Channel
	Stage   Stage
	Retries int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s channel abandoned during %s after %d retries: %v", e.Channel, e.Stage, e.Retries, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the result of running one channel. Record is nil unless Status
// is StatusAccepted.
type Outcome struct {
	Channel record.Channel
	Status  Status
	Stage   Stage
	Record  *record.Record
	// Item is the last candidate drawn, if any.
	Item source.Item

	FetchRetries       int
	GenerationRetries  int
	GenerationAttempts int
	Resamples          int
	Rejections         map[string]int

	Err error
}

func (o Outcome) Accepted() bool { return o.Status == StatusAccepted }

// Records collects accepted records into a set keyed by channel. Abandoned
// channels are present with a nil record.
func Records(outcomes []Outcome) record.Set {
	set := make(record.Set, len(outcomes))
	for _, o := range outcomes {
		set[o.Channel] = o.Record
	}
	return set
}

type budget struct {
	remaining int
}

func newBudget(n int) *budget {
	if n < 0 {
		n = 0
	}
	return &budget{remaining: n}
}

func (b *budget) take() bool {
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}
