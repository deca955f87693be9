package storage

import (
	"context"
	"time"
)

// RunStore keeps a history of refresh runs.
type RunStore interface {
	// SaveRun persists a run and its per-channel outcomes.
	SaveRun(ctx context.Context, run *Run) error

	// RecentRuns returns the newest runs first, with their channel outcomes.
	RecentRuns(ctx context.Context, limit int) ([]*Run, error)

	// RecentURLs returns the URLs accepted for a channel in its last limit accepted outcomes.
	RecentURLs(ctx context.Context, channel string, limit int) ([]string, error)

	Close() error
}

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Document   string
	Status     string
	Error      string
	Channels   []ChannelRun
}

type ChannelRun struct {
	Channel            string
	Status             string
	Stage              string
	Title              string
	URL                string
	FetchRetries       int
	GenerationRetries  int
	GenerationAttempts int
	Resamples          int
	Rejections         map[string]int
	Error              string
}
