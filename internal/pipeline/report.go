package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ghsum/internal/orchestrator"
)

const (
	severityCritical = "critical"
	severityWarning  = "warning"
)

type ReportSignal struct {
	Code     string `json:"code"`
	Stage    string `json:"stage"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type ChannelMetric struct {
	Channel            string         `json:"channel"`
	Status             string         `json:"status"`
	Stage              string         `json:"stage"`
	Title              string         `json:"title,omitempty"`
	URL                string         `json:"url,omitempty"`
	FetchRetries       int            `json:"fetch_retries"`
	GenerationRetries  int            `json:"generation_retries"`
	GenerationAttempts int            `json:"generation_attempts"`
	Resamples          int            `json:"resamples"`
	Rejections         map[string]int `json:"rejections,omitempty"`
	Error              string         `json:"error,omitempty"`
}

type ReportSummary struct {
	StageCount        int            `json:"stage_count"`
	FailedStages      int            `json:"failed_stages"`
	AcceptedChannels  int            `json:"accepted_channels"`
	AbandonedChannels int            `json:"abandoned_channels"`
	SignalsBySeverity map[string]int `json:"signals_by_severity"`
}

// RunReport is the machine-readable account of one refresh.
type RunReport struct {
	Version     string          `json:"version"`
	RunID       string          `json:"run_id"`
	GeneratedAt string          `json:"generated_at"`
	Document    string          `json:"document,omitempty"`
	Status      string          `json:"status"`
	Stages      []StageMetric   `json:"stages"`
	Channels    []ChannelMetric `json:"channels"`
	Signals     []ReportSignal  `json:"signals,omitempty"`
	Summary     ReportSummary   `json:"summary"`
}

type StageHandle struct {
	name    string
	started time.Time
}

func NewRunReport(runID, document string) *RunReport {
	return &RunReport{
		Version:  "v1",
		RunID:    runID,
		Document: document,
		Stages:   []StageMetric{},
		Channels: []ChannelMetric{},
	}
}

func (r *RunReport) BeginStage(name string) StageHandle {
	return StageHandle{name: name, started: time.Now().UTC()}
}

// EndStage records a finished stage. A non-nil err is kept on the metric.
func (r *RunReport) EndStage(h StageHandle, status string, counters map[string]float64, notes []string, err error) {
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     status,
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   counters,
		Notes:      notes,
	}
	if err != nil {
		m.Error = err.Error()
	}
	r.Stages = append(r.Stages, m)
}

func (r *RunReport) AddSignal(code, stage, severity, message string) {
	r.Signals = append(r.Signals, ReportSignal{Code: code, Stage: stage, Severity: severity, Message: message})
}

// AddOutcomes records one channel metric per outcome and a warning signal for
// every abandoned channel.
func (r *RunReport) AddOutcomes(outcomes []orchestrator.Outcome) {
	for _, o := range outcomes {
		m := channelMetric(o)
		r.Channels = append(r.Channels, m)
		if !o.Accepted() {
			r.AddSignal("channel_abandoned", string(o.Stage), severityWarning, m.Channel+": "+m.Error)
		}
	}
}

func channelMetric(o orchestrator.Outcome) ChannelMetric {
	m := ChannelMetric{
		Channel:            string(o.Channel),
		Status:             string(o.Status),
		Stage:              string(o.Stage),
		Title:              o.Item.Title,
		URL:                o.Item.URL,
		FetchRetries:       o.FetchRetries,
		GenerationRetries:  o.GenerationRetries,
		GenerationAttempts: o.GenerationAttempts,
		Resamples:          o.Resamples,
		Rejections:         o.Rejections,
	}
	if o.Record != nil {
		m.Title = o.Record.Title
		m.URL = o.Record.URL
	}
	if o.Err != nil {
		m.Error = o.Err.Error()
	}
	return m
}

// finalize orders signals critical first and fills in the summary.
func (r *RunReport) finalize() {
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	sort.SliceStable(r.Signals, func(i, j int) bool {
		return r.Signals[i].Severity == severityCritical && r.Signals[j].Severity != severityCritical
	})

	sum := ReportSummary{
		StageCount:        len(r.Stages),
		SignalsBySeverity: map[string]int{},
	}
	for _, st := range r.Stages {
		if st.Status == "error" {
			sum.FailedStages++
		}
	}
	for _, c := range r.Channels {
		if c.Status == string(orchestrator.StatusAccepted) {
			sum.AcceptedChannels++
		} else {
			sum.AbandonedChannels++
		}
	}
	for _, sig := range r.Signals {
		sum.SignalsBySeverity[sig.Severity]++
	}
	r.Summary = sum
}

func (r *RunReport) Save(path string) error {
	r.finalize()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}
