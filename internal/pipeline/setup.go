package pipeline

import (
	"io"

	"ghsum/internal/config"
	"ghsum/internal/orchestrator"
	"ghsum/internal/record"
	"ghsum/internal/source"
	"ghsum/internal/storage"
	"ghsum/internal/summarizer"

	"go.uber.org/zap"
)

// BuildChannels wires the content sources and prompts for every channel. An
// unusable Wikipedia list is reported as a configuration error.
func BuildChannels(cfg *config.Config) ([]orchestrator.Channel, error) {
	scp, err := source.NewSCPSource(cfg.SCP.Endpoint, cfg.SCPTimeout())
	if err != nil {
		return nil, &config.Error{Field: "scp.endpoint", Purpose: "fetching random SCP articles", Hint: err.Error()}
	}
	wiki, err := source.NewListSourceFromFile(cfg.Wikipedia.URLsFile)
	if err != nil {
		return nil, &config.Error{
			Field:   "wikipedia.urls_file",
			Purpose: "choosing Wikipedia articles",
			Hint:    err.Error(),
		}
	}

	sources := map[record.Channel]source.Source{
		record.ChannelSCP:       scp,
		record.ChannelWikipedia: wiki,
	}
	var channels []orchestrator.Channel
	for _, p := range cfg.PromptTemplates() {
		channels = append(channels, orchestrator.Channel{
			Name:   p.Channel,
			Source: sources[p.Channel],
			Prompt: p,
		})
	}
	return channels, nil
}

// NewRefresh builds a refresh from a validated configuration. history and
// committer may be nil.
func NewRefresh(cfg *config.Config, gen summarizer.Generator, channels []orchestrator.Channel,
	history storage.RunStore, committer Committer, stdout io.Writer, logger *zap.Logger) *Refresh {
	return &Refresh{
		TemplatePath:  cfg.Document.Template,
		OutputPath:    cfg.Document.Output,
		ReportPath:    cfg.Report,
		CommitMessage: cfg.Git.Message,
		SkipRecent:    cfg.History.SkipRecent,
		Generator:     gen,
		Channels:      channels,
		Options: orchestrator.Options{
			MaxRetries:   cfg.Retry.MaxRetries,
			MaxResamples: cfg.Retry.MaxResamples,
			Gate:         cfg.Gate(),
		},
		History: history,
		Git:     committer,
		Stdout:  stdout,
		Logger:  logger,
	}
}
