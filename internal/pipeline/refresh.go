package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ghsum/internal/orchestrator"
	"ghsum/internal/patch"
	"ghsum/internal/record"
	"ghsum/internal/render"
	"ghsum/internal/storage"
	"ghsum/internal/summarizer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Run statuses stored in history and the report.
const (
	StatusWritten = "written"
	StatusPrinted = "printed"
	StatusFailed  = "failed"
)

// Committer commits the refreshed document.
type Committer interface {
	ChangedLines(path string) ([]int, error)
	CommitFile(path, message string) (bool, error)
}

// Refresh regenerates the document once: every channel is orchestrated, the
// template rendered with whatever was accepted and the result patched into the
// existing document.
type Refresh struct {
	TemplatePath string
	// OutputPath is the document to patch. Empty means print only.
	OutputPath    string
	ReportPath    string
	CommitMessage string
	// SkipRecent excludes URLs accepted in the last N runs of a channel.
	SkipRecent int

	Generator summarizer.Generator
	Channels  []orchestrator.Channel
	Options   orchestrator.Options
	History   storage.RunStore
	Git       Committer
	Stdout    io.Writer
	Logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// Result describes what a refresh did.
type Result struct {
	RunID     string
	Outcomes  []orchestrator.Outcome
	Text      string
	Written   bool
	Committed bool
	Report    *RunReport
}

func (r *Refresh) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Refresh) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run executes a refresh. Abandoned channels are not errors; the returned
// error is set only when the document could not be produced or written.
func (r *Refresh) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	if r.newID != nil {
		runID = r.newID()
	}
	log := r.logger().With(zap.String("run_id", runID))
	report := NewRunReport(runID, r.OutputPath)
	res := &Result{RunID: runID, Report: report}
	started := r.clock()

	err := r.run(ctx, res, log)

	status := StatusPrinted
	switch {
	case err != nil:
		status = StatusFailed
	case res.Written:
		status = StatusWritten
	}
	report.Status = status
	r.historyStage(ctx, res, started, status, err, log)
	r.reportStage(report, log)

	if err != nil {
		return res, err
	}

	if res.Written && r.Git != nil {
		committed, gitErr := r.commitStage(res, log)
		if gitErr != nil {
			return res, gitErr
		}
		res.Committed = committed
	}
	return res, nil
}

func (r *Refresh) run(ctx context.Context, res *Result, log *zap.Logger) error {
	report := res.Report

	h := report.BeginStage("load_template")
	tmpl, err := os.ReadFile(r.TemplatePath)
	if err != nil {
		err = fmt.Errorf("failed to read template: %w", err)
		report.EndStage(h, "error", nil, nil, err)
		return err
	}
	report.EndStage(h, "ok", map[string]float64{"bytes": float64(len(tmpl))}, nil, nil)

	res.Outcomes = r.orchestrateStage(ctx, report, log)
	report.AddOutcomes(res.Outcomes)

	h = report.BeginStage("render")
	records := orchestrator.Records(res.Outcomes)
	rendered := render.Render(string(tmpl), records)
	report.EndStage(h, "ok", map[string]float64{"present_channels": float64(len(records.Present()))}, nil, nil)

	if r.OutputPath == "" {
		res.Text = rendered
		r.echo(rendered)
		return nil
	}

	text, err := r.patchStage(string(tmpl), rendered, report, log)
	if err != nil {
		return err
	}
	res.Text = text

	h = report.BeginStage("write")
	if err := writeFileAtomic(r.OutputPath, []byte(text)); err != nil {
		err = fmt.Errorf("failed to write %s: %w", r.OutputPath, err)
		report.EndStage(h, "error", nil, nil, err)
		return err
	}
	report.EndStage(h, "ok", map[string]float64{"bytes": float64(len(text))}, nil, nil)
	res.Written = true
	log.Info("Document updated", zap.String("path", r.OutputPath))

	r.echo(text)
	return nil
}

func (r *Refresh) orchestrateStage(ctx context.Context, report *RunReport, log *zap.Logger) []orchestrator.Outcome {
	h := report.BeginStage("orchestrate")
	opts := r.Options
	var notes []string
	if r.History != nil && r.SkipRecent > 0 && opts.Skip == nil {
		recent, err := r.recentURLs(ctx)
		if err != nil {
			log.Warn("Could not load recent history; no candidates will be skipped", zap.Error(err))
			notes = append(notes, "history unavailable: "+err.Error())
		} else {
			opts.Skip = func(ch record.Channel, url string) bool {
				_, seen := recent[ch][url]
				return seen
			}
		}
	}

	outcomes := orchestrator.New(r.Generator, r.Channels, opts, log).RunAll(ctx)

	accepted := 0
	for _, o := range outcomes {
		if o.Accepted() {
			accepted++
		}
	}
	status := "ok"
	if accepted < len(outcomes) {
		status = "partial"
	}
	report.EndStage(h, status, map[string]float64{
		"channels": float64(len(outcomes)),
		"accepted": float64(accepted),
	}, notes, nil)
	return outcomes
}

func (r *Refresh) recentURLs(ctx context.Context) (map[record.Channel]map[string]struct{}, error) {
	recent := make(map[record.Channel]map[string]struct{}, len(r.Channels))
	for _, ch := range r.Channels {
		urls, err := r.History.RecentURLs(ctx, string(ch.Name), r.SkipRecent)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(urls))
		for _, u := range urls {
			seen[u] = struct{}{}
		}
		recent[ch.Name] = seen
	}
	return recent, nil
}

func (r *Refresh) patchStage(tmpl, rendered string, report *RunReport, log *zap.Logger) (string, error) {
	h := report.BeginStage("patch")
	var notes []string

	current, err := os.ReadFile(r.OutputPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		// First run: the template is the prior document.
		current = []byte(tmpl)
		notes = append(notes, "document bootstrapped from template")
		log.Info("Document not found; bootstrapping from template", zap.String("path", r.OutputPath))
	default:
		err = fmt.Errorf("failed to read %s: %w", r.OutputPath, err)
		report.EndStage(h, "error", nil, nil, err)
		return "", err
	}

	text, err := patch.Patch(tmpl, rendered, string(current))
	if err != nil {
		var mismatch *patch.StructuralMismatchError
		if errors.As(err, &mismatch) {
			mismatch.Path = r.OutputPath
			report.AddSignal("structural_mismatch", "patch", severityCritical, mismatch.Error())
			log.Error("Document left untouched", zap.Error(mismatch))
		}
		report.EndStage(h, "error", nil, notes, err)
		return "", err
	}

	report.EndStage(h, "ok", map[string]float64{
		"changed_lines": float64(len(patch.Changed(tmpl, rendered))),
	}, notes, nil)
	return text, nil
}

func (r *Refresh) historyStage(ctx context.Context, res *Result, started time.Time, status string, runErr error, log *zap.Logger) {
	if r.History == nil {
		return
	}
	h := res.Report.BeginStage("history")
	run := &storage.Run{
		ID:         res.RunID,
		StartedAt:  started,
		FinishedAt: r.clock(),
		Document:   r.OutputPath,
		Status:     status,
		Channels:   channelRuns(res.Outcomes),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.History.SaveRun(ctx, run); err != nil {
		log.Warn("Failed to save run history", zap.Error(err))
		res.Report.EndStage(h, "error", nil, nil, err)
		return
	}
	res.Report.EndStage(h, "ok", nil, nil, nil)
}

func channelRuns(outcomes []orchestrator.Outcome) []storage.ChannelRun {
	runs := make([]storage.ChannelRun, 0, len(outcomes))
	for _, o := range outcomes {
		m := channelMetric(o)
		runs = append(runs, storage.ChannelRun{
			Channel:            m.Channel,
			Status:             m.Status,
			Stage:              m.Stage,
			Title:              m.Title,
			URL:                m.URL,
			FetchRetries:       m.FetchRetries,
			GenerationRetries:  m.GenerationRetries,
			GenerationAttempts: m.GenerationAttempts,
			Resamples:          m.Resamples,
			Rejections:         m.Rejections,
			Error:              m.Error,
		})
	}
	return runs
}

func (r *Refresh) reportStage(report *RunReport, log *zap.Logger) {
	if r.ReportPath == "" {
		return
	}
	if err := report.Save(r.ReportPath); err != nil {
		log.Warn("Failed to write run report", zap.String("path", r.ReportPath), zap.Error(err))
		return
	}
	log.Debug("Run report written", zap.String("path", r.ReportPath))
}

func (r *Refresh) commitStage(res *Result, log *zap.Logger) (bool, error) {
	// Untracked documents and repositories without HEAD have nothing to diff.
	lines, err := r.Git.ChangedLines(r.OutputPath)
	if err != nil {
		log.Debug("git diff unavailable", zap.Error(err))
	}

	committed, err := r.Git.CommitFile(r.OutputPath, r.CommitMessage)
	if err != nil {
		return false, fmt.Errorf("failed to commit %s: %w", r.OutputPath, err)
	}
	if !committed {
		log.Info("Document unchanged; nothing to commit")
		return false, nil
	}
	log.Info("Committed document", zap.String("path", r.OutputPath), zap.Ints("changed_lines", lines))
	return true, nil
}

func (r *Refresh) echo(text string) {
	if r.Stdout == nil {
		return
	}
	fmt.Fprint(r.Stdout, text)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory, so readers never observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
