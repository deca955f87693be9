// Package orchestrator drives each content channel from a random source item to
// a validated summary record.
//
// A channel moves through sourcing, generating and validating. Transient fetch
// failures and generator error markers are retried against a small budget,
// quality rejections draw a new item, and everything else abandons the channel.
// An abandoned channel simply contributes no record.
package orchestrator

import (
	"context"
	"errors"

	"ghsum/internal/record"
	"ghsum/internal/source"
	"ghsum/internal/summarizer"
	"ghsum/internal/validate"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries   = 3
	DefaultMaxResamples = 10
)

// Channel binds a channel name to where its items come from and how it is prompted.
type Channel struct {
	Name   record.Channel
	Source source.Source
	Prompt summarizer.PromptTemplate
}

type Options struct {
	// MaxRetries is the budget for each fetch and for each candidate's generation.
	MaxRetries int
	// MaxResamples caps how many replacement candidates a channel may draw.
	MaxResamples int
	Gate         validate.Gate
	// Skip, when set, rejects a candidate before any generation happens.
	Skip func(ch record.Channel, url string) bool
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:   DefaultMaxRetries,
		MaxResamples: DefaultMaxResamples,
		Gate:         validate.Default(),
	}
}

type Orchestrator struct {
	gen      summarizer.Generator
	channels []Channel
	opts     Options
	logger   *zap.Logger
}

func New(gen summarizer.Generator, channels []Channel, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gen:      gen,
		channels: channels,
		opts:     opts,
		logger:   logger,
	}
}

// RunAll runs every channel one after the other. A failed channel never stops
// the next one.
func (o *Orchestrator) RunAll(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(o.channels))
	for _, ch := range o.channels {
		outcomes = append(outcomes, o.Run(ctx, ch))
	}
	return outcomes
}

func (o *Orchestrator) Run(ctx context.Context, ch Channel) Outcome {
	out := Outcome{
		Channel:    ch.Name,
		Stage:      StageSourcing,
		Rejections: map[string]int{},
	}
	log := o.logger.With(zap.String("channel", string(ch.Name)))

	for {
		out.Stage = StageSourcing
		item, err := o.fetch(ctx, ch, &out, log)
		if err != nil {
			return o.abandon(out, err, log)
		}
		out.Item = item

		if o.opts.Skip != nil && o.opts.Skip(ch.Name, item.URL) {
			log.Info("Skipping recently used item", zap.String("url", item.URL))
			out.Rejections["recently_used"]++
			if !o.resample(&out) {
				return o.abandon(out, ErrResamplesExhausted, log)
			}
			continue
		}

		out.Stage = StageGenerating
		res, err := o.generate(ctx, ch, item, &out, log)
		if err != nil {
			return o.abandon(out, err, log)
		}

		out.Stage = StageValidating
		switch res.Verdict {
		case validate.Accepted:
			rec, err := record.New(ch.Name, item.Title, item.AltTitle, item.URL, res.Text)
			if err != nil {
				return o.abandon(out, err, log)
			}
			out.Status = StatusAccepted
			out.Record = &rec
			log.Info("Summary accepted",
				zap.String("url", item.URL),
				zap.Int("attempts", out.GenerationAttempts),
				zap.Int("resamples", out.Resamples))
			return out

		case validate.RejectedPolicy, validate.RejectedTooShort:
			out.Rejections[res.Verdict.String()]++
			log.Warn("Summary rejected, drawing a new item",
				zap.String("url", item.URL),
				zap.Stringer("verdict", res.Verdict),
				zap.String("reason", res.Reason))
			if !o.resample(&out) {
				return o.abandon(out, ErrResamplesExhausted, log)
			}

		default:
			out.Rejections[res.Verdict.String()]++
			return o.abandon(out, ErrMalformedOutput, log)
		}
	}
}

func (o *Orchestrator) resample(out *Outcome) bool {
	if out.Resamples >= o.opts.MaxResamples {
		return false
	}
	out.Resamples++
	return true
}

func (o *Orchestrator) fetch(ctx context.Context, ch Channel, out *Outcome, log *zap.Logger) (source.Item, error) {
	b := newBudget(o.opts.MaxRetries)
	for {
		item, err := ch.Source.Next(ctx)
		if err == nil {
			return item, nil
		}
		if !source.IsRetryable(err) || ctx.Err() != nil {
			return source.Item{}, err
		}
		if !b.take() {
			return source.Item{}, errors.Join(ErrRetriesExhausted, err)
		}
		out.FetchRetries++
		log.Warn("Retrying source fetch",
			zap.Int("remaining", b.remaining),
			zap.Error(err))
	}
}

// generate asks for a summary of item and classifies it. Error-marked output
// and transient generator errors are retried with the same item.
func (o *Orchestrator) generate(ctx context.Context, ch Channel, item source.Item, out *Outcome, log *zap.Logger) (validate.Result, error) {
	b := newBudget(o.opts.MaxRetries)
	prompt := ch.Prompt.Build(item.URL)
	for {
		out.GenerationAttempts++
		log.Debug("Requesting summary", zap.String("url", item.URL), zap.Int("attempt", out.GenerationAttempts))

		raw, err := o.gen.Generate(ctx, prompt)
		if err == nil {
			res := o.opts.Gate.Classify(raw)
			if !res.ErrorMarked {
				return res, nil
			}
			err = ErrErrorMarker
		} else if !summarizer.IsTransient(err) || ctx.Err() != nil {
			return validate.Result{}, err
		}

		if !b.take() {
			return validate.Result{}, errors.Join(ErrRetriesExhausted, err)
		}
		out.GenerationRetries++
		log.Warn("Retrying summary generation",
			zap.String("url", item.URL),
			zap.Int("remaining", b.remaining),
			zap.Error(err))
	}
}

func (o *Orchestrator) abandon(out Outcome, err error, log *zap.Logger) Outcome {
	retries := out.FetchRetries
	if out.Stage != StageSourcing {
		retries = out.GenerationRetries
	}
	out.Status = StatusAbandoned
	out.Record = nil
	out.Err = &StageError{Channel: out.Channel, Stage: out.Stage, Retries: retries, Err: err}
	log.Error("Channel abandoned",
		zap.String("stage", string(out.Stage)),
		zap.Int("fetch_retries", out.FetchRetries),
		zap.Int("generation_retries", out.GenerationRetries),
		zap.Int("resamples", out.Resamples),
		zap.Error(err))
	return out
}
