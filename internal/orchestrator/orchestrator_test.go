package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ghsum/internal/record"
	"ghsum/internal/source"
	"ghsum/internal/summarizer"
	"ghsum/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSource struct {
	results []sourceResult
	calls   int
}

type sourceResult struct {
	item source.Item
	err  error
}

// Next replays results in order and then keeps minting fresh items.
func (s *fakeSource) Next(ctx context.Context) (source.Item, error) {
	s.calls++
	if s.calls <= len(s.results) {
		r := s.results[s.calls-1]
		return r.item, r.err
	}
	return item(s.calls), nil
}

type fakeGenerator struct {
	respond func(call int, p summarizer.Prompt) (string, error)
	prompts []summarizer.Prompt
}

func (g *fakeGenerator) Generate(ctx context.Context, p summarizer.Prompt) (string, error) {
	g.prompts = append(g.prompts, p)
	return g.respond(len(g.prompts), p)
}

func item(n int) source.Item {
	return source.Item{
		Title:    fmt.Sprintf("SCP-%03d", n),
		AltTitle: "Alt",
		URL:      fmt.Sprintf("https://scp-wiki.wikidot.com/scp-%03d", n),
	}
}

var goodSummary = strings.Repeat("A long enough summary. ", 12)

func scpChannel(src source.Source) Channel {
	return Channel{
		Name:   record.ChannelSCP,
		Source: src,
		Prompt: summarizer.PromptTemplate{Channel: record.ChannelSCP, User: "Summarize {scp_url}", System: "sys"},
	}
}

func opts(retries int) Options {
	o := DefaultOptions()
	o.MaxRetries = retries
	return o
}

func transientFetch() error {
	return &source.FetchError{Source: "scp", Status: 503, Retryable: true}
}

func TestRun_AcceptsFirstCandidate(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return "\n" + goodSummary + "\n", nil }}

	out := New(gen, nil, opts(3), nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	require.NotNil(t, out.Record)
	assert.NoError(t, out.Err)
	assert.Equal(t, StageValidating, out.Stage)
	assert.Equal(t, record.Record{
		Channel:  record.ChannelSCP,
		Title:    "SCP-001",
		AltTitle: "Alt",
		URL:      "https://scp-wiki.wikidot.com/scp-001",
		Summary:  strings.TrimSpace(goodSummary),
	}, *out.Record)
	assert.Equal(t, 1, out.GenerationAttempts)
	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "Summarize https://scp-wiki.wikidot.com/scp-001", gen.prompts[0].User)
	assert.Equal(t, "sys", gen.prompts[0].System)
}

func TestRun_RetryExhaustion(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("budget=%d", n), func(t *testing.T) {
			src := &fakeSource{}
			gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) {
				return "ERROR: could not read the page", nil
			}}

			out := New(gen, nil, opts(n), nil).Run(context.Background(), scpChannel(src))

			assert.Equal(t, StatusAbandoned, out.Status)
			assert.Nil(t, out.Record)
			assert.Equal(t, n+1, out.GenerationAttempts)
			assert.Len(t, gen.prompts, n+1)
			assert.Equal(t, n, out.GenerationRetries)
			assert.Equal(t, StageGenerating, out.Stage)
			assert.Equal(t, 1, src.calls, "the same item is retried")
			assert.ErrorIs(t, out.Err, ErrRetriesExhausted)
			assert.ErrorIs(t, out.Err, ErrErrorMarker)

			var se *StageError
			require.ErrorAs(t, out.Err, &se)
			assert.Equal(t, n, se.Retries)
			assert.Equal(t, record.ChannelSCP, se.Channel)
		})
	}
}

func TestRun_ErrorMarkerThenSuccessKeepsSameItem(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(call int, _ summarizer.Prompt) (string, error) {
		if call < 3 {
			return "ERROR", nil
		}
		return goodSummary, nil
	}}

	out := New(gen, nil, opts(3), nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	assert.Equal(t, 3, out.GenerationAttempts)
	assert.Equal(t, 2, out.GenerationRetries)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, gen.prompts[0], gen.prompts[2])
}

func TestRun_TransientGeneratorErrorIsRetried(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(call int, _ summarizer.Prompt) (string, error) {
		if call == 1 {
			return "", &summarizer.TransientError{Provider: "gemini", Status: 429, Err: errors.New("quota")}
		}
		return goodSummary, nil
	}}

	out := New(gen, nil, opts(1), nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	assert.Equal(t, 1, out.GenerationRetries)
}

func TestRun_PermanentGeneratorErrorAbandons(t *testing.T) {
	src := &fakeSource{}
	boom := errors.New("invalid api key")
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return "", boom }}

	out := New(gen, nil, opts(3), nil).Run(context.Background(), scpChannel(src))

	assert.Equal(t, StatusAbandoned, out.Status)
	assert.Equal(t, 1, out.GenerationAttempts)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, StageGenerating, out.Stage)
}

func TestRun_QualityRejectionDrawsNewItem(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(call int, _ summarizer.Prompt) (string, error) {
		switch call {
		case 1:
			return "INAPPROPRIATE", nil
		case 2:
			return "too short", nil
		default:
			return goodSummary, nil
		}
	}}

	out := New(gen, nil, opts(3), nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 2, out.Resamples)
	assert.Equal(t, 0, out.GenerationRetries)
	assert.Equal(t, "https://scp-wiki.wikidot.com/scp-003", out.Record.URL)
	assert.Equal(t, 1, out.Rejections[validate.RejectedPolicy.String()])
	assert.Equal(t, 1, out.Rejections[validate.RejectedTooShort.String()])

	urls := map[string]bool{}
	for _, p := range gen.prompts {
		urls[p.User] = true
	}
	assert.Len(t, urls, 3, "each attempt used a different item")
}

func TestRun_ResampleLimit(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return "short", nil }}
	o := opts(3)
	o.MaxResamples = 2

	out := New(gen, nil, o, nil).Run(context.Background(), scpChannel(src))

	assert.Equal(t, StatusAbandoned, out.Status)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 2, out.Resamples)
	assert.Equal(t, StageValidating, out.Stage)
	assert.ErrorIs(t, out.Err, ErrResamplesExhausted)
}

func TestRun_EmptyOutputAbandonsWithoutResampling(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return "   ", nil }}

	out := New(gen, nil, opts(3), nil).Run(context.Background(), scpChannel(src))

	assert.Equal(t, StatusAbandoned, out.Status)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, out.GenerationAttempts)
	assert.Equal(t, StageValidating, out.Stage)
	assert.ErrorIs(t, out.Err, ErrMalformedOutput)
}

func TestRun_FetchRetries(t *testing.T) {
	src := &fakeSource{results: []sourceResult{{err: transientFetch()}, {err: transientFetch()}}}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return goodSummary, nil }}

	out := New(gen, nil, opts(2), nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	assert.Equal(t, 2, out.FetchRetries)
	assert.Equal(t, 3, src.calls)
}

func TestRun_FetchRetriesExhausted(t *testing.T) {
	src := &fakeSource{results: []sourceResult{{err: transientFetch()}, {err: transientFetch()}, {err: transientFetch()}}}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return goodSummary, nil }}

	out := New(gen, nil, opts(2), nil).Run(context.Background(), scpChannel(src))

	assert.Equal(t, StatusAbandoned, out.Status)
	assert.Equal(t, StageSourcing, out.Stage)
	assert.Equal(t, 2, out.FetchRetries)
	assert.Equal(t, 3, src.calls)
	assert.Empty(t, gen.prompts)
	assert.ErrorIs(t, out.Err, ErrRetriesExhausted)
}

func TestRun_FetchBudgetIsPerCall(t *testing.T) {
	// One transient failure before each of two candidates; a budget of 1 covers both.
	src := &fakeSource{results: []sourceResult{
		{err: transientFetch()},
		{item: item(100)},
		{err: transientFetch()},
	}}
	gen := &fakeGenerator{respond: func(call int, _ summarizer.Prompt) (string, error) {
		if call == 1 {
			return "INAPPROPRIATE", nil
		}
		return goodSummary, nil
	}}

	out := New(gen, nil, opts(1), nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	assert.Equal(t, 2, out.FetchRetries)
	assert.Equal(t, 1, out.Resamples)
}

func TestRun_NonRetryableFetchErrorAbandons(t *testing.T) {
	src := &fakeSource{results: []sourceResult{{err: &source.FetchError{Source: "scp", Status: 400}}}}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return goodSummary, nil }}

	out := New(gen, nil, opts(3), nil).Run(context.Background(), scpChannel(src))

	assert.Equal(t, StatusAbandoned, out.Status)
	assert.Equal(t, 0, out.FetchRetries)
	assert.Equal(t, 1, src.calls)
}

func TestRun_SkipCountsAsResample(t *testing.T) {
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) { return goodSummary, nil }}
	o := opts(3)
	o.Skip = func(ch record.Channel, url string) bool {
		assert.Equal(t, record.ChannelSCP, ch)
		return url == item(1).URL
	}

	out := New(gen, nil, o, nil).Run(context.Background(), scpChannel(src))

	require.True(t, out.Accepted())
	assert.Equal(t, item(2).URL, out.Record.URL)
	assert.Equal(t, 1, out.Resamples)
	assert.Equal(t, 1, out.Rejections["recently_used"])
	assert.Len(t, gen.prompts, 1)
}

func TestRunAll_PartialSuccess(t *testing.T) {
	wiki := &fakeSource{results: []sourceResult{{item: source.Item{Title: "Go", URL: "https://en.wikipedia.org/wiki/Go"}}}}
	gen := &fakeGenerator{respond: func(_ int, p summarizer.Prompt) (string, error) {
		if strings.Contains(p.User, "scp-wiki") {
			return "ERROR", nil
		}
		return goodSummary, nil
	}}
	channels := []Channel{
		scpChannel(&fakeSource{}),
		{
			Name:   record.ChannelWikipedia,
			Source: wiki,
			Prompt: summarizer.PromptTemplate{Channel: record.ChannelWikipedia, User: "Summarize {wikipedia_url}"},
		},
	}

	core, logs := observer.New(zapcore.InfoLevel)
	outcomes := New(gen, channels, opts(2), zap.New(core)).RunAll(context.Background())

	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusAbandoned, outcomes[0].Status)
	assert.Equal(t, 3, outcomes[0].GenerationAttempts)
	assert.True(t, outcomes[1].Accepted())
	assert.Equal(t, 1, outcomes[1].GenerationAttempts, "budgets are not shared across channels")

	set := Records(outcomes)
	_, ok := set.Get(record.ChannelSCP)
	assert.False(t, ok)
	rec, ok := set.Get(record.ChannelWikipedia)
	require.True(t, ok)
	assert.Equal(t, "Go", rec.Title)

	abandoned := logs.FilterMessage("Channel abandoned").All()
	require.Len(t, abandoned, 1)
	assert.Equal(t, "scp", abandoned[0].ContextMap()["channel"])
}

func TestRun_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{}
	gen := &fakeGenerator{respond: func(int, summarizer.Prompt) (string, error) {
		cancel()
		return "", &summarizer.TransientError{Provider: "gemini", Err: context.Canceled}
	}}

	out := New(gen, nil, opts(5), nil).Run(ctx, scpChannel(src))

	assert.Equal(t, StatusAbandoned, out.Status)
	assert.Equal(t, 1, out.GenerationAttempts)
}
