package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRun(id string, started time.Time, scpURL string) *Run {
	return &Run{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Document:   "README.md",
		Status:     "written",
		Channels: []ChannelRun{
			{
				Channel:            "scp",
				Status:             "accepted",
				Stage:              "validating",
				Title:              "SCP-173",
				URL:                scpURL,
				GenerationAttempts: 2,
				GenerationRetries:  1,
				Rejections:         map[string]int{"rejected_too_short": 1},
			},
			{
				Channel:      "wikipedia",
				Status:       "abandoned",
				Stage:        "generating",
				FetchRetries: 0,
				Error:        "retry budget exhausted",
			},
		},
	}
}

func TestSQLiteStore_SaveAndLoadRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, testRun("run-1", base, "https://scp-wiki.wikidot.com/scp-173")))
	require.NoError(t, store.SaveRun(ctx, testRun("run-2", base.Add(time.Hour), "https://scp-wiki.wikidot.com/scp-049")))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	latest := runs[0]
	assert.Equal(t, "run-2", latest.ID)
	assert.True(t, latest.StartedAt.Equal(base.Add(time.Hour)))
	require.Len(t, latest.Channels, 2)
	assert.Equal(t, "scp", latest.Channels[0].Channel)
	assert.Equal(t, 2, latest.Channels[0].GenerationAttempts)
	assert.Equal(t, map[string]int{"rejected_too_short": 1}, latest.Channels[0].Rejections)
	assert.Equal(t, "retry budget exhausted", latest.Channels[1].Error)

	limited, err := store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_SaveRunIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := testRun("run-1", time.Now(), "https://scp-wiki.wikidot.com/scp-173")

	require.NoError(t, store.SaveRun(ctx, run))
	run.Status = "patch_failed"
	run.Channels[0].Title = "SCP-173 (edited)"
	require.NoError(t, store.SaveRun(ctx, run))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "patch_failed", runs[0].Status)
	assert.Equal(t, "SCP-173 (edited)", runs[0].Channels[0].Title)
}

func TestSQLiteStore_RecentURLs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, testRun("a", base, "https://x/1")))
	require.NoError(t, store.SaveRun(ctx, testRun("b", base.Add(time.Minute), "https://x/2")))
	require.NoError(t, store.SaveRun(ctx, testRun("c", base.Add(2*time.Minute), "https://x/3")))

	urls, err := store.RecentURLs(ctx, "scp", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/3", "https://x/2"}, urls)

	// Abandoned outcomes never count.
	urls, err = store.RecentURLs(ctx, "wikipedia", 5)
	require.NoError(t, err)
	assert.Empty(t, urls)

	urls, err = store.RecentURLs(ctx, "scp", 0)
	require.NoError(t, err)
	assert.Nil(t, urls)
}
