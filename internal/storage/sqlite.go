package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT,
			finished_at TEXT,
			document TEXT,
			status TEXT,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS channel_outcomes (
			run_id TEXT,
			channel TEXT,
			status TEXT,
			stage TEXT,
			title TEXT,
			url TEXT,
			fetch_retries INTEGER,
			generation_retries INTEGER,
			generation_attempts INTEGER,
			resamples INTEGER,
			rejections JSON,
			error TEXT,
			PRIMARY KEY (run_id, channel)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_channel ON channel_outcomes(channel, status);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, document, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at=excluded.started_at,
			finished_at=excluded.finished_at,
			document=excluded.document,
			status=excluded.status,
			error=excluded.error
	`, run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Document, run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_outcomes (run_id, channel, status, stage, title, url, fetch_retries, generation_retries, generation_attempts, resamples, rejections, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, channel) DO UPDATE SET
			status=excluded.status,
			stage=excluded.stage,
			title=excluded.title,
			url=excluded.url,
			fetch_retries=excluded.fetch_retries,
			generation_retries=excluded.generation_retries,
			generation_attempts=excluded.generation_attempts,
			resamples=excluded.resamples,
			rejections=excluded.rejections,
			error=excluded.error
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range run.Channels {
		rejections, _ := json.Marshal(c.Rejections)
		if _, err := stmt.ExecContext(ctx, run.ID, c.Channel, c.Status, c.Stage, c.Title, c.URL,
			c.FetchRetries, c.GenerationRetries, c.GenerationAttempts, c.Resamples, rejections, c.Error); err != nil {
			return fmt.Errorf("failed to save %s outcome: %w", c.Channel, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started_at, finished_at, document, status, error FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Document, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range runs {
		channels, err := s.channelOutcomes(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		r.Channels = channels
	}
	return runs, nil
}

func (s *SQLiteStore) channelOutcomes(ctx context.Context, runID string) ([]ChannelRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, status, stage, title, url, fetch_retries, generation_retries, generation_attempts, resamples, rejections, error
		FROM channel_outcomes WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel outcomes: %w", err)
	}
	defer rows.Close()

	var out []ChannelRun
	for rows.Next() {
		var c ChannelRun
		var rejections []byte
		if err := rows.Scan(&c.Channel, &c.Status, &c.Stage, &c.Title, &c.URL, &c.FetchRetries,
			&c.GenerationRetries, &c.GenerationAttempts, &c.Resamples, &rejections, &c.Error); err != nil {
			return nil, fmt.Errorf("failed to scan channel outcome: %w", err)
		}
		if len(rejections) > 0 {
			_ = json.Unmarshal(rejections, &c.Rejections)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentURLs(ctx context.Context, channel string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.url FROM channel_outcomes o
		JOIN runs r ON r.id = o.run_id
		WHERE o.channel = ? AND o.status = 'accepted' AND o.url != ''
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// Fixed width so that started_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
