package sinks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool used for the run ledger.
type LedgerConfig struct {
	DSN             string
	RunsTable       string
	ArtifactsTable  string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txBeginner interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// LedgerSink records each run and its artifact outcomes in Postgres, in one
// transaction per run.
type LedgerSink struct {
	pool      txBeginner
	runs      string
	artifacts string
}

// NewLedgerSink connects a pool using cfg.
func NewLedgerSink(ctx context.Context, cfg LedgerConfig) (*LedgerSink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewLedgerSinkWithPool(pool, cfg.RunsTable, cfg.ArtifactsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewLedgerSinkWithPool constructs a sink from an existing pool (primarily for testing).
func NewLedgerSinkWithPool(pool txBeginner, runsTable, artifactsTable string) (*LedgerSink, error) {
	if pool == nil {
		return nil, errors.New("ledger: pool is required")
	}
	if runsTable == "" {
		runsTable = "harvest_runs"
	}
	if artifactsTable == "" {
		artifactsTable = "harvest_artifacts"
	}
	for _, table := range []string{runsTable, artifactsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &LedgerSink{pool: pool, runs: runsTable, artifacts: artifactsTable}, nil
}

// Close releases the underlying pool resources.
func (s *LedgerSink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Publish implements crawler.SummarySink.
func (s *LedgerSink) Publish(ctx context.Context, summary *crawler.RunSummary) error {
	doc, err := summary.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	if err := s.write(ctx, tx, summary, doc); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *LedgerSink) write(ctx context.Context, tx pgx.Tx, summary *crawler.RunSummary, doc []byte) error {
	totals := summary.Totals()
	runQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id, state, started_at, finished_at, attempted, saved, failed, skipped, error, summary
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id) DO UPDATE SET
	state = EXCLUDED.state,
	finished_at = EXCLUDED.finished_at,
	attempted = EXCLUDED.attempted,
	saved = EXCLUDED.saved,
	failed = EXCLUDED.failed,
	skipped = EXCLUDED.skipped,
	error = EXCLUDED.error,
	summary = EXCLUDED.summary`, s.runs)
	if _, err := tx.Exec(ctx, runQuery,
		summary.RunID,
		string(summary.State),
		summary.StartedAt,
		summary.FinishedAt,
		totals.Attempted,
		totals.Saved,
		totals.Failed,
		totals.Skipped,
		summary.Error,
		doc,
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	artifactQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id, ordinal, page, kind, section, source_field, value, status, path, error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id, ordinal) DO NOTHING`, s.artifacts)
	for i, a := range summary.Artifacts() {
		if _, err := tx.Exec(ctx, artifactQuery,
			summary.RunID,
			i,
			a.Page,
			string(a.Kind),
			a.Section,
			a.SourceField(),
			a.Value,
			string(a.Status),
			a.Path,
			a.Error,
		); err != nil {
			return fmt.Errorf("insert artifact %d: %w", i, err)
		}
	}
	return nil
}
