package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initArchiveSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresArchive{pool: pool}, nil
}

func initArchiveSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_archive (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			input_ref TEXT NOT NULL,
			params JSONB NOT NULL DEFAULT '{}',
			notify_target TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			result_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			completed_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_archive_owner_created ON task_archive (owner_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init archive schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (a *PostgresArchive) SaveTask(ctx context.Context, task Task) error {
	params, err := json.Marshal(task.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = a.pool.Exec(ctx,
		`INSERT INTO task_archive (
			id, owner_id, kind, input_ref, params, notify_target, status, progress,
			error_message, result_ref, created_at, started_at, completed_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
		)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			progress=EXCLUDED.progress,
			error_message=EXCLUDED.error_message,
			result_ref=EXCLUDED.result_ref,
			started_at=EXCLUDED.started_at,
			completed_at=EXCLUDED.completed_at`,
		task.ID,
		task.Owner,
		string(task.Kind),
		task.InputRef,
		params,
		task.NotifyTarget,
		string(task.Status),
		task.Progress,
		task.ErrorMessage,
		task.ResultRef,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task snapshot: %w", err)
	}
	return nil
}

func (a *PostgresArchive) GetTask(ctx context.Context, id string) (Task, error) {
	row := a.pool.QueryRow(ctx,
		`SELECT id, owner_id, kind, input_ref, params, notify_target, status, progress,
		        error_message, result_ref, created_at, started_at, completed_at
		   FROM task_archive WHERE id=$1`,
		id,
	)

	var (
		task            Task
		kind            string
		status          string
		rawParams       []byte
		startedNullable *time.Time
		endedNullable   *time.Time
	)
	if err := row.Scan(
		&task.ID,
		&task.Owner,
		&kind,
		&task.InputRef,
		&rawParams,
		&task.NotifyTarget,
		&status,
		&task.Progress,
		&task.ErrorMessage,
		&task.ResultRef,
		&task.CreatedAt,
		&startedNullable,
		&endedNullable,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrArchiveNotFound
		}
		return Task{}, fmt.Errorf("get archived task: %w", err)
	}
	task.Kind = Kind(kind)
	task.Status = Status(status)
	task.StartedAt = startedNullable
	task.CompletedAt = endedNullable
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &task.Params); err != nil {
			return Task{}, fmt.Errorf("decode params: %w", err)
		}
	}
	return task, nil
}

func (a *PostgresArchive) Close() error {
	a.pool.Close()
	return nil
}
