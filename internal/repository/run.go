package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/tesinvoice/internal/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// RunRepository 同步运行记录
type RunRepository struct {
	db *DB
}

// NewRunRepository 创建运行仓库
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start 记录运行开始
func (r *RunRepository) Start(ctx context.Context, run *models.RunResult) error {
	query := `
		INSERT INTO sync_runs (id, period, started_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.Pool.Exec(ctx, query, run.RunID, run.Period, run.StartedAt); err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// Finish 记录运行结果
func (r *RunRepository) Finish(ctx context.Context, run *models.RunResult) error {
	query := `
		UPDATE sync_runs SET
			vehicles = $2,
			downloaded = $3,
			skipped = $4,
			emails_sent = $5,
			finished_at = $6,
			error = $7
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		run.RunID,
		run.Vehicles,
		run.Downloaded,
		run.Skipped,
		run.EmailsSent,
		run.FinishedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	return nil
}

// Latest 最近一次运行
func (r *RunRepository) Latest(ctx context.Context) (*models.RunResult, error) {
	query := `
		SELECT id, period, vehicles, downloaded, skipped, emails_sent, started_at, finished_at, error
		FROM sync_runs ORDER BY started_at DESC LIMIT 1
	`
	run := &models.RunResult{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&run.RunID,
		&run.Period,
		&run.Vehicles,
		&run.Downloaded,
		&run.Skipped,
		&run.EmailsSent,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest sync run: %w", err)
	}
	return run, nil
}
