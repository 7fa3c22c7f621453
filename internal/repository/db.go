package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 同步流程是串行的，连接数不需要多
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateSyncRuns,
		migrationCreateDocuments,
		migrationCreateEmails,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

const migrationCreateSyncRuns = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id UUID PRIMARY KEY,
    period VARCHAR(16) NOT NULL,
    vehicles INT NOT NULL DEFAULT 0,
    downloaded INT NOT NULL DEFAULT 0,
    skipped INT NOT NULL DEFAULT 0,
    emails_sent INT NOT NULL DEFAULT 0,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    finished_at TIMESTAMP WITH TIME ZONE,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

const migrationCreateDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    file_name VARCHAR(512) PRIMARY KEY,
    run_id UUID REFERENCES sync_runs(id),
    kind VARCHAR(20) NOT NULL,
    vin VARCHAR(17) NOT NULL,
    remote_id VARCHAR(255) NOT NULL DEFAULT '',
    size INT NOT NULL DEFAULT 0,
    downloaded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_vin ON documents(vin);
`

const migrationCreateEmails = `
CREATE TABLE IF NOT EXISTS document_emails (
    id BIGSERIAL PRIMARY KEY,
    file_name VARCHAR(512) NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_document_emails_file_name ON document_emails(file_name);
`
