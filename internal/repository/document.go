package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/tesinvoice/internal/models"
)

// DocumentRepository 已下载发票与邮件记录
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository 创建文档仓库
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// RecordDownload 记录一次下载，同名文件覆盖
func (r *DocumentRepository) RecordDownload(ctx context.Context, rec *models.DownloadRecord) error {
	query := `
		INSERT INTO documents (file_name, run_id, kind, vin, remote_id, size, downloaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (file_name) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			remote_id = EXCLUDED.remote_id,
			size = EXCLUDED.size,
			downloaded_at = EXCLUDED.downloaded_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.FileName,
		rec.RunID,
		string(rec.Kind),
		rec.VIN,
		rec.RemoteID,
		rec.Size,
		rec.Downloaded,
	)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// RecordEmail 记录一次邮件发送
func (r *DocumentRepository) RecordEmail(ctx context.Context, fileName string, sentAt time.Time) error {
	query := `INSERT INTO document_emails (file_name, sent_at) VALUES ($1, $2)`
	if _, err := r.db.Pool.Exec(ctx, query, fileName, sentAt); err != nil {
		return fmt.Errorf("record email: %w", err)
	}
	return nil
}

// ListByRun 某次运行下载的文件
func (r *DocumentRepository) ListByRun(ctx context.Context, runID string) ([]models.DownloadRecord, error) {
	query := `
		SELECT run_id, kind, vin, file_name, remote_id, size, downloaded_at
		FROM documents WHERE run_id = $1 ORDER BY file_name
	`
	rows, err := r.db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		var rec models.DownloadRecord
		var kind string
		if err := rows.Scan(
			&rec.RunID,
			&kind,
			&rec.VIN,
			&rec.FileName,
			&rec.RemoteID,
			&rec.Size,
			&rec.Downloaded,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		rec.Kind = models.InvoiceKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}
