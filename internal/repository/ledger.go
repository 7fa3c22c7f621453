package repository

import (
	"context"
	"time"

	"github.com/langchou/tesinvoice/internal/models"
)

// Ledger 把运行与文档记录组合成同步流程需要的接口
type Ledger struct {
	Runs      *RunRepository
	Documents *DocumentRepository
}

// NewLedger 创建记录器
func NewLedger(db *DB) *Ledger {
	return &Ledger{
		Runs:      NewRunRepository(db),
		Documents: NewDocumentRepository(db),
	}
}

func (l *Ledger) StartRun(ctx context.Context, run *models.RunResult) error {
	return l.Runs.Start(ctx, run)
}

func (l *Ledger) FinishRun(ctx context.Context, run *models.RunResult) error {
	return l.Runs.Finish(ctx, run)
}

func (l *Ledger) RecordDownload(ctx context.Context, rec *models.DownloadRecord) error {
	return l.Documents.RecordDownload(ctx, rec)
}

func (l *Ledger) RecordEmail(ctx context.Context, fileName string, sentAt time.Time) error {
	return l.Documents.RecordEmail(ctx, fileName, sentAt)
}

// Latest 最近一次运行
func (l *Ledger) Latest(ctx context.Context) (*models.RunResult, error) {
	return l.Runs.Latest(ctx)
}

// RunDocuments 某次运行下载的文件
func (l *Ledger) RunDocuments(ctx context.Context, runID string) ([]models.DownloadRecord, error) {
	return l.Documents.ListByRun(ctx, runID)
}
