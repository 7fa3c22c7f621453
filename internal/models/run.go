package models

import (
	"time"

	"github.com/google/uuid"
)

// RunResult 一次同步运行的统计
type RunResult struct {
	RunID      uuid.UUID  `json:"run_id" db:"id"`
	Period     string     `json:"period" db:"period"`
	Vehicles   int        `json:"vehicles" db:"vehicles"`
	Downloaded int        `json:"downloaded" db:"downloaded"`
	Skipped    int        `json:"skipped" db:"skipped"`
	EmailsSent int        `json:"emails_sent" db:"emails_sent"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Error      string     `json:"error,omitempty" db:"error"`
}

// DownloadRecord 一次成功落盘的发票
type DownloadRecord struct {
	RunID      uuid.UUID   `json:"run_id" db:"run_id"`
	Kind       InvoiceKind `json:"kind" db:"kind"`
	VIN        string      `json:"vin" db:"vin"`
	FileName   string      `json:"file_name" db:"file_name"`
	RemoteID   string      `json:"remote_id" db:"remote_id"`
	Size       int         `json:"size" db:"size"`
	Downloaded time.Time   `json:"downloaded_at" db:"downloaded_at"`
}
