package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/tesinvoice/internal/api/tesla"
	"github.com/langchou/tesinvoice/internal/models"
	"github.com/langchou/tesinvoice/internal/storage"
	"github.com/langchou/tesinvoice/pkg/ws"
)

// InvoiceAPI 远端发票接口
type InvoiceAPI interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	ChargingHistory(ctx context.Context, vin string) ([]tesla.ChargingSession, error)
	ChargingInvoice(ctx context.Context, vin, contentID string) ([]byte, error)
	SubscriptionInvoices(ctx context.Context, vin string) ([]tesla.SubscriptionInvoice, error)
	SubscriptionInvoice(ctx context.Context, vin, invoiceID string) ([]byte, error)
}

// Freshener 保证访问令牌可用
type Freshener interface {
	EnsureFresh(ctx context.Context) error
}

// RunLedger 运行记录（可选）
type RunLedger interface {
	StartRun(ctx context.Context, run *models.RunResult) error
	FinishRun(ctx context.Context, run *models.RunResult) error
	RecordDownload(ctx context.Context, record *models.DownloadRecord) error
}

// Publisher 事件推送
type Publisher interface {
	BroadcastMessage(msgType string, data interface{})
}

// PendingDispatcher 补发未发送的邮件
type PendingDispatcher interface {
	DispatchPending(ctx context.Context) (*DispatchResult, error)
}

// SyncOptions 同步开关
type SyncOptions struct {
	SubscriptionInvoices bool
	EmailExport          bool
	ValidatePDF          bool
}

// SyncService 发票同步
type SyncService struct {
	logger     *zap.Logger
	api        InvoiceAPI
	tokens     Freshener
	docs       *storage.DocumentStore
	opts       SyncOptions
	dispatcher PendingDispatcher
	ledger     RunLedger
	events     Publisher
	now        func() time.Time
}

// NewSyncService 创建同步服务
func NewSyncService(
	logger *zap.Logger,
	api InvoiceAPI,
	tokens Freshener,
	docs *storage.DocumentStore,
	opts SyncOptions,
) *SyncService {
	return &SyncService{
		logger: logger,
		api:    api,
		tokens: tokens,
		docs:   docs,
		opts:   opts,
		now:    time.Now,
	}
}

// SetDispatcher 设置邮件补发器（EmailExport 开启时每辆车处理完调用一次）
func (s *SyncService) SetDispatcher(d PendingDispatcher) {
	s.dispatcher = d
}

// SetLedger 设置运行记录
func (s *SyncService) SetLedger(l RunLedger) {
	s.ledger = l
}

// SetPublisher 设置事件推送
func (s *SyncService) SetPublisher(p Publisher) {
	s.events = p
}

// Run 同步指定周期的发票
func (s *SyncService) Run(ctx context.Context, period models.Period) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:     uuid.New(),
		Period:    period.String(),
		StartedAt: s.now(),
	}

	s.logger.Info("Sync run started",
		zap.String("run_id", result.RunID.String()),
		zap.String("period", result.Period))

	if s.ledger != nil {
		if err := s.ledger.StartRun(ctx, result); err != nil {
			s.logger.Warn("Failed to record run start", zap.Error(err))
		}
	}
	s.publish(ws.MsgTypeRunStarted, result)

	err := s.run(ctx, period, result)

	finished := s.now()
	result.FinishedAt = &finished
	if err != nil {
		result.Error = err.Error()
		s.logger.Error("Sync run failed",
			zap.String("run_id", result.RunID.String()),
			zap.Error(err))
	} else {
		s.logger.Info("Sync run finished",
			zap.String("run_id", result.RunID.String()),
			zap.Int("vehicles", result.Vehicles),
			zap.Int("downloaded", result.Downloaded),
			zap.Int("skipped", result.Skipped),
			zap.Int("emails_sent", result.EmailsSent),
			zap.Duration("duration", finished.Sub(result.StartedAt)))
	}

	if s.ledger != nil {
		// 取消后仍然落库
		if lerr := s.ledger.FinishRun(context.WithoutCancel(ctx), result); lerr != nil {
			s.logger.Warn("Failed to record run finish", zap.Error(lerr))
		}
	}
	s.publish(ws.MsgTypeRunFinished, result)

	return result, err
}

func (s *SyncService) run(ctx context.Context, period models.Period, result *models.RunResult) error {
	if err := s.tokens.EnsureFresh(ctx); err != nil {
		return fmt.Errorf("ensure fresh token: %w", err)
	}

	if err := s.docs.Init(); err != nil {
		return err
	}

	vehicles, err := s.api.ListVehicles(ctx)
	if err != nil {
		return fmt.Errorf("list vehicles: %w", err)
	}
	if len(vehicles) == 0 {
		s.logger.Warn("No vehicles found on account")
	}

	for _, v := range vehicles {
		result.Vehicles++
		s.logger.Info("Processing vehicle", zap.String("vehicle", v.Label()))

		if err := s.syncCharging(ctx, v, period, result); err != nil {
			return fmt.Errorf("charging invoices for %s: %w", v.VIN, err)
		}

		if s.opts.SubscriptionInvoices {
			if err := s.syncSubscriptions(ctx, v, period, result); err != nil {
				return fmt.Errorf("subscription invoices for %s: %w", v.VIN, err)
			}
		}

		if s.opts.EmailExport && s.dispatcher != nil {
			s.dispatchPending(ctx, result)
		}
	}

	return nil
}

// syncCharging 下载车辆的充电发票
func (s *SyncService) syncCharging(ctx context.Context, v models.Vehicle, period models.Period, result *models.RunResult) error {
	sessions, err := s.api.ChargingHistory(ctx, v.VIN)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		s.logger.Info("No charging sessions", zap.String("vin", v.VIN))
		return nil
	}

	for _, session := range sessions {
		at, err := models.ParseTime(session.UnlatchDateTime)
		if err != nil {
			s.logger.Warn("Skipping charging session without usable timestamp",
				zap.String("vin", v.VIN),
				zap.String("unlatch", session.UnlatchDateTime),
				zap.Error(err))
			continue
		}
		if !period.Matches(at) {
			continue
		}
		if len(session.Invoices) == 0 {
			s.logger.Debug("Charging session without invoice",
				zap.String("vin", v.VIN),
				zap.Time("date", at))
			continue
		}

		for _, inv := range session.Invoices {
			key := models.DocumentKey{
				Kind:        models.InvoiceKindCharging,
				VIN:         v.VIN,
				Date:        at,
				CountryCode: session.CountryCode,
				RemoteName:  inv.FileName,
			}
			contentID := inv.ContentID
			err := s.materialize(ctx, key, contentID, result, func(ctx context.Context) ([]byte, error) {
				return s.api.ChargingInvoice(ctx, v.VIN, contentID)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// syncSubscriptions 下载车辆的订阅发票
func (s *SyncService) syncSubscriptions(ctx context.Context, v models.Vehicle, period models.Period, result *models.RunResult) error {
	invoices, err := s.api.SubscriptionInvoices(ctx, v.VIN)
	if err != nil {
		return err
	}

	for _, inv := range invoices {
		at, err := models.ParseTime(inv.InvoiceDate)
		if err != nil {
			s.logger.Warn("Skipping subscription invoice without usable date",
				zap.String("vin", v.VIN),
				zap.String("invoice_id", inv.InvoiceID),
				zap.Error(err))
			continue
		}
		if !period.Matches(at) {
			continue
		}

		key := models.DocumentKey{
			Kind:       models.InvoiceKindSubscription,
			VIN:        v.VIN,
			Date:       at,
			RemoteName: inv.InvoiceFileName,
		}
		invoiceID := inv.InvoiceID
		err = s.materialize(ctx, key, invoiceID, result, func(ctx context.Context) ([]byte, error) {
			return s.api.SubscriptionInvoice(ctx, v.VIN, invoiceID)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// materialize 文档不存在时下载并原子落盘
func (s *SyncService) materialize(
	ctx context.Context,
	key models.DocumentKey,
	remoteID string,
	result *models.RunResult,
	fetch func(ctx context.Context) ([]byte, error),
) error {
	exists, err := s.docs.Exists(key)
	if err != nil {
		return err
	}
	if exists {
		result.Skipped++
		s.logger.Debug("Invoice already downloaded", zap.String("file", key.FileName()))
		return nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("download %s: %w", key.FileName(), err)
	}
	if s.opts.ValidatePDF {
		if err := storage.ValidatePDF(data); err != nil {
			return fmt.Errorf("download %s: %w", key.FileName(), err)
		}
	}

	path, err := s.docs.Write(key, data)
	if err != nil {
		return err
	}
	result.Downloaded++
	s.logger.Info("File saved", zap.String("path", path), zap.Int("bytes", len(data)))

	record := &models.DownloadRecord{
		RunID:      result.RunID,
		Kind:       key.Kind,
		VIN:        key.VIN,
		FileName:   key.FileName(),
		RemoteID:   remoteID,
		Size:       len(data),
		Downloaded: s.now(),
	}
	if s.ledger != nil {
		if err := s.ledger.RecordDownload(ctx, record); err != nil {
			s.logger.Warn("Failed to record download", zap.Error(err))
		}
	}
	s.publish(ws.MsgTypeDocumentSaved, record)
	return nil
}

// dispatchPending 补发邮件，失败只记录日志
func (s *SyncService) dispatchPending(ctx context.Context, result *models.RunResult) {
	dr, err := s.dispatcher.DispatchPending(ctx)
	if dr != nil {
		result.EmailsSent += dr.Sent
	}
	if err != nil {
		var transportErr *NotificationTransportError
		if errors.As(err, &transportErr) {
			s.logger.Warn("Mail server unavailable, invoices stay pending", zap.Error(err))
		} else {
			s.logger.Warn("Email export failed", zap.Error(err))
		}
	}
}

func (s *SyncService) publish(msgType string, data interface{}) {
	if s.events != nil {
		s.events.BroadcastMessage(msgType, data)
	}
}
