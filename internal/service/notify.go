package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesinvoice/internal/mail"
	"github.com/langchou/tesinvoice/internal/storage"
	"github.com/langchou/tesinvoice/pkg/ws"
)

// MailSubject 邮件主题
const MailSubject = "Tesla Invoice"

// NotificationTransportError 无法连接邮件服务器，可恢复，文档保持待发送
type NotificationTransportError struct {
	Err error
}

func (e *NotificationTransportError) Error() string {
	return fmt.Sprintf("notification transport: %v", e.Err)
}

func (e *NotificationTransportError) Unwrap() error {
	return e.Err
}

// EmailLedger 邮件发送记录（可选）
type EmailLedger interface {
	RecordEmail(ctx context.Context, fileName string, sentAt time.Time) error
}

// DispatchResult 补发统计
type DispatchResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// EmailSentEvent 邮件已发送事件
type EmailSentEvent struct {
	FileName string    `json:"file_name"`
	SentAt   time.Time `json:"sent_at"`
}

// Dispatcher 将未发送的发票以附件形式发出，每个文档至多成功发送一次
type Dispatcher struct {
	logger *zap.Logger
	docs   *storage.DocumentStore
	mailer mail.Mailer
	from   string
	to     []string
	ledger EmailLedger
	events Publisher
	now    func() time.Time
}

// NewDispatcher 创建补发器
func NewDispatcher(logger *zap.Logger, docs *storage.DocumentStore, mailer mail.Mailer, from string, to []string) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		docs:   docs,
		mailer: mailer,
		from:   from,
		to:     to,
		now:    time.Now,
	}
}

// SetLedger 设置发送记录
func (d *Dispatcher) SetLedger(l EmailLedger) {
	d.ledger = l
}

// SetPublisher 设置事件推送
func (d *Dispatcher) SetPublisher(p Publisher) {
	d.events = p
}

// DispatchPending 遍历目录，发送所有未标记的文档
func (d *Dispatcher) DispatchPending(ctx context.Context) (*DispatchResult, error) {
	docs, err := d.docs.List()
	if err != nil {
		return nil, err
	}

	session, err := d.mailer.Dial(ctx)
	if err != nil {
		return nil, &NotificationTransportError{Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			d.logger.Debug("Failed to close mail session", zap.Error(err))
		}
	}()

	result := &DispatchResult{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name := filepath.Base(doc)
		sidecar, existed, err := d.docs.LoadSidecar(doc)
		if err != nil {
			// 状态不明，不发送
			d.logger.Error("Failed to read notification state", zap.String("file", name), zap.Error(err))
			result.Failed++
			continue
		}
		if !existed {
			if err := d.docs.SaveSidecar(doc, sidecar); err != nil {
				d.logger.Warn("Failed to create notification state", zap.String("file", name), zap.Error(err))
			}
		}
		if sidecar.Sent() {
			result.Skipped++
			continue
		}

		msg := mail.Message{
			From:           d.from,
			To:             d.to,
			Subject:        MailSubject,
			Body:           name,
			AttachmentPath: doc,
		}
		if err := session.Send(ctx, msg); err != nil {
			d.logger.Error("Failed to send invoice email", zap.String("file", name), zap.Error(err))
			result.Failed++
			continue
		}

		sentAt := d.now()
		sidecar.MarkSent(sentAt)
		if err := d.docs.SaveSidecar(doc, sidecar); err != nil {
			d.logger.Error("Email sent but state not saved, may be resent",
				zap.String("file", name), zap.Error(err))
		}
		result.Sent++
		d.logger.Info("Invoice emailed", zap.String("file", name))

		if d.ledger != nil {
			if err := d.ledger.RecordEmail(ctx, name, sentAt); err != nil {
				d.logger.Warn("Failed to record email", zap.Error(err))
			}
		}
		if d.events != nil {
			d.events.BroadcastMessage(ws.MsgTypeEmailSent, EmailSentEvent{FileName: name, SentAt: sentAt})
		}
	}

	return result, nil
}
