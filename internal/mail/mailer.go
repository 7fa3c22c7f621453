package mail

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// DialTimeout SMTP 连接超时
const DialTimeout = 20 * time.Second

// Message 带单个附件的邮件
type Message struct {
	From           string
	To             []string
	Subject        string
	Body           string
	AttachmentPath string
}

// Session 一次 SMTP 会话
type Session interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Mailer 打开 SMTP 会话
type Mailer interface {
	Dial(ctx context.Context) (Session, error)
}

// SMTPConfig SMTP 连接参数
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool // true: 隐式 TLS（465），false: STARTTLS
}

// SMTPMailer 基于 go-mail 的实现
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer 创建 SMTP 发送器
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Dial 建立连接并完成认证
func (m *SMTPMailer) Dial(ctx context.Context) (Session, error) {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTimeout(DialTimeout),
	}
	if m.cfg.SSL {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}

	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return nil, fmt.Errorf("dial smtp %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	return &smtpSession{client: client}, nil
}

type smtpSession struct {
	client *gomail.Client
}

// Send 发送一封邮件
func (s *smtpSession) Send(ctx context.Context, msg Message) error {
	m, err := buildMessage(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.Send(m); err != nil {
		return fmt.Errorf("send %s: %w", filepath.Base(msg.AttachmentPath), err)
	}
	return nil
}

// Close 关闭连接
func (s *smtpSession) Close() error {
	return s.client.Close()
}

// buildMessage 组装 MIME 邮件
func buildMessage(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	if msg.AttachmentPath != "" {
		m.AttachFile(msg.AttachmentPath, gomail.WithFileContentType(gomail.TypeAppOctetStream))
	}
	return m, nil
}
