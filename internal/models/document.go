package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// InvoiceKind 发票类型
type InvoiceKind string

const (
	InvoiceKindCharging     InvoiceKind = "charging"
	InvoiceKindSubscription InvoiceKind = "subscription"
)

// DocumentKey 本地文档的唯一标识，文件名完全由这些字段决定
type DocumentKey struct {
	Kind        InvoiceKind
	VIN         string
	Date        time.Time
	CountryCode string // 仅充电发票
	RemoteName  string // 远端文件名
}

// FileName 生成确定性的本地文件名
func (k DocumentKey) FileName() string {
	date := k.Date.Format("2006-01-02")
	remote := sanitizeFileName(k.RemoteName)

	switch k.Kind {
	case InvoiceKindCharging:
		return fmt.Sprintf("tesla_charging_invoice_%s_%s_%s_%s", k.VIN, date, k.CountryCode, remote)
	default:
		return fmt.Sprintf("tesla_%s_invoice_%s_%s_%s", k.Kind, k.VIN, date, remote)
	}
}

// sanitizeFileName 只保留远端文件名的最后一段，避免写出目录
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == ".." {
		return "invoice.pdf"
	}
	return base
}

// Sidecar 文档旁的通知状态记录
type Sidecar struct {
	EmailSent *int64 `json:"emailSent,omitempty"` // 发送成功的 Unix 秒
}

// Sent 是否已经发送过
func (s *Sidecar) Sent() bool {
	return s != nil && s.EmailSent != nil
}

// MarkSent 记录发送时间
func (s *Sidecar) MarkSent(at time.Time) {
	ts := at.Unix()
	s.EmailSent = &ts
}

// Vehicle 车辆（以 VIN 标识）
type Vehicle struct {
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name,omitempty"`
}

// Label 日志中使用的车辆名称
func (v Vehicle) Label() string {
	if v.DisplayName == "" {
		return v.VIN
	}
	return fmt.Sprintf("%s (%s)", v.VIN, v.DisplayName)
}

// ParseTime 解析 Tesla 返回的 ISO 8601 时间，带或不带时区
func ParseTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	value = strings.TrimSpace(value)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported format", value)
}
