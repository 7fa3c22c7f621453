package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "DEBUG", "DATABASE_URL", "INVOICE_DIR", "OPTIONS_FILE",
		"SUBSCRIPTION_INVOICES", "VALIDATE_PDF", "SYNC_INTERVAL",
		"EMAIL_EXPORT", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD",
		"SMTP_SSL", "MAIL_FROM", "MAIL_TO",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("OPTIONS_FILE", filepath.Join(t.TempDir(), "missing.json"))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.ServerPort)
	assert.Equal(t, "invoices", cfg.InvoiceDir)
	assert.Equal(t, "secrets/access_token.txt", cfg.AccessTokenFile)
	assert.Equal(t, "secrets/refresh_token.txt", cfg.RefreshTokenFile)
	assert.Equal(t, 6*time.Hour, cfg.SyncInterval)
	assert.Equal(t, 465, cfg.SMTPPort)
	assert.True(t, cfg.SMTPSSL)
	assert.True(t, cfg.ValidatePDF)
	assert.False(t, cfg.EmailExport)
	assert.False(t, cfg.SubscriptionInvoices)
	assert.False(t, cfg.HasExternalCredentials())
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_OptionsFileOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_HOST", "env.example.com")

	path := filepath.Join(t.TempDir(), "options.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"access_token": " at ",
		"refresh_token": "rt",
		"email_export": true,
		"subscription_invoices": true,
		"smtp_host": "smtp.example.com",
		"smtp_port": 587,
		"smtp_ssl": false,
		"mail_from": "car@example.com",
		"mail_to": "a@example.com, b@example.com"
	}`), 0644))
	t.Setenv("OPTIONS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.HasExternalCredentials())
	assert.Equal(t, "at", cfg.ExternalAccessToken)
	assert.Equal(t, "rt", cfg.ExternalRefreshToken)
	assert.True(t, cfg.EmailExport)
	assert.True(t, cfg.SubscriptionInvoices)
	assert.Equal(t, "smtp.example.com", cfg.SMTPHost)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.False(t, cfg.SMTPSSL)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.MailTo)
}

func TestLoad_BrokenOptionsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "options.json")
	require.NoError(t, os.WriteFile(path, []byte("{: ["), 0644))
	t.Setenv("OPTIONS_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "email off", mutate: func(c *Config) {}},
		{name: "email complete", mutate: func(c *Config) {
			c.EmailExport = true
			c.SMTPHost = "smtp"
			c.MailFrom = "a@b"
			c.MailTo = []string{"c@d"}
		}},
		{name: "email without host", mutate: func(c *Config) {
			c.EmailExport = true
			c.MailFrom = "a@b"
			c.MailTo = []string{"c@d"}
		}, wantErr: true},
		{name: "email without recipients", mutate: func(c *Config) {
			c.EmailExport = true
			c.SMTPHost = "smtp"
			c.MailFrom = "a@b"
		}, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.SyncInterval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{SyncInterval: time.Hour, SMTPPort: 465}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
