package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidConfig 配置缺失或不一致
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database（为空时不记录运行历史）
	DatabaseURL string

	// Tesla API
	TeslaAuthHost      string
	TeslaAPIHost       string
	TeslaOwnershipHost string
	TeslaClientID      string

	// 凭据文件
	AccessTokenFile  string
	RefreshTokenFile string

	// 外部选项文件，其中的凭据参与对账
	OptionsFile          string
	ExternalAccessToken  string
	ExternalRefreshToken string

	// 发票
	InvoiceDir           string
	SubscriptionInvoices bool
	ValidatePDF          bool
	SyncInterval         time.Duration

	// 邮件
	EmailExport  bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSSL      bool
	MailFrom     string
	MailTo       []string
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:           getEnv("SERVER_PORT", "4000"),
		Debug:                getEnvBool("DEBUG", false),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		TeslaAuthHost:        getEnv("TESLA_AUTH_HOST", "https://auth.tesla.com"),
		TeslaAPIHost:         getEnv("TESLA_API_HOST", "https://owner-api.teslamotors.com"),
		TeslaOwnershipHost:   getEnv("TESLA_OWNERSHIP_HOST", "https://ownership.tesla.com"),
		TeslaClientID:        getEnv("TESLA_CLIENT_ID", "ownerapi"),
		AccessTokenFile:      getEnv("ACCESS_TOKEN_FILE", "secrets/access_token.txt"),
		RefreshTokenFile:     getEnv("REFRESH_TOKEN_FILE", "secrets/refresh_token.txt"),
		OptionsFile:          getEnv("OPTIONS_FILE", "/data/options.json"),
		InvoiceDir:           getEnv("INVOICE_DIR", "invoices"),
		SubscriptionInvoices: getEnvBool("SUBSCRIPTION_INVOICES", false),
		ValidatePDF:          getEnvBool("VALIDATE_PDF", true),
		SyncInterval:         getEnvDuration("SYNC_INTERVAL", 6*time.Hour),
		EmailExport:          getEnvBool("EMAIL_EXPORT", false),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvInt("SMTP_PORT", 465),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SMTPSSL:              getEnvBool("SMTP_SSL", true),
		MailFrom:             getEnv("MAIL_FROM", ""),
		MailTo:               splitList(getEnv("MAIL_TO", "")),
	}

	if err := cfg.loadOptions(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadOptions 读取外部选项文件；文件不存在时跳过，存在的键覆盖环境变量
func (c *Config) loadOptions() error {
	if c.OptionsFile == "" {
		return nil
	}
	if _, err := os.Stat(c.OptionsFile); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	// YAML 解析器同样能读 JSON
	k := koanf.New(".")
	if err := k.Load(file.Provider(c.OptionsFile), yaml.Parser()); err != nil {
		return fmt.Errorf("read options file %s: %w", c.OptionsFile, err)
	}

	c.ExternalAccessToken = strings.TrimSpace(k.String("access_token"))
	c.ExternalRefreshToken = strings.TrimSpace(k.String("refresh_token"))

	if k.Exists("subscription_invoices") {
		c.SubscriptionInvoices = k.Bool("subscription_invoices")
	}
	if k.Exists("email_export") {
		c.EmailExport = k.Bool("email_export")
	}
	if k.Exists("smtp_host") {
		c.SMTPHost = k.String("smtp_host")
	}
	if k.Exists("smtp_port") {
		c.SMTPPort = k.Int("smtp_port")
	}
	if k.Exists("smtp_user") {
		c.SMTPUser = k.String("smtp_user")
	}
	if k.Exists("smtp_password") {
		c.SMTPPassword = k.String("smtp_password")
	}
	if k.Exists("smtp_ssl") {
		c.SMTPSSL = k.Bool("smtp_ssl")
	}
	if k.Exists("mail_from") {
		c.MailFrom = k.String("mail_from")
	}
	if k.Exists("mail_to") {
		c.MailTo = splitList(k.String("mail_to"))
	}
	return nil
}

// HasExternalCredentials 选项文件是否提供了凭据
func (c *Config) HasExternalCredentials() bool {
	return c.ExternalAccessToken != "" || c.ExternalRefreshToken != ""
}

// Validate 检查相互依赖的配置项
func (c *Config) Validate() error {
	if c.SyncInterval <= 0 {
		return fmt.Errorf("%w: SYNC_INTERVAL must be positive", ErrInvalidConfig)
	}
	if !c.EmailExport {
		return nil
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("%w: email export requires SMTP_HOST", ErrInvalidConfig)
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("%w: invalid SMTP_PORT %d", ErrInvalidConfig, c.SMTPPort)
	}
	if c.MailFrom == "" || len(c.MailTo) == 0 {
		return fmt.Errorf("%w: email export requires MAIL_FROM and MAIL_TO", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

// splitList 逗号分隔的列表
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
