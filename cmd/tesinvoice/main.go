package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/tesinvoice/internal/api/handlers"
	"github.com/langchou/tesinvoice/internal/api/tesla"
	"github.com/langchou/tesinvoice/internal/config"
	"github.com/langchou/tesinvoice/internal/credential"
	"github.com/langchou/tesinvoice/internal/lockfile"
	"github.com/langchou/tesinvoice/internal/mail"
	"github.com/langchou/tesinvoice/internal/models"
	"github.com/langchou/tesinvoice/internal/repository"
	"github.com/langchou/tesinvoice/internal/service"
	"github.com/langchou/tesinvoice/internal/state"
	"github.com/langchou/tesinvoice/internal/storage"
	"github.com/langchou/tesinvoice/pkg/ws"
)

func main() {
	daemon := flag.Bool("daemon", false, "run continuously and serve the status API")
	periodFlag := flag.String("period", "", "prev, cur, all or YYYY-MM (prompted when empty)")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *daemon, *periodFlag); err != nil {
		logger.Fatal("Tesinvoice failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, daemon bool, periodChoice string) error {
	logger.Info("Starting Tesinvoice",
		zap.Bool("daemon", daemon),
		zap.String("invoice_dir", cfg.InvoiceDir))

	lock, store, err := prepareWorkspace(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release lock", zap.Error(err))
		}
	}()

	// Tesla API
	requester := tesla.NewRequester(nil, store, logger)
	client := tesla.NewClient(requester, cfg.TeslaAuthHost, cfg.TeslaAPIHost, cfg.TeslaOwnershipHost, cfg.TeslaClientID, logger)
	refresher := credential.NewRefresher(store, client, logger)

	docs := storage.NewDocumentStore(cfg.InvoiceDir)
	syncSvc := service.NewSyncService(logger, client, refresher, docs, service.SyncOptions{
		SubscriptionInvoices: cfg.SubscriptionInvoices,
		EmailExport:          cfg.EmailExport,
		ValidatePDF:          cfg.ValidatePDF,
	})

	var dispatcher *service.Dispatcher
	if cfg.EmailExport {
		mailer := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			SSL:      cfg.SMTPSSL,
		})
		dispatcher = service.NewDispatcher(logger, docs, mailer, cfg.MailFrom, cfg.MailTo)
		syncSvc.SetDispatcher(dispatcher)
	}

	// 运行记录（可选）
	var runs handlers.RunHistory
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrated successfully")

		ledger := repository.NewLedger(db)
		syncSvc.SetLedger(ledger)
		if dispatcher != nil {
			dispatcher.SetLedger(ledger)
		}
		runs = ledger
	}

	if daemon {
		return runDaemon(ctx, cfg, logger, syncSvc, dispatcher, runs)
	}
	return runOnce(ctx, logger, syncSvc, periodChoice)
}

// initCredentials 有外部凭据时对账，否则只读本地文件
// prepareWorkspace 先取得目录锁，再对账凭据文件；锁被占用时不触碰任何文件
func prepareWorkspace(cfg *config.Config, logger *zap.Logger) (*lockfile.Lock, *credential.Store, error) {
	lock, err := lockfile.Acquire(filepath.Join(cfg.InvoiceDir, lockfile.Name))
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Lock acquired", zap.String("path", lock.Path()))

	store := credential.NewStore(cfg.AccessTokenFile, cfg.RefreshTokenFile, logger)
	if err := initCredentials(cfg, store, logger); err != nil {
		if rerr := lock.Release(); rerr != nil {
			logger.Warn("Failed to release lock", zap.Error(rerr))
		}
		return nil, nil, err
	}
	return lock, store, nil
}

func initCredentials(cfg *config.Config, store *credential.Store, logger *zap.Logger) error {
	if cfg.HasExternalCredentials() {
		logger.Info("Reconciling credentials with options file", zap.String("file", cfg.OptionsFile))
		if _, err := store.Reconcile(credential.KindAccess, cfg.ExternalAccessToken); err != nil {
			return err
		}
		if _, err := store.Reconcile(credential.KindRefresh, cfg.ExternalRefreshToken); err != nil {
			return err
		}
		return nil
	}

	if _, err := store.Load(credential.KindAccess); err != nil {
		return err
	}
	if _, err := store.Load(credential.KindRefresh); err != nil {
		return err
	}
	return nil
}

// runOnce 交互式单次同步
func runOnce(ctx context.Context, logger *zap.Logger, syncSvc *service.SyncService, choice string) error {
	if choice == "" {
		choice = promptPeriod(os.Stdin, os.Stdout)
	}
	period, err := models.ParsePeriodChoice(choice, time.Now())
	if err != nil {
		return err
	}

	result, err := syncSvc.Run(ctx, period)
	if err != nil {
		return err
	}

	fmt.Printf("Done: %d vehicle(s), %d downloaded, %d already present, %d e-mail(s) sent\n",
		result.Vehicles, result.Downloaded, result.Skipped, result.EmailsSent)
	return nil
}

// promptPeriod 询问同步周期，空输入为上个月
func promptPeriod(in io.Reader, out io.Writer) string {
	fmt.Fprintln(out, "Which invoices should be downloaded?")
	fmt.Fprintln(out, "  prev     previous month (default)")
	fmt.Fprintln(out, "  cur      current month")
	fmt.Fprintln(out, "  all      everything available")
	fmt.Fprintln(out, "  YYYY-MM  a specific month")
	fmt.Fprint(out, "> ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return strings.TrimSpace(line)
}

// runDaemon 定时同步并提供状态 API
func runDaemon(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	syncSvc *service.SyncService,
	dispatcher *service.Dispatcher,
	runs handlers.RunHistory,
) error {
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	syncSvc.SetPublisher(wsHub)
	if dispatcher != nil {
		dispatcher.SetPublisher(wsHub)
	}

	machine := state.NewRunMachine(func(from, to string) {
		logger.Info("Sync state changed", zap.String("from", from), zap.String("to", to))
	})
	scheduler := service.NewScheduler(logger, syncSvc, machine, cfg.SyncInterval)
	wsHub.SetSnapshotProvider(func() interface{} {
		return scheduler.Status()
	})

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := handlers.NewHandler(logger, scheduler, runs, wsHub)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("Server started", zap.String("addr", server.Addr))

	scheduler.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutting down...")
	scheduler.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return runErr
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
