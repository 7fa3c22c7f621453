package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/tesinvoice/internal/models"
	"github.com/langchou/tesinvoice/internal/repository"
	"github.com/langchou/tesinvoice/internal/service"
	"github.com/langchou/tesinvoice/internal/state"
	"github.com/langchou/tesinvoice/pkg/ws"
)

// SyncController 调度器的 HTTP 视图
type SyncController interface {
	Status() service.SchedulerStatus
	TriggerAsync(period models.Period) error
}

// RunHistory 运行历史（可选，需要数据库）
type RunHistory interface {
	Latest(ctx context.Context) (*models.RunResult, error)
	RunDocuments(ctx context.Context, runID string) ([]models.DownloadRecord, error)
}

// Handler HTTP 处理器
type Handler struct {
	logger    *zap.Logger
	scheduler SyncController
	runs      RunHistory
	wsHub     *ws.Hub
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// NewHandler 创建处理器，runs 可以为 nil
func NewHandler(logger *zap.Logger, scheduler SyncController, runs RunHistory, wsHub *ws.Hub) *Handler {
	return &Handler{
		logger:    logger,
		scheduler: scheduler,
		runs:      runs,
		wsHub:     wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		now: time.Now,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/status", h.GetStatus)
		api.POST("/sync", h.TriggerSync)
		api.GET("/runs/latest", h.GetLatestRun)
	}

	r.GET("/ws", h.HandleWebSocket)
	r.GET("/health", h.HealthCheck)
}

// GetStatus 当前运行状态
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.scheduler.Status()})
}

// TriggerSync 手动触发同步
// POST /api/sync?period=prev|cur|all|YYYY-MM（默认 cur）
func (h *Handler) TriggerSync(c *gin.Context) {
	choice := c.DefaultQuery("period", "cur")
	period, err := models.ParsePeriodChoice(choice, h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.scheduler.TriggerAsync(period); err != nil {
		if errors.Is(err, state.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
			return
		}
		h.logger.Error("Failed to trigger sync", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to trigger sync"})
		return
	}

	h.logger.Info("Sync triggered via API", zap.String("period", period.String()))
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Sync started",
		"period":  period.String(),
	})
}

// GetLatestRun 最近一次运行记录
func (h *Handler) GetLatestRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run history disabled"})
		return
	}

	run, err := h.runs.Latest(c.Request.Context())
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No runs recorded"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get latest run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest run"})
		return
	}

	docs, err := h.runs.RunDocuments(c.Request.Context(), run.RunID.String())
	if err != nil {
		h.logger.Error("Failed to list run documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest run"})
		return
	}
	if docs == nil {
		docs = []models.DownloadRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      run,
		"documents": docs,
	})
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"sync_state": h.scheduler.Status().State,
		"ws_clients": h.wsHub.ClientCount(),
	})
}
