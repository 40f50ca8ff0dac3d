package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/models"
	"github.com/langchou/drivesentry/internal/repository"
)

// SinkHandler 指标汇聚服务的 HTTP 处理器
type SinkHandler struct {
	logger    *zap.Logger
	alertRepo *repository.AlertRepository
}

// NewSinkHandler 创建指标汇聚处理器
func NewSinkHandler(logger *zap.Logger, alertRepo *repository.AlertRepository) *SinkHandler {
	return &SinkHandler{
		logger:    logger,
		alertRepo: alertRepo,
	}
}

// RegisterRoutes 注册路由
func (h *SinkHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/alert-metrics", h.RecordAlert)
		api.GET("/alert-metrics/summary", h.GetSummary)
		api.GET("/alert-metrics/events", h.ListEvents)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// alertMetricsRequest 设备端上报的告警记录
type alertMetricsRequest struct {
	AlertLevel   int      `json:"alertLevel"`
	AlertVariant string   `json:"alertVariant"`
	Duration     *float64 `json:"duration"`
	Timestamp    string   `json:"timestamp"`
	StartedAt    *string  `json:"started_at"`
	EndedAt      *string  `json:"ended_at"`
}

// RecordAlert 接收单条告警记录并更新汇总
// POST /api/alert-metrics
func (h *SinkHandler) RecordAlert(c *gin.Context) {
	var req alertMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.AlertLevel == 0 || !models.Variant(req.AlertVariant).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	deviceID := c.GetHeader("X-Device-ID")
	if deviceID == "" {
		deviceID = "unknown"
	}

	event := &models.AlertEvent{
		DeviceID:     deviceID,
		AlertLevel:   req.AlertLevel,
		AlertVariant: req.AlertVariant,
		Duration:     req.Duration,
		StartedAt:    parseTimestamp(req.StartedAt),
		EndedAt:      parseTimestamp(req.EndedAt),
	}
	if ts := parseTimestamp(&req.Timestamp); ts != nil {
		event.CreatedAt = *ts
	}

	if err := h.alertRepo.CreateEvent(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to log alert event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log alert event"})
		return
	}

	// 汇总更新失败不影响上报结果
	if err := h.alertRepo.UpsertRollup(c.Request.Context(), deviceID, req.AlertVariant, req.Duration); err != nil {
		h.logger.Error("Failed to update aggregated metrics", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSummary 按分组列出汇总
// GET /api/alert-metrics/summary?device_id=...
func (h *SinkHandler) GetSummary(c *gin.Context) {
	deviceID := c.Query("device_id")

	rollups, err := h.alertRepo.ListRollups(c.Request.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to list rollups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rollups})
}

// ListEvents 列出设备最近的告警事件
// GET /api/alert-metrics/events?device_id=...&limit=...
func (h *SinkHandler) ListEvents(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.alertRepo.ListEvents(c.Request.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to list alert events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}

// parseTimestamp RFC3339 时间解析，空值或非法值返回 nil
func parseTimestamp(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *value)
	if err != nil {
		return nil
	}
	return &t
}
