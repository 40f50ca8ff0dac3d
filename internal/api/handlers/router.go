package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/metrics"
	"github.com/langchou/drivesentry/internal/service"
	"github.com/langchou/drivesentry/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	monitor  *service.Monitor
	metrics  *metrics.Manager
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	monitor *service.Monitor,
	metricsMgr *metrics.Manager,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:  logger,
		monitor: monitor,
		metrics: metricsMgr,
		wsHub:   wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 实时状态与控制
		api.GET("/state", h.GetState)
		api.POST("/passenger", h.SetPassenger)
		api.POST("/handling/toggle", h.TogglePhoneHandling)
		api.POST("/visibility", h.SetVisibility)

		// 驾驶统计
		api.GET("/metrics/today", h.GetTodayMetrics)
		api.GET("/metrics/yesterday", h.GetYesterdayMetrics)
		api.GET("/metrics/week", h.GetWeekMetrics)
		api.GET("/metrics/streaks", h.GetStreakMetrics)
		api.GET("/metrics/comparison", h.GetComparison)
		api.GET("/metrics/protected", h.GetProtectedTime)
		api.GET("/metrics/distraction", h.GetDistraction)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
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

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
