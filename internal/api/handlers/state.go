package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetState 获取组合状态快照
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.monitor.State()})
}

// SetPassenger 设置乘客模式
// POST /api/passenger
func (h *Handler) SetPassenger(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	h.monitor.SetPassenger(req.Enabled)
	h.logger.Info("Passenger mode set via API", zap.Bool("enabled", req.Enabled))
	c.JSON(http.StatusOK, gin.H{"data": h.monitor.State()})
}

// TogglePhoneHandling 手动切换操作状态
// POST /api/handling/toggle
// 运动传感器不可用时的唯一控制手段
func (h *Handler) TogglePhoneHandling(c *gin.Context) {
	h.monitor.TogglePhoneHandling()
	c.JSON(http.StatusOK, gin.H{"data": h.monitor.State()})
}

// SetVisibility 前后台切换
// POST /api/visibility
func (h *Handler) SetVisibility(c *gin.Context) {
	var req struct {
		Foreground bool `json:"foreground"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	h.monitor.SetForeground(req.Foreground)
	c.JSON(http.StatusOK, gin.H{"data": h.monitor.State()})
}
