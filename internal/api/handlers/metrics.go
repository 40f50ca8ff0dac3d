package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langchou/drivesentry/internal/metrics"
	"github.com/langchou/drivesentry/internal/models"
)

// GetTodayMetrics 今日统计
func (h *Handler) GetTodayMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.metrics.GetTodayMetrics()})
}

// GetYesterdayMetrics 昨日统计
func (h *Handler) GetYesterdayMetrics(c *gin.Context) {
	yesterday := h.metrics.GetYesterdayMetrics()
	if yesterday == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No metrics for yesterday"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": yesterday})
}

// GetWeekMetrics 本周统计
func (h *Handler) GetWeekMetrics(c *gin.Context) {
	week := h.metrics.GetCurrentWeekMetrics()
	if week == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No metrics for current week"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": week})
}

// GetStreakMetrics 连续改善天数统计
func (h *Handler) GetStreakMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.metrics.GetStreakMetrics()})
}

// GetComparison 今昨对比，昨日无驾驶数据时返回 204
func (h *Handler) GetComparison(c *gin.Context) {
	comparison := h.metrics.GetTodayVsYesterdayComparison()
	if comparison == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": comparison})
}

// GetProtectedTime 未分心驾驶时长
// GET /api/metrics/protected?scope=today|week|total
func (h *Handler) GetProtectedTime(c *gin.Context) {
	scope, ok := parseScope(c)
	if !ok {
		return
	}
	seconds := h.metrics.GetProtectedDrivingTime(scope)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"scope":     scope,
		"seconds":   seconds,
		"formatted": metrics.FormatDuration(seconds),
	}})
}

// GetDistraction 分心百分比
// GET /api/metrics/distraction?scope=today|week|total
func (h *Handler) GetDistraction(c *gin.Context) {
	scope, ok := parseScope(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"scope":      scope,
		"percentage": h.metrics.GetDistractionPercentage(scope),
	}})
}

// parseScope 解析 scope 参数，默认 today
func parseScope(c *gin.Context) (models.Scope, bool) {
	scope := models.Scope(c.DefaultQuery("scope", string(models.ScopeToday)))
	switch scope {
	case models.ScopeToday, models.ScopeWeek, models.ScopeTotal:
		return scope, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scope, expected today|week|total"})
		return "", false
	}
}
