package metrics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// formatDate 格式化为 YYYY-MM-DD（设备本地日历）
func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// weekID ISO 年-周标识，YYYY-Www
// ISO-8601 周归属由该周的周四决定（Thursday-anchored）
func weekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// previousWeekID 上一 ISO 周的标识
// 第 1 周回退到上一年的 W52
func previousWeekID(id string) string {
	parts := strings.SplitN(id, "-W", 2)
	if len(parts) != 2 {
		return ""
	}
	year, _ := strconv.Atoi(parts[0])
	week, _ := strconv.Atoi(parts[1])

	if week == 1 {
		return fmt.Sprintf("%d-W52", year-1)
	}
	return fmt.Sprintf("%d-W%02d", year, week-1)
}

// weekBounds 包含 t 的自然周边界：周一到周日
func weekBounds(t time.Time) (startDate, endDate string) {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // 周日按 7 处理
	}
	start := t.AddDate(0, 0, -(weekday - 1))
	end := t.AddDate(0, 0, 7-weekday)
	return formatDate(start), formatDate(end)
}

// FormatDuration 秒数转为可读时长
func FormatDuration(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", int(math.Round(seconds)))
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", int(seconds/60), int(math.Round(math.Mod(seconds, 60))))
	}
	hours := int(seconds / 3600)
	minutes := int(math.Mod(seconds, 3600) / 60)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
