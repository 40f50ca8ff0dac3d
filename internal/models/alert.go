package models

import "time"

// Variant A/B 实验分组
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
)

// Valid 是否为合法分组值
func (v Variant) Valid() bool {
	return v == VariantA || v == VariantB
}

// 告警级别上限
const MaxAlertLevel = 5

// AlertRecord 上报到远端指标服务的告警记录
// duration/timestamp 用于汇总上报，started_at/ended_at 用于开始/结束括号式上报
type AlertRecord struct {
	AlertLevel   int      `json:"alertLevel"`
	AlertVariant Variant  `json:"alertVariant"`
	Duration     *float64 `json:"duration,omitempty"` // 秒
	Timestamp    string   `json:"timestamp,omitempty"`
	StartedAt    *string  `json:"started_at,omitempty"`
	EndedAt      *string  `json:"ended_at,omitempty"`
}

// VariantStats 单个分组的本地告警缓存项
type VariantStats struct {
	Count       int     `json:"count"`
	AvgDuration float64 `json:"avgDuration"`
}

// AlertMetricsCache 按分组聚合的本地告警缓存，存于 KV
type AlertMetricsCache struct {
	VariantA VariantStats `json:"variantA"`
	VariantB VariantStats `json:"variantB"`
}

// Add 以滑动均值方式记录一次告警时长
func (c *AlertMetricsCache) Add(variant Variant, duration float64) {
	stats := &c.VariantA
	if variant == VariantB {
		stats = &c.VariantB
	}
	stats.AvgDuration = (stats.AvgDuration*float64(stats.Count) + duration) / float64(stats.Count+1)
	stats.Count++
}

// AlertEvent 指标服务端的单条告警事件（drivesafe_alerts 表）
type AlertEvent struct {
	ID           int64      `json:"id"`
	DeviceID     string     `json:"device_id"`
	AlertLevel   int        `json:"alert_level"`
	AlertVariant string     `json:"alert_variant"`
	Duration     *float64   `json:"duration"`
	StartedAt    *time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AlertRollup 指标服务端按 (设备, 分组) 的汇总（alert_metrics 表）
type AlertRollup struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	AlertVariant string    `json:"alert_variant"`
	AlertCount   int       `json:"alert_count"`
	AvgDuration  float64   `json:"avg_duration"`
	LastOccurred time.Time `json:"last_occurred"`
}
