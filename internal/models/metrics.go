package models

import "time"

// 数据保留上限
const (
	// MaxSessions 本地存储的最大会话数，超出后丢弃最旧的
	MaxSessions = 100
	// MaxDailyMetricsDays 每日统计保留的最近天数
	MaxDailyMetricsDays = 30
)

// DrivingSession 驾驶会话
type DrivingSession struct {
	ID                    string    `json:"id"`
	StartTime             time.Time `json:"startTime"`
	EndTime               time.Time `json:"endTime"`
	TotalDuration         float64   `json:"totalDuration"`         // 秒
	PhoneHandlingDuration float64   `json:"phoneHandlingDuration"` // 秒
	AlertsTriggered       int       `json:"alertsTriggered"`
	AverageResponseTime   float64   `json:"averageResponseTime"` // 秒
	CleanDrive            bool      `json:"cleanDrive"`          // 无任何分心操作
}

// Open 会话是否仍在进行中
func (s *DrivingSession) Open() bool {
	return s.EndTime.IsZero()
}

// DailyMetrics 每日统计，按设备本地日历日期（YYYY-MM-DD）聚合
type DailyMetrics struct {
	Date                string  `json:"date"`
	TotalDrivingTime    float64 `json:"totalDrivingTime"` // 秒
	TotalHandlingTime   float64 `json:"totalHandlingTime"` // 秒
	AlertCount          int     `json:"alertCount"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	SessionCount        int     `json:"sessionCount"`
	CleanDrives         int     `json:"cleanDrives"`
}

// HandlingRatio 分心时长占驾驶时长的比例，无驾驶数据时返回 0
func (d *DailyMetrics) HandlingRatio() float64 {
	if d.TotalDrivingTime <= 0 {
		return 0
	}
	return d.TotalHandlingTime / d.TotalDrivingTime
}

// WeeklyMetrics 每周统计，按 ISO 年-周（YYYY-Www）聚合
// 每次会话结束时由当周的每日统计全量重算
type WeeklyMetrics struct {
	WeekID                string   `json:"weekId"`
	StartDate             string   `json:"startDate"` // 周一
	EndDate               string   `json:"endDate"`   // 周日
	TotalDrivingTime      float64  `json:"totalDrivingTime"`
	TotalHandlingTime     float64  `json:"totalHandlingTime"`
	AlertCount            int      `json:"alertCount"`
	AverageResponseTime   float64  `json:"averageResponseTime"`
	SessionCount          int      `json:"sessionCount"`
	CleanDrives           int      `json:"cleanDrives"`
	BestDay               *string  `json:"bestDay"`               // 分心比例最低的一天
	ImprovementPercentage *float64 `json:"improvementPercentage"` // 相对上一 ISO 周
}

// Milestone 下一个待达成的里程碑
type Milestone struct {
	Type        string `json:"type"`
	Value       int    `json:"value"`
	Description string `json:"description"`
}

// StreakMilestones 里程碑达成记录
type StreakMilestones struct {
	Reached []string   `json:"reached"`
	Next    *Milestone `json:"next"`
}

// StreakMetrics 连续改善天数统计
type StreakMetrics struct {
	CurrentStreak    int              `json:"currentStreak"`
	BestStreak       int              `json:"bestStreak"`
	LastImprovedDate *string          `json:"lastImprovedDate"`
	Milestones       StreakMilestones `json:"milestones"`
}

// MetricsData 设备级统计根聚合，整体序列化后落盘
type MetricsData struct {
	Sessions      []*DrivingSession         `json:"sessions"`
	DailyMetrics  map[string]*DailyMetrics  `json:"dailyMetrics"`
	WeeklyMetrics map[string]*WeeklyMetrics `json:"weeklyMetrics"`
	Streaks       StreakMetrics             `json:"streaks"`
	LastUpdated   time.Time                 `json:"lastUpdated"`
}

// Comparison 今日与昨日的对比结果
type Comparison struct {
	DrivingTimeDiff   float64 `json:"drivingTimeDiff"`
	HandlingTimeDiff  float64 `json:"handlingTimeDiff"`
	AlertCountDiff    int     `json:"alertCountDiff"`
	ResponseTimeDiff  float64 `json:"responseTimeDiff"`
	HandlingRatioDiff float64 `json:"handlingRatioDiff"`
	IsImproved        bool    `json:"isImproved"`
}

// Scope 统计查询的时间范围
type Scope string

const (
	ScopeToday Scope = "today"
	ScopeWeek  Scope = "week"
	ScopeTotal Scope = "total"
)
