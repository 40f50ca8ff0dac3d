package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/models"
	"github.com/langchou/drivesentry/internal/storage"
)

// KV 存储键
const (
	metricsKey    = "driveSafeMetrics"
	alertCacheKey = "alertMetrics"
)

var streakMilestones = []int{1, 3, 5, 7, 14, 30, 60, 90}

// Manager 驾驶统计管理器
// 所有数据先在内存中更新，再整体序列化写回 KV，写失败只记日志不回滚
type Manager struct {
	logger *zap.Logger
	kv     storage.KV

	mu   sync.Mutex
	data *models.MetricsData
	now  func() time.Time
}

// NewManager 创建统计管理器并从 KV 加载历史数据
func NewManager(logger *zap.Logger, kv storage.KV) *Manager {
	m := &Manager{
		logger: logger,
		kv:     kv,
		now:    time.Now,
	}
	m.data = m.load()
	m.mu.Lock()
	m.ensureTodayLocked()
	m.mu.Unlock()
	return m
}

// SetNow 注入时钟，仅用于测试
func (m *Manager) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func defaultData(now time.Time) *models.MetricsData {
	return &models.MetricsData{
		Sessions:      []*models.DrivingSession{},
		DailyMetrics:  map[string]*models.DailyMetrics{},
		WeeklyMetrics: map[string]*models.WeeklyMetrics{},
		Streaks: models.StreakMetrics{
			Milestones: models.StreakMilestones{
				Reached: []string{},
				Next: &models.Milestone{
					Type:        "streak",
					Value:       1,
					Description: "1 day of safer driving",
				},
			},
		},
		LastUpdated: now,
	}
}

// load 从 KV 加载数据，缺失或损坏时返回全新的默认数据
func (m *Manager) load() *models.MetricsData {
	raw, ok, err := m.kv.Get(metricsKey)
	if err != nil {
		m.logger.Error("failed to load metrics data", zap.Error(err))
		return defaultData(m.now())
	}
	if !ok {
		return defaultData(m.now())
	}

	var data models.MetricsData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		m.logger.Error("corrupt metrics data, starting fresh", zap.Error(err))
		return defaultData(m.now())
	}
	if data.DailyMetrics == nil {
		data.DailyMetrics = map[string]*models.DailyMetrics{}
	}
	if data.WeeklyMetrics == nil {
		data.WeeklyMetrics = map[string]*models.WeeklyMetrics{}
	}
	return &data
}

// saveLocked 整体写回 KV，调用方需持有锁
func (m *Manager) saveLocked() {
	m.data.LastUpdated = m.now()
	raw, err := json.Marshal(m.data)
	if err != nil {
		m.logger.Error("failed to marshal metrics data", zap.Error(err))
		return
	}
	if err := m.kv.Set(metricsKey, string(raw)); err != nil {
		m.logger.Error("failed to save metrics data", zap.Error(err))
	}
}

// ensureTodayLocked 确保今天的每日统计存在
func (m *Manager) ensureTodayLocked() *models.DailyMetrics {
	today := formatDate(m.now())
	daily, ok := m.data.DailyMetrics[today]
	if !ok {
		daily = &models.DailyMetrics{Date: today}
		m.data.DailyMetrics[today] = daily
		m.saveLocked()
	}
	return daily
}

// StartDrivingSession 开始一次驾驶会话并返回会话 ID
// 同一时刻最多一个进行中的会话，重复调用返回已有会话的 ID
func (m *Manager) StartDrivingSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.data.Sessions) - 1; i >= 0; i-- {
		if m.data.Sessions[i].Open() {
			m.logger.Warn("driving session already open",
				zap.String("session_id", m.data.Sessions[i].ID))
			return m.data.Sessions[i].ID
		}
	}

	session := &models.DrivingSession{
		ID:         uuid.NewString(),
		StartTime:  m.now(),
		CleanDrive: true,
	}
	m.data.Sessions = append(m.data.Sessions, session)
	m.cleanupLocked()
	m.saveLocked()

	m.logger.Info("driving session started", zap.String("session_id", session.ID))
	return session.ID
}

// EndDrivingSession 结束驾驶会话并结算每日/每周/连续天数统计
// 未知的会话 ID 只记日志，不做任何修改
func (m *Manager) EndDrivingSession(sessionID string, phoneHandlingDuration float64, alertsTriggered int, averageResponseTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var session *models.DrivingSession
	for _, s := range m.data.Sessions {
		if s.ID == sessionID {
			session = s
			break
		}
	}
	if session == nil {
		m.logger.Error("driving session not found", zap.String("session_id", sessionID))
		return
	}
	if !session.Open() {
		m.logger.Warn("driving session already ended", zap.String("session_id", sessionID))
		return
	}

	now := m.now()
	totalDuration := now.Sub(session.StartTime).Seconds()

	session.EndTime = now
	session.TotalDuration = totalDuration
	session.PhoneHandlingDuration = phoneHandlingDuration
	session.AlertsTriggered = alertsTriggered
	session.AverageResponseTime = averageResponseTime
	session.CleanDrive = phoneHandlingDuration == 0

	daily := m.ensureTodayLocked()
	daily.TotalDrivingTime += totalDuration
	daily.TotalHandlingTime += phoneHandlingDuration
	daily.AlertCount += alertsTriggered
	daily.SessionCount++
	if session.CleanDrive {
		daily.CleanDrives++
	}

	// 加权合并会话的平均响应时间
	if alertsTriggered > 0 {
		totalResponseTime := averageResponseTime * float64(alertsTriggered)
		previousTotalTime := daily.AverageResponseTime * float64(daily.AlertCount-alertsTriggered)
		daily.AverageResponseTime = (previousTotalTime + totalResponseTime) / float64(daily.AlertCount)
	}

	m.updateWeeklyLocked()
	m.updateStreaksLocked()
	m.cleanupLocked()
	m.saveLocked()

	m.logger.Info("driving session ended",
		zap.String("session_id", sessionID),
		zap.Float64("duration_sec", totalDuration),
		zap.Float64("handling_sec", phoneHandlingDuration),
		zap.Int("alerts", alertsTriggered),
		zap.Bool("clean_drive", session.CleanDrive))
}

// RecordAlert 实时记录一次告警及其响应时间
func (m *Manager) RecordAlert(responseTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	daily := m.ensureTodayLocked()
	daily.AlertCount++
	previousTotalTime := daily.AverageResponseTime * float64(daily.AlertCount-1)
	daily.AverageResponseTime = (previousTotalTime + responseTime) / float64(daily.AlertCount)

	m.saveLocked()
}

// RecordAlertOutcome 告警解除后把结果写入本地 A/B 缓存
func (m *Manager) RecordAlertOutcome(variant models.Variant, duration float64, level int) {
	var cache models.AlertMetricsCache
	raw, ok, err := m.kv.Get(alertCacheKey)
	if err != nil {
		m.logger.Error("failed to load alert cache", zap.Error(err))
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &cache); err != nil {
			m.logger.Error("corrupt alert cache, resetting", zap.Error(err))
			cache = models.AlertMetricsCache{}
		}
	}

	cache.Add(variant, duration)

	out, err := json.Marshal(&cache)
	if err != nil {
		m.logger.Error("failed to marshal alert cache", zap.Error(err))
		return
	}
	if err := m.kv.Set(alertCacheKey, string(out)); err != nil {
		m.logger.Error("failed to save alert cache", zap.Error(err))
	}

	m.logger.Debug("alert outcome recorded",
		zap.String("variant", string(variant)),
		zap.Float64("duration_sec", duration),
		zap.Int("level", level))
}

// updateWeeklyLocked 由当周的每日统计全量重算本周汇总
func (m *Manager) updateWeeklyLocked() {
	now := m.now()
	currentWeekID := weekID(now)

	week, ok := m.data.WeeklyMetrics[currentWeekID]
	if !ok {
		startDate, endDate := weekBounds(now)
		week = &models.WeeklyMetrics{
			WeekID:    currentWeekID,
			StartDate: startDate,
			EndDate:   endDate,
		}
		m.data.WeeklyMetrics[currentWeekID] = week
	}

	week.TotalDrivingTime = 0
	week.TotalHandlingTime = 0
	week.AlertCount = 0
	week.SessionCount = 0
	week.CleanDrives = 0

	totalAlertCount := 0
	totalResponseTime := 0.0
	bestRatio := -1.0
	var bestDay *string

	for _, daily := range m.data.DailyMetrics {
		if daily.Date < week.StartDate || daily.Date > week.EndDate {
			continue
		}
		week.TotalDrivingTime += daily.TotalDrivingTime
		week.TotalHandlingTime += daily.TotalHandlingTime
		week.AlertCount += daily.AlertCount
		week.SessionCount += daily.SessionCount
		week.CleanDrives += daily.CleanDrives

		if daily.AlertCount > 0 {
			totalAlertCount += daily.AlertCount
			totalResponseTime += daily.AverageResponseTime * float64(daily.AlertCount)
		}

		// 分心比例最低的一天为最佳
		if daily.TotalDrivingTime > 0 {
			ratio := daily.TotalHandlingTime / daily.TotalDrivingTime
			if bestRatio == -1 || ratio < bestRatio {
				bestRatio = ratio
				date := daily.Date
				bestDay = &date
			}
		}
	}

	if totalAlertCount > 0 {
		week.AverageResponseTime = totalResponseTime / float64(totalAlertCount)
	} else {
		week.AverageResponseTime = 0
	}
	week.BestDay = bestDay

	// 与上一 ISO 周的分心比例对比，正值表示改善
	previous, ok := m.data.WeeklyMetrics[previousWeekID(currentWeekID)]
	if ok && previous.TotalDrivingTime > 0 && week.TotalDrivingTime > 0 {
		currentRatio := week.TotalHandlingTime / week.TotalDrivingTime
		previousRatio := previous.TotalHandlingTime / previous.TotalDrivingTime
		if previousRatio > 0 {
			improvement := (previousRatio - currentRatio) / previousRatio * 100
			week.ImprovementPercentage = &improvement
		}
	}
}

// updateStreaksLocked 根据今昨两日的分心比例更新连续改善天数
func (m *Manager) updateStreaksLocked() {
	now := m.now()
	today := formatDate(now)
	yesterday := formatDate(now.AddDate(0, 0, -1))

	todayMetrics := m.data.DailyMetrics[today]
	yesterdayMetrics := m.data.DailyMetrics[yesterday]
	if todayMetrics == nil {
		return
	}

	improved := false
	if yesterdayMetrics != nil && todayMetrics.TotalDrivingTime > 0 && yesterdayMetrics.TotalDrivingTime > 0 {
		improved = todayMetrics.HandlingRatio() < yesterdayMetrics.HandlingRatio()
	} else if todayMetrics.TotalDrivingTime > 0 {
		// 昨天没有数据但今天开了车，视为改善
		improved = true
	}

	streaks := &m.data.Streaks
	if improved {
		if streaks.LastImprovedDate != nil && *streaks.LastImprovedDate == yesterday {
			streaks.CurrentStreak++
		} else {
			streaks.CurrentStreak = 1
		}
		streaks.LastImprovedDate = &today
		if streaks.CurrentStreak > streaks.BestStreak {
			streaks.BestStreak = streaks.CurrentStreak
		}
		m.checkMilestonesLocked()
	} else if todayMetrics.TotalDrivingTime > 0 {
		streaks.CurrentStreak = 0
	}
}

// checkMilestonesLocked 补记已达成的里程碑并刷新下一个目标
func (m *Manager) checkMilestonesLocked() {
	streaks := &m.data.Streaks

	for _, milestone := range streakMilestones {
		key := milestoneKey(milestone)
		if streaks.CurrentStreak >= milestone && !contains(streaks.Milestones.Reached, key) {
			streaks.Milestones.Reached = append(streaks.Milestones.Reached, key)
			m.logger.Info("streak milestone reached", zap.String("milestone", key))
		}
	}

	streaks.Milestones.Next = nil
	for _, milestone := range streakMilestones {
		if streaks.CurrentStreak < milestone {
			streaks.Milestones.Next = &models.Milestone{
				Type:        "streak",
				Value:       milestone,
				Description: milestoneDescription(milestone),
			}
			break
		}
	}
}

// cleanupLocked 修剪历史数据：最多 100 个会话、最近 30 天的每日统计
func (m *Manager) cleanupLocked() {
	if len(m.data.Sessions) > models.MaxSessions {
		m.data.Sessions = m.data.Sessions[len(m.data.Sessions)-models.MaxSessions:]
	}

	if len(m.data.DailyMetrics) > models.MaxDailyMetricsDays {
		dates := make([]string, 0, len(m.data.DailyMetrics))
		for date := range m.data.DailyMetrics {
			dates = append(dates, date)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(dates)))
		for _, date := range dates[models.MaxDailyMetricsDays:] {
			delete(m.data.DailyMetrics, date)
		}
	}
}

// GetTodayMetrics 今日统计，当天还没有数据时返回全零项
func (m *Manager) GetTodayMetrics() models.DailyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ensureTodayLocked()
}

// GetYesterdayMetrics 昨日统计，没有数据时返回 nil
func (m *Manager) GetYesterdayMetrics() *models.DailyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	yesterday := formatDate(m.now().AddDate(0, 0, -1))
	daily, ok := m.data.DailyMetrics[yesterday]
	if !ok {
		return nil
	}
	copied := *daily
	return &copied
}

// GetCurrentWeekMetrics 本周统计，重算后返回最新值
func (m *Manager) GetCurrentWeekMetrics() *models.WeeklyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateWeeklyLocked()
	week, ok := m.data.WeeklyMetrics[weekID(m.now())]
	if !ok {
		return nil
	}
	copied := *week
	return &copied
}

// GetStreakMetrics 连续改善天数统计
func (m *Manager) GetStreakMetrics() models.StreakMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	streaks := m.data.Streaks
	streaks.Milestones.Reached = append([]string(nil), streaks.Milestones.Reached...)
	if streaks.Milestones.Next != nil {
		next := *streaks.Milestones.Next
		streaks.Milestones.Next = &next
	}
	return streaks
}

// GetTodayVsYesterdayComparison 今昨对比，昨天没有驾驶数据时返回 nil
func (m *Manager) GetTodayVsYesterdayComparison() *models.Comparison {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.ensureTodayLocked()
	yesterday := m.data.DailyMetrics[formatDate(m.now().AddDate(0, 0, -1))]
	if yesterday == nil || yesterday.TotalDrivingTime == 0 {
		return nil
	}

	todayDriving := today.TotalDrivingTime
	if todayDriving == 0 {
		todayDriving = 1
	}
	todayRatio := today.TotalHandlingTime / todayDriving
	yesterdayRatio := yesterday.TotalHandlingTime / yesterday.TotalDrivingTime

	return &models.Comparison{
		DrivingTimeDiff:   today.TotalDrivingTime - yesterday.TotalDrivingTime,
		HandlingTimeDiff:  today.TotalHandlingTime - yesterday.TotalHandlingTime,
		AlertCountDiff:    today.AlertCount - yesterday.AlertCount,
		ResponseTimeDiff:  today.AverageResponseTime - yesterday.AverageResponseTime,
		HandlingRatioDiff: todayRatio - yesterdayRatio,
		IsImproved:        todayRatio < yesterdayRatio,
	}
}

// GetProtectedDrivingTime 未分心驾驶时长（秒）
func (m *Manager) GetProtectedDrivingTime(scope models.Scope) float64 {
	switch scope {
	case models.ScopeWeek:
		week := m.GetCurrentWeekMetrics()
		if week == nil {
			return 0
		}
		return week.TotalDrivingTime - week.TotalHandlingTime
	case models.ScopeTotal:
		m.mu.Lock()
		defer m.mu.Unlock()
		totalDriving, totalHandling := 0.0, 0.0
		for _, daily := range m.data.DailyMetrics {
			totalDriving += daily.TotalDrivingTime
			totalHandling += daily.TotalHandlingTime
		}
		return totalDriving - totalHandling
	default:
		today := m.GetTodayMetrics()
		return today.TotalDrivingTime - today.TotalHandlingTime
	}
}

// GetDistractionPercentage 分心时长占驾驶时长的百分比，越低越好
func (m *Manager) GetDistractionPercentage(scope models.Scope) float64 {
	switch scope {
	case models.ScopeWeek:
		week := m.GetCurrentWeekMetrics()
		if week == nil || week.TotalDrivingTime == 0 {
			return 0
		}
		return week.TotalHandlingTime / week.TotalDrivingTime * 100
	case models.ScopeTotal:
		m.mu.Lock()
		defer m.mu.Unlock()
		totalDriving, totalHandling := 0.0, 0.0
		for _, daily := range m.data.DailyMetrics {
			totalDriving += daily.TotalDrivingTime
			totalHandling += daily.TotalHandlingTime
		}
		if totalDriving == 0 {
			return 0
		}
		return totalHandling / totalDriving * 100
	default:
		today := m.GetTodayMetrics()
		if today.TotalDrivingTime == 0 {
			return 0
		}
		return today.TotalHandlingTime / today.TotalDrivingTime * 100
	}
}

// Sessions 会话列表的拷贝
func (m *Manager) Sessions() []models.DrivingSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.DrivingSession, len(m.data.Sessions))
	for i, s := range m.data.Sessions {
		out[i] = *s
	}
	return out
}

func milestoneKey(days int) string {
	return fmt.Sprintf("streak_%d_days", days)
}

func milestoneDescription(days int) string {
	if days > 1 {
		return fmt.Sprintf("%d days of safer driving", days)
	}
	return fmt.Sprintf("%d day of safer driving", days)
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
