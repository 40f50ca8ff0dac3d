package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/alert"
	"github.com/langchou/drivesentry/internal/config"
	"github.com/langchou/drivesentry/internal/events"
	"github.com/langchou/drivesentry/internal/metrics"
	"github.com/langchou/drivesentry/internal/models"
	"github.com/langchou/drivesentry/internal/sensor"
	"github.com/langchou/drivesentry/pkg/ws"
)

// Monitor 驾驶监控服务
// 组合运动采样、驾驶检测、告警状态机和统计管理，
// 负责会话生命周期、事件发布和状态广播
type Monitor struct {
	cfg       *config.Config
	logger    *zap.Logger
	sampler   *sensor.MotionSampler
	detector  *sensor.DrivingDetector
	escalator *alert.Escalator
	metrics   *metrics.Manager
	bus       *events.Bus
	wsHub     *ws.Hub

	mu          sync.Mutex
	running     bool
	subscribers []chan models.DriveSafeState

	// 当前会话的累计量
	sessionID     string
	sessionAlerts int
	responseTimes []float64
	handlingSecs  float64
	handlingSince time.Time // 零值表示当前未在累计操作时长

	// 上一次观测值，用于沿检测
	wasDriving  bool
	wasHandling bool
	isPassenger bool

	now func() time.Time
}

// NewMonitor 创建驾驶监控服务
func NewMonitor(
	cfg *config.Config,
	logger *zap.Logger,
	sampler *sensor.MotionSampler,
	detector *sensor.DrivingDetector,
	escalator *alert.Escalator,
	metricsMgr *metrics.Manager,
	bus *events.Bus,
	wsHub *ws.Hub,
) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		logger:    logger,
		sampler:   sampler,
		detector:  detector,
		escalator: escalator,
		metrics:   metricsMgr,
		bus:       bus,
		wsHub:     wsHub,
		now:       time.Now,
	}

	sampler.SetOnUpdate(m.refresh)
	detector.SetOnUpdate(m.refresh)

	// 所有激活路径（传感器沿、乘客模式关闭）都经过这一处计数
	bus.Subscribe(models.EventAlertActivated, func(models.Event) {
		m.mu.Lock()
		m.sessionAlerts++
		m.mu.Unlock()
	})

	// 所有领域事件同时转发到 WebSocket
	if wsHub != nil {
		bus.SubscribeAll(func(e models.Event) {
			wsHub.BroadcastEvent(string(e.Kind()), e)
		})
		wsHub.SetInitDataProvider(func() interface{} {
			state := m.State()
			return &state
		})
	}

	return m
}

// Start 启动监控
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Info("Monitor already running, skipping start")
		return nil
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info("Starting drive monitor",
		zap.String("variant", string(m.escalator.Variant())),
		zap.Bool("sensor_available", m.sampler.SensorAvailable()))

	m.sampler.Start()
	m.detector.Start()

	m.broadcastState()
	return nil
}

// Stop 停止监控，结算进行中的告警和会话
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping drive monitor")

	m.detector.Stop()
	m.sampler.Stop()
	m.escalator.Stop()

	// 结算未结束的会话
	m.mu.Lock()
	sessionID := m.sessionID
	if sessionID != "" {
		if !m.handlingSince.IsZero() {
			m.handlingSecs += m.now().Sub(m.handlingSince).Seconds()
			m.handlingSince = time.Time{}
		}
		m.sessionID = ""
	}
	handlingSecs := m.handlingSecs
	alerts := m.sessionAlerts
	avg := mean(m.responseTimes)
	m.wasDriving = false
	m.mu.Unlock()

	if sessionID != "" {
		m.metrics.EndDrivingSession(sessionID, handlingSecs, alerts, avg)
	}

	m.logger.Info("Drive monitor stopped")
}

// refresh 任一传感器状态变化后的统一重评估入口
func (m *Monitor) refresh() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	driving := m.detector.IsDriving()
	handling := m.sampler.Handling()
	passenger := m.isPassenger
	now := m.now()

	var pending []models.Event
	var responseTime *float64
	var startSession bool
	var endSessionID string
	var endHandling, endAvg float64
	var endAlerts int

	// 先处理操作沿，再处理驾驶沿，与事件的自然顺序一致
	if handling != m.wasHandling {
		if handling {
			pending = append(pending, models.PhonePickedUp{SensorData: m.sampler.LastSample()})
			if m.wasDriving {
				m.handlingSince = now
			}
		} else {
			// 告警期间放下手机，间隔即响应时间
			if m.escalator.Active() {
				rt := now.Sub(m.escalator.StartTime()).Seconds()
				m.responseTimes = append(m.responseTimes, rt)
				responseTime = &rt
			}
			if !m.handlingSince.IsZero() {
				m.handlingSecs += now.Sub(m.handlingSince).Seconds()
				m.handlingSince = time.Time{}
			}
			pending = append(pending, models.PhonePutDown{})
		}
		m.wasHandling = handling
	}

	if driving != m.wasDriving {
		if driving {
			startSession = true
			m.sessionAlerts = 0
			m.responseTimes = nil
			m.handlingSecs = 0
			if handling {
				m.handlingSince = now
			}
			pending = append(pending, models.DrivingStarted{Speed: m.detector.CurrentSpeed()})
		} else {
			if !m.handlingSince.IsZero() {
				m.handlingSecs += now.Sub(m.handlingSince).Seconds()
				m.handlingSince = time.Time{}
			}
			endSessionID = m.sessionID
			endHandling = m.handlingSecs
			endAlerts = m.sessionAlerts
			endAvg = mean(m.responseTimes)
			m.sessionID = ""
			pending = append(pending, models.DrivingStopped{})

			// 驾驶结束后乘客模式自动失效
			if passenger {
				m.isPassenger = false
				passenger = false
				pending = append(pending, models.PassengerModeDisabled{})
			}
		}
		m.wasDriving = driving
	}
	m.mu.Unlock()

	if responseTime != nil {
		m.metrics.RecordAlert(*responseTime)
	}
	if startSession {
		id := m.metrics.StartDrivingSession()
		m.mu.Lock()
		m.sessionID = id
		m.mu.Unlock()
	}
	if endSessionID != "" {
		m.metrics.EndDrivingSession(endSessionID, endHandling, endAlerts, endAvg)
	}

	// 先发布传感器沿事件，再驱动告警状态机，保持拿起→激活的自然顺序
	for _, e := range pending {
		m.bus.Publish(e)
	}

	m.escalator.Update(driving, handling, passenger)
	m.broadcastState()
}

// SetPassenger 设置乘客模式
func (m *Monitor) SetPassenger(enabled bool) {
	m.mu.Lock()
	if m.isPassenger == enabled {
		m.mu.Unlock()
		return
	}
	m.isPassenger = enabled
	driving := m.detector.IsDriving()
	handling := m.sampler.Handling()
	m.mu.Unlock()

	m.logger.Info("Passenger mode changed", zap.Bool("enabled", enabled))

	if enabled {
		m.bus.Publish(models.PassengerModeEnabled{})
	} else {
		m.bus.Publish(models.PassengerModeDisabled{})
	}

	m.escalator.Update(driving, handling, enabled)
	m.broadcastState()
}

// TogglePhoneHandling 手动切换操作状态（调试和无传感器环境）
func (m *Monitor) TogglePhoneHandling() {
	m.sampler.TogglePhoneHandling()
}

// SetForeground 前后台切换，分发给所有按前后台调频的组件
func (m *Monitor) SetForeground(foreground bool) {
	m.logger.Info("Foreground state changed", zap.Bool("foreground", foreground))
	m.sampler.SetForeground(foreground)
	m.detector.SetForeground(foreground)
	m.escalator.SetForeground(foreground)
}

// State 当前组合状态快照
func (m *Monitor) State() models.DriveSafeState {
	m.mu.Lock()
	sessionID := m.sessionID
	passenger := m.isPassenger
	m.mu.Unlock()

	return models.DriveSafeState{
		AlertActive:     m.escalator.Active(),
		AlertLevel:      m.escalator.Level(),
		AlertVariant:    m.escalator.Variant(),
		IsDriving:       m.detector.IsDriving(),
		CurrentSpeed:    m.detector.CurrentSpeed(),
		PhoneHandling:   m.sampler.Handling(),
		SensorAvailable: m.sampler.SensorAvailable(),
		IsPassenger:     passenger,
		SessionID:       sessionID,
	}
}

// Subscribe 订阅状态快照更新
func (m *Monitor) Subscribe() <-chan models.DriveSafeState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan models.DriveSafeState, 10)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// broadcastState 推送最新状态到内部订阅者和 WebSocket
func (m *Monitor) broadcastState() {
	state := m.State()

	m.mu.Lock()
	subscribers := m.subscribers
	m.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- state:
		default:
			// 跳过慢消费者
		}
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastStateUpdate(&state)
	}
}

// SetNow 注入时钟，仅用于测试
func (m *Monitor) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
