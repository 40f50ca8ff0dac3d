package alert

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/audio"
	"github.com/langchou/drivesentry/internal/events"
	"github.com/langchou/drivesentry/internal/models"
	"github.com/langchou/drivesentry/internal/sink"
)

// 告警状态常量
const (
	StateInactive = "inactive"
	StateActive   = "active"
)

// 事件常量
const (
	EventActivate   = "activate"
	EventDeactivate = "deactivate"
)

// OutcomeRecorder 本地告警结果记录
// 告警解除时把 (分组, 时长, 级别) 三元组写入本地缓存
type OutcomeRecorder interface {
	RecordAlertOutcome(variant models.Variant, duration float64, level int)
}

// Config 升级节奏配置
type Config struct {
	BaseIntervalA time.Duration // 分组 A 前台升级周期
	BaseIntervalB time.Duration // 分组 B 前台升级周期
}

// Escalator 告警升级状态机
// 驾驶中 + 操作手机 + 非乘客模式 => 激活；任一条件失效立即解除。
// 电平触发：每次输入更新都重新评估守卫条件
type Escalator struct {
	logger   *zap.Logger
	cfg      Config
	variant  models.Variant
	player   audio.Player
	recorder sink.Recorder
	outcomes OutcomeRecorder
	bus      *events.Bus

	mu         sync.Mutex
	fsm        *fsm.FSM
	level      int
	startTime  time.Time
	foreground bool

	// 最近一次观测到的输入
	isDriving     bool
	phoneHandling bool
	isPassenger   bool

	escalStop       chan struct{}
	intervalChanged chan struct{}

	now func() time.Time // 可注入，便于测试
}

// NewEscalator 创建告警状态机
func NewEscalator(
	logger *zap.Logger,
	variant models.Variant,
	cfg Config,
	player audio.Player,
	recorder sink.Recorder,
	outcomes OutcomeRecorder,
	bus *events.Bus,
) *Escalator {
	e := &Escalator{
		logger:          logger,
		cfg:             cfg,
		variant:         variant,
		player:          player,
		recorder:        recorder,
		outcomes:        outcomes,
		bus:             bus,
		foreground:      true,
		intervalChanged: make(chan struct{}, 1),
		now:             time.Now,
	}

	e.fsm = fsm.NewFSM(
		StateInactive,
		fsm.Events{
			{Name: EventActivate, Src: []string{StateInactive}, Dst: StateActive},
			{Name: EventDeactivate, Src: []string{StateActive}, Dst: StateInactive},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, ev *fsm.Event) {
				logger.Debug("Alert state changed",
					zap.String("from", ev.Src),
					zap.String("to", ev.Dst))
			},
		},
	)

	return e
}

// Update 输入采样更新后的重新评估入口
// 驾驶检测与操作检测相互独立、任意交错，这里只看最新值
func (e *Escalator) Update(isDriving, phoneHandling, isPassenger bool) {
	e.mu.Lock()

	e.isDriving = isDriving
	e.phoneHandling = phoneHandling
	e.isPassenger = isPassenger

	guard := isDriving && phoneHandling && !isPassenger

	var pending []models.Event
	switch {
	case guard && e.fsm.Current() == StateInactive:
		pending = e.activateLocked()
	case !guard && e.fsm.Current() == StateActive:
		pending = e.deactivateLocked()
	}
	e.mu.Unlock()

	// 锁外发布，允许订阅者回查状态机
	e.publish(pending)
}

// activateLocked 激活告警，须持锁调用，返回待发布事件
func (e *Escalator) activateLocked() []models.Event {
	if err := e.fsm.Event(context.Background(), EventActivate); err != nil {
		e.logger.Error("Failed to activate alert", zap.Error(err))
		return nil
	}

	now := e.now()
	e.level = 1
	e.startTime = now

	e.logger.Info("Alert activated", zap.String("variant", string(e.variant)))

	startedAt := sink.FormatTimestamp(now)
	e.recorder.Record(models.AlertRecord{
		AlertLevel:   1,
		AlertVariant: e.variant,
		StartedAt:    &startedAt,
		EndedAt:      nil,
	})

	e.playToneLocked()

	e.escalStop = make(chan struct{})
	go e.escalationLoop(e.escalStop)

	return []models.Event{models.AlertActivated{
		Variant:   e.variant,
		Timestamp: startedAt,
	}}
}

// deactivateLocked 解除告警，须持锁调用，返回待发布事件
// 仅因乘客模式切换解除、且驾驶和操作都仍在进行时，不记录指标
func (e *Escalator) deactivateLocked() []models.Event {
	if err := e.fsm.Event(context.Background(), EventDeactivate); err != nil {
		e.logger.Error("Failed to deactivate alert", zap.Error(err))
		return nil
	}

	if e.escalStop != nil {
		close(e.escalStop)
		e.escalStop = nil
	}

	now := e.now()
	duration := now.Sub(e.startTime).Seconds()
	level := e.level
	e.level = 0

	e.logger.Info("Alert deactivated",
		zap.Float64("duration_sec", duration),
		zap.Int("level", level))

	passengerOnly := e.isPassenger && e.isDriving && e.phoneHandling
	var pending []models.Event
	if !passengerOnly {
		e.outcomes.RecordAlertOutcome(e.variant, duration, level)

		startedAt := sink.FormatTimestamp(e.startTime)
		endedAt := sink.FormatTimestamp(now)
		e.recorder.Record(models.AlertRecord{
			AlertLevel:   level,
			AlertVariant: e.variant,
			StartedAt:    &startedAt,
			EndedAt:      &endedAt,
		})
		e.recorder.Record(models.AlertRecord{
			AlertLevel:   level,
			AlertVariant: e.variant,
			Duration:     &duration,
			Timestamp:    endedAt,
		})

		pending = append(pending, models.AlertDeactivated{
			Duration:  duration,
			Timestamp: endedAt,
		})
	}

	e.startTime = time.Time{}
	return pending
}

// escalationLoop 升级计时循环
// 每个激活周期独占一个循环，解除时关闭 stopCh，不会出现并行计时器
func (e *Escalator) escalationLoop(stopCh chan struct{}) {
	timer := time.NewTimer(e.tickInterval())
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-e.intervalChanged:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.tickInterval())
		case <-timer.C:
			e.escalate(stopCh)
			timer.Reset(e.tickInterval())
		}
	}
}

// escalate 单次升级
func (e *Escalator) escalate(stopCh chan struct{}) {
	e.mu.Lock()

	// 本周期已被解除，忽略迟到的 tick
	if e.escalStop != stopCh || e.fsm.Current() != StateActive {
		e.mu.Unlock()
		return
	}

	var pending []models.Event
	if e.level < models.MaxAlertLevel {
		e.level++
		e.logger.Info("Alert escalated", zap.Int("level", e.level))
		pending = append(pending, models.AlertLevelChanged{
			Level:     e.level,
			Timestamp: sink.FormatTimestamp(e.now()),
		})
	}

	// 级别封顶后继续重放提示音
	e.playToneLocked()
	e.mu.Unlock()

	e.publish(pending)
}

// Escalate 立即执行一次升级 tick，供测试驱动
func (e *Escalator) Escalate() {
	e.mu.Lock()
	stopCh := e.escalStop
	e.mu.Unlock()
	if stopCh != nil {
		e.escalate(stopCh)
	}
}

// tickInterval 当前升级周期：分组 B 比 A 快，后台翻倍
func (e *Escalator) tickInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cfg.BaseIntervalA
	if e.variant == models.VariantB {
		base = e.cfg.BaseIntervalB
	}
	if !e.foreground {
		base *= 2
	}
	return base
}

// playToneLocked 播放告警提示音，须持锁调用
// 后台或音频不可用时静默跳过，从不阻塞状态转换
func (e *Escalator) playToneLocked() {
	if e.player == nil || !e.foreground {
		return
	}

	duration := 0.5 + float64(e.level)*0.1
	if e.variant == models.VariantA {
		// 分组 A：较温和的正弦音
		e.player.PlayTone(440, audio.WaveSine, 0.3, duration)
	} else {
		// 分组 B：更刺耳的锯齿波
		e.player.PlayTone(880, audio.WaveSawtooth, 0.5, duration)
	}
}

// publish 依序发布待发布事件
func (e *Escalator) publish(pending []models.Event) {
	for _, ev := range pending {
		e.bus.Publish(ev)
	}
}

// SetForeground 前后台切换，升级周期随之翻倍/减半
func (e *Escalator) SetForeground(foreground bool) {
	e.mu.Lock()
	e.foreground = foreground
	e.mu.Unlock()

	select {
	case e.intervalChanged <- struct{}{}:
	default:
	}
}

// Stop 组件销毁时调用，未解除的告警在此收尾一次
func (e *Escalator) Stop() {
	e.mu.Lock()
	var pending []models.Event
	if e.fsm.Current() == StateActive {
		pending = e.deactivateLocked()
	}
	e.mu.Unlock()

	e.publish(pending)
}

// Active 告警是否处于激活状态
func (e *Escalator) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fsm.Current() == StateActive
}

// Level 当前告警级别，未激活时为 0
func (e *Escalator) Level() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Variant 当前实验分组
func (e *Escalator) Variant() models.Variant {
	return e.variant
}

// StartTime 当前告警的激活时间，未激活时为零值
func (e *Escalator) StartTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

// SetNow 注入时钟，仅测试使用
func (e *Escalator) SetNow(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}
