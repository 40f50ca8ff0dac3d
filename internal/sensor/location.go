package sensor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DrivingConfig 驾驶检测参数
type DrivingConfig struct {
	SpeedThreshold        float64 // m/s，超过即判定为驾驶中
	PollDrivingForeground time.Duration
	PollIdleForeground    time.Duration
	PollDrivingBackground time.Duration
	PollIdleBackground    time.Duration
}

// DrivingDetector 驾驶状态检测器
// 单采样判定：任何一次越过阈值的采样都立即翻转状态，不做平滑。
// GPS 在阈值附近抖动会导致状态反复翻转，这是已知的产品行为，勿擅自加迟滞
type DrivingDetector struct {
	logger *zap.Logger
	cfg    DrivingConfig
	source PositionSource

	mu          sync.Mutex
	driving     bool
	speed       float64
	foreground  bool
	interval    time.Duration
	running     bool
	cancelWatch func()

	// 状态变化或新采样时回调（锁外执行）
	onUpdate func()
}

// NewDrivingDetector 创建驾驶检测器
func NewDrivingDetector(logger *zap.Logger, cfg DrivingConfig, source PositionSource) *DrivingDetector {
	return &DrivingDetector{
		logger:     logger,
		cfg:        cfg,
		source:     source,
		foreground: true,
		interval:   cfg.PollIdleForeground,
	}
}

// SetOnUpdate 注册状态更新回调，须在 Start 前调用
func (d *DrivingDetector) SetOnUpdate(fn func()) {
	d.onUpdate = fn
}

// Start 启动检测
// 位置流不可用时记录错误并保持空闲：驾驶检测没有手动回退
func (d *DrivingDetector) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	if err := d.rewatch(); err != nil {
		d.logger.Error("Geolocation is not supported on this device", zap.Error(err))
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return
	}

	d.logger.Info("Driving detector started", zap.Duration("interval", d.interval))
}

// Stop 停止检测，幂等
func (d *DrivingDetector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancelWatch
	d.cancelWatch = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.logger.Info("Driving detector stopped")
}

// rewatch 以当前间隔参数订阅位置流，已有订阅时先取消
// 取消后重建保证任一时刻只有一份订阅在驱动状态
func (d *DrivingDetector) rewatch() error {
	d.mu.Lock()
	if prev := d.cancelWatch; prev != nil {
		d.cancelWatch = nil
		d.mu.Unlock()
		prev()
		d.mu.Lock()
	}

	opts := WatchOptions{
		HighAccuracy: d.driving, // 仅驾驶中启用高精度
		Timeout:      d.interval,
		MaximumAge:   d.interval / 2,
	}
	d.mu.Unlock()

	cancel, err := d.source.Watch(d.handleSample, opts)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if !d.running {
		// Stop 与订阅并发，收尾新订阅
		d.mu.Unlock()
		cancel()
		return nil
	}
	d.cancelWatch = cancel
	d.mu.Unlock()
	return nil
}

// handleSample 处理一条速度采样
func (d *DrivingDetector) handleSample(speedMps float64, _ time.Time) {
	d.mu.Lock()
	d.speed = speedMps
	wasDriving := d.driving
	nowDriving := speedMps > d.cfg.SpeedThreshold
	d.driving = nowDriving

	intervalChanged := false
	if nowDriving != wasDriving {
		intervalChanged = d.applyIntervalLocked()
	}
	notify := d.onUpdate
	d.mu.Unlock()

	if nowDriving != wasDriving {
		if nowDriving {
			d.logger.Info("Driving started - increasing polling frequency",
				zap.Float64("speed_mps", speedMps))
		} else {
			d.logger.Info("Driving stopped - decreasing polling frequency",
				zap.Float64("speed_mps", speedMps))
		}
	}

	if intervalChanged {
		if err := d.rewatch(); err != nil {
			d.logger.Error("Failed to restart position watch", zap.Error(err))
		}
	}

	if notify != nil {
		notify()
	}
}

// applyIntervalLocked 根据驾驶/前后台状态计算轮询间隔，须持锁调用
// 返回间隔是否变化
func (d *DrivingDetector) applyIntervalLocked() bool {
	var interval time.Duration
	switch {
	case d.driving && d.foreground:
		interval = d.cfg.PollDrivingForeground
	case d.driving:
		interval = d.cfg.PollDrivingBackground
	case d.foreground:
		interval = d.cfg.PollIdleForeground
	default:
		interval = d.cfg.PollIdleBackground
	}

	if interval == d.interval {
		return false
	}
	d.interval = interval
	return true
}

// SetForeground 前后台切换，必要时按新间隔重新订阅
func (d *DrivingDetector) SetForeground(foreground bool) {
	d.mu.Lock()
	if d.foreground == foreground {
		d.mu.Unlock()
		return
	}
	d.foreground = foreground
	changed := d.applyIntervalLocked()
	interval := d.interval
	running := d.running
	d.mu.Unlock()

	d.logger.Debug("Polling interval updated",
		zap.Bool("foreground", foreground),
		zap.Duration("interval", interval))

	if changed && running {
		if err := d.rewatch(); err != nil {
			d.logger.Error("Failed to restart position watch", zap.Error(err))
		}
	}
}

// IsDriving 当前是否判定为驾驶中
func (d *DrivingDetector) IsDriving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driving
}

// CurrentSpeed 最近一次采样的速度（m/s）
func (d *DrivingDetector) CurrentSpeed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// PollingInterval 当前轮询间隔
func (d *DrivingDetector) PollingInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}
