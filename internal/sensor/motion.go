package sensor

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/models"
)

// MotionConfig 手机操作检测参数
type MotionConfig struct {
	Threshold      float64       // 任一轴加速度绝对值超过即判定为操作中
	RateHandling   time.Duration // 操作中采样周期
	RateIdle       time.Duration // 空闲前台采样周期
	RateBackground time.Duration // 后台采样周期
}

// MotionSampler 手机操作检测器
// 缓存最近一次原始采样，由定时器按当前采样周期重新评估，
// 而不是在每个原始事件上评估，以控制 CPU/电量开销
type MotionSampler struct {
	logger *zap.Logger
	cfg    MotionConfig
	source MotionSource

	mu          sync.Mutex
	handling    bool
	foreground  bool
	available   bool
	last        *models.MotionSample
	rate        time.Duration
	running     bool
	stopCh      chan struct{}
	rateChanged chan struct{}
	cancelSub   func()

	// 状态变化时回调（锁外执行）
	onUpdate func()
}

// NewMotionSampler 创建手机操作检测器
func NewMotionSampler(logger *zap.Logger, cfg MotionConfig, source MotionSource) *MotionSampler {
	return &MotionSampler{
		logger:      logger,
		cfg:         cfg,
		source:      source,
		foreground:  true,
		available:   source.Available(),
		rate:        cfg.RateIdle,
		rateChanged: make(chan struct{}, 1),
	}
}

// SetOnUpdate 注册状态更新回调，须在 Start 前调用
func (s *MotionSampler) SetOnUpdate(fn func()) {
	s.onUpdate = fn
}

// Start 启动采样
// 传感器不可用时不报错：仅保留手动切换能力
func (s *MotionSampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if !s.available {
		s.logger.Warn("Motion sensor not available, manual toggle only")
		return
	}

	// 订阅原始数据流，只缓存最新一条
	s.cancelSub = s.source.Subscribe(func(sample models.MotionSample) {
		s.mu.Lock()
		s.last = &sample
		s.mu.Unlock()
	})

	go s.sampleLoop()
	s.logger.Info("Motion sampler started", zap.Duration("rate", s.cfg.RateIdle))
}

// Stop 停止采样，幂等
func (s *MotionSampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	cancel := s.cancelSub
	s.cancelSub = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("Motion sampler stopped")
}

// sampleLoop 重采样循环
// 单计时器按当前周期触发，周期变化时先停再启，不会出现并行计时器
func (s *MotionSampler) sampleLoop() {
	s.mu.Lock()
	rate := s.rate
	s.mu.Unlock()

	timer := time.NewTimer(rate)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.rateChanged:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			s.mu.Lock()
			rate = s.rate
			s.mu.Unlock()
			timer.Reset(rate)
		case <-timer.C:
			s.evaluate()
			s.mu.Lock()
			rate = s.rate
			s.mu.Unlock()
			timer.Reset(rate)
		}
	}
}

// evaluate 按阈值评估缓存的最新采样
func (s *MotionSampler) evaluate() {
	s.mu.Lock()
	if s.last == nil {
		s.mu.Unlock()
		return
	}
	sample := *s.last

	isHandling := math.Abs(sample.X) > s.cfg.Threshold ||
		math.Abs(sample.Y) > s.cfg.Threshold ||
		math.Abs(sample.Z) > s.cfg.Threshold

	changed := isHandling != s.handling
	if changed {
		s.handling = isHandling
		s.applyRateLocked()
	}
	notify := s.onUpdate
	s.mu.Unlock()

	if changed {
		if isHandling {
			s.logger.Info("Phone handling detected - increasing sampling rate")
		} else {
			s.logger.Info("Phone handling stopped - decreasing sampling rate")
		}
		if notify != nil {
			notify()
		}
	}
}

// applyRateLocked 根据操作/前后台状态计算采样周期，须持锁调用
// 后台时降为后台周期，但操作进行中保持高频，避免漏掉放下动作
func (s *MotionSampler) applyRateLocked() {
	var rate time.Duration
	switch {
	case s.handling:
		rate = s.cfg.RateHandling
	case !s.foreground:
		rate = s.cfg.RateBackground
	default:
		rate = s.cfg.RateIdle
	}

	if rate == s.rate {
		return
	}
	s.rate = rate

	select {
	case s.rateChanged <- struct{}{}:
	default:
	}
}

// SetForeground 前后台切换
func (s *MotionSampler) SetForeground(foreground bool) {
	s.mu.Lock()
	if s.foreground == foreground {
		s.mu.Unlock()
		return
	}
	s.foreground = foreground
	s.applyRateLocked()
	rate := s.rate
	s.mu.Unlock()

	s.logger.Debug("Motion sampling rate updated",
		zap.Bool("foreground", foreground),
		zap.Duration("rate", rate))
}

// TogglePhoneHandling 手动切换操作状态
// 传感器缺失时的唯一控制手段，传感器可用时也允许用于调试
func (s *MotionSampler) TogglePhoneHandling() {
	s.mu.Lock()
	if s.available {
		s.logger.Warn("Using manual toggle while sensors are available")
	}
	s.handling = !s.handling
	s.applyRateLocked()
	handling := s.handling
	notify := s.onUpdate
	s.mu.Unlock()

	s.logger.Info("Phone handling toggled manually", zap.Bool("handling", handling))
	if notify != nil {
		notify()
	}
}

// Handling 当前是否检测到手机操作
func (s *MotionSampler) Handling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handling
}

// SensorAvailable 运动传感器是否可用
func (s *MotionSampler) SensorAvailable() bool {
	return s.available
}

// LastSample 最近一次原始采样，可能为 nil
func (s *MotionSampler) LastSample() *models.MotionSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	sample := *s.last
	return &sample
}

// SamplingRate 当前采样周期
func (s *MotionSampler) SamplingRate() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Evaluate 立即评估一次缓存的采样，供测试和唤醒路径使用
func (s *MotionSampler) Evaluate() {
	s.evaluate()
}
