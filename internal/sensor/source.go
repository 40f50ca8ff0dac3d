package sensor

import (
	"time"

	"github.com/langchou/drivesentry/internal/models"
)

// MotionSource 原始加速度数据流
// 传感器缺失不是错误，通过 Available 暴露为能力标志
type MotionSource interface {
	Available() bool
	// Subscribe 注册采样回调，返回取消函数；取消需幂等
	Subscribe(fn func(sample models.MotionSample)) (cancel func())
}

// WatchOptions 位置流订阅参数
type WatchOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// PositionSource 位置/速度数据流，watch 风格 API
// 轮询间隔变化时调用方会取消后携带新参数重新订阅
type PositionSource interface {
	// Watch 注册速度回调，返回取消函数；取消需幂等
	Watch(fn func(speedMps float64, ts time.Time), opts WatchOptions) (cancel func(), err error)
}

// NoMotion 无运动传感器的占位实现
type NoMotion struct{}

func (NoMotion) Available() bool { return false }

func (NoMotion) Subscribe(func(models.MotionSample)) func() {
	return func() {}
}

// NoPosition 无定位能力的占位实现，订阅成功但永不回调
type NoPosition struct{}

func (NoPosition) Watch(func(float64, time.Time), WatchOptions) (func(), error) {
	return func() {}, nil
}
