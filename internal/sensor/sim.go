package sensor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/langchou/drivesentry/internal/models"
)

// SimMotion 模拟运动传感器，无真实硬件的部署和演示环境使用
// 以固定频率输出轻微噪声，随机插入几秒的"拿起手机"抖动
type SimMotion struct{}

func (SimMotion) Available() bool { return true }

func (SimMotion) Subscribe(fn func(models.MotionSample)) func() {
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		handlingUntil := time.Time{}
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				now := time.Now()
				if now.After(handlingUntil) && rand.Float64() < 0.005 {
					// 随机开始一段 2~8 秒的操作
					handlingUntil = now.Add(time.Duration(2+rand.Intn(7)) * time.Second)
				}

				sample := models.MotionSample{
					X: rand.NormFloat64() * 0.3,
					Y: rand.NormFloat64() * 0.3,
					Z: rand.NormFloat64() * 0.3,
				}
				if now.Before(handlingUntil) {
					sample.X += 2.5
					sample.Y += 1.8
				}
				fn(sample)
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}

// SimPosition 模拟位置流，按订阅参数的超时时长作为采样间隔，
// 在怠速和行驶两个阶段之间随机切换
type SimPosition struct{}

func (SimPosition) Watch(fn func(float64, time.Time), opts WatchOptions) (func(), error) {
	interval := opts.Timeout
	if interval <= 0 {
		interval = 15 * time.Second
	}

	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		driving := false
		phaseEnd := time.Now()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				now := time.Now()
				if now.After(phaseEnd) {
					driving = !driving
					phaseEnd = now.Add(time.Duration(1+rand.Intn(5)) * time.Minute)
				}

				speed := rand.Float64() * 1.2 // 怠速漂移
				if driving {
					speed = 8 + rand.Float64()*12
				}
				fn(speed, now)
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}, nil
}
