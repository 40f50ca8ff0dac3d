package sensor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/models"
)

// fakeMotion 手动推送加速度采样的运动源
type fakeMotion struct {
	mu        sync.Mutex
	available bool
	fn        func(models.MotionSample)
	cancels   int
}

func (f *fakeMotion) Available() bool { return f.available }

func (f *fakeMotion) Subscribe(fn func(models.MotionSample)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancels++
	}
}

func (f *fakeMotion) push(x, y, z float64) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		panic("no active motion subscription")
	}
	fn(models.MotionSample{X: x, Y: y, Z: z})
}

func newTestSampler(t *testing.T, available bool) (*MotionSampler, *fakeMotion) {
	t.Helper()
	src := &fakeMotion{available: available}
	s := NewMotionSampler(zap.NewNop(), MotionConfig{
		Threshold:      1.5,
		RateHandling:   500 * time.Millisecond,
		RateIdle:       time.Second,
		RateBackground: 2 * time.Second,
	}, src)
	s.Start()
	t.Cleanup(s.Stop)
	return s, src
}

func TestHandlingThreshold(t *testing.T) {
	tests := []struct {
		name         string
		x, y, z      float64
		wantHandling bool
	}{
		{"at rest", 0.1, 0.1, 0.1, false},
		{"x axis over", 2.0, 0, 0, true},
		{"y axis over", 0, -2.0, 0, true}, // 负向同样越阈
		{"z axis over", 0, 0, 1.6, true},
		{"exactly at threshold", 1.5, 1.5, 1.5, false}, // 严格大于
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, src := newTestSampler(t, true)
			src.push(tt.x, tt.y, tt.z)
			s.Evaluate()
			assert.Equal(t, tt.wantHandling, s.Handling())
		})
	}
}

func TestSamplingRateFollowsState(t *testing.T) {
	s, src := newTestSampler(t, true)

	assert.Equal(t, time.Second, s.SamplingRate())

	// 操作中：高频
	src.push(2, 0, 0)
	s.Evaluate()
	require.True(t, s.Handling())
	assert.Equal(t, 500*time.Millisecond, s.SamplingRate())

	// 操作中切后台仍保持高频
	s.SetForeground(false)
	assert.Equal(t, 500*time.Millisecond, s.SamplingRate())

	// 放下后按后台周期
	src.push(0, 0, 0)
	s.Evaluate()
	require.False(t, s.Handling())
	assert.Equal(t, 2*time.Second, s.SamplingRate())

	// 回到前台后恢复空闲周期
	s.SetForeground(true)
	assert.Equal(t, time.Second, s.SamplingRate())
}

func TestEvaluateOnlyNotifiesOnChange(t *testing.T) {
	src := &fakeMotion{available: true}
	s := NewMotionSampler(zap.NewNop(), MotionConfig{
		Threshold:      1.5,
		RateHandling:   500 * time.Millisecond,
		RateIdle:       time.Second,
		RateBackground: 2 * time.Second,
	}, src)

	updates := 0
	s.SetOnUpdate(func() { updates++ })
	s.Start()
	t.Cleanup(s.Stop)

	src.push(2, 0, 0)
	s.Evaluate()
	s.Evaluate() // 状态没变，不再通知
	src.push(0, 0, 0)
	s.Evaluate()
	assert.Equal(t, 2, updates)
}

func TestManualToggleWithoutSensor(t *testing.T) {
	s, _ := newTestSampler(t, false)

	assert.False(t, s.SensorAvailable())
	assert.False(t, s.Handling())

	s.TogglePhoneHandling()
	assert.True(t, s.Handling())
	assert.Equal(t, 500*time.Millisecond, s.SamplingRate())

	s.TogglePhoneHandling()
	assert.False(t, s.Handling())
}

func TestLastSampleCopied(t *testing.T) {
	s, src := newTestSampler(t, true)

	assert.Nil(t, s.LastSample())

	src.push(1, 2, 3)
	sample := s.LastSample()
	require.NotNil(t, sample)
	assert.Equal(t, models.MotionSample{X: 1, Y: 2, Z: 3}, *sample)

	// 返回的是拷贝，修改不影响内部缓存
	sample.X = 99
	assert.Equal(t, 1.0, s.LastSample().X)
}

func TestStopCancelsSubscription(t *testing.T) {
	s, src := newTestSampler(t, true)

	s.Stop()
	s.Stop() // 幂等

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.cancels)
}
