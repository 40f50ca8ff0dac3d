package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/alert"
	"github.com/langchou/drivesentry/internal/audio"
	"github.com/langchou/drivesentry/internal/config"
	"github.com/langchou/drivesentry/internal/events"
	"github.com/langchou/drivesentry/internal/metrics"
	"github.com/langchou/drivesentry/internal/models"
	"github.com/langchou/drivesentry/internal/sensor"
	"github.com/langchou/drivesentry/internal/sink"
	"github.com/langchou/drivesentry/internal/storage"
)

// fakeMotionSrc 手动推送加速度采样
type fakeMotionSrc struct {
	mu sync.Mutex
	fn func(models.MotionSample)
}

func (f *fakeMotionSrc) Available() bool { return true }

func (f *fakeMotionSrc) Subscribe(fn func(models.MotionSample)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {}
}

func (f *fakeMotionSrc) push(x, y, z float64) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(models.MotionSample{X: x, Y: y, Z: z})
}

// fakePositionSrc 手动推送速度采样
type fakePositionSrc struct {
	mu sync.Mutex
	fn func(float64, time.Time)
}

func (f *fakePositionSrc) Watch(fn func(float64, time.Time), _ sensor.WatchOptions) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {}, nil
}

func (f *fakePositionSrc) push(speed float64) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(speed, time.Now())
}

type harness struct {
	monitor    *Monitor
	metrics    *metrics.Manager
	bus        *events.Bus
	motionSrc  *fakeMotionSrc
	posSrc     *fakePositionSrc
	motion     *sensor.MotionSampler
	eventKinds *[]models.EventType
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := zap.NewNop()
	kv := storage.NewMemory()
	metricsMgr := metrics.NewManager(logger, kv)
	bus := events.NewBus()

	motionSrc := &fakeMotionSrc{}
	posSrc := &fakePositionSrc{}

	sampler := sensor.NewMotionSampler(logger, sensor.MotionConfig{
		Threshold:      1.5,
		RateHandling:   500 * time.Millisecond,
		RateIdle:       time.Second,
		RateBackground: 2 * time.Second,
	}, motionSrc)
	detector := sensor.NewDrivingDetector(logger, sensor.DrivingConfig{
		SpeedThreshold:        4.47,
		PollDrivingForeground: 5 * time.Second,
		PollIdleForeground:    15 * time.Second,
		PollDrivingBackground: 10 * time.Second,
		PollIdleBackground:    30 * time.Second,
	}, posSrc)

	escalator := alert.NewEscalator(logger, models.VariantA, alert.Config{
		BaseIntervalA: 8 * time.Second,
		BaseIntervalB: 5 * time.Second,
	}, audio.Nop{}, sink.Nop{}, metricsMgr, bus)

	var kinds []models.EventType
	bus.SubscribeAll(func(e models.Event) {
		kinds = append(kinds, e.Kind())
	})

	m := NewMonitor(&config.Config{}, logger, sampler, detector, escalator, metricsMgr, bus, nil)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	return &harness{
		monitor:    m,
		metrics:    metricsMgr,
		bus:        bus,
		motionSrc:  motionSrc,
		posSrc:     posSrc,
		motion:     sampler,
		eventKinds: &kinds,
	}
}

// setHandling 推送一条采样并立即评估，驱动操作状态翻转
func (h *harness) setHandling(handling bool) {
	if handling {
		h.motionSrc.push(2, 0, 0)
	} else {
		h.motionSrc.push(0, 0, 0)
	}
	h.motion.Evaluate()
}

func TestFullDriveCycle(t *testing.T) {
	h := newHarness(t)

	// 起步：开启会话
	h.posSrc.push(10)
	state := h.monitor.State()
	assert.True(t, state.IsDriving)
	require.NotEmpty(t, state.SessionID)
	sessions := h.metrics.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].EndTime.IsZero())

	// 驾驶中拿起手机：告警激活
	h.setHandling(true)
	state = h.monitor.State()
	assert.True(t, state.PhoneHandling)
	assert.True(t, state.AlertActive)
	assert.Equal(t, 1, state.AlertLevel)

	// 放下手机：告警解除并记录响应
	h.setHandling(false)
	state = h.monitor.State()
	assert.False(t, state.AlertActive)
	assert.Equal(t, 1, h.metrics.GetTodayMetrics().AlertCount)

	// 停车：会话结束
	h.posSrc.push(0)
	state = h.monitor.State()
	assert.False(t, state.IsDriving)
	assert.Empty(t, state.SessionID)

	sessions = h.metrics.Sessions()
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].EndTime.IsZero())
	assert.Equal(t, 1, sessions[0].AlertsTriggered)
	assert.False(t, sessions[0].CleanDrive)

	// 实时告警计数加上会话结算的计数
	assert.Equal(t, 2, h.metrics.GetTodayMetrics().AlertCount)

	assert.Equal(t, []models.EventType{
		models.EventDrivingStarted,
		models.EventPhonePickedUp,
		models.EventAlertActivated,
		models.EventPhonePutDown,
		models.EventAlertDeactivated,
		models.EventDrivingStopped,
	}, *h.eventKinds)
}

func TestCleanDriveWithoutHandling(t *testing.T) {
	h := newHarness(t)

	h.posSrc.push(10)
	h.posSrc.push(0)

	sessions := h.metrics.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].CleanDrive)
	assert.Equal(t, 0, sessions[0].AlertsTriggered)
}

func TestPassengerModeSuppressesAlert(t *testing.T) {
	h := newHarness(t)

	h.posSrc.push(10)
	h.monitor.SetPassenger(true)
	h.setHandling(true)

	state := h.monitor.State()
	assert.True(t, state.IsPassenger)
	assert.True(t, state.PhoneHandling)
	assert.False(t, state.AlertActive)

	// 驾驶中关闭乘客模式，守卫立即成立
	h.monitor.SetPassenger(false)
	assert.True(t, h.monitor.State().AlertActive)
}

func TestAlertFromPassengerModeOffCountsInSession(t *testing.T) {
	h := newHarness(t)

	// 乘客模式下拿起手机不触发告警
	h.posSrc.push(10)
	h.monitor.SetPassenger(true)
	h.setHandling(true)
	require.False(t, h.monitor.State().AlertActive)

	// 关闭乘客模式触发激活，计入会话
	h.monitor.SetPassenger(false)
	require.True(t, h.monitor.State().AlertActive)

	h.setHandling(false)
	h.posSrc.push(0)

	sessions := h.metrics.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].AlertsTriggered)
	// 会话结算与实时计数一致：各记一次
	assert.Equal(t, 2, h.metrics.GetTodayMetrics().AlertCount)
}

func TestPassengerModeResetsWhenDrivingStops(t *testing.T) {
	h := newHarness(t)

	h.posSrc.push(10)
	h.monitor.SetPassenger(true)
	h.posSrc.push(0)

	assert.False(t, h.monitor.State().IsPassenger)
	assert.Contains(t, *h.eventKinds, models.EventPassengerModeDisabled)
}

func TestPassengerToggleIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.monitor.SetPassenger(true)
	h.monitor.SetPassenger(true)

	enabled := 0
	for _, k := range *h.eventKinds {
		if k == models.EventPassengerModeEnabled {
			enabled++
		}
	}
	assert.Equal(t, 1, enabled)
}

func TestHandlingWhileNotDrivingDoesNotAlert(t *testing.T) {
	h := newHarness(t)

	h.setHandling(true)
	state := h.monitor.State()
	assert.True(t, state.PhoneHandling)
	assert.False(t, state.AlertActive)
	assert.Empty(t, state.SessionID)
	assert.Empty(t, h.metrics.Sessions())
}

func TestStopFlushesOpenSession(t *testing.T) {
	h := newHarness(t)

	h.posSrc.push(10)
	require.Len(t, h.metrics.Sessions(), 1)

	h.monitor.Stop()

	sessions := h.metrics.Sessions()
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].EndTime.IsZero())
}

func TestSubscribeReceivesStateSnapshots(t *testing.T) {
	h := newHarness(t)

	ch := h.monitor.Subscribe()
	h.posSrc.push(10)

	select {
	case state := <-ch:
		assert.True(t, state.IsDriving)
	default:
		t.Fatal("expected a state snapshot")
	}
}
