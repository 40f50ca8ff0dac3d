package alert

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/audio"
	"github.com/langchou/drivesentry/internal/events"
	"github.com/langchou/drivesentry/internal/models"
)

// fakeRecorder 同步收集上报记录
type fakeRecorder struct {
	mu      sync.Mutex
	records []models.AlertRecord
}

func (r *fakeRecorder) Record(record models.AlertRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *fakeRecorder) all() []models.AlertRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AlertRecord(nil), r.records...)
}

// fakeOutcomes 收集本地缓存写入
type fakeOutcomes struct {
	mu       sync.Mutex
	outcomes []struct {
		variant  models.Variant
		duration float64
		level    int
	}
}

func (o *fakeOutcomes) RecordAlertOutcome(variant models.Variant, duration float64, level int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, struct {
		variant  models.Variant
		duration float64
		level    int
	}{variant, duration, level})
}

// fakeTone 收集播放的提示音
type fakeTone struct {
	mu    sync.Mutex
	tones []struct {
		freq     float64
		wave     audio.Waveform
		gain     float64
		duration float64
	}
}

func (p *fakeTone) PlayTone(freqHz float64, wave audio.Waveform, gain, durationSec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tones = append(p.tones, struct {
		freq     float64
		wave     audio.Waveform
		gain     float64
		duration float64
	}{freqHz, wave, gain, durationSec})
}

func newTestEscalator(t *testing.T, variant models.Variant) (*Escalator, *fakeRecorder, *fakeOutcomes, *fakeTone, *events.Bus) {
	t.Helper()
	recorder := &fakeRecorder{}
	outcomes := &fakeOutcomes{}
	tone := &fakeTone{}
	bus := events.NewBus()
	e := NewEscalator(zap.NewNop(), variant, Config{
		BaseIntervalA: 8 * time.Second,
		BaseIntervalB: 5 * time.Second,
	}, tone, recorder, outcomes, bus)
	t.Cleanup(e.Stop)
	return e, recorder, outcomes, tone, bus
}

func TestGuardConditions(t *testing.T) {
	tests := []struct {
		name       string
		driving    bool
		handling   bool
		passenger  bool
		wantActive bool
	}{
		{"driving and handling", true, true, false, true},
		{"handling only", false, true, false, false},
		{"driving only", true, false, false, false},
		{"passenger override", true, true, true, false},
		{"all off", false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _, _, _ := newTestEscalator(t, models.VariantA)
			e.Update(tt.driving, tt.handling, tt.passenger)
			assert.Equal(t, tt.wantActive, e.Active())
		})
	}
}

func TestActivationStartsAtLevelOne(t *testing.T) {
	e, recorder, _, tone, _ := newTestEscalator(t, models.VariantA)

	e.Update(true, true, false)
	require.True(t, e.Active())
	assert.Equal(t, 1, e.Level())
	assert.False(t, e.StartTime().IsZero())

	// 激活时上报一条 started_at 记录
	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].AlertLevel)
	assert.Equal(t, models.VariantA, records[0].AlertVariant)
	require.NotNil(t, records[0].StartedAt)
	assert.Nil(t, records[0].EndedAt)

	// 分组 A：440Hz 正弦，时长 0.5 + 0.1*level
	tone.mu.Lock()
	defer tone.mu.Unlock()
	require.Len(t, tone.tones, 1)
	assert.Equal(t, 440.0, tone.tones[0].freq)
	assert.Equal(t, audio.WaveSine, tone.tones[0].wave)
	assert.Equal(t, 0.3, tone.tones[0].gain)
	assert.InDelta(t, 0.6, tone.tones[0].duration, 1e-9)
}

func TestVariantBTone(t *testing.T) {
	e, _, _, tone, _ := newTestEscalator(t, models.VariantB)

	e.Update(true, true, false)

	tone.mu.Lock()
	defer tone.mu.Unlock()
	require.Len(t, tone.tones, 1)
	assert.Equal(t, 880.0, tone.tones[0].freq)
	assert.Equal(t, audio.WaveSawtooth, tone.tones[0].wave)
	assert.Equal(t, 0.5, tone.tones[0].gain)
}

func TestEscalationCapsAtMaxLevel(t *testing.T) {
	e, _, _, tone, bus := newTestEscalator(t, models.VariantA)

	var levels []int
	bus.Subscribe(models.EventAlertLevelChanged, func(ev models.Event) {
		levels = append(levels, ev.(models.AlertLevelChanged).Level)
	})

	e.Update(true, true, false)
	for i := 0; i < 10; i++ {
		e.Escalate()
	}

	assert.Equal(t, models.MaxAlertLevel, e.Level())
	assert.Equal(t, []int{2, 3, 4, 5}, levels)

	// 封顶后每个 tick 仍重放提示音：1 次激活 + 10 次 tick
	tone.mu.Lock()
	defer tone.mu.Unlock()
	assert.Len(t, tone.tones, 11)
}

func TestEscalationIntervalDoublesInBackground(t *testing.T) {
	tests := []struct {
		name       string
		variant    models.Variant
		foreground time.Duration
		background time.Duration
	}{
		{"variant A", models.VariantA, 8 * time.Second, 16 * time.Second},
		{"variant B", models.VariantB, 5 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _, _, _ := newTestEscalator(t, tt.variant)

			assert.Equal(t, tt.foreground, e.tickInterval())

			e.SetForeground(false)
			assert.Equal(t, tt.background, e.tickInterval())

			// 告警激活中切换同样生效，恢复前台后减半
			e.Update(true, true, false)
			assert.Equal(t, tt.background, e.tickInterval())
			e.SetForeground(true)
			assert.Equal(t, tt.foreground, e.tickInterval())
		})
	}
}

func TestDeactivationRecordsOutcome(t *testing.T) {
	e, recorder, outcomes, _, bus := newTestEscalator(t, models.VariantA)

	current := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	e.SetNow(func() time.Time { return current })

	var deactivated []models.AlertDeactivated
	bus.Subscribe(models.EventAlertDeactivated, func(ev models.Event) {
		deactivated = append(deactivated, ev.(models.AlertDeactivated))
	})

	e.Update(true, true, false)
	e.Escalate()
	current = current.Add(3 * time.Second)
	e.Update(true, false, false)

	require.False(t, e.Active())
	assert.Equal(t, 0, e.Level())

	// 本地缓存写入一次，带解除时的级别和时长
	outcomes.mu.Lock()
	require.Len(t, outcomes.outcomes, 1)
	assert.Equal(t, models.VariantA, outcomes.outcomes[0].variant)
	assert.InDelta(t, 3.0, outcomes.outcomes[0].duration, 1e-9)
	assert.Equal(t, 2, outcomes.outcomes[0].level)
	outcomes.mu.Unlock()

	// 上报：1 条激活 + 解除时的括号式与汇总式各 1 条
	records := recorder.all()
	require.Len(t, records, 3)
	bracket := records[1]
	require.NotNil(t, bracket.StartedAt)
	require.NotNil(t, bracket.EndedAt)
	assert.Equal(t, 2, bracket.AlertLevel)
	summary := records[2]
	require.NotNil(t, summary.Duration)
	assert.InDelta(t, 3.0, *summary.Duration, 1e-9)
	assert.NotEmpty(t, summary.Timestamp)

	require.Len(t, deactivated, 1)
	assert.InDelta(t, 3.0, deactivated[0].Duration, 1e-9)
}

func TestPassengerOnlyDeactivationSkipsRecording(t *testing.T) {
	e, recorder, outcomes, _, _ := newTestEscalator(t, models.VariantA)

	e.Update(true, true, false)
	require.True(t, e.Active())

	// 驾驶和操作都仍在进行，只因乘客模式解除
	e.Update(true, true, true)
	require.False(t, e.Active())

	outcomes.mu.Lock()
	assert.Empty(t, outcomes.outcomes)
	outcomes.mu.Unlock()
	// 仅有激活时的那一条上报
	assert.Len(t, recorder.all(), 1)
}

func TestReactivationAfterPassengerModeOff(t *testing.T) {
	e, _, _, _, _ := newTestEscalator(t, models.VariantA)

	e.Update(true, true, false)
	e.Escalate()
	e.Update(true, true, true)
	require.False(t, e.Active())

	// 乘客模式关闭后守卫重新成立，从级别 1 重新开始
	e.Update(true, true, false)
	require.True(t, e.Active())
	assert.Equal(t, 1, e.Level())
}

func TestStopFlushesActiveAlert(t *testing.T) {
	e, recorder, outcomes, _, _ := newTestEscalator(t, models.VariantA)

	e.Update(true, true, false)
	require.True(t, e.Active())

	e.Stop()

	assert.False(t, e.Active())
	outcomes.mu.Lock()
	assert.Len(t, outcomes.outcomes, 1)
	outcomes.mu.Unlock()
	assert.Len(t, recorder.all(), 3)

	// 重复 Stop 是幂等的
	e.Stop()
	assert.Len(t, recorder.all(), 3)
}

func TestUpdateIsIdempotentWhileActive(t *testing.T) {
	e, recorder, _, _, _ := newTestEscalator(t, models.VariantA)

	e.Update(true, true, false)
	e.Escalate()
	level := e.Level()

	// 守卫持续成立时重复更新不重置级别
	e.Update(true, true, false)
	assert.Equal(t, level, e.Level())
	assert.Len(t, recorder.all(), 1)
}
