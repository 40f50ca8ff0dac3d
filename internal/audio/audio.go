package audio

import "go.uber.org/zap"

// Waveform 波形类型
type Waveform string

const (
	WaveSine     Waveform = "sine"
	WaveSawtooth Waveform = "sawtooth"
)

// Player 音频输出能力，尽力而为：设备不可用时允许静默丢弃
type Player interface {
	PlayTone(freqHz float64, wave Waveform, gain, durationSec float64)
}

// Nop 无声实现，音频子系统未初始化时使用
type Nop struct{}

func (Nop) PlayTone(float64, Waveform, float64, float64) {}

// Logged 仅记录日志的实现，无音频硬件的部署环境使用
type Logged struct {
	Logger *zap.Logger
}

func (p *Logged) PlayTone(freqHz float64, wave Waveform, gain, durationSec float64) {
	p.Logger.Debug("Playing tone",
		zap.Float64("freq_hz", freqHz),
		zap.String("waveform", string(wave)),
		zap.Float64("gain", gain),
		zap.Float64("duration_sec", durationSec))
}
