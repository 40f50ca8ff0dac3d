package models

// EventType 领域事件类型
type EventType string

const (
	EventDrivingStarted        EventType = "drivingStarted"
	EventDrivingStopped        EventType = "drivingStopped"
	EventPhonePickedUp         EventType = "phonePickedUp"
	EventPhonePutDown          EventType = "phonePutDown"
	EventPassengerModeEnabled  EventType = "passengerModeEnabled"
	EventPassengerModeDisabled EventType = "passengerModeDisabled"
	EventAlertActivated        EventType = "alertActivated"
	EventAlertLevelChanged     EventType = "alertLevelChanged"
	EventAlertDeactivated      EventType = "alertDeactivated"
)

// Event 领域事件，每种事件一个具体载荷类型
type Event interface {
	Kind() EventType
}

// MotionSample 原始加速度采样
type MotionSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DrivingStarted 驾驶开始
type DrivingStarted struct {
	Speed float64 `json:"speed"` // m/s
}

func (DrivingStarted) Kind() EventType { return EventDrivingStarted }

// DrivingStopped 驾驶结束
type DrivingStopped struct{}

func (DrivingStopped) Kind() EventType { return EventDrivingStopped }

// PhonePickedUp 检测到拿起手机
type PhonePickedUp struct {
	SensorData *MotionSample `json:"sensorData"`
}

func (PhonePickedUp) Kind() EventType { return EventPhonePickedUp }

// PhonePutDown 检测到放下手机
type PhonePutDown struct{}

func (PhonePutDown) Kind() EventType { return EventPhonePutDown }

// PassengerModeEnabled 乘客模式开启
type PassengerModeEnabled struct{}

func (PassengerModeEnabled) Kind() EventType { return EventPassengerModeEnabled }

// PassengerModeDisabled 乘客模式关闭
type PassengerModeDisabled struct{}

func (PassengerModeDisabled) Kind() EventType { return EventPassengerModeDisabled }

// AlertActivated 告警激活
type AlertActivated struct {
	Variant   Variant `json:"variant"`
	Timestamp string  `json:"timestamp"`
}

func (AlertActivated) Kind() EventType { return EventAlertActivated }

// AlertLevelChanged 告警升级
type AlertLevelChanged struct {
	Level     int    `json:"level"`
	Timestamp string `json:"timestamp"`
}

func (AlertLevelChanged) Kind() EventType { return EventAlertLevelChanged }

// AlertDeactivated 告警解除
type AlertDeactivated struct {
	Duration  float64 `json:"duration"` // 秒
	Timestamp string  `json:"timestamp"`
}

func (AlertDeactivated) Kind() EventType { return EventAlertDeactivated }
