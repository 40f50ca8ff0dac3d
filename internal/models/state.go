package models

// DriveSafeState 对外暴露的组合状态快照
type DriveSafeState struct {
	// 告警状态
	AlertActive  bool    `json:"alertActive"`
	AlertLevel   int     `json:"alertLevel"`
	AlertVariant Variant `json:"alertVariant"`

	// 驾驶与手机操作状态
	IsDriving       bool    `json:"isDriving"`
	CurrentSpeed    float64 `json:"currentSpeed"` // m/s
	PhoneHandling   bool    `json:"phoneHandling"`
	SensorAvailable bool    `json:"sensorAvailable"`
	IsPassenger     bool    `json:"isPassenger"`

	// 当前会话，无进行中会话时为空
	SessionID string `json:"sessionId,omitempty"`
}
