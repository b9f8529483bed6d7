package monitor

// ============================================================================
// 消息定义
// BubbleTea 基于消息驱动，所有异步操作都通过消息通知状态变更
// ============================================================================

// snapshotMsg 一次轮询的结果；读取失败的字段为 nil
type snapshotMsg struct {
	Wifi    *wifiReading
	Battery *batteryReading
	Volume  *int
	Bright  *int
	Err     error // daemon 不可达
}

type wifiReading struct {
	Strength int `json:"strength"`
	Quality  int `json:"quality"`
}

type batteryReading struct {
	Level      int  `json:"batteryLevel"`
	Charging   bool `json:"charging"`
	HasBattery bool `json:"hasBattery"`
}

// eventsMsg popEvents 排空的事件
type eventsMsg struct {
	Events []eventLine
	Err    error
}

// eventLine 事件日志里的一行
type eventLine struct {
	Type  string
	Value string
}

// tickMsg 触发下一轮轮询
type tickMsg struct{}

// rescanMsg Wi-Fi 重新扫描完成
type rescanMsg struct {
	Count int
	Err   error
}
