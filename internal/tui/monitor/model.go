package monitor

import (
	"time"

	"github.com/kyson/hostbridge/internal/ipc"
)

const (
	maxEvents = 200 // 事件日志保留条数
	logHeight = 10  // 事件日志可见行数
)

// Model TUI 核心模型
type Model struct {
	// 连接管理
	client       ipc.Client
	connState    ConnectionStateMachine
	interval     time.Duration
	pollInFlight bool
	lastError    error

	// 最近一次读数，nil 表示未知
	wifi       *wifiReading
	battery    *batteryReading
	volume     *int
	brightness *int
	updatedAt  time.Time

	// 事件日志，最新的在最后
	events []eventLine
	scroll int // 距离底部的行数

	rescanning bool
	notice     string
	now        func() time.Time
}

// NewModel 创建新的 Model
func NewModel(c ipc.Client) Model {
	return Model{
		client:    c,
		connState: ConnectionStateMachine{State: ConnStateConnecting},
		interval:  time.Second,
		now:       time.Now,
	}
}

// ConnState 获取连接状态
func (m Model) ConnState() ConnState {
	return m.connState.State
}

// Events 返回事件日志
func (m Model) Events() []eventLine {
	return m.events
}

// Scroll 当前滚动偏移
func (m Model) Scroll() int {
	return m.scroll
}
