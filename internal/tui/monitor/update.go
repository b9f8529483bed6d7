package monitor

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Init 立即拉取一次
func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return tickMsg{} }
}

// Update 消息分发器
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m.handleTick()
	case snapshotMsg:
		return m.handleSnapshot(msg)
	case eventsMsg:
		return m.handleEvents(msg)
	case rescanMsg:
		return m.handleRescan(msg)
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}
	return m, nil
}

func (m Model) handleTick() (Model, tea.Cmd) {
	if m.pollInFlight {
		return m, nil
	}
	m.pollInFlight = true
	return m, tea.Batch(cmdPoll(m.client), cmdPopEvents(m.client))
}

func (m Model) handleSnapshot(msg snapshotMsg) (Model, tea.Cmd) {
	m.pollInFlight = false
	if msg.Err != nil {
		m.lastError = msg.Err
		m.connState.OnDisconnected()
		return m, cmdTick(m.interval)
	}

	m.lastError = nil
	m.connState.OnConnected()
	m.wifi = msg.Wifi
	m.battery = msg.Battery
	m.volume = msg.Volume
	m.brightness = msg.Bright
	m.updatedAt = m.now()
	return m, cmdTick(m.interval)
}

func (m Model) handleEvents(msg eventsMsg) (Model, tea.Cmd) {
	if msg.Err != nil || len(msg.Events) == 0 {
		return m, nil
	}
	m.appendEvents(msg.Events...)
	return m, nil
}

func (m Model) handleRescan(msg rescanMsg) (Model, tea.Cmd) {
	m.rescanning = false
	if msg.Err != nil {
		m.notice = "Rescan failed: " + msg.Err.Error()
		return m, nil
	}
	m.notice = fmt.Sprintf("Rescan found %d networks", msg.Count)
	return m, nil
}

func (m *Model) appendEvents(lines ...eventLine) {
	m.events = append(m.events, lines...)
	if over := len(m.events) - maxEvents; over > 0 {
		m.events = append([]eventLine(nil), m.events[over:]...)
	}
	// 用户在往回翻时保持视图不动
	if m.scroll > 0 {
		m.scroll += len(lines)
	}
	m.clampScroll()
}

func (m *Model) clampScroll() {
	maxScroll := len(m.events) - logHeight
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.scroll > maxScroll {
		m.scroll = maxScroll
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		if m.rescanning {
			return m, nil
		}
		m.rescanning = true
		m.notice = "Rescanning Wi-Fi..."
		return m, cmdRescan(m.client)
	case "up", "k":
		m.scroll++
		m.clampScroll()
	case "down", "j":
		m.scroll--
		m.clampScroll()
	}
	return m, nil
}
