package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ============================================================================
// 视图渲染
// ============================================================================

// 颜色定义 - 使用柔和色调
var (
	colorGreen   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#50FA7B"})
	colorYellow  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B08800", Dark: "#F1FA8C"})
	colorRed     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C00000", Dark: "#FF6E6E"})
	colorCyan    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#8BE9FD"})
	colorMagenta = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8700AF", Dark: "#BD93F9"})
	colorWhite   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#F8F8F2"})
	colorDim     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#888888", Dark: "#44475A"})
)

// 样式定义
var (
	mainBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(28)

	logStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(58)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#626262"})

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)
)

// View BubbleTea 视图接口
func (m Model) View() string {
	if m.ConnState() == ConnStateConnecting && m.updatedAt.IsZero() {
		return renderConnecting(m)
	}

	leftCol := lipgloss.JoinVertical(lipgloss.Left,
		renderWifiCard(m),
		"",
		renderBatteryCard(m),
	)
	rightCol := lipgloss.JoinVertical(lipgloss.Left,
		renderLevelCard("Volume", m.volume),
		"",
		renderLevelCard("Brightness", m.brightness),
	)
	cards := lipgloss.JoinHorizontal(lipgloss.Top, leftCol, "  ", rightCol)

	parts := []string{renderHeader(m), "", cards, "", renderEventLog(m)}
	if m.notice != "" {
		parts = append(parts, colorCyan.Render(m.notice))
	}
	parts = append(parts, "", renderHelpBar())

	return mainBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// renderConnecting 首次连接界面
func renderConnecting(m Model) string {
	lines := []string{
		titleStyle.Render(" HostBridge Monitor "),
		"",
		colorCyan.Render("⟳ Connecting to daemon..."),
	}
	if m.connState.IsReconnecting() && m.lastError != nil {
		lines = append(lines, "", colorRed.Render(m.lastError.Error()))
	}
	lines = append(lines, "", colorDim.Render("Press q to quit"))
	return mainBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, lines...))
}

// renderHeader 标题栏（带状态指示器）
func renderHeader(m Model) string {
	var dotStyle lipgloss.Style
	label := m.ConnState().String()
	switch {
	case m.ConnState().IsConnected():
		dotStyle = colorGreen
	case m.connState.IsReconnecting():
		dotStyle = colorYellow
		label = "Reconnecting"
	default:
		dotStyle = colorYellow
	}
	status := dotStyle.Render("⏺") + " " + colorDim.Render(label)
	if !m.updatedAt.IsZero() {
		status += colorDim.Render("  updated " + m.updatedAt.Format("15:04:05"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render(" 📡 HostBridge Monitor "), " ", status)
}

func cardTitle(title string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		colorMagenta.Render(title),
		colorDim.Render(strings.Repeat("─", 26)),
	)
}

func renderWifiCard(m Model) string {
	body := colorDim.Render("unknown")
	if m.wifi != nil {
		if m.wifi.Strength == 0 && m.wifi.Quality == 0 {
			body = colorDim.Render("not connected")
		} else {
			body = fmt.Sprintf("%s %s\n%s %s",
				colorDim.Render("Signal: "), renderBars(m.wifi.Strength),
				colorDim.Render("Quality:"), levelStyle(m.wifi.Quality).Render(fmt.Sprintf("%d%%", m.wifi.Quality)))
		}
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, cardTitle("Wi-Fi"), body))
}

func renderBatteryCard(m Model) string {
	body := colorDim.Render("unknown")
	if b := m.battery; b != nil {
		if !b.HasBattery {
			body = colorDim.Render("no battery")
		} else {
			state := colorDim.Render("discharging")
			if b.Charging {
				state = colorGreen.Render("charging ⚡")
			}
			body = fmt.Sprintf("%s %s\n%s",
				colorDim.Render("Level:"), levelStyle(b.Level).Render(fmt.Sprintf("%d%%", b.Level)), state)
		}
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, cardTitle("Battery"), body))
}

func renderLevelCard(title string, value *int) string {
	body := colorDim.Render("unknown")
	if value != nil {
		body = fmt.Sprintf("%s %s", renderBar(*value, 16), colorWhite.Render(fmt.Sprintf("%3d%%", *value)))
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, cardTitle(title), body))
}

// renderBars 0-4 格信号
func renderBars(bars int) string {
	glyphs := []string{"▂", "▄", "▆", "█"}
	var b strings.Builder
	for i, g := range glyphs {
		if i < bars {
			b.WriteString(colorGreen.Render(g))
		} else {
			b.WriteString(colorDim.Render(g))
		}
	}
	return b.String() + colorDim.Render(fmt.Sprintf(" %d/4", bars))
}

// renderBar 百分比进度条
func renderBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return colorCyan.Render(strings.Repeat("█", filled)) + colorDim.Render(strings.Repeat("░", width-filled))
}

func levelStyle(percent int) lipgloss.Style {
	switch {
	case percent >= 60:
		return colorGreen
	case percent >= 25:
		return colorYellow
	default:
		return colorRed
	}
}

// renderEventLog 事件日志，按 scroll 截取可见窗口
func renderEventLog(m Model) string {
	title := colorMagenta.Render(fmt.Sprintf("Events (%d)", len(m.events)))
	lines := visibleEvents(m.events, m.scroll, logHeight)
	if len(lines) == 0 {
		return logStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, colorDim.Render("no events yet")))
	}
	rendered := make([]string, 0, len(lines))
	for _, ev := range lines {
		rendered = append(rendered, colorCyan.Render(ev.Type)+" "+colorWhite.Render(truncate(ev.Value, 36)))
	}
	if m.scroll > 0 {
		rendered = append(rendered, colorDim.Render(fmt.Sprintf("↓ %d newer", m.scroll)))
	}
	return logStyle.Render(lipgloss.JoinVertical(lipgloss.Left, append([]string{title}, rendered...)...))
}

func visibleEvents(events []eventLine, scroll, height int) []eventLine {
	end := len(events) - scroll
	if end < 0 {
		end = 0
	}
	start := end - height
	if start < 0 {
		start = 0
	}
	return events[start:end]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderHelpBar 帮助栏
func renderHelpBar() string {
	keys := []struct {
		key  string
		desc string
	}{
		{"↑↓", "scroll events"},
		{"r", "rescan wifi"},
		{"q", "quit"},
	}

	var parts []string
	for _, k := range keys {
		parts = append(parts, keyStyle.Render(k.key)+" "+helpStyle.Render(k.desc))
	}

	return helpStyle.Render("  ") + strings.Join(parts, helpStyle.Render("  •  "))
}
