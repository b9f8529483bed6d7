package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/ipc"
)

// ============================================================================
// 异步命令定义
// 所有与 daemon 交互的操作都封装为 tea.Cmd
// ============================================================================

const callTimeout = 3 * time.Second

// errUnreachable 四个读数全部因传输失败而缺失
var errUnreachable = errors.New("daemon unreachable")

// cmdPoll 依次读取 Wi-Fi、电池、音量、亮度
func cmdPoll(c ipc.Client) tea.Cmd {
	return func() tea.Msg {
		var msg snapshotMsg
		var transportErr error

		read := func(action string, out any) bool {
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			res, err := c.Call(ctx, action, nil)
			if err != nil {
				transportErr = err
				return false
			}
			return res.OK() && decode(res, out) == nil
		}

		var wifi wifiReading
		if read("wifiGetCurrentStrength", &wifi) {
			msg.Wifi = &wifi
		}
		var battery batteryReading
		if read("batteryCheckStatus", &battery) {
			msg.Battery = &battery
		}
		var volume struct {
			Volume int `json:"volume"`
		}
		if read("audioGetVolume", &volume) {
			msg.Volume = &volume.Volume
		}
		var brightness struct {
			Brightness int `json:"brightness"`
		}
		if read("displayGetBrightness", &brightness) {
			msg.Bright = &brightness.Brightness
		}

		if transportErr != nil && msg.Wifi == nil && msg.Battery == nil && msg.Volume == nil && msg.Bright == nil {
			msg.Err = fmt.Errorf("%w: %v", errUnreachable, transportErr)
		}
		return msg
	}
}

// cmdPopEvents 排空事件队列
func cmdPopEvents(c ipc.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		res, err := c.Call(ctx, "popEvents", nil)
		if err != nil {
			return eventsMsg{Err: err}
		}
		var raw []struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		}
		if err := decode(res, &raw); err != nil {
			return eventsMsg{Err: err}
		}
		lines := make([]eventLine, 0, len(raw))
		for _, ev := range raw {
			lines = append(lines, eventLine{Type: ev.Type, Value: string(ev.Value)})
		}
		return eventsMsg{Events: lines}
	}
}

// cmdRescan 触发一次 Wi-Fi 扫描
func cmdRescan(c ipc.Client) tea.Cmd {
	return func() tea.Msg {
		// 扫描自带截止时间，这里给足余量
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := c.Call(ctx, "wifiScanNetworks", nil)
		if err != nil {
			return rescanMsg{Err: err}
		}
		if !res.OK() {
			return rescanMsg{Err: errors.New(res.Message)}
		}
		var data struct {
			Networks []json.RawMessage `json:"networks"`
		}
		if err := decode(res, &data); err != nil {
			return rescanMsg{Err: err}
		}
		return rescanMsg{Count: len(data.Networks)}
	}
}

// cmdTick 定时刷新
func cmdTick(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// decode 把 result.data 转成目标结构，无论它来自 socket 的 map 还是本地结构体
func decode(res bridge.Result, out any) error {
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
