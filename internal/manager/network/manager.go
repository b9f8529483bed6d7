// Package network manages the Wi-Fi interface through nmcli.
package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/events"
	"github.com/kyson/hostbridge/internal/core/fallback"
)

type initState int

const (
	stateUninitialized initState = iota
	stateInitializing
	stateInitialized
)

// Options configures a Manager. Zero durations take the defaults.
type Options struct {
	Engine *fallback.Engine
	Events *events.Queue

	// Interface forces an interface instead of detecting one.
	Interface   string
	ScanCache   time.Duration
	ScanCutoff  time.Duration
	RescanDelay time.Duration
	InitTimeout time.Duration

	// BaseContext bounds background rescans.
	BaseContext context.Context
	// ListInterfaces overrides the net.Interfaces + sysfs view.
	ListInterfaces func() ([]InterfaceInfo, error)
	Now            func() time.Time
}

// Manager owns the Wi-Fi state. All fields below mu are guarded by it.
type Manager struct {
	engine *fallback.Engine
	events *events.Queue
	opts   Options

	mu       sync.Mutex
	state    initState
	initDone chan struct{}
	iface    string
	cache    []Network
	lastScan time.Time
	scanning bool
	rescan   *time.Timer
}

func New(opts Options) *Manager {
	if opts.Engine == nil {
		opts.Engine = fallback.New(nil)
	}
	if opts.ScanCache <= 0 {
		opts.ScanCache = 30 * time.Second
	}
	if opts.ScanCutoff <= 0 {
		opts.ScanCutoff = 8 * time.Second
	}
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = 2 * time.Second
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 5 * time.Second
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.ListInterfaces == nil {
		opts.ListInterfaces = sysfs{root: "/sys/class/net"}.listInterfaces
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		engine: opts.Engine,
		events: opts.Events,
		opts:   opts,
	}
}

// Routes exposes the wifi* actions.
func (m *Manager) Routes() bridge.Routes {
	return bridge.Routes{
		"wifiScanNetworks":          bridge.NoInput(m.ScanNetworks),
		"wifiGetNetworks":           bridge.NoInput(m.GetNetworks),
		"wifiConnectToNetwork":      bridge.Typed(m.Connect),
		"wifiDisconnect":            bridge.NoInput(m.Disconnect),
		"wifiGetConnectionStatus":   bridge.NoInput(m.ConnectionStatus),
		"wifiGetCurrentStrength":    bridge.NoInput(m.CurrentStrength),
		"wifiGetInterfaceInfo":      bridge.NoInput(m.InterfaceInfo),
		"wifiReinitializeInterface": bridge.Typed(m.Reinitialize),
	}
}

// Close stops a pending background rescan.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rescan != nil {
		m.rescan.Stop()
		m.rescan = nil
	}
}

// ensureInit runs interface detection once. Concurrent callers wait for
// the first one; if it takes longer than InitTimeout the state is forced
// to initialized so nobody waits forever.
func (m *Manager) ensureInit(ctx context.Context) {
	m.mu.Lock()
	switch m.state {
	case stateInitialized:
		m.mu.Unlock()
		return
	case stateUninitialized:
		done := make(chan struct{})
		m.state = stateInitializing
		m.initDone = done
		m.mu.Unlock()

		iface := m.detectWithTimeout(ctx)

		m.mu.Lock()
		if m.iface == "" {
			m.iface = iface
		}
		m.state = stateInitialized
		m.mu.Unlock()
		close(done)
		logger.Info("WiFi initialized", "interface", displayIface(iface))
		return
	default:
		done := m.initDone
		m.mu.Unlock()

		timer := time.NewTimer(m.opts.InitTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
		case <-timer.C:
			m.mu.Lock()
			if m.state == stateInitializing {
				logger.Error("WiFi initialization timeout, continuing without it")
				m.state = stateInitialized
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) detectWithTimeout(ctx context.Context) string {
	if m.opts.Interface != "" {
		return m.opts.Interface
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.InitTimeout)
	defer cancel()
	iface, err := m.detectInterface(ctx)
	if err != nil {
		logger.Warn("WiFi interface detection failed, using automatic selection", "error", err)
		return ""
	}
	return iface
}

func (m *Manager) detectInterface(ctx context.Context) (string, error) {
	out, err := m.engine.Run(ctx,
		fallback.Op("ip -o link show", func(ctx context.Context) (string, error) {
			stdout, err := m.engine.Output(ctx, "ip", "-o", "link", "show")
			if err != nil {
				return "", err
			}
			names := parseIPLink(stdout)
			if len(names) == 0 {
				return "", errNoWifiInterface
			}
			return names[0], nil
		}),
		fallback.Op("net.Interfaces", func(ctx context.Context) (string, error) {
			infos, err := m.opts.ListInterfaces()
			if err != nil {
				return "", err
			}
			if len(infos) == 0 {
				return "", errNoWifiInterface
			}
			return infos[0].Name, nil
		}),
	)
	if err != nil {
		return "", err
	}
	logger.Debug("WiFi interface detected", "interface", out.Output, "via", out.Winner.String())
	return out.Output, nil
}

func (m *Manager) currentIface() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iface
}

func withIface(argv []string, iface string) []string {
	if iface == "" {
		return argv
	}
	return append(argv, "ifname", iface)
}

type scanData struct {
	Networks   []Network `json:"networks"`
	IsScanning bool      `json:"isScanning"`
}

// ScanNetworks runs a fresh scan. Only one scan runs at a time; a second
// caller gets "Scan already in progress".
func (m *Manager) ScanNetworks(ctx context.Context) (bridge.Result, error) {
	m.ensureInit(ctx)

	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return bridge.Failure("Scan already in progress", nil), nil
	}
	m.scanning = true
	iface := m.iface
	m.mu.Unlock()

	networks, cut, err := m.scan(ctx, iface)

	m.mu.Lock()
	m.scanning = false
	if err == nil {
		m.cache = networks
		m.lastScan = m.opts.Now()
	}
	m.mu.Unlock()

	if err != nil {
		logger.Error("WiFi scan failed", "error", err)
		return bridge.FailureFrom(err, scanData{Networks: []Network{}}), nil
	}
	logger.Info("WiFi scan finished", "networks", len(networks), "cutoff", cut)
	res := bridge.Success(scanData{Networks: networks})
	if cut {
		res = res.With("cutoff", true)
	}
	return res, nil
}

func (m *Manager) scan(ctx context.Context, iface string) ([]Network, bool, error) {
	fields := []string{"nmcli", "-t", "-f", "IN-USE,SSID,SIGNAL,SECURITY", "dev", "wifi", "list"}
	rescan := append(append([]string{}, fields...), "--rescan", "yes")

	out, err := m.engine.RunCutoff(ctx, m.opts.ScanCutoff,
		fallback.Cmd(withIface(rescan, iface)...),
		fallback.Cmd(withIface(fields, iface)...),
	)
	if err != nil {
		return nil, false, err
	}
	return parseScan(out.Output, out.Cut), out.Cut, nil
}

// GetNetworks serves the cached scan while it is fresh.
func (m *Manager) GetNetworks(ctx context.Context) (bridge.Result, error) {
	m.mu.Lock()
	fresh := len(m.cache) > 0 && m.opts.Now().Sub(m.lastScan) < m.opts.ScanCache
	data := scanData{Networks: append([]Network(nil), m.cache...), IsScanning: m.scanning}
	m.mu.Unlock()

	if fresh {
		return bridge.Success(data), nil
	}
	return m.ScanNetworks(ctx)
}

type connectIn struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

type linkData struct {
	SSID      *string `json:"ssid"`
	Connected bool    `json:"connected"`
}

func (m *Manager) Connect(ctx context.Context, in connectIn) (bridge.Result, error) {
	m.ensureInit(ctx)

	if in.SSID == "" {
		return bridge.Failure("SSID is required", nil), nil
	}
	iface := m.currentIface()

	argv := []string{"nmcli", "dev", "wifi", "connect", in.SSID}
	if strings.TrimSpace(in.Password) != "" {
		argv = append(argv, "password", in.Password)
	}
	argv = withIface(argv, iface)

	logger.Info("Connecting to WiFi network", "ssid", in.SSID)
	if _, err := m.engine.Run(ctx, redacted(fallback.WithSudo(argv...), in.Password)...); err != nil {
		res := bridge.FailureFrom(err, linkData{SSID: &in.SSID})
		res.Message = hide(res.Message, in.Password)
		res.Stack = hide(res.Stack, in.Password)
		logger.Error("WiFi connection failed", "ssid", in.SSID, "error", res.Message)
		return res, nil
	}

	m.linkChanged(in.SSID, true)
	return bridge.SuccessMessage(fmt.Sprintf("Connected to %s", in.SSID), linkData{SSID: &in.SSID, Connected: true}), nil
}

// redacted hides the password from candidate names, which end up in logs
// and traces.
func redacted(cands []fallback.Candidate, password string) []fallback.Candidate {
	for i := range cands {
		cands[i].Name = hide(cands[i].Name, password)
	}
	return cands
}

func hide(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "******")
}

func (m *Manager) Disconnect(ctx context.Context) (bridge.Result, error) {
	m.ensureInit(ctx)
	iface := m.currentIface()

	var ssid *string
	if conn, ok, err := m.activeConnection(ctx, iface); err == nil && ok {
		ssid = &conn.SSID
	}

	var cands []fallback.Candidate
	if iface != "" {
		cands = append(cands, fallback.WithSudo("nmcli", "dev", "disconnect", iface)...)
	}
	if ssid != nil {
		cands = append(cands, fallback.WithSudo("nmcli", "connection", "down", "id", *ssid)...)
	}
	if len(cands) == 0 {
		return bridge.FailureFrom(errNoWifiInterface, linkData{Connected: true}), nil
	}

	if _, err := m.engine.Run(ctx, cands...); err != nil {
		logger.Error("WiFi disconnection failed", "error", err)
		return bridge.FailureFrom(err, linkData{Connected: true}), nil
	}

	msg := "Disconnected from WiFi"
	name := ""
	if ssid != nil {
		name = *ssid
		msg = fmt.Sprintf("Disconnected from WiFi (%s)", name)
	}
	m.linkChanged(name, false)
	return bridge.SuccessMessage(msg, linkData{SSID: ssid}), nil
}

// linkChanged queues an event and schedules a refresh scan so the cache
// shows the new connected flag.
func (m *Manager) linkChanged(ssid string, connected bool) {
	if m.events != nil {
		m.events.Push(events.WifiConnectionChanged, map[string]any{"ssid": ssid, "connected": connected})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rescan != nil {
		m.rescan.Stop()
	}
	m.rescan = time.AfterFunc(m.opts.RescanDelay, func() {
		ctx := m.opts.BaseContext
		if ctx.Err() != nil {
			return
		}
		res, _ := m.ScanNetworks(ctx)
		if res.OK() && m.events != nil {
			m.events.Push(events.WifiScanCompleted, res.Data)
		}
	})
}

func (m *Manager) activeConnection(ctx context.Context, iface string) (Connection, bool, error) {
	var conn Connection
	var found bool

	cands := []fallback.Candidate{
		fallback.Op("nmcli active", func(ctx context.Context) (string, error) {
			out, err := m.engine.Output(ctx, withIface([]string{"nmcli", "-t", "-f", "ACTIVE,SSID,SIGNAL,SECURITY", "dev", "wifi", "list"}, iface)...)
			if err != nil {
				return "", err
			}
			conn, found = parseActive(out)
			return out, nil
		}),
	}
	if iface != "" {
		cands = append(cands, fallback.Op("iw link", func(ctx context.Context) (string, error) {
			out, err := m.engine.Output(ctx, "iw", "dev", iface, "link")
			if err != nil {
				return "", err
			}
			conn, found = parseIwLink(out)
			return out, nil
		}))
	}

	if _, err := m.engine.Run(ctx, cands...); err != nil {
		return Connection{}, false, err
	}
	return conn, found, nil
}

type statusData struct {
	Connected bool    `json:"connected"`
	SSID      *string `json:"ssid"`
	Quality   int     `json:"quality"`
	Strength  int     `json:"strength"`
	Security  *string `json:"security"`
}

func (m *Manager) ConnectionStatus(ctx context.Context) (bridge.Result, error) {
	m.ensureInit(ctx)

	conn, ok, err := m.activeConnection(ctx, m.currentIface())
	if err != nil {
		logger.Error("Failed to get connection status", "error", err)
		return bridge.FailureFrom(err, statusData{}), nil
	}
	if !ok {
		return bridge.Success(statusData{}), nil
	}
	security := conn.Security
	if security == "" {
		security = "unknown"
	}
	return bridge.Success(statusData{
		Connected: true,
		SSID:      &conn.SSID,
		Quality:   conn.Quality,
		Strength:  SignalBars(conn.Quality),
		Security:  &security,
	}), nil
}

type strengthData struct {
	Strength int `json:"strength"`
	Quality  int `json:"quality"`
}

func (m *Manager) CurrentStrength(ctx context.Context) (bridge.Result, error) {
	res, _ := m.ConnectionStatus(ctx)
	status, _ := res.Data.(statusData)
	if !res.OK() {
		return bridge.Failure(res.Message, strengthData{}), nil
	}
	if !status.Connected {
		return bridge.Success(strengthData{}), nil
	}
	return bridge.Success(strengthData{Strength: status.Strength, Quality: status.Quality}), nil
}

type interfaceData struct {
	CurrentInterface    *string         `json:"currentInterface"`
	AvailableInterfaces []InterfaceInfo `json:"availableInterfaces"`
	TotalFound          int             `json:"totalFound"`
}

func (m *Manager) InterfaceInfo(ctx context.Context) (bridge.Result, error) {
	var current *string
	if iface := m.currentIface(); iface != "" {
		current = &iface
	}

	infos, err := m.opts.ListInterfaces()
	if err != nil {
		return bridge.FailureFrom(err, interfaceData{CurrentInterface: current, AvailableInterfaces: []InterfaceInfo{}}), nil
	}
	if infos == nil {
		infos = []InterfaceInfo{}
	}
	return bridge.Success(interfaceData{
		CurrentInterface:    current,
		AvailableInterfaces: infos,
		TotalFound:          len(infos),
	}), nil
}

type reinitIn struct {
	ForceInterface string `json:"forceInterface"`
}

type reinitData struct {
	Interface *string `json:"interface"`
	Timestamp int64   `json:"timestamp"`
}

// Reinitialize switches interface (forced or re-detected) and drops the
// scan cache.
func (m *Manager) Reinitialize(ctx context.Context, in reinitIn) (bridge.Result, error) {
	iface := in.ForceInterface
	if iface == "" {
		detected, err := m.detectInterface(ctx)
		if err != nil && !errors.Is(err, errNoWifiInterface) {
			logger.Warn("WiFi interface re-detection failed", "error", err)
		}
		iface = detected
	}

	m.mu.Lock()
	m.iface = iface
	m.cache = nil
	m.lastScan = time.Time{}
	if m.state != stateInitializing {
		m.state = stateInitialized
	}
	m.mu.Unlock()

	logger.Info("WiFi reinitialized", "interface", displayIface(iface))

	data := reinitData{Timestamp: m.opts.Now().UnixMilli()}
	if iface != "" {
		data.Interface = &iface
	}
	return bridge.SuccessMessage("WiFi reinitialized with interface: "+displayIface(iface), data), nil
}

func displayIface(iface string) string {
	if iface == "" {
		return "auto-detect"
	}
	return iface
}
