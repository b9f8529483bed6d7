// Package daemon wires the managers into one dispatcher and serves it over
// the configured transports.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/kyson/hostbridge/internal/core/events"
	"github.com/kyson/hostbridge/internal/core/fallback"
	"github.com/kyson/hostbridge/internal/env"
	"github.com/kyson/hostbridge/internal/ipc"
	"github.com/kyson/hostbridge/internal/manager/addressbook"
	"github.com/kyson/hostbridge/internal/manager/audio"
	"github.com/kyson/hostbridge/internal/manager/battery"
	"github.com/kyson/hostbridge/internal/manager/crypto"
	"github.com/kyson/hostbridge/internal/manager/diag"
	"github.com/kyson/hostbridge/internal/manager/display"
	"github.com/kyson/hostbridge/internal/manager/firewall"
	"github.com/kyson/hostbridge/internal/manager/network"
	"github.com/kyson/hostbridge/internal/manager/power"
	"github.com/kyson/hostbridge/internal/manager/speedtest"
	"github.com/kyson/hostbridge/internal/manager/system"
	"github.com/kyson/hostbridge/internal/manager/timectl"
	"github.com/kyson/hostbridge/internal/version"
)

// ErrNoTransport is returned when the config enables nothing to serve on.
var ErrNoTransport = errors.New("no transport enabled")

// Options tune what the daemon builds. Zero values mean the real system.
type Options struct {
	Config config.Config
	// Runner executes system commands for every manager.
	Runner fallback.Runner
	// Battery replaces the OS battery source.
	Battery battery.Source
	// Stdio serves stdin/stdout in addition to the configured transports.
	Stdio  bool
	Stdin  io.Reader
	Stdout io.Writer
	// Ready receives the dispatcher once transports are being started.
	Ready chan<- *bridge.Dispatcher
}

// Daemon owns the managers, the event queue and the transports.
type Daemon struct {
	opts Options

	mu         sync.Mutex
	cancelFunc context.CancelFunc // 用于取消 daemon context
	lock       *env.DaemonLock
	state      *config.RuntimeState
	queue      *events.Queue
	dispatcher *bridge.Dispatcher
	battery    *battery.Manager
	closers    []func()
}

// NewDaemon builds a daemon controller.
func NewDaemon(opts Options) *Daemon {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Daemon{opts: opts}
}

// Build creates every manager and the dispatcher over their routes. ctx
// bounds background work started by managers.
func (d *Daemon) Build(ctx context.Context) (*bridge.Dispatcher, error) {
	cfg := d.opts.Config
	engine := fallback.New(d.opts.Runner).WithTimeout(cfg.Timeouts.Command.Std())
	queue := events.NewQueue()
	httpClient := &http.Client{Timeout: cfg.Timeouts.HTTP.Std()}

	store, err := addressbook.OpenStore(env.Get().AddressBookFile)
	if err != nil {
		return nil, fmt.Errorf("open address book: %w", err)
	}

	wifi := network.New(network.Options{
		Engine:      engine,
		Events:      queue,
		Interface:   cfg.Wifi.Interface,
		ScanCache:   cfg.Wifi.ScanCache.Std(),
		ScanCutoff:  cfg.Wifi.ScanCutoff.Std(),
		RescanDelay: cfg.Wifi.RescanDelay.Std(),
		InitTimeout: cfg.Timeouts.WifiInit.Std(),
		BaseContext: ctx,
	})
	wallet := crypto.New(cfg.Crypto.RPCURL)
	batteries := battery.New(d.opts.Battery, queue)

	table, err := bridge.NewTable(
		queue.Routes(),
		wifi.Routes(),
		firewall.New(engine, cfg.Firewall.DefaultRules).Routes(),
		audio.New(engine).Routes(),
		display.New(engine, "").Routes(),
		power.New(engine).Routes(),
		timectl.New(timectl.Options{Engine: engine}).Routes(),
		system.New(cfg.System, httpClient, cfg.Timeouts.HTTP.Std()).Routes(),
		wallet.Routes(),
		addressbook.New(store, queue).Routes(),
		// 测速自己控制截止时间，不能用全局 HTTP 超时
		speedtest.New(cfg.Speedtest, &http.Client{}).Routes(),
		batteries.Routes(),
		diag.New().Routes(),
		d.Routes(),
	)
	if err != nil {
		_ = store.Close()
		wallet.Close()
		wifi.Close()
		return nil, err
	}

	dispatcher := bridge.NewDispatcher(table)
	d.mu.Lock()
	d.queue = queue
	d.dispatcher = dispatcher
	d.battery = batteries
	d.closers = append(d.closers,
		wifi.Close,
		wallet.Close,
		func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close address book", "error", err)
			}
		},
	)
	d.mu.Unlock()
	return dispatcher, nil
}

// Serve acquires the instance lock, builds the dispatcher and runs every
// configured transport. Blocks until ctx is cancelled or a transport
// fails.
func (d *Daemon) Serve(ctx context.Context) error {
	// 检查是否已有实例在运行（通过尝试获取锁）
	lock, err := env.AcquireLock(env.Get().HomeDir)
	if err != nil {
		return fmt.Errorf("another instance is already running: %w", err)
	}
	d.mu.Lock()
	d.lock = lock
	d.mu.Unlock()

	// 创建可取消的 context，用于控制所有子服务的生命周期
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelFunc = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.cleanup()
	}()

	dispatcher, err := d.Build(ctx)
	if err != nil {
		return err
	}

	cfg := d.opts.Config
	if !cfg.Transport.Unix && cfg.Transport.Websocket == "" && !d.opts.Stdio {
		return ErrNoTransport
	}

	d.saveState(dispatcher)
	logger.Info("Daemon started", "version", version.Tag, "actions", len(dispatcher.Actions()))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Transport.Unix {
		g.Go(func() error {
			return ipc.Serve(gctx, env.Get().SocketFile, dispatcher, &ipc.ServerOptions{})
		})
	}
	if cfg.Transport.Websocket != "" {
		g.Go(func() error {
			return ipc.ServeWebsocket(gctx, cfg.Transport.Websocket, dispatcher, &ipc.WebsocketOptions{
				Secret:   cfg.Transport.JWTSecret,
				MDNS:     cfg.Transport.MDNS,
				MDNSName: cfg.Transport.MDNSName,
			})
		})
	}
	if d.opts.Stdio {
		g.Go(func() error {
			err := ipc.ServeStream(gctx, d.opts.Stdin, d.opts.Stdout, dispatcher)
			// host 关闭了 stdin，daemon 随之退出
			logger.Info("Stdio closed, stopping daemon")
			cancel()
			return err
		})
	}
	if interval := cfg.Battery.PollInterval.Std(); interval > 0 {
		g.Go(func() error {
			d.battery.Watch(gctx, interval)
			return nil
		})
	}

	if d.opts.Ready != nil {
		select {
		case d.opts.Ready <- dispatcher:
		default:
		}
	}

	err = g.Wait()
	logger.Info("Daemon shutting down")
	return err
}

// Stop cancels a running Serve.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
}

// Queue returns the event queue, nil before Build.
func (d *Daemon) Queue() *events.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue
}

func (d *Daemon) saveState(dispatcher *bridge.Dispatcher) {
	state := &config.RuntimeState{
		PID:       os.Getpid(),
		Websocket: d.opts.Config.Transport.Websocket,
		StartedAt: time.Now(),
		Actions:   len(dispatcher.Actions()),
	}
	if d.opts.Config.Transport.Unix {
		state.Socket = env.Get().SocketFile
	}
	if err := config.SaveState(state); err != nil {
		logger.Error("Failed to save runtime state", "error", err)
	}
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

// cleanup 清理资源
func (d *Daemon) cleanup() {
	d.mu.Lock()
	dispatcher := d.dispatcher
	closers := d.closers
	d.closers = nil
	d.mu.Unlock()

	// 先等所有 handler 投递完，再关闭它们依赖的资源
	if dispatcher != nil {
		dispatcher.Wait()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelFunc = nil
	if d.state != nil {
		if err := config.ClearState(); err != nil {
			logger.Error("Failed to clear runtime state", "error", err)
		}
		d.state = nil
	}
	if d.lock != nil {
		d.lock.Release()
		d.lock = nil
	}
}

// Routes are the daemon's own actions.
func (d *Daemon) Routes() bridge.Routes {
	return bridge.Routes{
		"daemonGetStatus": bridge.NoInput(d.handleStatus),
		"daemonStop":      bridge.NoInput(d.handleStop),
	}
}

type statusData struct {
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	Socket    string    `json:"socket,omitempty"`
	Websocket string    `json:"websocket,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Uptime    string    `json:"uptime"`
	Actions   []string  `json:"actions"`
	Pending   int       `json:"pendingEvents"`
}

func (d *Daemon) handleStatus(context.Context) (bridge.Result, error) {
	d.mu.Lock()
	state := d.state
	dispatcher := d.dispatcher
	queue := d.queue
	d.mu.Unlock()

	data := statusData{Version: version.Tag, PID: os.Getpid()}
	if state != nil {
		data.Socket = state.Socket
		data.Websocket = state.Websocket
		data.StartedAt = state.StartedAt
		data.Uptime = time.Since(state.StartedAt).Round(time.Second).String()
	}
	if dispatcher != nil {
		data.Actions = dispatcher.Actions()
	}
	if queue != nil {
		data.Pending = queue.Len()
	}
	return bridge.Success(data), nil
}

func (d *Daemon) handleStop(context.Context) (bridge.Result, error) {
	d.mu.Lock()
	cancel := d.cancelFunc
	d.mu.Unlock()
	if cancel == nil {
		return bridge.Failuref("daemon not running"), nil
	}
	// cleanup 会等这条回复投递完
	cancel()
	return bridge.SuccessMessage("Daemon stopping", nil), nil
}
