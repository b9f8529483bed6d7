package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
)

const (
	unixSocketPerm = 0600
)

// ServerOptions control Serve behavior.
type ServerOptions struct {
	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration
	Ready       chan<- struct{}
}

// Serve starts a Unix-domain socket server speaking newline-delimited
// JSON. Every connection may carry any number of envelopes.
func Serve(ctx context.Context, socketPath string, d *bridge.Dispatcher, opts *ServerOptions) error {
	if d == nil {
		return fmt.Errorf("ipc: dispatcher is required")
	}

	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("ipc: prepare socket: %w", err)
	}
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ipc: create socket dir: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen error: %w", err)
	}
	if err := os.Chmod(socketPath, unixSocketPerm); err != nil {
		_ = listener.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}
	if opts != nil && opts.Ready != nil {
		select {
		case opts.Ready <- struct{}{}:
		default:
		}
	}
	logger.Info("Unix socket listening", "socket", socketPath)

	var wg sync.WaitGroup
	defer func() {
		listener.Close()
		wg.Wait()
		_ = os.Remove(socketPath)
	}()

	// 监听 context 取消，主动关闭 listener
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipc: accept error: %w", err)
			}
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			serveConn(ctx, c, d, opts)
		}(conn)
	}
}

func serveConn(ctx context.Context, conn net.Conn, d *bridge.Dispatcher, opts *ServerOptions) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var r io.Reader = conn
	if opts != nil && opts.IdleTimeout > 0 {
		r = &idleReader{conn: conn, timeout: opts.IdleTimeout}
	}
	if err := serveLines(ctx, r, conn, d, "unix"); err != nil && ctx.Err() == nil {
		logger.Debug("Connection closed", "error", err)
	}
}

// idleReader pushes the read deadline forward before every read.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	return r.conn.Read(p)
}

// ServeStream runs the protocol over a reader/writer pair, typically
// stdin and stdout. It returns when r reaches EOF or ctx is cancelled.
func ServeStream(ctx context.Context, r io.Reader, w io.Writer, d *bridge.Dispatcher) error {
	if d == nil {
		return fmt.Errorf("ipc: dispatcher is required")
	}
	done := make(chan error, 1)
	go func() {
		done <- serveLines(ctx, r, w, d, "stdio")
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// stdin 无法中断读取，直接返回
		return nil
	}
}
