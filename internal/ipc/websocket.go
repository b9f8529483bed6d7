package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
	"github.com/kyson/hostbridge/internal/version"
)

const (
	// WebsocketPath is where the upgrade handler is mounted.
	WebsocketPath = "/ws"
	// MDNSService is the service type advertised over zeroconf.
	MDNSService = "_hostbridge._tcp"

	writeWait = 10 * time.Second
)

// ErrUnauthorized is returned for a missing or invalid bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// WebsocketOptions control ServeWebsocket behavior.
type WebsocketOptions struct {
	// Secret enables HS256 token auth when non-empty.
	Secret string
	// MDNS advertises the listener on the local network.
	MDNS     bool
	MDNSName string
	Ready    chan<- net.Addr
}

// ServeWebsocket serves the protocol over websocket text frames, one
// envelope per frame.
func ServeWebsocket(ctx context.Context, addr string, d *bridge.Dispatcher, opts *WebsocketOptions) error {
	if d == nil {
		return fmt.Errorf("ipc: dispatcher is required")
	}
	if opts == nil {
		opts = &WebsocketOptions{}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ipc: websocket listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(WebsocketPath, WebsocketHandler(ctx, d, opts.Secret))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.MDNS {
		if shutdown := advertise(opts.MDNSName, listener.Addr()); shutdown != nil {
			defer shutdown()
		}
	}
	if opts.Ready != nil {
		select {
		case opts.Ready <- listener.Addr():
		default:
		}
	}
	logger.Info("Websocket listening", "addr", listener.Addr().String(), "auth", opts.Secret != "")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ipc: websocket serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Websocket shutdown", "error", err)
		}
		return nil
	}
}

// WebsocketHandler upgrades authorized requests and serves envelopes until
// the peer disconnects or ctx ends.
func WebsocketHandler(ctx context.Context, d *bridge.Dispatcher, secret string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// 本地 host 页面来源不固定，鉴权交给 token
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" {
			if err := VerifyToken(secret, bearer(r)); err != nil {
				logger.Warn("Websocket auth rejected", "remote", r.RemoteAddr, "error", err)
				http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		serveWebsocketConn(ctx, conn, d)
	})
}

func serveWebsocketConn(ctx context.Context, conn *websocket.Conn, d *bridge.Dispatcher) {
	defer conn.Close()
	conn.SetReadLimit(maxLineSize)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	s := newSession(ctx, d, "websocket", func(reply Reply) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(reply)
	})
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Websocket closed", "error", err)
			}
			break
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		s.handle(msg)
	}
	s.wait()
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// VerifyToken checks an HS256 token signed with secret.
func VerifyToken(secret, token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return nil
}

// SignToken issues an HS256 token for websocket clients. ttl <= 0 means
// no expiry.
func SignToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("ipc: jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// advertise registers the websocket listener over mDNS. A failure only
// logs, the transport keeps serving.
func advertise(name string, addr net.Addr) func() {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil
	}
	if name == "" {
		host, _ := os.Hostname()
		name = "hostbridge-" + host
	}
	txt := []string{
		"path=" + WebsocketPath,
		"version=" + version.Tag,
	}
	server, err := zeroconf.Register(name, MDNSService, "local.", tcp.Port, txt, nil)
	if err != nil {
		logger.Warn("mDNS register failed", "error", err)
		return nil
	}
	logger.Info("mDNS advertised", "name", name, "service", MDNSService, "port", tcp.Port)
	return server.Shutdown
}
