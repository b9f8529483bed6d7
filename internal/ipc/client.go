package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/kyson/hostbridge/internal/core/bridge"
)

// UnixClient represents an IPC client that connects to the daemon via Unix socket
type UnixClient struct {
	socketPath string
	// deadline for connection
	deadline time.Duration
}

// NewClient creates a new IPC client
func NewClient(socketPath string) *UnixClient {
	return &UnixClient{
		socketPath: socketPath,
		deadline:   30 * time.Second,
	}
}

// Call sends one envelope with a fresh messageId and waits for the reply
// carrying the same id.
func (c *UnixClient) Call(ctx context.Context, action string, data any) (bridge.Result, error) {
	env := bridge.Envelope{MessageID: uuid.NewString(), Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return bridge.Result{}, fmt.Errorf("failed to marshal data: %w", err)
		}
		env.Data = raw
	}

	// Connect to daemon
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return bridge.Result{}, fmt.Errorf("failed to connect to daemon: %w (is daemon running?)", err)
	}
	defer conn.Close()

	// Set deadline
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if c.deadline > 0 {
		conn.SetDeadline(time.Now().Add(c.deadline))
	}

	if err := json.NewEncoder(conn).Encode(env); err != nil {
		return bridge.Result{}, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var reply Reply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			return bridge.Result{}, fmt.Errorf("failed to read response: %w", err)
		}
		if reply.MessageID != env.MessageID {
			continue
		}
		return reply.Result, nil
	}
	if err := scanner.Err(); err != nil {
		return bridge.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	return bridge.Result{}, fmt.Errorf("daemon closed connection before replying to %s", action)
}
