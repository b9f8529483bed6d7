package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/bridge"
)

// session feeds inbound envelopes of one connection to the dispatcher and
// serializes the replies back through send.
type session struct {
	ctx        context.Context
	dispatcher *bridge.Dispatcher
	transport  string

	mu   sync.Mutex
	send func(Reply) error
	wg   sync.WaitGroup
}

func newSession(ctx context.Context, d *bridge.Dispatcher, transport string, send func(Reply) error) *session {
	return &session{ctx: ctx, dispatcher: d, transport: transport, send: send}
}

// handle decodes one envelope. A malformed one still gets a reply, with
// an empty messageId.
func (s *session) handle(raw []byte) {
	var env bridge.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warn("Malformed envelope", "transport", s.transport, "error", err)
		s.reply("", bridge.Failuref("Invalid message: %v", err))
		return
	}

	s.wg.Add(1)
	s.dispatcher.Dispatch(s.ctx, env, func(id string, result bridge.Result) {
		defer s.wg.Done()
		s.reply(id, result)
	})
}

func (s *session) reply(id string, result bridge.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(Reply{MessageID: id, Result: result}); err != nil {
		logger.Warn("Failed to write reply", "transport", s.transport, "message_id", id, "error", err)
	}
}

// wait blocks until every dispatched envelope of the session has replied.
func (s *session) wait() {
	s.wg.Wait()
}

// serveLines runs the newline-delimited JSON protocol over r and w until
// r is exhausted. Pending replies are flushed before it returns.
func serveLines(ctx context.Context, r io.Reader, w io.Writer, d *bridge.Dispatcher, transport string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	s := newSession(ctx, d, transport, func(reply Reply) error {
		return enc.Encode(reply)
	})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// Scanner reuses its buffer
		s.handle(append([]byte(nil), line...))
	}
	s.wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ipc: read %s: %w", transport, err)
	}
	return nil
}

