package ipc

import (
	"github.com/kyson/hostbridge/internal/core/bridge"
)

// Reply is one outbound line: the result for a messageId.
type Reply struct {
	MessageID string        `json:"messageId"`
	Result    bridge.Result `json:"result"`
}

// maxLineSize bounds a single inbound envelope.
const maxLineSize = 4 << 20
