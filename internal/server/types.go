// Package server defines the shared job envelope and session handle types
// that are reused across the directory, queue, and worker logic.
package server

import (
	"strings"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

// FramePusher is the write side of a connected session. The directory holds
// it as a weak, non-owning handle: it only pushes reply and notification
// frames, while the session itself owns the connection's lifecycle.
type FramePusher interface {
	Push(msgType wire.MsgType, payload []byte) error
}

// UserRef is a snapshot of a logged-in user: the display name plus the push
// handle of the connection it logged in on. It is embedded in every Job so a
// worker can reply without holding a long-lived reference into the directory.
type UserRef struct {
	Name    string
	Session FramePusher
}

// Job is the envelope a connection reader enqueues for the worker pool:
// the requesting user's snapshot, the decoded command code, and the raw
// command payload. Each job is built exactly once and consumed exactly once.
type Job struct {
	User    UserRef
	Type    wire.MsgType
	Payload []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
