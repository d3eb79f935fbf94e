// Package testhelpers provides common utilities and helper functions for testing the Relay Chat server.
//
// This package contains reusable test utilities that are shared across unit and integration tests.
// It provides a framed TCP chat client, a frame-recording session stub, and WebSocket helpers
// to reduce code duplication in test files.
package testhelpers

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

// RecvTimeout bounds how long helpers wait for a single reply frame.
const RecvTimeout = 2 * time.Second

// ChatClient is a minimal framed TCP client for exercising the server in tests.
type ChatClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// DialChat connects a ChatClient to the given TCP address and fails the test
// if the connection cannot be established.
func DialChat(t *testing.T, addr string) *ChatClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, RecvTimeout)
	if err != nil {
		t.Fatalf("Failed to dial chat server at %s: %v", addr, err)
	}
	return &ChatClient{conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes one frame to the server.
func (c *ChatClient) Send(t *testing.T, msgType wire.MsgType, payload []byte) {
	t.Helper()

	if err := wire.WriteFrame(c.conn, msgType, payload); err != nil {
		t.Fatalf("Failed to send %v frame: %v", msgType, err)
	}
}

// Recv reads one frame from the server, failing the test on timeout.
func (c *ChatClient) Recv(t *testing.T) wire.Frame {
	t.Helper()

	if err := c.conn.SetReadDeadline(time.Now().Add(RecvTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	frame, err := wire.ReadFrame(c.reader, 1<<20)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// RecvExpect reads one frame and asserts its type.
func (c *ChatClient) RecvExpect(t *testing.T, want wire.MsgType) wire.Frame {
	t.Helper()

	frame := c.Recv(t)
	if frame.Type != want {
		t.Fatalf("Expected %v frame, got %v (payload %q)", want, frame.Type, frame.Payload)
	}
	return frame
}

// Login performs the login handshake for the given username and asserts the
// reply type.
func (c *ChatClient) Login(t *testing.T, name string, want wire.MsgType) {
	t.Helper()

	c.Send(t, wire.Login, []byte(name))
	c.RecvExpect(t, want)
}

// ExpectClosed asserts that the server closes the connection without sending
// any further frame.
func (c *ChatClient) ExpectClosed(t *testing.T) {
	t.Helper()

	if err := c.conn.SetReadDeadline(time.Now().Add(RecvTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if frame, err := wire.ReadFrame(c.reader, 1<<20); err == nil {
		t.Fatalf("Expected connection to be closed, got %v frame", frame.Type)
	}
}

// Close closes the underlying connection.
func (c *ChatClient) Close() error {
	return c.conn.Close()
}

// RecordingSession implements server.FramePusher and records every frame
// pushed to it, standing in for a live connection in unit tests.
type RecordingSession struct {
	mu     sync.Mutex
	frames []wire.Frame
}

// Push records the frame.
func (r *RecordingSession) Push(msgType wire.MsgType, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, wire.Frame{Type: msgType, Payload: append([]byte(nil), payload...)})
	return nil
}

// Frames returns a copy of everything pushed so far.
func (r *RecordingSession) Frames() []wire.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Frame(nil), r.frames...)
}

// LastFrame returns the most recently pushed frame and ok=false when nothing
// has been pushed yet.
func (r *RecordingSession) LastFrame() (wire.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return wire.Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// CountType returns how many recorded frames carry the given type.
func (r *RecordingSession) CountType(msgType wire.MsgType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, frame := range r.frames {
		if frame.Type == msgType {
			count++
		}
	}
	return count
}

// WaitForFrame polls until a frame of the given type arrives or the timeout
// expires, returning ok=false on timeout.
func (r *RecordingSession) WaitForFrame(msgType wire.MsgType, timeout time.Duration) (wire.Frame, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, frame := range r.frames {
			if frame.Type == msgType {
				r.mu.Unlock()
				return frame, true
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return wire.Frame{}, false
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// an allowed origin header. It returns the connection or an error if the
// connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendWSFrame sends one encoded wire frame as a binary WebSocket message.
func SendWSFrame(conn *websocket.Conn, msgType wire.MsgType, payload []byte) error {
	frame := wire.Frame{Type: msgType, Payload: payload}
	return conn.WriteMessage(websocket.BinaryMessage, frame.Encode())
}

// RecvWSFrame reads one binary WebSocket message and decodes it as a wire frame.
func RecvWSFrame(conn *websocket.Conn) (wire.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(RecvTimeout)); err != nil {
		return wire.Frame{}, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.Decode(data)
}
