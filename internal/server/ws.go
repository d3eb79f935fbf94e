// Package server exposes the WebSocket transport: an HTTP upgrade endpoint
// that carries the same binary wire frames as the TCP listener, one frame
// per binary message.
package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

var errNotBinaryMessage = errors.New("websocket transport requires binary messages")

// wsFrameConn adapts a WebSocket connection to the frameConn contract.
// WebSocket already delimits messages, so each binary message must hold
// exactly one encoded frame.
type wsFrameConn struct {
	conn *websocket.Conn
}

func newWSFrameConn(conn *websocket.Conn, maxPayload int64) *wsFrameConn {
	conn.SetReadLimit(maxPayload + wire.HeaderSize)
	return &wsFrameConn{conn: conn}
}

func (c *wsFrameConn) ReadFrame() (wire.Frame, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return wire.Frame{}, err
	}
	if messageType != websocket.BinaryMessage {
		return wire.Frame{}, errNotBinaryMessage
	}
	return wire.Decode(data)
}

func (c *wsFrameConn) WriteFrame(msgType wire.MsgType, payload []byte) error {
	frame := wire.Frame{Type: msgType, Payload: payload}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame.Encode())
}

func (c *wsFrameConn) Close() error {
	return c.conn.Close()
}

func (c *wsFrameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// WebSocketHandler handles WebSocket upgrade requests and runs the resulting
// connection through the same handshake and session path as a TCP client.
func (s *ChatServer) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSession(newWSFrameConn(conn, s.cfg.MaxMessageSize))
	}()
}
