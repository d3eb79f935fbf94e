// Package server manages individual connection sessions: the per-connection
// reader loop that decodes frames, handles logout inline, and funnels every
// other command into the job queue.
package server

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

// frameConn abstracts a transport that carries wire frames, so the same
// session logic serves framed TCP streams and WebSocket connections.
type frameConn interface {
	ReadFrame() (wire.Frame, error)
	WriteFrame(msgType wire.MsgType, payload []byte) error
	Close() error
	RemoteAddr() string
}

// tcpFrameConn frames a raw TCP stream with the wire codec.
type tcpFrameConn struct {
	conn       net.Conn
	reader     *bufio.Reader
	maxPayload int32
}

func newTCPFrameConn(conn net.Conn, maxPayload int64) *tcpFrameConn {
	return &tcpFrameConn{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		maxPayload: int32(maxPayload),
	}
}

func (c *tcpFrameConn) ReadFrame() (wire.Frame, error) {
	return wire.ReadFrame(c.reader, c.maxPayload)
}

func (c *tcpFrameConn) WriteFrame(msgType wire.MsgType, payload []byte) error {
	return wire.WriteFrame(c.conn, msgType, payload)
}

func (c *tcpFrameConn) Close() error {
	return c.conn.Close()
}

func (c *tcpFrameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Session is the per-connection state machine. It exists only in the
// AUTHENTICATED state: the login handshake runs before a session is created,
// and the reader loop returning means the session is TERMINATED.
type Session struct {
	id        string
	conn      frameConn
	user      UserRef
	directory *Directory
	queue     *JobQueue
	limiter   *rateLimiter
	audit     *auditLog
	writeMu   sync.Mutex
}

// newSession wraps an accepted connection. The user snapshot is attached by
// the caller once the login handshake succeeds; until then the session only
// serves as the handshake's reply writer.
func newSession(conn frameConn, directory *Directory, queue *JobQueue, audit *auditLog) *Session {
	cfg := currentConfig()
	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		directory: directory,
		queue:     queue,
		limiter:   newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		audit:     audit,
	}
}

// Push writes one frame to the connection. Workers push replies and
// notifications concurrently with the reader's own logout reply, so all
// writes serialize on the session's write mutex.
func (s *Session) Push(msgType wire.MsgType, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteFrame(msgType, payload)
}

// readLoop decodes frames until the session terminates. LOGOUT is executed
// inline on the reader's own goroutine because it must complete before the
// socket closes; every other command becomes a job, and enqueueing suspends
// the reader while the queue is full.
func (s *Session) readLoop() {
	loggedOut := false
	defer func() {
		if !loggedOut {
			// Abrupt disconnect: run the same cleanup an explicit logout
			// would, minus the reply nobody is left to read.
			s.directory.Logout(s.user, false)
			s.audit.event("disconnect", "session", s.id, "user", s.user.Name)
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection for %q: %v", s.user.Name, err)
		}
	}()

	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.logReadError(err)
			return
		}

		if frame.Type == wire.Logout {
			s.directory.Logout(s.user, true)
			s.audit.event("logout", "session", s.id, "user", s.user.Name)
			loggedOut = true
			return
		}

		if !s.limiter.allow() {
			log.Printf("Rate limit exceeded for %q; discarding %v frame", s.user.Name, frame.Type)
			continue
		}

		s.queue.Enqueue(Job{User: s.user, Type: frame.Type, Payload: frame.Payload})
	}
}

// logReadError classifies the error that ended the reader loop. Protocol
// errors and I/O errors are both fatal to this one connection only; neither
// gets a reply.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		log.Printf("Client %q disconnected", s.user.Name)
	case errors.Is(err, wire.ErrNegativeLength),
		errors.Is(err, wire.ErrPayloadTooLarge),
		errors.Is(err, wire.ErrShortFrame):
		log.Printf("Protocol error from %q: %v", s.user.Name, err)
	case isExpectedCloseError(err):
		log.Printf("Connection for %q closed: %v", s.user.Name, err)
	default:
		log.Printf("Read error from %q: %v", s.user.Name, err)
	}
}
