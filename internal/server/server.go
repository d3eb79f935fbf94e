// Package server constructs and runs the Relay Chat TCP service: the accept
// loop, the shared directory, the job queue, and the worker pool, with
// helpers for graceful shutdown.
package server

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"
)

// ChatServer owns the core engine: the listener and its per-connection
// reader goroutines on the producing side, the bounded job queue in the
// middle, and the worker pool consuming against the shared directory.
type ChatServer struct {
	cfg       Config
	directory *Directory
	queue     *JobQueue
	pool      *WorkerPool
	audit     *auditLog
	listener  net.Listener

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// NewChatServer applies the configuration and assembles the engine. The
// audit sink is opened here so a bad path fails startup instead of losing
// events later.
func NewChatServer(cfg *Config) (*ChatServer, error) {
	SetConfig(cfg)
	applied := currentConfig()

	audit, err := newAuditLog(applied.AuditLogPath)
	if err != nil {
		return nil, err
	}

	directory := NewDirectory()
	queue := NewJobQueue(applied.QueueCapacity)
	pool := NewWorkerPool(applied.Workers, queue, directory)
	pool.audit = audit

	return &ChatServer{
		cfg:       applied,
		directory: directory,
		queue:     queue,
		pool:      pool,
		audit:     audit,
		sessions:  make(map[*Session]struct{}),
	}, nil
}

// Directory exposes the shared registry, mainly for tests and diagnostics.
func (s *ChatServer) Directory() *Directory {
	return s.directory
}

// Start begins listening on the configured TCP port, launches the worker
// pool, and returns once the accept loop is running.
func (s *ChatServer) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return err
	}
	s.listener = listener

	s.pool.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	log.Printf("Chat server listening on %s", listener.Addr())
	return nil
}

// Addr returns the address the server is actually listening on, which
// differs from the configured port when tests listen on port zero.
func (s *ChatServer) Addr() string {
	if s.listener == nil {
		return s.cfg.Port
	}
	return s.listener.Addr().String()
}

func (s *ChatServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSession(newTCPFrameConn(conn, s.cfg.MaxMessageSize))
		}()
	}
}

// runSession drives one connection from handshake to termination. It is
// shared by the TCP accept loop and the WebSocket handler: both transports
// deliver the same frames and get identical session semantics.
func (s *ChatServer) runSession(conn frameConn) {
	session := newSession(conn, s.directory, s.queue, s.audit)

	user, err := performHandshake(conn, s.directory, session)
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
			log.Printf("Error closing rejected connection from %s: %v", conn.RemoteAddr(), closeErr)
		}
		return
	}
	session.user = user

	s.audit.event("login",
		"session", session.id,
		"user", user.Name,
		"remote", conn.RemoteAddr(),
	)

	s.trackSession(session)
	defer s.untrackSession(session)

	session.readLoop()
}

func (s *ChatServer) trackSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session] = struct{}{}
}

func (s *ChatServer) untrackSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

// Shutdown stops accepting connections, closes every live session, and
// waits for readers and workers to finish. Readers blocked on a full queue
// unblock as the still-running workers drain it, so the pool is stopped only
// after the readers are gone.
func (s *ChatServer) Shutdown(timeout time.Duration) error {
	log.Println("Initiating chat server shutdown...")

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing listener: %v", err)
		}
	}

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if err := session.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing session connection for %q: %v", session.user.Name, err)
		}
	}
	log.Printf("Closed %d client connections", len(sessions))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("Chat server shutdown timeout reached, some goroutines may still be running")
		s.pool.Stop()
		_ = s.audit.Close()
		return errors.New("chat server shutdown timed out")
	}

	s.pool.Stop()
	if err := s.audit.Close(); err != nil {
		log.Printf("Error closing audit log: %v", err)
	}

	log.Println("Chat server shutdown completed successfully")
	return nil
}
