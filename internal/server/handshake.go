// Package server runs the login handshake that every new connection must
// pass before a session is created.
package server

import (
	"errors"
	"log"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

var (
	errHandshakeRejected = errors.New("login rejected: username already registered")
	errHandshakeProtocol = errors.New("login rejected: protocol error")
)

// performHandshake reads the first frame from a fresh connection and
// performs the atomic check-and-register of the username. On success the
// user is registered and an OK reply has been written; on failure the
// connection must be closed by the caller. A duplicate name gets an
// EUSREXISTS reply first; malformed handshakes are closed without reply.
func performHandshake(conn frameConn, directory *Directory, replyTo FramePusher) (UserRef, error) {
	cfg := currentConfig()

	frame, err := conn.ReadFrame()
	if err != nil {
		return UserRef{}, err
	}

	if frame.Type != wire.Login {
		log.Printf("Handshake from %s opened with %v instead of LOGIN", conn.RemoteAddr(), frame.Type)
		return UserRef{}, errHandshakeProtocol
	}

	name := string(frame.Payload)
	if !validUsername(name, cfg.MaxNameLength) {
		log.Printf("Handshake from %s carried an invalid username", conn.RemoteAddr())
		return UserRef{}, errHandshakeProtocol
	}

	user, result := directory.Login(name, replyTo)
	if result != wire.OK {
		log.Printf("Login for %q from %s rejected: user exists", name, conn.RemoteAddr())
		return UserRef{}, errHandshakeRejected
	}

	return user, nil
}

// validUsername bounds the name length and rejects control characters, which
// would corrupt the newline-structured listing payloads.
func validUsername(name string, maxLength int) bool {
	if len(name) == 0 || len(name) > maxLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] == 0x7F {
			return false
		}
	}
	return true
}
