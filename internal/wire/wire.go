// Package wire implements the binary frame codec used by every Relay Chat
// transport: a fixed eight-byte header (message type and payload length)
// followed by exactly that many payload bytes on the same stream.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MsgType identifies the command or response carried by a frame.
type MsgType uint32

// Message type codes for requests, replies, and unsolicited pushes.
const (
	OK MsgType = 0x00

	Login  MsgType = 0x10
	Logout MsgType = 0x11

	RoomCreate  MsgType = 0x20
	RoomDelete  MsgType = 0x21
	RoomList    MsgType = 0x22
	RoomJoin    MsgType = 0x23
	RoomLeave   MsgType = 0x24
	RoomSend    MsgType = 0x25
	RoomReceive MsgType = 0x26
	RoomClosed  MsgType = 0x27

	UserList    MsgType = 0x30
	UserSend    MsgType = 0x31
	UserReceive MsgType = 0x32

	ErrUserExists   MsgType = 0x41
	ErrRoomExists   MsgType = 0x42
	ErrRoomNotFound MsgType = 0x43
	ErrRoomDenied   MsgType = 0x44
	ErrUserNotFound MsgType = 0x45

	ErrServer MsgType = 0x5A
)

// HeaderSize is the fixed byte length of a frame header on the wire.
const HeaderSize = 8

// Protocol errors returned by the codec. All of them are fatal to the
// connection they occur on: the caller closes the stream without a reply.
var (
	ErrNegativeLength  = errors.New("wire: negative payload length in header")
	ErrPayloadTooLarge = errors.New("wire: payload length exceeds limit")
	ErrShortFrame      = errors.New("wire: frame shorter than its header promised")
)

// Frame is one decoded wire message: a type code plus its raw payload.
// A nil payload and a zero-length payload are equivalent on the wire
// (length 0, no payload bytes, no terminator).
type Frame struct {
	Type    MsgType
	Payload []byte
}

// ReadFrame decodes a single frame from the stream. maxPayload bounds the
// accepted payload size; a header declaring a negative length, a length above
// the bound, or a stream that ends before delivering the promised payload is
// a protocol error.
func ReadFrame(r io.Reader, maxPayload int32) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	msgType := MsgType(binary.BigEndian.Uint32(header[0:4]))
	length := int32(binary.BigEndian.Uint32(header[4:8]))

	if length < 0 {
		return Frame{}, ErrNegativeLength
	}
	if length > maxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, length, maxPayload)
	}
	if length == 0 {
		return Frame{Type: msgType}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortFrame
		}
		return Frame{}, err
	}

	return Frame{Type: msgType, Payload: payload}, nil
}

// WriteFrame encodes and writes one frame to the stream.
func WriteFrame(w io.Writer, msgType MsgType, payload []byte) error {
	frame := Frame{Type: msgType, Payload: payload}
	_, err := w.Write(frame.Encode())
	return err
}

// Encode returns the full wire representation of the frame, header included.
func (f Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Type))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decode parses a frame from a buffer that holds exactly one whole message,
// as delivered by message-oriented transports such as WebSocket.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, ErrShortFrame
	}

	msgType := MsgType(binary.BigEndian.Uint32(data[0:4]))
	length := int32(binary.BigEndian.Uint32(data[4:8]))

	if length < 0 {
		return Frame{}, ErrNegativeLength
	}
	if int(length) != len(data)-HeaderSize {
		return Frame{}, ErrShortFrame
	}
	if length == 0 {
		return Frame{Type: msgType}, nil
	}

	payload := make([]byte, length)
	copy(payload, data[HeaderSize:])
	return Frame{Type: msgType, Payload: payload}, nil
}

// SplitTarget splits a send-command payload into its target name and message
// text. The first CRLF wins; a bare LF is accepted as a fallback delimiter.
// ok is false when no delimiter is present, which callers treat as a
// malformed payload rather than an error worth crashing over.
func SplitTarget(payload []byte) (target, text string, ok bool) {
	if i := bytes.Index(payload, []byte("\r\n")); i >= 0 {
		return string(payload[:i]), string(payload[i+2:]), true
	}
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		return string(payload[:i]), string(payload[i+1:]), true
	}
	return "", "", false
}

// JoinTarget builds a send-style payload from a target name and text using
// the canonical CRLF delimiter. Pushed RoomReceive and UserReceive frames use
// the same layout.
func JoinTarget(target, text string) []byte {
	payload := make([]byte, 0, len(target)+2+len(text))
	payload = append(payload, target...)
	payload = append(payload, '\r', '\n')
	payload = append(payload, text...)
	return payload
}

// String names a message type for logs and test failures.
func (t MsgType) String() string {
	switch t {
	case OK:
		return "OK"
	case Login:
		return "LOGIN"
	case Logout:
		return "LOGOUT"
	case RoomCreate:
		return "RMCREATE"
	case RoomDelete:
		return "RMDELETE"
	case RoomList:
		return "RMLIST"
	case RoomJoin:
		return "RMJOIN"
	case RoomLeave:
		return "RMLEAVE"
	case RoomSend:
		return "RMSEND"
	case RoomReceive:
		return "RMRECV"
	case RoomClosed:
		return "RMCLOSED"
	case UserList:
		return "USRLIST"
	case UserSend:
		return "USRSEND"
	case UserReceive:
		return "USRRECV"
	case ErrUserExists:
		return "EUSREXISTS"
	case ErrRoomExists:
		return "ERMEXISTS"
	case ErrRoomNotFound:
		return "ERMNOTFOUND"
	case ErrRoomDenied:
		return "ERMDENIED"
	case ErrUserNotFound:
		return "EUSRNOTFOUND"
	case ErrServer:
		return "ESERV"
	default:
		return fmt.Sprintf("MsgType(0x%02X)", uint32(t))
	}
}
