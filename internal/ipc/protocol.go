// Package ipc provides communication between the mindfieldd daemon and the
// mindfieldctl client over a local unix socket.
//
// The protocol is a fixed 12-byte header (magic, version, type, length)
// followed by a JSON payload. Request/response only; the daemon trusts local
// socket peers the way its file permissions allow.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Protocol constants.
const (
	ProtocolMagic   = 0x4D464950 // "MFIP"
	ProtocolVersion = 1

	// MaxPayload bounds a single message payload.
	MaxPayload = 1 << 20
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	MsgPing MessageType = iota + 1
	MsgPong
	MsgStatus
	MsgStatusResp
	MsgStart
	MsgStartResp
	MsgStop
	MsgStopResp
	MsgMark
	MsgMarkResp
	MsgShutdown
	MsgShutdownResp
	MsgError
)

// Framing errors.
var (
	ErrBadMagic   = errors.New("ipc: bad protocol magic")
	ErrBadVersion = errors.New("ipc: unsupported protocol version")
	ErrTooLarge   = errors.New("ipc: payload exceeds maximum size")
)

// Message is one framed request or response.
type Message struct {
	Type    MessageType
	Payload json.RawMessage
}

// headerSize is magic(4) + version(1) + reserved(1) + type(2) + length(4).
const headerSize = 12

// WriteMessage frames and writes a message.
func WriteMessage(w io.Writer, m *Message) error {
	if len(m.Payload) > MaxPayload {
		return ErrTooLarge
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], ProtocolMagic)
	hdr[4] = ProtocolVersion
	binary.BigEndian.PutUint16(hdr[6:8], uint16(m.Type))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(m.Payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads and validates one framed message.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	if binary.BigEndian.Uint32(hdr[0:4]) != ProtocolMagic {
		return nil, ErrBadMagic
	}
	if hdr[4] != ProtocolVersion {
		return nil, ErrBadVersion
	}

	length := binary.BigEndian.Uint32(hdr[8:12])
	if length > MaxPayload {
		return nil, ErrTooLarge
	}

	m := &Message{Type: MessageType(binary.BigEndian.Uint16(hdr[6:8]))}
	if length > 0 {
		m.Payload = make(json.RawMessage, length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewMessage marshals payload into a message of the given type.
func NewMessage(t MessageType, payload any) (*Message, error) {
	m := &Message{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ipc: marshal payload: %w", err)
		}
		m.Payload = data
	}
	return m, nil
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.New("ipc: empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// Request and response payloads.

// StartRequest starts a baseline or experiment session.
type StartRequest struct {
	Mode      string `json:"mode"` // "baseline" or "experiment"
	Name      string `json:"name,omitempty"`
	Intention string `json:"intention,omitempty"`
}

// StartResponse acknowledges a session start.
type StartResponse struct {
	SessionID string `json:"session_id"`
}

// MarkRequest inserts a manual marker.
type MarkRequest struct {
	Label string `json:"label,omitempty"`
}

// ErrorResponse carries a command failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
