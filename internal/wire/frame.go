// Package wire implements the server side of the RFC 6455 WebSocket
// protocol from raw bytes: the upgrade handshake, frame header parsing,
// payload unmasking and outbound frame construction. It carries no room
// semantics; internal/ws drives it against each connection.
package wire

import (
	"errors"
)

// Opcode identifies a WebSocket frame type (RFC 6455 section 5.2).
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control frame opcode.
func (o Opcode) IsControl() bool {
	switch o {
	case OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Close codes sent with outbound close frames.
const (
	CloseNormal        = 1000
	CloseProtocolError = 1002
	CloseTooLarge      = 1009
)

const (
	finBit  = 0x80
	maskBit = 0x80

	len7Max     = 125
	len16Marker = 126
	len64Marker = 127

	maskKeyLen = 4

	// MaxPayloadSize is the largest payload this codec handles in either
	// direction. The 64-bit extended length class is rejected outright.
	MaxPayloadSize = 65535
)

var (
	// ErrUnmaskedFrame is returned when a client frame arrives with the
	// MASK bit unset; the server only accepts masked client frames.
	ErrUnmaskedFrame = errors.New("wire: client frame not masked")
	// ErrPayloadTooLarge is returned when an outbound payload exceeds the
	// 16-bit length class.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds 16-bit length")
	// ErrUnsupportedLength is returned for inbound frames advertising the
	// 64-bit extended length class.
	ErrUnsupportedLength = errors.New("wire: 64-bit payload length not supported")
	// ErrUnexpectedContinuation is returned for a continuation frame with
	// no fragmented message in progress.
	ErrUnexpectedContinuation = errors.New("wire: continuation frame without preceding fragment")
	// ErrConnectionClosed is returned after a close frame is read.
	ErrConnectionClosed = errors.New("wire: connection closed by peer")
)

// Frame is one decoded WebSocket frame with the payload already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}
