package wire

import (
	"encoding/binary"
)

// EncodeText builds a complete unmasked text frame (FIN set) around the
// payload. Server-to-client frames are never masked. Payloads above the
// 16-bit length class are rejected.
func EncodeText(payload []byte) ([]byte, error) {
	return encodeFrame(OpcodeText, payload)
}

// EncodeClose builds an unmasked close frame carrying the status code and
// an optional reason.
func EncodeClose(code uint16, reason string) ([]byte, error) {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], code)
	copy(payload[2:], reason)
	return encodeFrame(OpcodeClose, payload)
}

// EncodePong builds an unmasked pong frame echoing payload.
func EncodePong(payload []byte) ([]byte, error) {
	return encodeFrame(OpcodePong, payload)
}

func encodeFrame(opcode Opcode, payload []byte) ([]byte, error) {
	size := len(payload)
	if size > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	firstByte := byte(finBit) | byte(opcode)

	if size <= len7Max {
		buf := make([]byte, 2+size)
		buf[0] = firstByte
		buf[1] = byte(size)
		copy(buf[2:], payload)
		return buf, nil
	}

	buf := make([]byte, 4+size)
	buf[0] = firstByte
	buf[1] = len16Marker
	binary.BigEndian.PutUint16(buf[2:4], uint16(size))
	copy(buf[4:], payload)
	return buf, nil
}
