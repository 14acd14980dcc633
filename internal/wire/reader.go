package wire

import (
	"encoding/binary"
	"io"
)

// Reader decodes WebSocket frames from a byte stream and reassembles
// fragmented text messages. It is not safe for concurrent use; each
// connection owns exactly one Reader.
type Reader struct {
	r io.Reader

	// requireMask enforces the server rule that every inbound frame must
	// be masked. Disabled only when decoding server-encoded frames.
	requireMask bool

	// frag accumulates payload bytes of an unfinished fragmented message.
	frag []byte

	// OnPing, if set, is invoked with the payload of every ping frame so
	// the connection can answer with a pong.
	OnPing func(payload []byte)
}

// NewReader returns a Reader with server semantics: unmasked client
// frames abort the stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, requireMask: true}
}

// ReadFrame reads and decodes a single frame, unmasking the payload.
func (rd *Reader) ReadFrame() (*Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(rd.r, header[:]); err != nil {
		return nil, err
	}

	frame := &Frame{
		Fin:    header[0]&finBit != 0,
		Opcode: Opcode(header[0] & 0x0F),
	}

	masked := header[1]&maskBit != 0
	if rd.requireMask && !masked {
		return nil, ErrUnmaskedFrame
	}

	payloadLen := uint64(header[1] & 0x7F)
	switch payloadLen {
	case len16Marker:
		var ext [2]byte
		if _, err := io.ReadFull(rd.r, ext[:]); err != nil {
			return nil, err
		}
		payloadLen = uint64(binary.BigEndian.Uint16(ext[:]))
	case len64Marker:
		// Drain the extended length field so the close frame we send in
		// response lands on a well-defined stream position.
		var ext [8]byte
		if _, err := io.ReadFull(rd.r, ext[:]); err != nil {
			return nil, err
		}
		return nil, ErrUnsupportedLength
	}

	var maskKey [maskKeyLen]byte
	if masked {
		if _, err := io.ReadFull(rd.r, maskKey[:]); err != nil {
			return nil, err
		}
	}

	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(rd.r, frame.Payload); err != nil {
			return nil, err
		}
		if masked {
			for i := range frame.Payload {
				frame.Payload[i] ^= maskKey[i%maskKeyLen]
			}
		}
	}

	return frame, nil
}

// ReadMessage reads frames until a complete text message is assembled.
// Ping frames are handed to OnPing and pong frames are discarded; neither
// interrupts an in-progress fragmented message. A close frame yields
// ErrConnectionClosed. Fragmented text messages are concatenated across
// continuation frames until FIN.
func (rd *Reader) ReadMessage() ([]byte, error) {
	for {
		frame, err := rd.ReadFrame()
		if err != nil {
			return nil, err
		}

		switch frame.Opcode {
		case OpcodeClose:
			return nil, ErrConnectionClosed

		case OpcodePing:
			if rd.OnPing != nil {
				rd.OnPing(frame.Payload)
			}
			continue

		case OpcodePong:
			continue

		case OpcodeText:
			if frame.Fin {
				return frame.Payload, nil
			}
			rd.frag = append(make([]byte, 0, len(frame.Payload)), frame.Payload...)

		case OpcodeContinuation:
			if rd.frag == nil {
				return nil, ErrUnexpectedContinuation
			}
			rd.frag = append(rd.frag, frame.Payload...)
			if frame.Fin {
				msg := rd.frag
				rd.frag = nil
				return msg, nil
			}

		default:
			// Binary and reserved opcodes carry no meaning for the JSON
			// channel; skip them.
			continue
		}
	}
}
