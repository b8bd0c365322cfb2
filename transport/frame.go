// Package transport implements the framed message layer directly on top of
// a raw byte stream: the RFC 6455 upgrade handshake and frame codec. It has
// no knowledge of rooms or presence; it only turns bytes into discrete
// payloads and back.
package transport

import (
	"encoding/binary"
	"errors"
)

// Frame opcodes. Continuation frames are not produced by this server;
// inbound ones are ignored by the connection read loop.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// MaxPayloadSize caps a single frame. The 64-bit length field can in
	// principle describe exabytes; anything above this ceiling is treated
	// as a protocol violation.
	MaxPayloadSize = 8 << 20
)

var ErrPayloadTooLarge = errors.New("frame payload exceeds size limit")

// Frame is one decoded frame. Payload is unmasked and owned by the caller.
type Frame struct {
	Opcode  byte
	Payload []byte
}

// Decode attempts to parse one frame from the front of buf. It returns the
// number of bytes consumed; consumed == 0 with a nil error means buf does
// not yet hold a complete frame and the caller must read more, keeping the
// unconsumed bytes. A single inbound chunk may carry several frames, so
// callers decode in a loop until consumed stays 0.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, nil
	}
	opcode := buf[0] & 0x0f
	masked := buf[1]&maskBit != 0
	length := uint64(buf[1] & 0x7f)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	}
	if length > MaxPayloadSize {
		return Frame{}, 0, ErrPayloadTooLarge
	}

	var maskKey []byte
	if masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, nil
		}
		maskKey = buf[offset : offset+4]
		offset += 4
	}

	total := offset + int(length)
	if len(buf) < total {
		return Frame{}, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:total])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return Frame{Opcode: opcode, Payload: payload}, total, nil
}

// Encode produces one complete unmasked frame. Server-to-client frames are
// never masked per protocol convention. The header is 2 bytes for payloads
// under 126, 4 bytes up to 65535, and 10 bytes beyond that.
func Encode(opcode byte, payload []byte) []byte {
	n := len(payload)
	var header []byte
	switch {
	case n < 126:
		header = []byte{finBit | opcode, byte(n)}
	case n < 1<<16:
		header = []byte{finBit | opcode, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = finBit | opcode
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}
	return append(header, payload...)
}
