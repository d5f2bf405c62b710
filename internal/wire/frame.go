// Package wire implements the channel bridge transport: a small WebSocket-compatible
// frame codec plus the HTTP upgrade handshake for both accepted and dialed connections.
//
// The codec is deliberately narrow. Only complete, unfragmented text frames are
// surfaced as messages; fragmented messages are not reassembled.
package wire

import (
	"encoding/binary"
	"errors"
)

// Opcode is the 4-bit frame opcode.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Close status codes used by the bridge.
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	ClosePolicyViolation uint16 = 1008
	CloseMessageTooBig   uint16 = 1009
	CloseInternalError   uint16 = 1011
)

const (
	finBit      = 0x80
	maskBit     = 0x80
	len16Marker = 126
	len64Marker = 127

	// DefaultMaxFrameBytes caps the declared payload length of an inbound frame.
	DefaultMaxFrameBytes = 1 << 20
)

var (
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")
	ErrControlTooBig = errors.New("control frame payload exceeds 125 bytes")
)

// Frame is one decoded wire frame. Payload is always unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// FrameKind is how the bridge treats a decoded frame.
type FrameKind int

const (
	// KindIgnored covers pong, binary, continuation and non-final frames.
	KindIgnored FrameKind = iota
	KindMessage
	KindPing
	KindClose
)

// Kind classifies the frame. Only a final text frame is a message.
func (f Frame) Kind() FrameKind {
	switch {
	case f.Opcode == OpText && f.Fin:
		return KindMessage
	case f.Opcode == OpPing:
		return KindPing
	case f.Opcode == OpClose:
		return KindClose
	default:
		return KindIgnored
	}
}

// CloseCode returns the status code carried by a close frame, or 0 if none.
func (f Frame) CloseCode() uint16 {
	if f.Opcode != OpClose || len(f.Payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(f.Payload)
}

// Encode builds an unmasked server-to-client frame with FIN set.
func Encode(op Opcode, payload []byte) []byte {
	buf := appendHeader(make([]byte, 0, headerLen(len(payload), false)+len(payload)), byte(op), 0, len(payload))
	return append(buf, payload...)
}

// EncodeText encodes a text frame (0x81).
func EncodeText(payload []byte) []byte {
	return Encode(OpText, payload)
}

// EncodePing encodes a ping frame (0x89).
func EncodePing(payload []byte) []byte {
	return Encode(OpPing, payload)
}

// EncodePong encodes a pong frame (0x8A).
func EncodePong(payload []byte) []byte {
	return Encode(OpPong, payload)
}

// EncodeClose encodes a close frame with a status code and optional reason.
func EncodeClose(code uint16, reason string) []byte {
	return Encode(OpClose, ClosePayload(code, reason))
}

// ClosePayload builds the body of a close frame. The reason is truncated so
// the payload stays within the control frame limit.
func ClosePayload(code uint16, reason string) []byte {
	if len(reason) > 123 {
		reason = reason[:123]
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return payload
}

// EncodeMasked builds a client-to-server frame masked with key.
func EncodeMasked(op Opcode, payload []byte, key [4]byte) []byte {
	buf := make([]byte, 0, headerLen(len(payload), true)+len(payload))
	buf = appendHeader(buf, byte(op), maskBit, len(payload))
	buf = append(buf, key[:]...)
	start := len(buf)
	buf = append(buf, payload...)
	MaskBytes(key, buf[start:])
	return buf
}

func headerLen(n int, masked bool) int {
	size := 2
	switch {
	case n < len16Marker:
	case n < 1<<16:
		size += 2
	default:
		size += 8
	}
	if masked {
		size += 4
	}
	return size
}

func appendHeader(dst []byte, op byte, mask byte, n int) []byte {
	dst = append(dst, finBit|(op&0x0F))
	switch {
	case n < len16Marker:
		dst = append(dst, mask|byte(n))
	case n < 1<<16:
		dst = append(dst, mask|len16Marker, 0, 0)
		binary.BigEndian.PutUint16(dst[len(dst)-2:], uint16(n))
	default:
		dst = append(dst, mask|len64Marker, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(dst[len(dst)-8:], uint64(n))
	}
	return dst
}
