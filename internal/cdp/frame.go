package cdp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcode is a WebSocket frame opcode (RFC 6455 section 5.2).
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

const (
	finBit  = 0x80
	maskBit = 0x80

	// headerFinText is the only first header byte accepted from the server.
	headerFinText = finBit | byte(OpText)

	maxDirectLength = 125
	length16Marker  = 126
	length64Marker  = 127
)

var cryptoRand io.Reader = rand.Reader

// DefaultMaxFrameSize bounds the payload length accepted from the server.
const DefaultMaxFrameSize = 64 << 20

// Frame is a single decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// EncodeTextFrame encodes payload as one final, masked text frame.
// A fresh masking key is drawn from rnd for every call; a nil rnd uses crypto/rand.
func EncodeTextFrame(payload []byte, rnd io.Reader) ([]byte, error) {
	if rnd == nil {
		rnd = cryptoRand
	}

	n := len(payload)
	buf := make([]byte, 0, 14+n)
	buf = append(buf, headerFinText)

	switch {
	case n <= maxDirectLength:
		buf = append(buf, maskBit|byte(n))
	case n <= 0xffff:
		buf = append(buf, maskBit|length16Marker)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, maskBit|length64Marker)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	var key [4]byte
	if _, err := io.ReadFull(rnd, key[:]); err != nil {
		return nil, fmt.Errorf("generate masking key: %w", err)
	}
	buf = append(buf, key[:]...)

	start := len(buf)
	buf = append(buf, payload...)
	maskBytes(key, buf[start:])
	return buf, nil
}

// maskBytes XORs b in place with key, starting at key index 0.
// Applying it twice restores the input.
func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// ReadFrame reads one server frame from r.
//
// Only unfragmented, unmasked text frames are accepted. Any other first byte
// fails with a ProtocolError before the length is read. A zero maxSize means
// DefaultMaxFrameSize. A clean end of stream before the first byte returns io.EOF.
func ReadFrame(r io.Reader, maxSize int64) (Frame, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return Frame{}, err
	}
	if hdr[0] != headerFinText {
		return Frame{}, newProtocolError("invalid frame type received from devtools server", int(hdr[0]), nil)
	}

	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return Frame{}, newProtocolError("truncated frame header", -1, eofAsUnexpected(err))
	}
	lenByte := hdr[0]

	var length uint64
	switch {
	case lenByte <= maxDirectLength:
		length = uint64(lenByte)
	case lenByte == length16Marker:
		if _, err := io.ReadFull(r, hdr[:2]); err != nil {
			return Frame{}, newProtocolError("truncated extended length", int(lenByte), eofAsUnexpected(err))
		}
		length = uint64(binary.BigEndian.Uint16(hdr[:2]))
	case lenByte == length64Marker:
		if _, err := io.ReadFull(r, hdr[:8]); err != nil {
			return Frame{}, newProtocolError("truncated extended length", int(lenByte), eofAsUnexpected(err))
		}
		length = binary.BigEndian.Uint64(hdr[:8])
	default:
		// The mask bit is set: servers must not mask.
		return Frame{}, newProtocolError("payload from server has invalid length byte", int(lenByte), nil)
	}

	if length > uint64(maxSize) {
		return Frame{}, newProtocolError(fmt.Sprintf("payload length %d exceeds limit %d", length, maxSize), -1, nil)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, newProtocolError("stream ended inside payload", -1, eofAsUnexpected(err))
	}

	return Frame{
		Fin:     true,
		Opcode:  OpText,
		Payload: payload,
	}, nil
}

// eofAsUnexpected reports a mid-frame io.EOF as io.ErrUnexpectedEOF.
func eofAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
