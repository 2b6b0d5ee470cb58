// Package frame implements the wire unit shared by the audio and clock tracks:
// a 4-byte big-endian length prefix followed by exactly that many payload bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Constants for the frame wire format
const (
	HeaderSize       = 4    // Length prefix size in bytes
	MaxPayload       = 4000 // Largest coded packet the encoder may emit
	ClockPayloadSize = 8    // Clock payload: big-endian elapsed milliseconds
)

var (
	ErrFrameTooSmall   = errors.New("frame too small for length prefix")
	ErrShortFrame      = errors.New("frame shorter than declared length")
	ErrPayloadTooLarge = errors.New("frame payload too large")
	ErrClockPayload    = errors.New("invalid clock payload")
)

// Frame is one length-prefixed payload
type Frame struct {
	Payload []byte
}

// New creates a frame around payload
func New(payload []byte) *Frame {
	return &Frame{Payload: payload}
}

// Marshal serializes the frame to bytes
func (f *Frame) Marshal() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrPayloadTooLarge, len(f.Payload), MaxPayload)
	}

	buf := make([]byte, HeaderSize+len(f.Payload))

	// Length prefix (32 bits)
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(f.Payload)))

	// Payload
	copy(buf[HeaderSize:], f.Payload)

	return buf, nil
}

// Unmarshal deserializes bytes into the frame. Bytes past the declared
// length are ignored; a prefix larger than the available bytes is an error.
func (f *Frame) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes (min: %d)", ErrFrameTooSmall, len(data), HeaderSize)
	}

	length := binary.BigEndian.Uint32(data[:HeaderSize])
	available := len(data) - HeaderSize
	if uint64(length) > uint64(available) {
		return fmt.Errorf("%w: declared %d bytes but only %d available", ErrShortFrame, length, available)
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, data[HeaderSize:HeaderSize+int(length)])

	return nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Len:%d}", len(f.Payload))
}

// Marshal length-prefixes payload.
func Marshal(payload []byte) ([]byte, error) {
	return New(payload).Marshal()
}

// Unmarshal strips the length prefix from data and returns the payload.
func Unmarshal(data []byte) ([]byte, error) {
	f := &Frame{}
	if err := f.Unmarshal(data); err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// MarshalClock encodes elapsed milliseconds as a framed clock sample.
func MarshalClock(elapsedMs uint64) []byte {
	buf := make([]byte, HeaderSize+ClockPayloadSize)
	binary.BigEndian.PutUint32(buf[:HeaderSize], ClockPayloadSize)
	binary.BigEndian.PutUint64(buf[HeaderSize:], elapsedMs)
	return buf
}

// UnmarshalClock decodes a clock sample. A bare 8-byte payload without a
// length prefix is accepted as well.
func UnmarshalClock(data []byte) (uint64, error) {
	if len(data) == ClockPayloadSize {
		return binary.BigEndian.Uint64(data), nil
	}

	payload, err := Unmarshal(data)
	if err != nil {
		return 0, err
	}
	if len(payload) != ClockPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrClockPayload, len(payload))
	}
	return binary.BigEndian.Uint64(payload), nil
}
