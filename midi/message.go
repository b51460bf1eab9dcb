package midi

import (
	"fmt"
	"sync/atomic"
)

// Realtime status bytes (single-byte messages)
const (
	StatusClock    byte = 0xF8
	StatusStart    byte = 0xFA
	StatusContinue byte = 0xFB
	StatusStop     byte = 0xFC
)

// Channel voice status bytes (channel in low nibble)
const (
	StatusNoteOff       byte = 0x80
	StatusNoteOn        byte = 0x90
	StatusControlChange byte = 0xB0
)

// Message is a decoded 1-3 byte MIDI message
type Message struct {
	Status  byte
	Data1   byte
	Data2   byte
	Channel uint8 // valid for channel voice messages only
}

// IsRealtime reports whether the message is a single-byte realtime message
func (m Message) IsRealtime() bool {
	return m.Status >= 0xF8
}

// Encode serializes the message back to wire bytes
func (m Message) Encode() []byte {
	if m.IsRealtime() {
		return []byte{m.Status}
	}
	status := m.Status | (m.Channel & 0x0F)
	return []byte{status, m.Data1, m.Data2}
}

// RangeError rejects an out-of-range clock or message parameter
type RangeError struct {
	Field  string
	Value  any
	Reason string
}

func (e *RangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// Stats counts malformed and dropped messages for monitoring
type Stats struct {
	Malformed atomic.Uint64
	Dropped   atomic.Uint64
}

// Decode parses raw wire bytes into a Message. Malformed input is counted
// in stats (may be nil) and returned as an error so callers can drop it.
func Decode(data []byte, stats *Stats) (Message, error) {
	malformed := func(reason string) (Message, error) {
		if stats != nil {
			stats.Malformed.Add(1)
		}
		return Message{}, fmt.Errorf("malformed midi message (% X): %s", data, reason)
	}

	if len(data) == 0 {
		return malformed("empty")
	}

	status := data[0]
	if status < 0x80 {
		return malformed("data byte in status position")
	}

	switch status {
	case StatusClock, StatusStart, StatusContinue, StatusStop:
		if len(data) != 1 {
			return malformed("realtime message with trailing bytes")
		}
		return Message{Status: status}, nil
	}

	switch status & 0xF0 {
	case StatusNoteOff, StatusNoteOn, StatusControlChange:
		if len(data) != 3 {
			return malformed("channel message needs 3 bytes")
		}
		if data[1] > 0x7F || data[2] > 0x7F {
			return malformed("data byte above 0x7F")
		}
		return Message{
			Status:  status & 0xF0,
			Channel: status & 0x0F,
			Data1:   data[1],
			Data2:   data[2],
		}, nil
	}

	return malformed("unsupported status byte")
}

// Clock returns the raw CLOCK message bytes
func Clock() []byte { return []byte{StatusClock} }

// Start returns the raw START message bytes
func Start() []byte { return []byte{StatusStart} }

// Continue returns the raw CONTINUE message bytes
func Continue() []byte { return []byte{StatusContinue} }

// Stop returns the raw STOP message bytes
func Stop() []byte { return []byte{StatusStop} }
