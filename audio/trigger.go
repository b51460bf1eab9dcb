// Package audio is the boundary to the audio-rendering collaborator. The
// timing engine hands off precisely-timed trigger events through the
// Trigger interface and owns nothing past it.
package audio

import (
	"fmt"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Trigger schedules one sample hit. The timestamp is an absolute schedule
// time already compensated for output latency; implementations are
// expected to honor it with their own low-latency path. Velocity is in
// [0, 1]. Must not block the caller.
type Trigger interface {
	ScheduleTrigger(track int, velocity float64, when time.Time) error
}

// Null discards triggers. Used for tests and for degraded no-audio mode.
type Null struct{}

func (Null) ScheduleTrigger(track int, velocity float64, when time.Time) error {
	return nil
}

// GM drum notes for the 16 tracks, kick first
var gmNotes = [16]uint8{
	36, 38, 42, 46, 41, 43, 45, 49,
	51, 39, 56, 75, 54, 69, 70, 37,
}

// TrackForNote maps a GM drum note back to its track index
func TrackForNote(note uint8) (int, bool) {
	for i, n := range gmNotes {
		if n == note {
			return i, true
		}
	}
	return 0, false
}

// MIDIOut renders triggers as NoteOn/NoteOff pairs on a MIDI sender. Each
// trigger waits on its own timer goroutine so the timing thread never
// blocks here.
type MIDIOut struct {
	send    func(gomidi.Message) error
	notes   [16]uint8
	channel uint8
	gate    time.Duration
}

// NewMIDIOut maps tracks to a GM drum kit on the given channel (0-15)
func NewMIDIOut(send func(gomidi.Message) error, channel uint8) *MIDIOut {
	return &MIDIOut{
		send:    send,
		notes:   gmNotes,
		channel: channel,
		gate:    20 * time.Millisecond,
	}
}

// SetNote overrides the MIDI note for one track
func (m *MIDIOut) SetNote(track int, note uint8) {
	if track >= 0 && track < len(m.notes) && note <= 127 {
		m.notes[track] = note
	}
}

func (m *MIDIOut) ScheduleTrigger(track int, velocity float64, when time.Time) error {
	if m.send == nil {
		return fmt.Errorf("no MIDI sender")
	}
	if track < 0 || track >= len(m.notes) {
		return fmt.Errorf("track %d out of range", track)
	}
	if velocity < 0 {
		velocity = 0
	}
	if velocity > 1 {
		velocity = 1
	}
	note := m.notes[track]
	vel := uint8(velocity * 127)

	go func() {
		if d := time.Until(when); d > 0 {
			time.Sleep(d)
		}
		m.send(gomidi.NoteOn(m.channel, note, vel))
		time.Sleep(m.gate)
		m.send(gomidi.NoteOff(m.channel, note))
	}()
	return nil
}
