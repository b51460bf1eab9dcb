package audio

import (
	"sync"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
)

type sentNote struct {
	bytes []byte
	at    time.Time
}

func captureSender() (func(gomidi.Message) error, func() []sentNote) {
	var mu sync.Mutex
	var sent []sentNote
	send := func(msg gomidi.Message) error {
		mu.Lock()
		sent = append(sent, sentNote{bytes: msg.Bytes(), at: time.Now()})
		mu.Unlock()
		return nil
	}
	snapshot := func() []sentNote {
		mu.Lock()
		defer mu.Unlock()
		out := make([]sentNote, len(sent))
		copy(out, sent)
		return out
	}
	return send, snapshot
}

func TestNullDiscards(t *testing.T) {
	if err := (Null{}).ScheduleTrigger(0, 1.0, time.Now()); err != nil {
		t.Errorf("Null trigger should never fail: %v", err)
	}
}

func TestTrackForNote(t *testing.T) {
	if track, ok := TrackForNote(36); !ok || track != 0 {
		t.Errorf("TrackForNote(36) = %d %v, want kick track 0", track, ok)
	}
	if track, ok := TrackForNote(38); !ok || track != 1 {
		t.Errorf("TrackForNote(38) = %d %v, want snare track 1", track, ok)
	}
	if _, ok := TrackForNote(0); ok {
		t.Error("unmapped note should report false")
	}
}

func TestMIDIOutNotePair(t *testing.T) {
	send, snapshot := captureSender()
	m := NewMIDIOut(send, 9)

	if err := m.ScheduleTrigger(0, 1.0, time.Now()); err != nil {
		t.Fatal(err)
	}

	// note-off follows after the gate time
	deadline := time.Now().Add(time.Second)
	for len(snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("got %d messages, want note-on + note-off", len(snapshot()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	sent := snapshot()
	on := sent[0].bytes
	if on[0] != 0x99 {
		t.Errorf("first status = %#02x, want note-on channel 10", on[0])
	}
	if on[1] != 36 {
		t.Errorf("note = %d, want kick 36", on[1])
	}
	if on[2] != 127 {
		t.Errorf("velocity = %d, want 127", on[2])
	}
	off := sent[1].bytes
	if off[0]&0xF0 != 0x80 && !(off[0] == 0x99 && off[2] == 0) {
		t.Errorf("second message % X is not a note-off", off)
	}
	if gap := sent[1].at.Sub(sent[0].at); gap < 15*time.Millisecond {
		t.Errorf("gate %v too short", gap)
	}
}

func TestMIDIOutHonorsSchedule(t *testing.T) {
	send, snapshot := captureSender()
	m := NewMIDIOut(send, 0)

	when := time.Now().Add(50 * time.Millisecond)
	if err := m.ScheduleTrigger(1, 0.5, when); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for len(snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("note never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := snapshot()[0].at; got.Before(when) {
		t.Errorf("note sent at %v, before schedule %v", got, when)
	}
}

func TestMIDIOutValidation(t *testing.T) {
	send, _ := captureSender()
	m := NewMIDIOut(send, 0)
	if err := m.ScheduleTrigger(-1, 1.0, time.Now()); err == nil {
		t.Error("negative track should error")
	}
	if err := m.ScheduleTrigger(16, 1.0, time.Now()); err == nil {
		t.Error("track past range should error")
	}

	noSender := NewMIDIOut(nil, 0)
	if err := noSender.ScheduleTrigger(0, 1.0, time.Now()); err == nil {
		t.Error("missing sender should error")
	}
}

func TestMIDIOutSetNote(t *testing.T) {
	send, snapshot := captureSender()
	m := NewMIDIOut(send, 0)
	m.SetNote(0, 60)

	if err := m.ScheduleTrigger(0, 1.0, time.Now()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for len(snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("note never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if note := snapshot()[0].bytes[1]; note != 60 {
		t.Errorf("note = %d, want the override 60", note)
	}
}
