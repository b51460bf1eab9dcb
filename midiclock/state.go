// Package midiclock generates and consumes MIDI beat clock (24 pulses per
// quarter note) and keeps the sequencer's tempo in sync with external
// hardware.
package midiclock

import (
	"sync"
	"time"
)

// Pulses per quarter note, MIDI beat clock convention
const DefaultPPQN = 24

// State mirrors the clock sync status for observers
type State struct {
	Receiving bool
	Sending   bool
	BPM       float64
	SourceID  string
	LastPulse time.Time
}

// Pulse is emitted once per outbound clock pulse for jitter monitoring.
// Events only; never stored.
type Pulse struct {
	At     time.Time
	Number uint64
	BPM    float64
}

// stateBroadcaster fans State snapshots out without blocking the writer
type stateBroadcaster struct {
	mu   sync.Mutex
	subs []chan State
	last State
}

func (b *stateBroadcaster) subscribe() <-chan State {
	ch := make(chan State, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	ch <- b.last
	b.mu.Unlock()
	return ch
}

func (b *stateBroadcaster) publish(s State) {
	b.mu.Lock()
	b.last = s
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
	b.mu.Unlock()
}

func (b *stateBroadcaster) snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// PulseInterval returns the nanosecond interval between clock pulses at
// the given tempo and division: 60e9 / (bpm * division)
func PulseInterval(bpm float64, division int) time.Duration {
	return time.Duration(60e9 / (bpm * float64(division)))
}
