package sequencer

import "sync"

// RecordingMode selects how captured hits merge into the pattern
type RecordingMode int

const (
	ModeReplace RecordingMode = iota
	ModeOverdub
	ModePunchIn
)

func (m RecordingMode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeOverdub:
		return "overdub"
	case ModePunchIn:
		return "punch-in"
	}
	return "unknown"
}

// ClockSource selects where the transport tempo comes from
type ClockSource int

const (
	ClockInternal ClockSource = iota
	ClockExternalAuto
	ClockExternalDevice
)

func (c ClockSource) String() string {
	switch c {
	case ClockInternal:
		return "internal"
	case ClockExternalAuto:
		return "external-auto"
	case ClockExternalDevice:
		return "external-device"
	}
	return "unknown"
}

// State is a snapshot of the sequencer runtime published to observers.
// Values only; observers never see a partially updated state.
type State struct {
	Playing       bool
	Paused        bool
	Recording     bool
	CurrentStep   int
	PatternID     string
	Tempo         float64
	Swing         float64
	Quantization  Quantization
	RecordingMode RecordingMode
	ClockSource   ClockSource

	// Degraded is set when audio hand-off retries were exhausted and
	// playback continues without audio
	Degraded bool
	// StatusMessage carries the latest user-visible recovery status
	StatusMessage string
}

// Broadcaster fans State snapshots out to subscribers. Single writer; a
// slow subscriber loses intermediate snapshots instead of blocking the
// writer (latest wins).
type Broadcaster struct {
	mu   sync.Mutex
	subs []chan State
	last State
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe returns a channel carrying state snapshots. The channel is
// buffered and primed with the latest snapshot; it is never closed.
func (b *Broadcaster) Subscribe() <-chan State {
	ch := make(chan State, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	ch <- b.last
	b.mu.Unlock()
	return ch
}

// Publish delivers a snapshot to all subscribers without blocking
func (b *Broadcaster) Publish(s State) {
	b.mu.Lock()
	b.last = s
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			// replace the stale snapshot
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

// Last returns the most recently published snapshot
func (b *Broadcaster) Last() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
