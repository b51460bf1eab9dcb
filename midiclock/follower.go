package midiclock

import (
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"go-gridbeat/debug"
	"go-gridbeat/midi"
)

// smoothingWindow is the number of inter-pulse intervals averaged before
// a derived tempo is forwarded, so one noisy pulse never jolts the engine
const smoothingWindow = 24

// tempoUpdateEvery forwards a smoothed tempo once per this many pulses
const tempoUpdateEvery = 6

// Transport is the slice of the timing engine the follower drives
type Transport interface {
	SetTempo(bpm float64) error
	Start() error
	Stop()
	Resume()
}

// FollowerConfig tunes the clock follower
type FollowerConfig struct {
	// Division of the inbound pulse train in pulses per quarter note
	Division int
	// SilenceTimeout before the source is declared lost. Zero picks a
	// default of several expected pulse periods at 120 BPM.
	SilenceTimeout time.Duration
}

// Follower consumes inbound CLOCK/START/STOP/CONTINUE messages, derives a
// smoothed tempo and feeds it to the transport. Pulse-stream silence past
// the timeout flips Receiving off and triggers the sync-lost callback so
// the recovery coordinator can fall back to the internal clock.
type Follower struct {
	cfg        FollowerConfig
	transport  Transport
	onSyncLost func()

	mu         sync.Mutex
	receiving  bool
	sourceID   string
	bpm        float64
	lastPulse  time.Time
	pulseCount uint64
	intervals  []time.Duration
	icursor    int
	watchdog   *time.Timer

	state stateBroadcaster
}

// NewFollower wires the follower to the transport it drives. onSyncLost
// may be nil.
func NewFollower(transport Transport, cfg FollowerConfig, onSyncLost func()) *Follower {
	if cfg.Division <= 0 {
		cfg.Division = DefaultPPQN
	}
	if cfg.SilenceTimeout <= 0 {
		// two pulse periods at 120 BPM with a generous outlier margin
		cfg.SilenceTimeout = 2 * PulseInterval(120, cfg.Division) * 12
	}
	return &Follower{
		cfg:        cfg,
		transport:  transport,
		onSyncLost: onSyncLost,
		intervals:  make([]time.Duration, 0, smoothingWindow),
	}
}

// StateChanges returns a channel of clock state snapshots
func (f *Follower) StateChanges() <-chan State {
	return f.state.subscribe()
}

// State returns the current clock sync state
func (f *Follower) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *Follower) stateLocked() State {
	return State{
		Receiving: f.receiving,
		BPM:       f.bpm,
		SourceID:  f.sourceID,
		LastPulse: f.lastPulse,
	}
}

// SetSource labels the clock source feeding HandleMessage
func (f *Follower) SetSource(id string) {
	f.mu.Lock()
	f.sourceID = id
	f.mu.Unlock()
}

// Close stops the silence watchdog
func (f *Follower) Close() {
	f.mu.Lock()
	if f.watchdog != nil {
		f.watchdog.Stop()
		f.watchdog = nil
	}
	f.mu.Unlock()
}

// HandleMessage consumes one inbound message with its local receive time.
// Intended as the device manager's input handler.
func (f *Follower) HandleMessage(msg gomidi.Message, at time.Time) {
	switch {
	case msg.Is(gomidi.TimingClockMsg):
		f.handlePulse(at)
	case msg.Is(gomidi.StartMsg):
		debug.Log("clock", "external START")
		if f.transport != nil {
			f.transport.Stop()
			f.transport.Start()
		}
	case msg.Is(gomidi.StopMsg):
		debug.Log("clock", "external STOP")
		if f.transport != nil {
			f.transport.Stop()
		}
	case msg.Is(gomidi.ContinueMsg):
		debug.Log("clock", "external CONTINUE")
		if f.transport != nil {
			f.transport.Resume()
		}
	}
}

// HandleRaw consumes raw wire bytes from sources that bypass gomidi's
// typed listener (network bridges, test harnesses). Malformed
// input is counted in stats and dropped.
func (f *Follower) HandleRaw(data []byte, at time.Time, stats *midi.Stats) {
	m, err := midi.Decode(data, stats)
	if err != nil {
		debug.LogEvery(64, "clock", "dropped malformed message: %v", err)
		return
	}
	switch m.Status {
	case midi.StatusClock:
		f.handlePulse(at)
	case midi.StatusStart:
		if f.transport != nil {
			f.transport.Stop()
			f.transport.Start()
		}
	case midi.StatusStop:
		if f.transport != nil {
			f.transport.Stop()
		}
	case midi.StatusContinue:
		if f.transport != nil {
			f.transport.Resume()
		}
	}
}

func (f *Follower) handlePulse(at time.Time) {
	var (
		setTempo float64
		became   bool
	)

	f.mu.Lock()
	if !f.receiving {
		f.receiving = true
		became = true
	}
	f.pulseCount++

	if !f.lastPulse.IsZero() {
		interval := at.Sub(f.lastPulse)
		if interval > 0 {
			if len(f.intervals) < smoothingWindow {
				f.intervals = append(f.intervals, interval)
			} else {
				f.intervals[f.icursor] = interval
				f.icursor = (f.icursor + 1) % smoothingWindow
			}
		}
		if f.pulseCount%tempoUpdateEvery == 0 && len(f.intervals) > 0 {
			var sum time.Duration
			for _, d := range f.intervals {
				sum += d
			}
			avg := sum / time.Duration(len(f.intervals))
			bpm := 60e9 / (float64(avg) * float64(f.cfg.Division))
			f.bpm = bpm
			setTempo = bpm
		}
	}
	f.lastPulse = at
	f.resetWatchdogLocked()
	s := f.stateLocked()
	f.mu.Unlock()

	if became {
		debug.Log("clock", "external clock sync started")
	}
	if setTempo > 0 && f.transport != nil {
		if err := f.transport.SetTempo(setTempo); err != nil {
			debug.LogEvery(64, "clock", "tempo %0.2f rejected: %v", setTempo, err)
		}
	}
	f.state.publish(s)
}

func (f *Follower) resetWatchdogLocked() {
	if f.watchdog == nil {
		f.watchdog = time.AfterFunc(f.cfg.SilenceTimeout, f.silenceTimeout)
		return
	}
	f.watchdog.Reset(f.cfg.SilenceTimeout)
}

// silenceTimeout fires when the pulse stream goes quiet
func (f *Follower) silenceTimeout() {
	f.mu.Lock()
	if !f.receiving {
		f.mu.Unlock()
		return
	}
	f.receiving = false
	f.pulseCount = 0
	f.lastPulse = time.Time{}
	f.intervals = f.intervals[:0]
	f.icursor = 0
	s := f.stateLocked()
	f.mu.Unlock()

	debug.Log("clock", "external clock silent past timeout")
	f.state.publish(s)
	if f.onSyncLost != nil {
		f.onSyncLost()
	}
}
