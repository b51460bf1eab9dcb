package midiclock

import (
	"runtime"
	"sync"
	"time"

	"go-gridbeat/debug"
	"go-gridbeat/midi"
)

// jitterWindow is the number of inter-pulse deltas kept for jitter stats
const jitterWindow = 10

// SendFunc delivers raw MIDI bytes to the output collaborator
type SendFunc func(data []byte) error

// Generator produces the outbound clock pulse train. Same scheduling
// discipline as the timing engine: absolute next-pulse time, timer waits,
// bounded catch-up when the loop falls behind.
type Generator struct {
	mu        sync.Mutex
	bpm       float64
	division  int
	pending   float64 // tempo change waiting for the next pulse boundary
	running   bool
	stopChan  chan struct{}
	send      SendFunc
	pulseNum  uint64
	lastPulse time.Time

	// rolling jitter window of deviations from the scheduled interval
	jitter  [jitterWindow]time.Duration
	jcount  int
	jcursor int

	pulses chan Pulse
	state  stateBroadcaster
}

// NewGenerator creates a stopped generator. send may be nil (pulses are
// still generated and observable, nothing goes on the wire).
func NewGenerator(send SendFunc) *Generator {
	return &Generator{
		bpm:      120,
		division: DefaultPPQN,
		send:     send,
		pulses:   make(chan Pulse, 64),
	}
}

// Pulses returns the pulse event channel. Slow consumers drop pulses;
// the channel is for monitoring, not for timing.
func (g *Generator) Pulses() <-chan Pulse {
	return g.pulses
}

// StateChanges returns a channel of clock state snapshots
func (g *Generator) StateChanges() <-chan State {
	return g.state.subscribe()
}

// State returns the current clock state
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Sending:   g.running,
		BPM:       g.bpm,
		LastPulse: g.lastPulse,
	}
}

// Start begins the pulse train at the given tempo
func (g *Generator) Start(bpm float64) error {
	if bpm <= 0 {
		return &midi.RangeError{Field: "bpm", Value: bpm}
	}
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.bpm = bpm
	g.pending = 0
	g.running = true
	g.pulseNum = 0
	g.lastPulse = time.Time{}
	g.jcount = 0
	g.jcursor = 0
	g.stopChan = make(chan struct{})
	stop := g.stopChan
	g.mu.Unlock()

	if g.send != nil {
		g.send(midi.Start())
	}
	go g.run(stop)
	g.publish()
	return nil
}

// Stop halts the pulse train
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.stopChan)
	g.mu.Unlock()

	if g.send != nil {
		g.send(midi.Stop())
	}
	g.publish()
}

// SetTempo changes the pulse rate; takes effect on the next pulse
func (g *Generator) SetTempo(bpm float64) error {
	if bpm <= 0 {
		return &midi.RangeError{Field: "bpm", Value: bpm}
	}
	g.mu.Lock()
	if g.running {
		g.pending = bpm
	} else {
		g.bpm = bpm
	}
	g.mu.Unlock()
	return nil
}

// SetDivision sets pulses per quarter note (1-96); takes effect on the
// next pulse, like SetTempo.
func (g *Generator) SetDivision(ppqn int) error {
	if ppqn < 1 || ppqn > 96 {
		return &midi.RangeError{Field: "division", Value: ppqn}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.division = ppqn
	return nil
}

// JitterStats returns average and max deviation from the scheduled pulse
// interval over the rolling window
func (g *Generator) JitterStats() (avg, max time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.jcount == 0 {
		return 0, 0
	}
	var sum time.Duration
	for i := 0; i < g.jcount; i++ {
		d := g.jitter[i]
		if d < 0 {
			d = -d
		}
		sum += d
		if d > max {
			max = d
		}
	}
	return sum / time.Duration(g.jcount), max
}

func (g *Generator) publish() {
	g.mu.Lock()
	s := State{
		Sending:   g.running,
		BPM:       g.bpm,
		LastPulse: g.lastPulse,
	}
	g.mu.Unlock()
	g.state.publish(s)
}

// run is the pulse loop. Dedicated OS thread, no allocation or blocking
// I/O between pulses.
func (g *Generator) run(stopChan chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	next := time.Now()
	for {
		g.mu.Lock()
		if g.pending > 0 {
			g.bpm = g.pending
			g.pending = 0
		}
		bpm := g.bpm
		division := g.division
		g.mu.Unlock()

		interval := PulseInterval(bpm, division)

		if wait := time.Until(next); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-stopChan:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		select {
		case <-stopChan:
			return
		default:
		}

		actual := time.Now()
		g.firePulse(actual, next, interval, bpm)

		next = next.Add(interval)
		if !next.After(actual) {
			// catch up instead of drifting
			next = actual.Add(interval)
			debug.LogEvery(96, "clock", "generator resync")
		}
	}
}

func (g *Generator) firePulse(actual, scheduled time.Time, interval time.Duration, bpm float64) {
	if g.send != nil {
		if err := g.send(midi.Clock()); err != nil {
			debug.LogEvery(96, "clock", "send failed: %v", err)
		}
	}

	g.mu.Lock()
	g.pulseNum++
	num := g.pulseNum
	if !g.lastPulse.IsZero() {
		// deviation of the actual inter-pulse delta from the interval
		g.jitter[g.jcursor] = actual.Sub(g.lastPulse) - interval
		g.jcursor = (g.jcursor + 1) % jitterWindow
		if g.jcount < jitterWindow {
			g.jcount++
		}
	}
	g.lastPulse = actual
	g.mu.Unlock()

	select {
	case g.pulses <- Pulse{At: actual, Number: num, BPM: bpm}:
	default:
		// monitoring only; drop rather than block the pulse loop
	}
}
