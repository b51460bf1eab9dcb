package sequencer

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go-gridbeat/audio"
	"go-gridbeat/debug"
)

// DefaultDriftThreshold is how far the wake-up may lag the scheduled time
// before the drift is reported as a fault
const DefaultDriftThreshold = 50 * time.Millisecond

// EngineConfig tunes the timing engine
type EngineConfig struct {
	// AudioLatency is subtracted from step timestamps so the audio
	// collaborator receives a schedule time, not a "trigger now" signal
	AudioLatency time.Duration

	DriftThreshold time.Duration
}

// StepCallback receives each scheduled step with a latency-compensated
// timestamp. Callbacks fire in strictly increasing step order.
type StepCallback func(stepIndex int, at time.Time)

// FaultSink receives fault reports from the timing loop
type FaultSink interface {
	Report(Fault)
}

// Engine advances the active pattern step by step on a dedicated OS
// thread. Tempo and swing changes land at the next step boundary, never
// mid-step. The active pattern reference is swapped atomically; the step
// loop always reads a consistent snapshot.
type Engine struct {
	cfg       EngineConfig
	sink      FaultSink
	broadcast *Broadcaster

	pattern atomic.Pointer[Pattern]

	mu           sync.Mutex
	trigger      audio.Trigger
	patterns     map[string]Pattern // pool for song-mode lookup
	song         *SongMode
	tempo        float64
	swing        float64
	pendingTempo float64 // 0 = none
	pendingSwing float64 // -1 = none
	quantization Quantization
	recMode      RecordingMode
	clockSource  ClockSource
	degraded     bool
	statusMsg    string
	recording    bool

	playing    bool
	paused     bool
	step       int
	loopStart  time.Time // scheduled trigger time of step 0, current loop
	stopChan   chan struct{}
	resumeChan chan struct{}
	listeners  []StepCallback
}

// NewEngine wires the engine to its collaborators. trigger may be nil
// (no-audio); sink may be nil (faults only logged); broadcast may be nil.
func NewEngine(trigger audio.Trigger, sink FaultSink, broadcast *Broadcaster, cfg EngineConfig) *Engine {
	if trigger == nil {
		trigger = audio.Null{}
	}
	if broadcast == nil {
		broadcast = NewBroadcaster()
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	return &Engine{
		cfg:          cfg,
		sink:         sink,
		broadcast:    broadcast,
		trigger:      trigger,
		patterns:     make(map[string]Pattern),
		tempo:        120,
		pendingSwing: -1,
	}
}

// Broadcast returns the engine's state broadcaster
func (e *Engine) Broadcast() *Broadcaster {
	return e.broadcast
}

// AddStepListener registers a step callback. Must be called before Start.
func (e *Engine) AddStepListener(cb StepCallback) {
	e.mu.Lock()
	e.listeners = append(e.listeners, cb)
	e.mu.Unlock()
}

// AddPattern registers a pattern in the pool (used by song mode)
func (e *Engine) AddPattern(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.patterns[p.ID] = p
	e.mu.Unlock()
	return nil
}

// SetPattern makes p the active pattern. When the transport is stopped the
// engine adopts the pattern's tempo and swing; while playing they land at
// the next step boundary.
func (e *Engine) SetPattern(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.patterns[p.ID] = p
	if e.playing {
		e.pendingTempo = p.Tempo
		e.pendingSwing = p.Swing
	} else {
		e.tempo = p.Tempo
		e.swing = p.Swing
	}
	e.mu.Unlock()
	e.pattern.Store(&p)
	e.publish()
	return nil
}

// CommitPattern atomically swaps the active pattern for a recorded
// revision. The step loop picks up the new snapshot on its next lookup.
func (e *Engine) CommitPattern(p Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.patterns[p.ID] = p
	e.mu.Unlock()
	e.pattern.Store(&p)
	return nil
}

// Pattern returns a snapshot of the active pattern
func (e *Engine) Pattern() (Pattern, bool) {
	p := e.pattern.Load()
	if p == nil {
		return Pattern{}, false
	}
	return *p, true
}

// SetSong installs a song arrangement; nil clears it. Every referenced
// pattern must already be in the pool.
func (e *Engine) SetSong(song *SongMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if song != nil {
		for _, s := range song.Steps {
			if _, ok := e.patterns[s.PatternID]; !ok {
				return errInvalid("patternId", s.PatternID, "not in pattern pool")
			}
		}
	}
	e.song = song
	return nil
}

// Start begins playback from step 0
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.playing {
		e.mu.Unlock()
		return nil
	}
	if e.pattern.Load() == nil {
		e.mu.Unlock()
		return errInvalid("pattern", nil, "no active pattern")
	}
	e.playing = true
	e.paused = false
	e.step = 0
	e.stopChan = make(chan struct{})
	e.resumeChan = make(chan struct{}, 1)
	stop := e.stopChan
	e.mu.Unlock()

	go e.run(stop)
	e.publish()
	return nil
}

// Stop halts playback and resets the step cursor. Effective within one
// step period: in-flight callbacks complete, no further steps fire.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.paused = false
	close(e.stopChan)
	e.step = 0
	if e.song != nil {
		e.song.Reset()
	}
	e.mu.Unlock()
	e.publish()
}

// Pause freezes the transport at the current step
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.playing && !e.paused {
		e.paused = true
		// a Resume that raced an earlier Pause may have left a token
		// behind; only tokens posted after this point should wake the
		// run loop
		select {
		case <-e.resumeChan:
		default:
		}
	}
	e.mu.Unlock()
	e.publish()
}

// Resume continues playback from the paused step
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.playing || !e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = false
	select {
	case e.resumeChan <- struct{}{}:
	default:
	}
	e.mu.Unlock()
	e.publish()
}

// SetTempo changes the tempo; takes effect at the next step boundary
func (e *Engine) SetTempo(bpm float64) error {
	if bpm < MinTempo || bpm > MaxTempo {
		return errInvalid("tempo", bpm, "must be in [60, 200]")
	}
	e.mu.Lock()
	if e.playing {
		e.pendingTempo = bpm
	} else {
		e.tempo = bpm
	}
	e.mu.Unlock()
	return nil
}

// SetSwing changes the swing amount; takes effect at the next step boundary
func (e *Engine) SetSwing(amount float64) error {
	if amount < 0 || amount > MaxSwing {
		return errInvalid("swing", amount, "must be in [0, 0.75]")
	}
	e.mu.Lock()
	if e.playing {
		e.pendingSwing = amount
	} else {
		e.swing = amount
	}
	e.mu.Unlock()
	return nil
}

// Tempo returns the effective tempo in BPM
func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tempo
}

// Swing returns the effective swing amount
func (e *Engine) Swing() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swing
}

// SetQuantization sets the live-recording snap subdivision
func (e *Engine) SetQuantization(q Quantization) {
	e.mu.Lock()
	e.quantization = q
	e.mu.Unlock()
	e.publish()
}

// SetRecordingMode selects the merge behavior for the next recording pass
func (e *Engine) SetRecordingMode(m RecordingMode) {
	e.mu.Lock()
	e.recMode = m
	e.mu.Unlock()
	e.publish()
}

// SetRecording flags the armed state in the published snapshots
func (e *Engine) SetRecording(on bool) {
	e.mu.Lock()
	e.recording = on
	e.mu.Unlock()
	e.publish()
}

// SetClockSource switches between internal and external tempo control
func (e *Engine) SetClockSource(src ClockSource) {
	e.mu.Lock()
	e.clockSource = src
	e.mu.Unlock()
	e.publish()
}

// ClockSource returns the current tempo source
func (e *Engine) ClockSource() ClockSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clockSource
}

// SetTrigger swaps the audio collaborator (degraded-mode fallback)
func (e *Engine) SetTrigger(t audio.Trigger) {
	if t == nil {
		t = audio.Null{}
	}
	e.mu.Lock()
	e.trigger = t
	e.mu.Unlock()
}

// SetStatus publishes a recovery status change
func (e *Engine) SetStatus(degraded bool, msg string) {
	e.mu.Lock()
	e.degraded = degraded
	e.statusMsg = msg
	e.mu.Unlock()
	e.publish()
}

// LoopElapsed returns how far into the current pattern loop the given
// time is. Used by the recording engine to snap live hits to the grid.
func (e *Engine) LoopElapsed(at time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loopStart.IsZero() {
		return 0
	}
	return at.Sub(e.loopStart)
}

// State returns the current runtime snapshot
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	id := ""
	if p := e.pattern.Load(); p != nil {
		id = p.ID
	}
	return State{
		Playing:       e.playing,
		Paused:        e.paused,
		Recording:     e.recording,
		CurrentStep:   e.step,
		PatternID:     id,
		Tempo:         e.tempo,
		Swing:         e.swing,
		Quantization:  e.quantization,
		RecordingMode: e.recMode,
		ClockSource:   e.clockSource,
		Degraded:      e.degraded,
		StatusMessage: e.statusMsg,
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	s := e.stateLocked()
	e.mu.Unlock()
	e.broadcast.Publish(s)
}

func (e *Engine) report(f Fault) {
	if e.sink != nil {
		e.sink.Report(f)
		return
	}
	debug.Log("engine", "fault %s: %s %v", f.Kind, f.Detail, f.Err)
}

// gridOffset is the unswung-grid trigger offset of a step from loop start
func gridOffset(step int, tempo, swing float64) time.Duration {
	base := BaseStepDuration(tempo)
	off := time.Duration(step) * base
	return off + SwingOffset(step, tempo, swing)
}

// run is the scheduling loop. It owns a dedicated OS thread and never
// blocks on I/O; failures become fault reports, not panics.
func (e *Engine) run(stopChan chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	next := time.Now()
	e.mu.Lock()
	e.loopStart = next
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if e.paused {
			e.mu.Unlock()
			select {
			case <-stopChan:
				return
			case <-e.resumeChan:
			}
			// resync the schedule after the pause gap
			e.mu.Lock()
			next = time.Now()
			e.loopStart = next.Add(-gridOffset(e.step, e.tempo, e.swing))
			e.mu.Unlock()
			continue
		}

		// tempo/swing changes land exactly here, at the step boundary
		if e.pendingTempo != 0 {
			e.tempo = e.pendingTempo
			e.pendingTempo = 0
		}
		if e.pendingSwing >= 0 {
			e.swing = e.pendingSwing
			e.pendingSwing = -1
		}
		tempo, swing, step := e.tempo, e.swing, e.step
		listeners := e.listeners
		e.mu.Unlock()

		dur := StepDuration(step, tempo, swing)

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
		if drift := actual.Sub(next); drift > e.cfg.DriftThreshold {
			e.report(Fault{Kind: FaultTimingDrift, At: actual, Detail: drift.String()})
		}

		e.fireStep(step, actual, listeners)

		next = next.Add(dur)
		if !next.After(actual) {
			// fell behind: bounded catch-up instead of unbounded drift
			next = actual.Add(dur)
			debug.LogEvery(16, "engine", "resync after overload at step %d", step)
		}

		e.mu.Lock()
		length := 16
		if p := e.pattern.Load(); p != nil {
			length = p.Length
		}
		e.step = (step + 1) % length
		wrapped := e.step == 0
		if wrapped {
			e.loopStart = next
		}
		e.mu.Unlock()

		if wrapped {
			e.advanceSong()
		}
		e.publish()
	}
}

// fireStep dispatches audio triggers for the step's active hits and then
// the registered callbacks, each with the latency-compensated timestamp
func (e *Engine) fireStep(step int, actual time.Time, listeners []StepCallback) {
	at := actual.Add(-e.cfg.AudioLatency)

	if pat := e.pattern.Load(); pat != nil {
		e.mu.Lock()
		trig := e.trigger
		e.mu.Unlock()
		pat.ActiveHits(step, func(track int, s Step) {
			when := at.Add(s.MicroTiming)
			vel := float64(s.Velocity) / 127.0
			if err := trig.ScheduleTrigger(track, vel, when); err != nil {
				e.report(Fault{
					Kind: FaultAudioHandoff,
					At:   actual,
					Err:  err,
					Retry: func() error {
						return trig.ScheduleTrigger(track, vel, when)
					},
				})
			}
		})
	}

	for _, cb := range listeners {
		e.safeCallback(cb, step, at)
	}
}

// safeCallback isolates callback panics: one bad trigger must not halt
// the transport
func (e *Engine) safeCallback(cb StepCallback, step int, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			debug.Log("engine", "step callback panic: %v", r)
		}
	}()
	cb(step, at)
}

// advanceSong consumes one pattern repetition at the loop boundary
func (e *Engine) advanceSong() {
	e.mu.Lock()
	song := e.song
	if song == nil {
		e.mu.Unlock()
		return
	}
	id, ok := song.Advance()
	var nextPat Pattern
	var swap bool
	if ok {
		if cur := e.pattern.Load(); cur == nil || cur.ID != id {
			if p, found := e.patterns[id]; found {
				nextPat = p
				swap = true
				e.pendingTempo = p.Tempo
				e.pendingSwing = p.Swing
			}
		}
	}
	e.mu.Unlock()

	if !ok {
		// song ran out; stop off the timing thread
		go e.Stop()
		return
	}
	if swap {
		e.pattern.Store(&nextPat)
		debug.Log("engine", "song advanced to pattern %s", id)
	}
}
