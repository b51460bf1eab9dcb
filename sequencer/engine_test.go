package sequencer

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// captureTrigger records every scheduled hit
type captureTrigger struct {
	mu   sync.Mutex
	hits []capturedHit
	fail error
}

type capturedHit struct {
	track    int
	velocity float64
	when     time.Time
}

func (c *captureTrigger) ScheduleTrigger(track int, velocity float64, when time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.hits = append(c.hits, capturedHit{track, velocity, when})
	return nil
}

func (c *captureTrigger) snapshot() []capturedHit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedHit, len(c.hits))
	copy(out, c.hits)
	return out
}

// captureSink collects fault reports
type captureSink struct {
	mu     sync.Mutex
	faults []Fault
}

func (c *captureSink) Report(f Fault) {
	c.mu.Lock()
	c.faults = append(c.faults, f)
	c.mu.Unlock()
}

func (c *captureSink) snapshot() []Fault {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Fault, len(c.faults))
	copy(out, c.faults)
	return out
}

func TestEngineStartRequiresPattern(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	if err := e.Start(); err == nil {
		t.Error("Start with no pattern should error")
	}
}

func TestEngineStartStop(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if !e.State().Playing {
		t.Error("state should report playing")
	}
	// idempotent
	if err := e.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	e.Stop()
	st := e.State()
	if st.Playing {
		t.Error("state should report stopped")
	}
	if st.CurrentStep != 0 {
		t.Errorf("stop should reset step, got %d", st.CurrentStep)
	}
	e.Stop() // idempotent
}

func TestEngineAdoptsPatternTempoWhenStopped(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 150)
	p, _ = SetSwing(p, SwingMedium)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}
	if e.Tempo() != 150 {
		t.Errorf("Tempo = %v, want 150", e.Tempo())
	}
	if e.Swing() != SwingMedium {
		t.Errorf("Swing = %v, want %v", e.Swing(), SwingMedium)
	}
}

func TestEngineSetTempoValidation(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	if err := e.SetTempo(59); err == nil {
		t.Error("tempo below range should error")
	}
	if err := e.SetTempo(201); err == nil {
		t.Error("tempo above range should error")
	}
	if err := e.SetSwing(0.8); err == nil {
		t.Error("swing above range should error")
	}
	if err := e.SetTempo(90); err != nil {
		t.Fatal(err)
	}
	if e.Tempo() != 90 {
		t.Errorf("stopped tempo change should apply immediately, got %v", e.Tempo())
	}
}

func TestEngineTempoAppliesAtBoundaryWhilePlaying(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200) // 75ms steps
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	if err := e.SetTempo(120); err != nil {
		t.Fatal(err)
	}
	// change becomes effective at the next step boundary
	deadline := time.Now().Add(time.Second)
	for e.Tempo() != 120 {
		if time.Now().After(deadline) {
			t.Fatal("pending tempo never applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineFiresActiveSteps(t *testing.T) {
	trig := &captureTrigger{}
	e := NewEngine(trig, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200) // 75ms steps
	p, _ = ToggleStep(p, 2, 0)
	p, _ = SetStepVelocity(p, 2, 0, 127)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	e.Stop()

	hits := trig.snapshot()
	if len(hits) == 0 {
		t.Fatal("step 0 hit never fired")
	}
	if hits[0].track != 2 {
		t.Errorf("track = %d, want 2", hits[0].track)
	}
	if hits[0].velocity != 1.0 {
		t.Errorf("velocity = %v, want 1.0", hits[0].velocity)
	}
}

func TestEngineStepOrder(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var steps []int
	e.AddStepListener(func(step int, at time.Time) {
		mu.Lock()
		steps = append(steps, step)
		mu.Unlock()
	})

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(steps) < 3 {
		t.Fatalf("only %d steps fired in 400ms at 200bpm", len(steps))
	}
	for i := 1; i < len(steps); i++ {
		want := (steps[i-1] + 1) % p.Length
		if steps[i] != want {
			t.Fatalf("step order broke: %v", steps)
		}
	}
	if steps[0] != 0 {
		t.Errorf("playback should begin at step 0, got %d", steps[0])
	}
}

func TestEngineMicroTimingShiftsTriggerTime(t *testing.T) {
	trig := &captureTrigger{}
	e := NewEngine(trig, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	p, _ = ToggleStep(p, 0, 0)
	p, _ = ToggleStep(p, 1, 0)
	p, _ = SetStepMicroTiming(p, 1, 0, 20*time.Millisecond)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	e.Stop()

	hits := trig.snapshot()
	if len(hits) < 2 {
		t.Fatalf("expected both tracks to fire, got %d hits", len(hits))
	}
	// same step, so the nudged track is exactly 20ms later
	diff := hits[1].when.Sub(hits[0].when)
	if diff != 20*time.Millisecond {
		t.Errorf("micro timing separation = %v, want 20ms", diff)
	}
}

func TestEngineAudioLatencyCompensation(t *testing.T) {
	trig := &captureTrigger{}
	e := NewEngine(trig, nil, nil, EngineConfig{AudioLatency: 100 * time.Millisecond})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	p, _ = ToggleStep(p, 0, 0)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	hits := trig.snapshot()
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	// step 0 fires immediately; its timestamp is pulled back by the latency
	if !hits[0].when.Before(start) {
		t.Errorf("compensated time %v should precede start %v", hits[0].when, start)
	}
}

func TestEngineAudioFaultReported(t *testing.T) {
	trig := &captureTrigger{fail: errors.New("device gone")}
	sink := &captureSink{}
	e := NewEngine(trig, sink, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	p, _ = ToggleStep(p, 0, 0)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	e.Stop()

	faults := sink.snapshot()
	if len(faults) == 0 {
		t.Fatal("audio failure should be reported")
	}
	f := faults[0]
	if f.Kind != FaultAudioHandoff {
		t.Errorf("fault kind = %v, want %v", f.Kind, FaultAudioHandoff)
	}
	if f.Retry == nil {
		t.Error("audio fault should carry a retry closure")
	}
}

func TestEnginePauseResume(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	time.Sleep(100 * time.Millisecond)
	e.Pause()
	st := e.State()
	if !st.Paused || !st.Playing {
		t.Errorf("pause state = %+v", st)
	}
	frozen := e.State().CurrentStep
	time.Sleep(200 * time.Millisecond)
	if got := e.State().CurrentStep; got != frozen {
		t.Errorf("step advanced from %d to %d while paused", frozen, got)
	}

	e.Resume()
	deadline := time.Now().Add(time.Second)
	for e.State().CurrentStep == frozen {
		if time.Now().After(deadline) {
			t.Fatal("step never advanced after resume")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineSlowListenerResyncs(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{DriftThreshold: time.Hour})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200) // 75ms steps
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	// The first callback overruns several step periods; the schedule must
	// resync and keep firing instead of stalling or bursting
	var mu sync.Mutex
	var fired []time.Time
	e.AddStepListener(func(step int, at time.Time) {
		mu.Lock()
		n := len(fired)
		fired = append(fired, time.Now())
		mu.Unlock()
		if n == 0 {
			time.Sleep(250 * time.Millisecond)
		}
	})

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(fired) < 3 {
		t.Fatalf("only %d steps fired after an overlong callback", len(fired))
	}
	// steps after the overload keep roughly the step period apart, so the
	// loop resynchronized rather than firing a catch-up burst
	for i := 2; i < len(fired); i++ {
		if gap := fired[i].Sub(fired[i-1]); gap < 30*time.Millisecond {
			t.Errorf("steps %d and %d only %v apart, schedule did not resync", i-1, i, gap)
		}
	}
}

func TestEnginePanickingListenerKeepsPlaying(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []int
	e.AddStepListener(func(step int, at time.Time) {
		if step == 0 {
			panic("bad trigger")
		}
	})
	e.AddStepListener(func(step int, at time.Time) {
		mu.Lock()
		seen = append(seen, step)
		mu.Unlock()
	})

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		progressed := len(seen) > 0 && seen[len(seen)-1] >= 2
		mu.Unlock()
		if progressed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("transport halted after a panicking callback")
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.Stop()
}

func TestEnginePauseDiscardsStaleResume(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "test")
	p, _ = SetTempo(p, 200)
	if err := e.SetPattern(p); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	// A Resume landing before the run loop reaches its pause branch can
	// leave a token behind; the next Pause must not inherit it
	for i := 0; i < 100; i++ {
		e.Pause()
		e.Resume()
	}
	e.Pause()
	if len(e.resumeChan) != 0 {
		t.Fatal("stale resume token survived Pause")
	}
	frozen := e.State().CurrentStep
	time.Sleep(200 * time.Millisecond)
	if got := e.State().CurrentStep; got != frozen {
		t.Errorf("step advanced from %d to %d while paused", frozen, got)
	}
}

func TestEngineSongValidation(t *testing.T) {
	e := NewEngine(nil, nil, nil, EngineConfig{})
	p := mustPattern(t, "a")
	if err := e.AddPattern(p); err != nil {
		t.Fatal(err)
	}

	song, err := NewSongMode([]SongStep{{PatternID: p.ID, RepeatCount: 2}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetSong(song); err != nil {
		t.Fatal(err)
	}

	orphan, err := NewSongMode([]SongStep{{PatternID: "missing", RepeatCount: 1}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetSong(orphan); err == nil {
		t.Error("song referencing an unknown pattern should be rejected")
	}
}

func TestBroadcasterLatestWins(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(State{CurrentStep: i})
	}
	// subscriber never read; it must see the newest value, not block the
	// publisher or observe a stale backlog
	got := <-ch
	if got.CurrentStep != 9 {
		t.Errorf("CurrentStep = %d, want 9 (latest wins)", got.CurrentStep)
	}
}

func TestBroadcasterPrimesNewSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(State{Tempo: 140})

	ch := b.Subscribe()
	select {
	case got := <-ch:
		if got.Tempo != 140 {
			t.Errorf("primed Tempo = %v, want 140", got.Tempo)
		}
	case <-time.After(time.Second):
		t.Fatal("new subscriber should be primed with the last state")
	}
}
