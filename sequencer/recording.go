package sequencer

import (
	"math"
	"sync"
	"time"

	"go-gridbeat/debug"
)

// Clock is the timing context a recording pass snaps against. The engine
// implements it; tests supply fakes.
type Clock interface {
	// LoopElapsed converts an absolute hit time into time since the
	// current pattern loop started
	LoopElapsed(at time.Time) time.Duration
	Tempo() float64
	Swing() float64
}

// Recorder captures live trigger events during playback, quantizes them
// onto the step grid and merges them into a working Pattern. The working
// pattern is a private copy; the caller commits the result returned by
// StopRecording. Safe for concurrent use: hits arrive from the MIDI
// listener goroutine while the UI starts and stops passes.
type Recorder struct {
	clock     Clock
	transform *VelocityTransformer

	mu         sync.Mutex
	active     bool
	mode       RecordingMode
	work       Pattern
	touched    map[int]bool // tracks cleared once per REPLACE pass
	punchStart int
	punchEnd   int
}

// NewRecorder wires the recorder to its timing context and velocity curve.
// transform may be nil for a linear response.
func NewRecorder(clock Clock, transform *VelocityTransformer) *Recorder {
	if transform == nil {
		transform, _ = NewVelocityTransformer(CurveLinear, DefaultCurveParams())
	}
	return &Recorder{clock: clock, transform: transform}
}

// StartRecording begins a REPLACE or OVERDUB pass over base
func (r *Recorder) StartRecording(base Pattern, mode RecordingMode) error {
	if mode == ModePunchIn {
		return errInvalid("mode", mode, "punch-in needs a step window, use StartPunchIn")
	}
	return r.start(base, mode, 0, 0)
}

// StartPunchIn begins a pass that only writes inside [startStep, endStep]
func (r *Recorder) StartPunchIn(base Pattern, startStep, endStep int) error {
	if startStep < 0 || endStep >= base.Length || startStep > endStep {
		return errInvalid("punchWindow", [2]int{startStep, endStep}, "must be a valid step range")
	}
	return r.start(base, ModePunchIn, startStep, endStep)
}

func (r *Recorder) start(base Pattern, mode RecordingMode, punchStart, punchEnd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return errInvalid("recorder", nil, "already recording")
	}
	if err := base.Validate(); err != nil {
		return err
	}
	r.active = true
	r.mode = mode
	r.work = base.withSteps(base.cloneSteps())
	r.touched = make(map[int]bool)
	r.punchStart = punchStart
	r.punchEnd = punchEnd
	debug.Log("record", "pass started: mode=%s pattern=%s", mode, base.ID)
	return nil
}

// CaptureHit snaps a live hit to the nearest step and merges it into the
// working pattern. Duplicate hits on the same snapped step overwrite
// rather than accumulate.
func (r *Recorder) CaptureHit(track int, at time.Time, rawVelocity uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return errInvalid("recorder", nil, "not recording")
	}
	if track < 0 || track >= NumTracks {
		return errInvalid("track", track, "out of range")
	}

	elapsed := r.clock.LoopElapsed(at)
	if elapsed < 0 {
		elapsed = 0
	}
	pos, micro := snapToStep(elapsed, r.clock.Tempo(), r.clock.Swing(), r.work.Length)

	vel := r.transform.Transform(rawVelocity)
	if vel < 1 {
		vel = 1
	}

	switch r.mode {
	case ModeReplace:
		if !r.touched[track] {
			cleared, err := ClearTrack(r.work, track)
			if err != nil {
				return err
			}
			r.work = cleared
			r.touched[track] = true
		}
	case ModePunchIn:
		if pos < r.punchStart || pos > r.punchEnd {
			debug.Log("record", "hit outside punch window, dropped: track=%d step=%d", track, pos)
			return nil
		}
	}

	placed, err := PlaceStep(r.work, track, Step{
		Position:    pos,
		Velocity:    vel,
		Active:      true,
		MicroTiming: micro,
	})
	if err != nil {
		return err
	}
	r.work = placed
	debug.Log("record", "hit: track=%d step=%d vel=%d micro=%s", track, pos, vel, micro)
	return nil
}

// StopRecording ends the pass and returns the merged pattern
func (r *Recorder) StopRecording() (Pattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return Pattern{}, errInvalid("recorder", nil, "not recording")
	}
	r.active = false
	r.touched = nil
	return r.work, nil
}

// IsRecording reports whether a pass is in progress
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// snapToStep finds the nearest step boundary to a point in loop time,
// undoing the swing delay for odd steps before rounding. The residual
// lands in micro timing, clamped to the representable range.
func snapToStep(elapsed time.Duration, tempo, swing float64, length int) (pos int, micro time.Duration) {
	base := float64(BaseStepDuration(tempo))
	guess := int(math.Floor(float64(elapsed)/base + 0.5))

	bestN := 0
	bestDiff := math.MaxFloat64
	bestMicro := 0.0
	for n := guess - 1; n <= guess+1; n++ {
		if n < 0 {
			continue
		}
		t := float64(n) * base
		if n%2 == 1 {
			t += swing * base
		}
		diff := float64(elapsed) - t
		if math.Abs(diff) < bestDiff {
			bestDiff = math.Abs(diff)
			bestN = n
			bestMicro = diff
		}
	}

	micro = time.Duration(bestMicro)
	if micro > MaxMicroTiming {
		micro = MaxMicroTiming
	} else if micro < -MaxMicroTiming {
		micro = -MaxMicroTiming
	}
	// pattern lengths are even, so wrapping preserves swing parity
	return bestN % length, micro
}
