package sequencer

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Quantization selects the snap subdivision relative to the 16th-note grid
type Quantization int

const (
	QuantizeOff Quantization = iota
	QuantizeQuarter
	QuantizeEighth
	QuantizeSixteenth
	QuantizeThirtySecond
)

func (q Quantization) String() string {
	switch q {
	case QuantizeOff:
		return "off"
	case QuantizeQuarter:
		return "1/4"
	case QuantizeEighth:
		return "1/8"
	case QuantizeSixteenth:
		return "1/16"
	case QuantizeThirtySecond:
		return "1/32"
	}
	return "unknown"
}

// stepsPerUnit returns the subdivision size measured in 16th-note steps
func (q Quantization) stepsPerUnit() float64 {
	switch q {
	case QuantizeQuarter:
		return 4
	case QuantizeEighth:
		return 2
	case QuantizeSixteenth:
		return 1
	case QuantizeThirtySecond:
		return 0.5
	}
	return 0
}

// Pattern manager: pure operations over Pattern values. Every operation
// validates its inputs and returns a new Pattern; the input is never
// touched. Invalid indices are an error, not a no-op.

// ToggleStep flips the active flag at track/stepIndex, creating the step
// with default velocity if it does not exist yet
func ToggleStep(p Pattern, track, stepIndex int) (Pattern, error) {
	if err := checkIndex(p, track, stepIndex); err != nil {
		return Pattern{}, err
	}
	steps := p.cloneSteps()
	for i, s := range steps[track] {
		if s.Position == stepIndex {
			steps[track][i].Active = !s.Active
			return p.withSteps(steps), nil
		}
	}
	steps[track] = append(steps[track], Step{
		Position: stepIndex,
		Velocity: 100,
		Active:   true,
	})
	sortSteps(steps[track])
	return p.withSteps(steps), nil
}

// SetStepVelocity sets the velocity (1-127) of an existing step
func SetStepVelocity(p Pattern, track, stepIndex int, velocity uint8) (Pattern, error) {
	if err := checkIndex(p, track, stepIndex); err != nil {
		return Pattern{}, err
	}
	if velocity < 1 || velocity > 127 {
		return Pattern{}, errInvalid("velocity", velocity, "must be in [1, 127]")
	}
	steps := p.cloneSteps()
	for i, s := range steps[track] {
		if s.Position == stepIndex {
			steps[track][i].Velocity = velocity
			return p.withSteps(steps), nil
		}
	}
	return Pattern{}, errInvalid("stepIndex", stepIndex, "no step at position")
}

// SetStepMicroTiming nudges an existing step off the grid by up to +/- 50ms
func SetStepMicroTiming(p Pattern, track, stepIndex int, offset time.Duration) (Pattern, error) {
	if err := checkIndex(p, track, stepIndex); err != nil {
		return Pattern{}, err
	}
	if offset < -MaxMicroTiming || offset > MaxMicroTiming {
		return Pattern{}, errInvalid("microTiming", offset, "must be in [-50ms, +50ms]")
	}
	steps := p.cloneSteps()
	for i, s := range steps[track] {
		if s.Position == stepIndex {
			steps[track][i].MicroTiming = offset
			return p.withSteps(steps), nil
		}
	}
	return Pattern{}, errInvalid("stepIndex", stepIndex, "no step at position")
}

// PlaceStep writes a step at its position on the given track, replacing any
// existing step there
func PlaceStep(p Pattern, track int, step Step) (Pattern, error) {
	if err := checkIndex(p, track, step.Position); err != nil {
		return Pattern{}, err
	}
	if step.Velocity < 1 || step.Velocity > 127 {
		return Pattern{}, errInvalid("velocity", step.Velocity, "must be in [1, 127]")
	}
	if step.MicroTiming < -MaxMicroTiming || step.MicroTiming > MaxMicroTiming {
		return Pattern{}, errInvalid("microTiming", step.MicroTiming, "must be in [-50ms, +50ms]")
	}
	steps := p.cloneSteps()
	for i, s := range steps[track] {
		if s.Position == step.Position {
			steps[track][i] = step
			return p.withSteps(steps), nil
		}
	}
	steps[track] = append(steps[track], step)
	sortSteps(steps[track])
	return p.withSteps(steps), nil
}

// ClearTrack removes all steps from one track
func ClearTrack(p Pattern, track int) (Pattern, error) {
	if track < 0 || track >= NumTracks {
		return Pattern{}, errInvalid("track", track, "out of range")
	}
	steps := p.cloneSteps()
	delete(steps, track)
	return p.withSteps(steps), nil
}

// Clear removes all steps from all tracks
func Clear(p Pattern) Pattern {
	return p.withSteps(make(map[int][]Step))
}

// Copy duplicates the pattern under a new identity and name
func Copy(p Pattern, newName string) (Pattern, error) {
	if newName == "" {
		return Pattern{}, errInvalid("name", newName, "must not be blank")
	}
	now := time.Now()
	out := p
	out.ID = uuid.NewString()
	out.Name = newName
	out.Steps = p.cloneSteps()
	out.CreatedAt = now
	out.ModifiedAt = now
	return out, nil
}

// ResizeLength changes the pattern length, dropping steps at positions
// beyond the new length
func ResizeLength(p Pattern, newLength int) (Pattern, error) {
	if !validLength(newLength) {
		return Pattern{}, errInvalid("length", newLength, "must be 8, 16, 24 or 32")
	}
	steps := make(map[int][]Step, len(p.Steps))
	for track, existing := range p.Steps {
		var kept []Step
		for _, s := range existing {
			if s.Position < newLength {
				kept = append(kept, s)
			}
		}
		if kept != nil {
			steps[track] = kept
		}
	}
	out := p.withSteps(steps)
	out.Length = newLength
	return out, nil
}

// SetTempo sets the pattern tempo in BPM
func SetTempo(p Pattern, bpm float64) (Pattern, error) {
	if bpm < MinTempo || bpm > MaxTempo {
		return Pattern{}, errInvalid("tempo", bpm, "must be in [60, 200]")
	}
	out := p.withSteps(p.cloneSteps())
	out.Tempo = bpm
	return out, nil
}

// SetSwing sets the pattern swing amount
func SetSwing(p Pattern, amount float64) (Pattern, error) {
	if amount < 0 || amount > MaxSwing {
		return Pattern{}, errInvalid("swing", amount, "must be in [0, 0.75]")
	}
	out := p.withSteps(p.cloneSteps())
	out.Swing = amount
	return out, nil
}

// Quantize snaps every step's fractional position (grid position plus
// micro timing) to the nearest subdivision boundary. Steps that snap to
// the same cell merge, last one wins. Steps snapping past the end wrap to
// the start of the pattern.
func Quantize(p Pattern, q Quantization) (Pattern, error) {
	sub := q.stepsPerUnit()
	if sub == 0 {
		if q == QuantizeOff {
			return p.withSteps(p.cloneSteps()), nil
		}
		return Pattern{}, errInvalid("quantization", q, "unknown subdivision")
	}

	base := float64(BaseStepDuration(p.Tempo))
	steps := make(map[int][]Step, len(p.Steps))
	for track, existing := range p.Steps {
		byPos := make(map[int]Step)
		for _, s := range existing {
			exact := float64(s.Position) + float64(s.MicroTiming)/base
			snapped := math.Round(exact/sub) * sub
			pos := int(math.Floor(snapped))
			micro := time.Duration((snapped - float64(pos)) * base)
			// keep the micro-timing invariant at slow tempos
			if micro > MaxMicroTiming {
				micro = MaxMicroTiming
			} else if micro < -MaxMicroTiming {
				micro = -MaxMicroTiming
			}
			pos = ((pos % p.Length) + p.Length) % p.Length

			s.Position = pos
			s.MicroTiming = micro
			byPos[pos] = s
		}
		out := make([]Step, 0, len(byPos))
		for _, s := range byPos {
			out = append(out, s)
		}
		sortSteps(out)
		steps[track] = out
	}
	return p.withSteps(steps), nil
}

func checkIndex(p Pattern, track, stepIndex int) error {
	if track < 0 || track >= NumTracks {
		return errInvalid("track", track, "out of range")
	}
	if stepIndex < 0 || stepIndex >= p.Length {
		return errInvalid("stepIndex", stepIndex, "outside pattern length")
	}
	return nil
}
