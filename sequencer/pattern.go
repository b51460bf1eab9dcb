package sequencer

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Model limits
const (
	MinTempo = 60.0
	MaxTempo = 200.0

	NumTracks = 16

	// Per-step micro timing is clamped to +/- 50ms
	MaxMicroTiming = 50 * time.Millisecond
)

// ValidLengths are the selectable pattern lengths in steps
var ValidLengths = []int{8, 16, 24, 32}

func validLength(n int) bool {
	for _, l := range ValidLengths {
		if n == l {
			return true
		}
	}
	return false
}

// Step is a single grid cell on a track
type Step struct {
	Position    int           `json:"position"`
	Velocity    uint8         `json:"velocity"` // 1-127
	Active      bool          `json:"isActive"`
	MicroTiming time.Duration `json:"microTiming"` // nanoseconds, +/- 50ms
}

// Pattern is an immutable-by-convention value. Mutations go through the
// pattern manager operations in edit.go, which return a new Pattern and
// refresh ModifiedAt. Steps maps track index to steps ordered by position.
type Pattern struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Length     int            `json:"length"`
	Steps      map[int][]Step `json:"steps"`
	Tempo      float64        `json:"tempo"`
	Swing      float64        `json:"swing"`
	CreatedAt  time.Time      `json:"createdAt"`
	ModifiedAt time.Time      `json:"modifiedAt"`
}

// NewPattern creates an empty 16-step pattern at 120 BPM
func NewPattern(name string) (Pattern, error) {
	if strings.TrimSpace(name) == "" {
		return Pattern{}, errInvalid("name", name, "must not be blank")
	}
	now := time.Now()
	return Pattern{
		ID:         uuid.NewString(),
		Name:       name,
		Length:     16,
		Steps:      make(map[int][]Step),
		Tempo:      120,
		Swing:      0,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// Validate checks the pattern invariants
func (p Pattern) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errInvalid("name", p.Name, "must not be blank")
	}
	if !validLength(p.Length) {
		return errInvalid("length", p.Length, "must be 8, 16, 24 or 32")
	}
	if p.Tempo < MinTempo || p.Tempo > MaxTempo {
		return errInvalid("tempo", p.Tempo, "must be in [60, 200]")
	}
	if p.Swing < 0 || p.Swing > MaxSwing {
		return errInvalid("swing", p.Swing, "must be in [0, 0.75]")
	}
	for track, steps := range p.Steps {
		if track < 0 || track >= NumTracks {
			return errInvalid("track", track, "out of range")
		}
		for _, s := range steps {
			if s.Position < 0 || s.Position >= p.Length {
				return errInvalid("step.position", s.Position, "outside pattern length")
			}
			if s.Velocity < 1 || s.Velocity > 127 {
				return errInvalid("step.velocity", s.Velocity, "must be in [1, 127]")
			}
			if s.MicroTiming < -MaxMicroTiming || s.MicroTiming > MaxMicroTiming {
				return errInvalid("step.microTiming", s.MicroTiming, "must be in [-50ms, +50ms]")
			}
		}
	}
	return nil
}

// withSteps returns a copy holding the given steps map with ModifiedAt
// refreshed. The map is owned by the new value; callers must not hold on
// to it.
func (p Pattern) withSteps(steps map[int][]Step) Pattern {
	p.Steps = steps
	p.ModifiedAt = time.Now()
	return p
}

// cloneSteps deep-copies the track map so edits never alias the original
func (p Pattern) cloneSteps() map[int][]Step {
	out := make(map[int][]Step, len(p.Steps))
	for track, steps := range p.Steps {
		cp := make([]Step, len(steps))
		copy(cp, steps)
		out[track] = cp
	}
	return out
}

// StepAt returns the step at the given track/position, if any
func (p Pattern) StepAt(track, position int) (Step, bool) {
	for _, s := range p.Steps[track] {
		if s.Position == position {
			return s, true
		}
	}
	return Step{}, false
}

// ActiveHits calls fn for every active step at the given position. No
// allocation; safe to call from the timing thread against a snapshot.
func (p Pattern) ActiveHits(position int, fn func(track int, s Step)) {
	for track := 0; track < NumTracks; track++ {
		steps, ok := p.Steps[track]
		if !ok {
			continue
		}
		for i := range steps {
			if steps[i].Position == position && steps[i].Active {
				fn(track, steps[i])
			}
		}
	}
}

// Equal reports deep equality. Timestamps are compared with time.Equal so a
// serialize/deserialize round trip (which strips the monotonic clock)
// still compares equal.
func (p Pattern) Equal(o Pattern) bool {
	if p.ID != o.ID || p.Name != o.Name || p.Length != o.Length ||
		p.Tempo != o.Tempo || p.Swing != o.Swing {
		return false
	}
	if !p.CreatedAt.Equal(o.CreatedAt) || !p.ModifiedAt.Equal(o.ModifiedAt) {
		return false
	}
	if len(p.Steps) != len(o.Steps) {
		return false
	}
	for track, steps := range p.Steps {
		other, ok := o.Steps[track]
		if !ok || len(steps) != len(other) {
			return false
		}
		for i := range steps {
			if steps[i] != other[i] {
				return false
			}
		}
	}
	return true
}

// sortSteps orders a track's steps by position in place
func sortSteps(steps []Step) {
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Position < steps[j].Position
	})
}
