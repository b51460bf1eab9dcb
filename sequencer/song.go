package sequencer

// SongStep chains one pattern into a song arrangement
type SongStep struct {
	PatternID   string `json:"patternId"`
	RepeatCount int    `json:"repeatCount"`
}

// SongMode is an ordered chain of patterns with a playback cursor. The
// timing engine advances it once per completed pattern loop.
type SongMode struct {
	Steps []SongStep `json:"steps"`
	Loop  bool       `json:"loop"`

	pos     int
	repeats int
}

// NewSongMode validates the chain and returns a song cursor at the start
func NewSongMode(steps []SongStep, loop bool) (*SongMode, error) {
	if len(steps) == 0 {
		return nil, errInvalid("songSteps", steps, "must not be empty")
	}
	for i, s := range steps {
		if s.PatternID == "" {
			return nil, errInvalid("patternId", i, "must not be blank")
		}
		if s.RepeatCount <= 0 {
			return nil, errInvalid("repeatCount", s.RepeatCount, "must be > 0")
		}
	}
	return &SongMode{Steps: steps, Loop: loop}, nil
}

// Current returns the pattern the cursor is on
func (s *SongMode) Current() (SongStep, bool) {
	if s.pos >= len(s.Steps) {
		return SongStep{}, false
	}
	return s.Steps[s.pos], true
}

// Advance consumes one pattern repetition and returns the pattern to play
// next. ok is false when the song has run out (non-looping songs only).
func (s *SongMode) Advance() (patternID string, ok bool) {
	if s.pos >= len(s.Steps) {
		return "", false
	}
	s.repeats++
	if s.repeats >= s.Steps[s.pos].RepeatCount {
		s.repeats = 0
		s.pos++
		if s.pos >= len(s.Steps) {
			if !s.Loop {
				return "", false
			}
			s.pos = 0
		}
	}
	return s.Steps[s.pos].PatternID, true
}

// Reset rewinds the cursor to the start of the chain
func (s *SongMode) Reset() {
	s.pos = 0
	s.repeats = 0
}

// Position returns the cursor index into the chain
func (s *SongMode) Position() int {
	return s.pos
}
