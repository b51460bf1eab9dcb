package sequencer

import "time"

// Swing presets. Any amount in [0, MaxSwing] is valid; these are just the
// named points exposed in the UI.
const (
	SwingNone    = 0.0
	SwingLight   = 0.08
	SwingMedium  = 0.15
	SwingHeavy   = 0.25
	SwingExtreme = 0.4

	MaxSwing = 0.75
)

// SwingPresets maps preset names to amounts
var SwingPresets = map[string]float64{
	"none":    SwingNone,
	"light":   SwingLight,
	"medium":  SwingMedium,
	"heavy":   SwingHeavy,
	"extreme": SwingExtreme,
}

// BaseStepDuration returns the duration of one unswung 16th-note step:
// 60s / tempo / 4
func BaseStepDuration(tempoBPM float64) time.Duration {
	return time.Duration(60e9 / tempoBPM / 4.0)
}

// SwingOffset returns the delay applied to a step's trigger time. Odd steps
// are pushed late by base * swing; even steps stay on the grid.
func SwingOffset(stepIndex int, tempoBPM, swing float64) time.Duration {
	if stepIndex%2 == 0 {
		return 0
	}
	return time.Duration(float64(BaseStepDuration(tempoBPM)) * swing)
}

// StepDuration returns the interval from stepIndex's trigger to the next
// step's trigger. Even steps stretch by the swing delay and odd steps
// shrink by it, so even steps always land back on the unswung grid.
func StepDuration(stepIndex int, tempoBPM, swing float64) time.Duration {
	base := BaseStepDuration(tempoBPM)
	delay := time.Duration(float64(base) * swing)
	if stepIndex%2 == 0 {
		return base + delay
	}
	return base - delay
}
