package sequencer

import (
	"testing"
	"time"
)

func TestBaseStepDuration(t *testing.T) {
	tests := []struct {
		tempo float64
		want  time.Duration
	}{
		{60, 250 * time.Millisecond},
		{120, 125 * time.Millisecond},
		{200, 75 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := BaseStepDuration(tt.tempo); got != tt.want {
			t.Errorf("BaseStepDuration(%v) = %v, want %v", tt.tempo, got, tt.want)
		}
	}
}

func TestSwingOffsetEvenStepsOnGrid(t *testing.T) {
	for step := 0; step < 32; step += 2 {
		if got := SwingOffset(step, 120, SwingHeavy); got != 0 {
			t.Errorf("SwingOffset(%d) = %v, want 0 for even steps", step, got)
		}
	}
}

func TestSwingOffsetOddStepsDelayed(t *testing.T) {
	base := BaseStepDuration(120)
	got := SwingOffset(1, 120, SwingMedium)
	want := time.Duration(float64(base) * SwingMedium)
	if got != want {
		t.Errorf("SwingOffset(1) = %v, want %v", got, want)
	}
}

func TestSwingZeroIsStraight(t *testing.T) {
	base := BaseStepDuration(120)
	for step := 0; step < 16; step++ {
		if got := StepDuration(step, 120, 0); got != base {
			t.Errorf("StepDuration(%d) with no swing = %v, want %v", step, got, base)
		}
		if got := SwingOffset(step, 120, 0); got != 0 {
			t.Errorf("SwingOffset(%d) with no swing = %v, want 0", step, got)
		}
	}
}

func TestStepDurationPairsSumToGrid(t *testing.T) {
	// a swung even/odd pair must span exactly two unswung steps so the
	// downbeats never drift
	for _, swing := range []float64{SwingLight, SwingMedium, SwingHeavy, SwingExtreme, MaxSwing} {
		even := StepDuration(0, 120, swing)
		odd := StepDuration(1, 120, swing)
		if sum, want := even+odd, 2*BaseStepDuration(120); sum != want {
			t.Errorf("swing %v: pair sum %v, want %v", swing, sum, want)
		}
	}
}

func TestStepDurationPositive(t *testing.T) {
	// MaxSwing must leave odd steps with a positive interval
	if got := StepDuration(1, 200, MaxSwing); got <= 0 {
		t.Errorf("StepDuration odd at max swing = %v, want > 0", got)
	}
}

func TestSwingPresets(t *testing.T) {
	for name, amount := range SwingPresets {
		if amount < 0 || amount > MaxSwing {
			t.Errorf("preset %q = %v, outside [0, %v]", name, amount, MaxSwing)
		}
	}
	if SwingPresets["none"] != 0 {
		t.Error("preset none should be zero swing")
	}
}
