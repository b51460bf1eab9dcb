package sequencer

import "math"

// VelocityCurve selects the response curve applied to raw trigger velocities
type VelocityCurve int

const (
	CurveLinear VelocityCurve = iota
	CurveExponential
	CurveLogarithmic
	CurveSCurve
)

func (c VelocityCurve) String() string {
	switch c {
	case CurveLinear:
		return "linear"
	case CurveExponential:
		return "exponential"
	case CurveLogarithmic:
		return "logarithmic"
	case CurveSCurve:
		return "s-curve"
	}
	return "unknown"
}

// CurveParams shape a velocity curve. Zero value is not usable; start from
// DefaultCurveParams.
type CurveParams struct {
	Exponent    float64 // exponential: 0.5 - 5.0
	LogBase     float64 // logarithmic: 2 - 20
	Sharpness   float64 // s-curve sigmoid steepness: 1 - 20
	Sensitivity float64 // post-curve gain: 0 - 2
	Offset      float64 // post-curve offset: -1 - 1
	Scale       float64 // final scale: 0 - 2
}

// DefaultCurveParams returns a neutral parameter set
func DefaultCurveParams() CurveParams {
	return CurveParams{
		Exponent:    2.0,
		LogBase:     10.0,
		Sharpness:   8.0,
		Sensitivity: 1.0,
		Offset:      0.0,
		Scale:       1.0,
	}
}

// VelocityTransformer maps raw velocities (0-127) through a configured
// response curve. Parameters are validated once at construction so the
// per-hit path never has to.
type VelocityTransformer struct {
	curve  VelocityCurve
	params CurveParams
}

// NewVelocityTransformer validates params against the curve and returns a
// ready transformer. Out-of-range parameters are a configuration error, not
// a silent clamp.
func NewVelocityTransformer(curve VelocityCurve, params CurveParams) (*VelocityTransformer, error) {
	switch curve {
	case CurveLinear:
	case CurveExponential:
		if params.Exponent < 0.5 || params.Exponent > 5.0 {
			return nil, errInvalid("exponent", params.Exponent, "must be in [0.5, 5.0]")
		}
	case CurveLogarithmic:
		if params.LogBase < 2.0 || params.LogBase > 20.0 {
			return nil, errInvalid("logBase", params.LogBase, "must be in [2, 20]")
		}
	case CurveSCurve:
		if params.Sharpness < 1.0 || params.Sharpness > 20.0 {
			return nil, errInvalid("sharpness", params.Sharpness, "must be in [1, 20]")
		}
	default:
		return nil, errInvalid("curve", curve, "unknown curve type")
	}

	if params.Sensitivity < 0 || params.Sensitivity > 2.0 {
		return nil, errInvalid("sensitivity", params.Sensitivity, "must be in [0, 2]")
	}
	if params.Offset < -1.0 || params.Offset > 1.0 {
		return nil, errInvalid("offset", params.Offset, "must be in [-1, 1]")
	}
	if params.Scale < 0 || params.Scale > 2.0 {
		return nil, errInvalid("scale", params.Scale, "must be in [0, 2]")
	}

	return &VelocityTransformer{curve: curve, params: params}, nil
}

// Curve returns the configured curve type
func (t *VelocityTransformer) Curve() VelocityCurve {
	return t.curve
}

// Transform maps an input velocity to an output velocity, both 0-127.
// Monotonic non-decreasing in the input for every curve type.
func (t *VelocityTransformer) Transform(in uint8) uint8 {
	if in > 127 {
		in = 127
	}
	x := float64(in) / 127.0

	var y float64
	switch t.curve {
	case CurveLinear:
		y = x
	case CurveExponential:
		y = math.Pow(x, t.params.Exponent)
	case CurveLogarithmic:
		if x <= 0 {
			y = 0
		} else {
			b := t.params.LogBase
			y = math.Log(1+x*(b-1)) / math.Log(b)
		}
	case CurveSCurve:
		// Logistic sigmoid centered at 0.5, rescaled so 0 maps to 0
		// and 1 maps to 1
		k := t.params.Sharpness
		raw := logistic(k, x)
		lo := logistic(k, 0)
		hi := logistic(k, 1)
		y = (raw - lo) / (hi - lo)
	}

	y = y*t.params.Sensitivity + t.params.Offset
	y *= t.params.Scale

	if y < 0 {
		y = 0
	}
	if y > 1 {
		y = 1
	}
	return uint8(math.Round(y * 127))
}

func logistic(k, x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-k*(x-0.5)))
}
