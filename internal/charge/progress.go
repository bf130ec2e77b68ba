package charge

import "math"

const (
	// During the constant-voltage phase the current falls roughly
	// linearly until about 400mA and decays exponentially after that.
	// The linear stretch accounts for about a quarter of the phase.
	taperInflectionA = 0.4
	linearRatio      = 0.25
)

// chargeEstimate maps averaged readings to an estimated state of charge
// in [0, 1]. The constant-current phase is the first half, scaled by how
// close the voltage has climbed to the ceiling. The constant-voltage
// phase is the second half, scaled by how far the current has tapered.
func chargeEstimate(phase Phase, avgVolts, avgAmps, chargeVolts, chargeAmps, cutoffAmps float64) float64 {
	if phase == ConstantCurrent {
		return clamp01(0.5 * avgVolts / chargeVolts)
	}

	var taper float64
	if avgAmps > taperInflectionA && chargeAmps > taperInflectionA {
		taper = linearRatio * (chargeAmps - avgAmps) / (chargeAmps - taperInflectionA)
	} else {
		n := (avgAmps - cutoffAmps) * 1000
		b := (chargeAmps - cutoffAmps) * 1000
		if n < 1 || b <= 1 {
			taper = 1
		} else {
			taper = (1-math.Log(n)/math.Log(b))*(1-linearRatio) + linearRatio
		}
	}
	return 0.5 + 0.5*clamp01(taper)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
