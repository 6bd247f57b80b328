// SPDX-License-Identifier: MIT

// Package timing implements the inhomogeneous Poisson event kernel and the
// intra-session Markov chain that together decide when noise happens.
package timing

import "fmt"

// Intensity selects the base event rate.
type Intensity string

const (
	IntensityLow      Intensity = "low"
	IntensityMedium   Intensity = "medium"
	IntensityHigh     Intensity = "high"
	IntensityParanoid Intensity = "paranoid"
)

// Base lambda in events per hour for each intensity level.
var intensityLambda = map[Intensity]float64{
	IntensityLow:      18,
	IntensityMedium:   60,
	IntensityHigh:     150,
	IntensityParanoid: 300,
}

// ParseIntensity validates a raw intensity string.
func ParseIntensity(s string) (Intensity, error) {
	switch Intensity(s) {
	case IntensityLow, IntensityMedium, IntensityHigh, IntensityParanoid:
		return Intensity(s), nil
	}
	return "", fmt.Errorf("unknown intensity %q (expected low|medium|high|paranoid)", s)
}

// BaseLambda returns the base rate in events per hour.
func (i Intensity) BaseLambda() float64 {
	if l, ok := intensityLambda[i]; ok {
		return l
	}
	return intensityLambda[IntensityMedium]
}

// Hourly activity weights (0-23). Quiet but nonzero overnight, ramp through
// the morning, sustained day plateau, taper after 22:00. Real humans do
// browse at 3am.
var defaultHourlyWeights = [24]float64{
	0.05, 0.03, 0.02, 0.02, 0.03, 0.05, // 00-05
	0.10, 0.25, 0.50, 0.80, 0.90, 0.85, // 06-11
	0.60, 0.70, 0.80, 0.85, 0.75, 0.65, // 12-17
	0.70, 0.80, 0.90, 0.75, 0.40, 0.15, // 18-23
}

// DefaultHourlyWeights returns a copy of the built-in diurnal curve.
func DefaultHourlyWeights() []float64 {
	w := make([]float64, 24)
	copy(w, defaultHourlyWeights[:])
	return w
}
