package sensor

import (
	"errors"
	"math"
)

const (
	// ExcitationVolts is the bias applied across the thermistor bridges.
	ExcitationVolts = 2.5

	bridgeOhms = 26990.0 + 24.0

	shA = 9.376e-4
	shB = 2.208e-4
	shC = 1.276e-7

	kelvinOffset = 273.15
)

// Irradiance sensor sensitivities in V/(W/m2).
var Sensitivity = map[string]float64{
	"POA":  1.450e-5,
	"POA2": 1.134e-5,
	"ALB":  1.312e-5,
	"GHI":  1.476e-5,
}

var errDomain = errors.New("value outside conversion domain")

// Thermistor converts a bridge voltage to degrees Celsius using the
// Steinhart-Hart equation.
func Thermistor(volts float64) (float64, error) {
	if math.IsNaN(volts) || volts <= 0 || volts >= ExcitationVolts {
		return math.NaN(), errDomain
	}
	r := bridgeOhms / (ExcitationVolts/volts - 1)
	if r <= 0 || math.IsInf(r, 0) {
		return math.NaN(), errDomain
	}
	lnR := math.Log(r)
	t := 1/(shA+shB*lnR+shC*lnR*lnR*lnR) - kelvinOffset
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return math.NaN(), errDomain
	}
	return t, nil
}

// Irradiance converts a pyranometer voltage to W/m2 and applies the
// additive offset.
func Irradiance(volts, sensitivity, offset float64) float64 {
	return volts/sensitivity + offset
}

func blockMean(samples []float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
