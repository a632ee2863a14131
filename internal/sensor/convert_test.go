package sensor

import (
	"math"
	"testing"
)

func TestThermistor(t *testing.T) {
	tests := []struct {
		name  string
		volts float64
		want  float64
	}{
		{name: "mid bridge", volts: 1.25, want: 27.4896},
		{name: "one volt", volts: 1.0, want: 37.2945},
		{name: "half volt", volts: 0.5, want: 63.3171},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Thermistor(tt.volts)
			if err != nil {
				t.Fatalf("Thermistor(%v) error = %v", tt.volts, err)
			}
			if math.Abs(got-tt.want) > 1e-3 {
				t.Errorf("Thermistor(%v) = %v, want %v", tt.volts, got, tt.want)
			}
		})
	}
}

func TestThermistor_DomainErrors(t *testing.T) {
	for _, v := range []float64{0, -0.1, ExcitationVolts, 3.3, math.NaN()} {
		got, err := Thermistor(v)
		if err == nil {
			t.Errorf("Thermistor(%v) error = nil, want domain error", v)
		}
		if !math.IsNaN(got) {
			t.Errorf("Thermistor(%v) = %v, want NaN", v, got)
		}
	}
}

func TestIrradiance(t *testing.T) {
	got := Irradiance(0.01, Sensitivity["POA"], 3)
	if math.Abs(got-692.6552) > 1e-3 {
		t.Errorf("Irradiance = %v, want 692.6552", got)
	}
	if got := Irradiance(0, Sensitivity["GHI"], -1.5); got != -1.5 {
		t.Errorf("Irradiance at 0 V = %v, want offset -1.5", got)
	}
}

func TestBlockMean(t *testing.T) {
	if got := blockMean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("blockMean = %v, want 2.5", got)
	}
	if got := blockMean(nil); !math.IsNaN(got) {
		t.Errorf("blockMean(nil) = %v, want NaN", got)
	}
}
