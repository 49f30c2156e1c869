// Beta-equation thermistor conversion for the heater-body sensor. The
// divider geometry is fixed: series 100kOhm, 5V reference, NTC with
// beta=3950 and R0=100kOhm at T0=298.15K.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hw

import "math"

const (
	thermistorSeriesOhms = 100000.0
	thermistorBeta       = 3950.0
	thermistorR0Ohms     = 100000.0
	thermistorT0Kelvin   = 298.15
	kelvinToCelsius      = -273.15
	adcMaxCount          = 1023.0
	thermistorExtremeHi  = 999.0
)

// ThermistorCelsius converts a 10-bit ADC sample (0..1023) from a
// series-100kOhm/NTC-100kOhm-beta-3950 voltage divider into Celsius.
// The thermistor sits on the high side and the ADC samples across the
// fixed series resistor, so R = series*(1023/adc - 1): a hotter sensor
// pulls the reading up. ReadThermistorRaw supplies the sample; this
// conversion is kept as a pure function so it is independently
// unit-testable off-target.
func ThermistorCelsius(raw uint16) float32 {
	ratio := float64(raw) / adcMaxCount
	if ratio <= 0 || ratio >= 1 {
		return thermistorExtremeHi
	}

	r := thermistorSeriesOhms * (1.0 - ratio) / ratio
	if r <= 0 {
		return thermistorExtremeHi
	}

	invT := 1.0/thermistorT0Kelvin + (1.0/thermistorBeta)*math.Log(r/thermistorR0Ohms)
	if invT <= 0 {
		return thermistorExtremeHi
	}

	return float32(1.0/invT + kelvinToCelsius)
}
