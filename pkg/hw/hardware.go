// Hardware abstraction for the roaster controller core.
//
// Hardware encapsulates all register/pin access behind side-effect-only
// operations so the control core (pkg/roaster) never touches a register
// directly. Two implementations exist: Real (SPI/ADC/GPIO-backed) and
// Fake (in-memory, for tests and the simulator).
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hw

// FaultMask is the last-read thermocouple fault bitmask. Bit 0 = open
// circuit, bit 1 = short to GND, bit 2 = short to VCC. Zero means clean.
type FaultMask uint8

const (
	FaultOpenCircuit  FaultMask = 1 << 0
	FaultShortToGND   FaultMask = 1 << 1
	FaultShortToVCC   FaultMask = 1 << 2
)

// Hardware is the full side-effecting surface the control core drives.
// Implementations must never block for more than a few milliseconds:
// no suspension points in the hot path.
type Hardware interface {
	FanEnable()
	FanDisable()
	FanSetSpeed(pct uint8)
	FanGetSpeed() uint8
	FanIsEnabled() bool

	HeaterEnable()
	HeaterDisable()
	HeaterSetPowerPct(pct uint8)
	HeaterSetPIDOutput(v float32)
	HeaterTick(nowMS uint64)
	HeaterIsEnabled() bool
	HeaterDisplayPct() uint8

	// ReadThermocouple performs one SPI acquisition and returns the raw
	// Celsius value, the fault mask, and an error only for a transport
	// failure distinct from a sensor fault (e.g. SPI bus unavailable).
	ReadThermocouple() (celsius float32, faults FaultMask, err error)

	// ReadThermistorRaw returns the raw 10-bit ADC sample (0..1023) from
	// the heater-body thermistor channel.
	ReadThermistorRaw() uint16

	// NowMS returns a monotonic millisecond timestamp.
	NowMS() uint64
}
