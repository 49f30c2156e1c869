// Package safety enforces the roaster controller's hard invariants and
// debounces sensor faults before they are acted on. A violation latches
// a Fault that only an explicit host acknowledgment clears; the
// actuators are forced off the instant the latch fires.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package safety

import (
	"fmt"

	"roastctl/pkg/hw"
)

// Safety thresholds and debounce counts.
const (
	MaxChamberTempC   float32 = 260
	WarnChamberTempC  float32 = 250
	MinFanWhenHeating uint8   = 40
	ThermoFaultCount  int     = 10 // N: consecutive same-fault reads to latch
	ThermoCleanCount  int     = 3  // M: consecutive clean reads to clear the debouncer
)

// FaultCode identifies a class of safety violation. The codes are part
// of the wire contract with host GUIs.
type FaultCode string

const (
	FaultOverTempChamber FaultCode = "OVER_TEMP_CHAMBER"
	FaultFanInterlock    FaultCode = "FAN_INTERLOCK"
	FaultThermocouple    FaultCode = "THERMOCOUPLE_FAULT"
	FaultPreheatTimeout  FaultCode = "PREHEAT_TIMEOUT"
)

// Fault is a latched safety violation, carried verbatim into the
// outbound `error` and `roasterState.error` telemetry payloads.
type Fault struct {
	Code    FaultCode
	Message string
	Fatal   bool
}

// criticalMask is the thermocouple fault bits that count toward the
// debouncer: open-circuit and short-to-VCC are critical; short-to-GND
// is a warning (noisy environment) and never latches by itself.
const criticalMask = hw.FaultOpenCircuit | hw.FaultShortToVCC

// thermoDebouncer tracks consecutive same-fault and consecutive-clean
// thermocouple reads.
type thermoDebouncer struct {
	bits        hw.FaultMask
	consecutive int
	cleanStreak int
}

func (d *thermoDebouncer) feed(faults hw.FaultMask) (latchReady bool, warn string) {
	critical := faults & criticalMask

	if critical != 0 {
		d.cleanStreak = 0
		if critical == d.bits {
			d.consecutive++
		} else {
			d.bits = critical
			d.consecutive = 1
		}
		if d.consecutive >= ThermoFaultCount {
			return true, ""
		}
		return false, ""
	}

	if faults&hw.FaultShortToGND != 0 {
		warn = "thermocouple short-to-GND (noisy environment)"
	}

	d.cleanStreak++
	if d.cleanStreak >= ThermoCleanCount {
		d.bits = 0
		d.consecutive = 0
	}
	return false, warn
}

func (d *thermoDebouncer) reset() {
	*d = thermoDebouncer{}
}

// Monitor evaluates the fast safety invariants every tick and latches a
// Fault the first time one is violated. Once latched, further checks
// short-circuit until Clear is called. Single-threaded: the
// controller's tick loop is the only caller, so no locking is needed.
type Monitor struct {
	fault   *Fault
	thermo  thermoDebouncer
	onLatch []func(Fault)
}

// New creates an unlatched Monitor.
func New() *Monitor {
	return &Monitor{}
}

// Fault returns the currently latched fault, or nil if clear.
func (m *Monitor) Fault() *Fault { return m.fault }

// IsLatched reports whether a fault is currently latched.
func (m *Monitor) IsLatched() bool { return m.fault != nil }

// OnLatch registers a callback invoked synchronously the instant a new
// fault latches, so the transport can emit an immediate `error` message
// rather than waiting for the next 1 Hz telemetry tick.
func (m *Monitor) OnLatch(fn func(Fault)) {
	m.onLatch = append(m.onLatch, fn)
}

// Clear unlatches the fault and resets the thermocouple debouncer. Only
// valid in response to a CLEAR_FAULT event received in ERROR.
func (m *Monitor) Clear() {
	m.fault = nil
	m.thermo.reset()
}

// Check evaluates the per-tick invariant checks in fast-first order
// (over-temperature, fan interlock, debounced thermocouple fault) and
// returns the newly latched fault, if any, plus any non-latching
// warnings to log. If a fault is already latched, Check short-circuits
// and returns it again without re-evaluating.
func (m *Monitor) Check(chamberTempC float32, chamberValid bool, heaterEnabled, fanEnabled bool, fanSpeedPct uint8, thermoFaults hw.FaultMask) (*Fault, []string) {
	if m.fault != nil {
		return m.fault, nil
	}

	var warnings []string

	if chamberValid {
		if chamberTempC >= MaxChamberTempC {
			return m.latch(FaultOverTempChamber, fmt.Sprintf(
				"chamber temperature %.1fC at or above max %.1fC", chamberTempC, MaxChamberTempC), true), warnings
		}
		if chamberTempC >= WarnChamberTempC {
			warnings = append(warnings, fmt.Sprintf(
				"chamber temperature %.1fC approaching max %.1fC", chamberTempC, MaxChamberTempC))
		}
	}

	if heaterEnabled && (!fanEnabled || fanSpeedPct < MinFanWhenHeating) {
		return m.latch(FaultFanInterlock, fmt.Sprintf(
			"heater enabled with fan enabled=%v speed=%d%% (min %d%%)", fanEnabled, fanSpeedPct, MinFanWhenHeating), true), warnings
	}

	latchReady, warn := m.thermo.feed(thermoFaults)
	if warn != "" {
		warnings = append(warnings, warn)
	}
	if latchReady {
		if heaterEnabled {
			return m.latch(FaultThermocouple, fmt.Sprintf(
				"thermocouple fault bits 0x%02x persisted for %d reads", thermoFaults, ThermoFaultCount), true), warnings
		}
		warnings = append(warnings, fmt.Sprintf(
			"thermocouple fault bits 0x%02x persisted but heater is off", thermoFaults))
	}

	return nil, warnings
}

// LatchPreheatTimeout latches PREHEAT_TIMEOUT. Called by the state
// machine, which owns the preheat-elapsed clock.
func (m *Monitor) LatchPreheatTimeout() *Fault {
	if m.fault != nil {
		return m.fault
	}
	return m.latch(FaultPreheatTimeout, "preheat exceeded 15 minute timeout", true)
}

func (m *Monitor) latch(code FaultCode, msg string, fatal bool) *Fault {
	f := &Fault{Code: code, Message: msg, Fatal: fatal}
	m.fault = f
	for _, fn := range m.onLatch {
		fn(*f)
	}
	return f
}
