// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package roaster

import "roastctl/pkg/safety"

// Snapshot is a value copy of everything the telemetry layers read: the
// transport's roasterState payload, the WebSocket mirror, and the
// metrics exporter all serialize from this, never from live state, so
// serialization is a total function of the snapshot.
type Snapshot struct {
	Phase   Phase
	PhaseID int

	ChamberTemp  float32
	ChamberValid bool
	HeaterTemp   float32

	Setpoint    float32
	FanSpeed    uint8
	FanEnabled  bool
	HeaterPower uint8

	HeaterEnabled bool
	PIDEnabled    bool
	PIDOutput     float32
	PIDAggressive bool

	RoastTimeMS      uint64
	FirstCrackMarked bool
	FirstCrackTimeMS uint64
	RateOfRise       float32

	Fault *safety.Fault
}

// Snapshot captures the controller's externally visible state at the
// current instant. The returned value shares no mutable storage with
// the controller; the Fault pointer, if set, is a copy.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		Phase:   c.phase,
		PhaseID: c.phase.ID(),

		ChamberTemp:  c.chamberC,
		ChamberValid: c.chamberTempUsable(),
		HeaterTemp:   c.heaterBodyC,

		Setpoint:    c.activeSetpoint(),
		FanSpeed:    c.hw.FanGetSpeed(),
		FanEnabled:  c.hw.FanIsEnabled(),
		HeaterPower: c.hw.HeaterDisplayPct(),

		HeaterEnabled: c.hw.HeaterIsEnabled(),
		PIDEnabled:    c.pid.Enabled(),
		PIDOutput:     c.pid.Output(),
		PIDAggressive: c.pid.Aggressive(),

		RoastTimeMS:      c.roastTimeMS(),
		FirstCrackMarked: c.firstCrackMarked,
		FirstCrackTimeMS: c.firstCrackOffsetMS,
		RateOfRise:       c.ror.Value(),
	}
	if f := c.monitor.Fault(); f != nil {
		cp := *f
		s.Fault = &cp
	}
	return s
}

// activeSetpoint is the setpoint the host should display: the preheat
// target during PREHEAT, the roast setpoint otherwise.
func (c *Controller) activeSetpoint() float32 {
	if c.phase == PhasePreheat {
		return c.preheatTargetC
	}
	return c.setpointC
}

// roastTimeMS is the elapsed session time. The epoch latches on entering
// PREHEAT and clears on entering OFF.
func (c *Controller) roastTimeMS() uint64 {
	if c.roastEpochMS == 0 {
		return 0
	}
	return c.hw.NowMS() - c.roastEpochMS
}

// chamberTempUsable reports whether the chamber reading is trustworthy:
// the host sees null while the thermocouple is faulted beyond recovery
// or before the filter has ever seeded.
func (c *Controller) chamberTempUsable() bool {
	if !c.filter.Initialized() {
		return false
	}
	if f := c.monitor.Fault(); f != nil && f.Code == safety.FaultThermocouple {
		return false
	}
	return true
}
