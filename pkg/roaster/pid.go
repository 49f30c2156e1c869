// Dual-gain PID controller for the heater loop: far from the setpoint
// the aggressive gain set drives hard, within PIDThreshold the
// conservative set holds without overshoot.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package roaster

import "github.com/chewxy/math32"

// PID output range.
const (
	PIDOutputMin float32 = 0
	PIDOutputMax float32 = 255
)

// PIDThreshold is the |error| above which the scheduler selects the
// aggressive gain set. Overridable from the [tuning] config section at
// startup.
var PIDThreshold float32 = 10.0

// Gains is one Kp/Ki/Kd set.
type Gains struct {
	Kp, Ki, Kd float32
}

// The two scheduled gain sets. Overridable from the [tuning] config
// section at startup.
var (
	GainsAggressive   = Gains{Kp: 120, Ki: 30, Kd: 60}
	GainsConservative = Gains{Kp: 70, Ki: 15, Kd: 10}
)

// PID computes a 0..255 actuator command from a setpoint and a measured
// temperature. Deterministic given (setpoint, input, dt, integrator,
// last input), so it is unit-testable off-target.
type PID struct {
	gains      Gains
	aggressive bool

	setpoint float32
	output   float32
	integral float32

	lastInput  float32
	lastTimeMS uint64

	enabled bool
}

// NewPID creates a disabled controller with the conservative gain set.
func NewPID() *PID {
	return &PID{gains: GainsConservative}
}

// SetSetpoint changes the target temperature without disturbing the
// integrator.
func (p *PID) SetSetpoint(c float32) { p.setpoint = c }

// Setpoint returns the current target temperature.
func (p *PID) Setpoint() float32 { return p.setpoint }

// SetTunings replaces the active gain set. The scheduler installs
// GainsAggressive or GainsConservative at the next threshold crossing,
// which discards the override.
func (p *PID) SetTunings(kp, ki, kd float32) {
	p.gains = Gains{Kp: kp, Ki: ki, Kd: kd}
}

// Enable arms the controller. Timing restarts so the first Update after
// enabling only latches (input, now) without producing a step.
func (p *PID) Enable() {
	p.enabled = true
	p.lastTimeMS = 0
}

// Disable forces the output to 0 and stops integration.
func (p *PID) Disable() {
	p.enabled = false
	p.output = 0
}

// Enabled reports whether the controller is armed.
func (p *PID) Enabled() bool { return p.enabled }

// Aggressive reports whether the aggressive gain set is active.
func (p *PID) Aggressive() bool { return p.aggressive }

// Reset clears the integrator, last input, last time, and output.
func (p *PID) Reset() {
	p.integral = 0
	p.lastInput = 0
	p.lastTimeMS = 0
	p.output = 0
}

// Output returns the last computed command in [0, 255].
func (p *PID) Output() float32 { return p.output }

// schedule switches gain sets on the |error| threshold crossing. No
// hysteresis: the crossing switches immediately.
func (p *PID) schedule(absErr float32) {
	if absErr > PIDThreshold && !p.aggressive {
		p.gains = GainsAggressive
		p.aggressive = true
	} else if absErr <= PIDThreshold && p.aggressive {
		p.gains = GainsConservative
		p.aggressive = false
	}
}

// Update runs one control step against the measured temperature. The
// first call after Enable/Reset only seeds the timing state; a call
// with dt <= 0 is skipped.
func (p *PID) Update(current float32, nowMS uint64) {
	if !p.enabled {
		p.output = 0
		return
	}

	if p.lastTimeMS == 0 {
		p.lastTimeMS = nowMS
		p.lastInput = current
		return
	}

	dt := float32(nowMS-p.lastTimeMS) / 1000.0
	if dt <= 0 {
		return
	}

	err := p.setpoint - current
	p.schedule(math32.Abs(err))

	pTerm := p.gains.Kp * err

	// Anti-windup: clamp the integrator so Ki*integral alone can never
	// exceed the output range.
	p.integral += err * dt
	maxIntegral := PIDOutputMax / p.gains.Ki
	if p.integral > maxIntegral {
		p.integral = maxIntegral
	} else if p.integral < -maxIntegral {
		p.integral = -maxIntegral
	}
	iTerm := p.gains.Ki * p.integral

	// Derivative on measurement, not on error, to avoid derivative kick
	// when the setpoint steps.
	dTerm := -p.gains.Kd * (current - p.lastInput) / dt

	out := pTerm + iTerm + dTerm
	if out > PIDOutputMax {
		out = PIDOutputMax
	} else if out < PIDOutputMin {
		out = PIDOutputMin
	}
	p.output = out

	p.lastTimeMS = nowMS
	p.lastInput = current
}
