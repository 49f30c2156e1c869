// Roaster-specific metrics definitions
//
// Defines all metrics exported by the roaster controller daemon:
// - Thermal metrics (chamber/heater-body temperature, rate of rise)
// - Control-loop metrics (PID output, fan speed, heater duty)
// - Safety metrics (fault counts, phase transitions)
// - Transport metrics (command/telemetry throughput, disconnects)
// - System metrics
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// RoasterMetrics holds all roastctl-specific metrics.
type RoasterMetrics struct {
	// Thermal metrics
	ChamberTemp     *Gauge
	HeaterBodyTemp  *Gauge
	Setpoint        *Gauge
	RateOfRise      *Gauge
	TemperatureError *Gauge

	// Control-loop metrics
	PIDOutput    *Gauge
	PIDAggressive *Gauge
	FanSpeed     *Gauge
	HeaterDuty   *Gauge
	HeaterOnTime *Counter
	FanOnTime    *Counter

	// Safety metrics
	SafetyFaultsTotal    *Counter
	PhaseTransitionsTotal *Counter
	CurrentPhase         *Gauge
	ThermocoupleFaultBits *Gauge

	// Transport metrics
	CommandsReceivedTotal  *Counter
	CommandsDroppedTotal   *Counter
	TelemetryEmittedTotal  *Counter
	DisconnectEventsTotal  *Counter
	ParseErrorsTotal       *Counter

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal   *Counter
	WarningsTotal *Counter

	// Internal
	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewRoasterMetrics creates and registers all roastctl metrics.
func NewRoasterMetrics() *RoasterMetrics {
	rm := &RoasterMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	rm.ChamberTemp = NewGauge("roastctl_chamber_temp_celsius",
		"Filtered chamber temperature from the thermocouple")
	rm.HeaterBodyTemp = NewGauge("roastctl_heater_body_temp_celsius",
		"Heater-body temperature from the thermistor")
	rm.Setpoint = NewGauge("roastctl_setpoint_celsius",
		"Active PID setpoint")
	rm.RateOfRise = NewGauge("roastctl_rate_of_rise_celsius_per_min",
		"Windowed rate-of-rise estimate")
	rm.TemperatureError = NewGauge("roastctl_temperature_error_celsius",
		"Difference between setpoint and chamber temperature")

	rm.PIDOutput = NewGauge("roastctl_pid_output",
		"Current PID output, 0-255")
	rm.PIDAggressive = NewGauge("roastctl_pid_aggressive",
		"1 if the PID is using the aggressive gain set, 0 for conservative")
	rm.FanSpeed = NewGauge("roastctl_fan_speed_percent",
		"Commanded fan duty, 0-100")
	rm.HeaterDuty = NewGauge("roastctl_heater_duty_percent",
		"Commanded heater duty within the time-proportioning window, 0-100")
	rm.HeaterOnTime = NewCounter("roastctl_heater_on_time_seconds_total",
		"Total time the SSR has been driven HIGH")
	rm.FanOnTime = NewCounter("roastctl_fan_on_time_seconds_total",
		"Total time the fan has been enabled")

	rm.SafetyFaultsTotal = NewCounter("roastctl_safety_faults_total",
		"Total safety faults latched, by code")
	rm.PhaseTransitionsTotal = NewCounter("roastctl_phase_transitions_total",
		"Total state-machine phase transitions, by destination phase")
	rm.CurrentPhase = NewGauge("roastctl_phase",
		"Current controller phase ID (0=OFF..6=ERROR)")
	rm.ThermocoupleFaultBits = NewGauge("roastctl_thermocouple_fault_bits",
		"Last-read thermocouple fault mask")

	rm.CommandsReceivedTotal = NewCounter("roastctl_commands_received_total",
		"Total inbound commands accepted, by type")
	rm.CommandsDroppedTotal = NewCounter("roastctl_commands_dropped_total",
		"Total inbound commands dropped (unknown type or invalid in current phase)")
	rm.TelemetryEmittedTotal = NewCounter("roastctl_telemetry_emitted_total",
		"Total outbound telemetry messages emitted, by type")
	rm.DisconnectEventsTotal = NewCounter("roastctl_disconnect_events_total",
		"Total host-disconnect timeouts detected")
	rm.ParseErrorsTotal = NewCounter("roastctl_parse_errors_total",
		"Total malformed inbound lines dropped")

	rm.HostUptime = NewCounter("roastctl_host_uptime_seconds_total",
		"Total daemon uptime in seconds")
	rm.GoGoroutines = NewGauge("roastctl_go_goroutines",
		"Number of active goroutines")
	rm.GoMemoryHeap = NewGauge("roastctl_go_memory_heap_bytes",
		"Go heap memory in use")
	rm.GoMemoryAlloc = NewGauge("roastctl_go_memory_alloc_bytes",
		"Go total memory allocated")
	rm.GoGCCycles = NewCounter("roastctl_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	rm.ErrorsTotal = NewCounter("roastctl_errors_total",
		"Total internal errors by type")
	rm.WarningsTotal = NewCounter("roastctl_warnings_total",
		"Total warnings by type")

	rm.registerAll()

	return rm
}

// registerAll registers all metrics with the internal registry.
func (rm *RoasterMetrics) registerAll() {
	metrics := []Metric{
		rm.ChamberTemp, rm.HeaterBodyTemp, rm.Setpoint, rm.RateOfRise, rm.TemperatureError,
		rm.PIDOutput, rm.PIDAggressive, rm.FanSpeed, rm.HeaterDuty, rm.HeaterOnTime, rm.FanOnTime,
		rm.SafetyFaultsTotal, rm.PhaseTransitionsTotal, rm.CurrentPhase, rm.ThermocoupleFaultBits,
		rm.CommandsReceivedTotal, rm.CommandsDroppedTotal, rm.TelemetryEmittedTotal,
		rm.DisconnectEventsTotal, rm.ParseErrorsTotal,
		rm.HostUptime, rm.GoGoroutines, rm.GoMemoryHeap, rm.GoMemoryAlloc, rm.GoGCCycles,
		rm.ErrorsTotal, rm.WarningsTotal,
	}
	for _, m := range metrics {
		rm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics.
func (rm *RoasterMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	rm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	rm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	rm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	rm.GoGCCycles.Add(nil, uint64(m.NumGC)-rm.GoGCCycles.Get(nil))
	rm.HostUptime.Add(nil, uint64(time.Since(rm.startTime).Seconds())-rm.HostUptime.Get(nil))
}

// SetThermal updates the thermal gauges for one tick.
func (rm *RoasterMetrics) SetThermal(chamberTemp, heaterBodyTemp, setpoint, ror float64) {
	rm.ChamberTemp.Set(nil, chamberTemp)
	rm.HeaterBodyTemp.Set(nil, heaterBodyTemp)
	rm.Setpoint.Set(nil, setpoint)
	rm.RateOfRise.Set(nil, ror)
	rm.TemperatureError.Set(nil, setpoint-chamberTemp)
}

// SetControl updates the control-loop gauges for one tick.
func (rm *RoasterMetrics) SetControl(pidOutput float64, aggressive bool, fanPct, heaterPct uint8) {
	rm.PIDOutput.Set(nil, pidOutput)
	if aggressive {
		rm.PIDAggressive.Set(nil, 1)
	} else {
		rm.PIDAggressive.Set(nil, 0)
	}
	rm.FanSpeed.Set(nil, float64(fanPct))
	rm.HeaterDuty.Set(nil, float64(heaterPct))
}

// SetPhase updates the current-phase gauge and increments the transition counter.
func (rm *RoasterMetrics) SetPhase(phaseID int, phaseName string) {
	rm.CurrentPhase.Set(nil, float64(phaseID))
	rm.PhaseTransitionsTotal.Inc(Labels{"phase": phaseName})
}

// RecordFault records a newly latched safety fault.
func (rm *RoasterMetrics) RecordFault(code string) {
	rm.SafetyFaultsTotal.Inc(Labels{"code": code})
	rm.ErrorsTotal.Inc(Labels{"type": code})
}

// RecordCommand records an inbound command of the given type.
func (rm *RoasterMetrics) RecordCommand(cmdType string, dropped bool) {
	if dropped {
		rm.CommandsDroppedTotal.Inc(Labels{"type": cmdType})
		return
	}
	rm.CommandsReceivedTotal.Inc(Labels{"type": cmdType})
}

// RecordTelemetry records an outbound telemetry message of the given type.
func (rm *RoasterMetrics) RecordTelemetry(msgType string) {
	rm.TelemetryEmittedTotal.Inc(Labels{"type": msgType})
}

// RecordDisconnect records a host-disconnect timeout.
func (rm *RoasterMetrics) RecordDisconnect() {
	rm.DisconnectEventsTotal.Inc(nil)
}

// RecordParseError records a malformed inbound line.
func (rm *RoasterMetrics) RecordParseError() {
	rm.ParseErrorsTotal.Inc(nil)
}

// RecordWarning records a warning.
func (rm *RoasterMetrics) RecordWarning(warningType string) {
	rm.WarningsTotal.Inc(Labels{"type": warningType})
}

// Gather returns all metrics in Prometheus text format.
func (rm *RoasterMetrics) Gather() string {
	rm.UpdateSystemMetrics()
	return rm.registry.Gather()
}

// Registry returns the internal registry.
func (rm *RoasterMetrics) Registry() *Registry {
	return rm.registry
}

// Global metrics instance
var globalMetrics *RoasterMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global roastctl metrics instance.
func GlobalMetrics() *RoasterMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewRoasterMetrics()
	})
	return globalMetrics
}
