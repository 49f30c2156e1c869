// Controller is the single owned core: the state machine, the PID, the
// filter/RoR pipeline, and the safety monitor, aggregated into one
// value the tick loop holds. No hidden singletons; all mutation routes
// through this type.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package roaster

import (
	"fmt"

	"github.com/chewxy/math32"

	"roastctl/pkg/filter"
	"roastctl/pkg/hw"
	"roastctl/pkg/log"
	"roastctl/pkg/safety"
)

// Control-law constants. The timeouts are milliseconds.
const (
	CoolingTargetTempC   float32 = 50
	DefaultPreheatTempC  float32 = 180
	DefaultRoastSetpoint float32 = 200
	SetpointMinC         float32 = 100
	SetpointMaxC         float32 = 260
	PreheatTimeoutMS     uint64  = 900000
)

// Per-phase fan duty defaults, in percent. Variables rather than
// constants so the daemon's [tuning] config section can override them
// at startup, before the loop runs.
var (
	FanPreheatDuty  uint8 = 50
	FanRoastDefault uint8 = 90
	FanRoastMinDuty uint8 = 30
	FanCoolingDuty  uint8 = 100
)

// Callbacks lets the transport and metrics layers observe the core
// without the core knowing about them. All callbacks run synchronously
// inside the tick, on the loop's own goroutine.
type Callbacks struct {
	// Fault fires the instant a new safety fault latches, so the
	// transport can emit an `error` message immediately rather than on
	// the next telemetry tick.
	Fault func(safety.Fault)

	// RoastEvent fires on roast milestones (FIRST_CRACK).
	RoastEvent func(event string, roastTimeMS uint64)

	// Log fires for host-facing wire log messages (dropped commands,
	// safety warnings). Distinct from the daemon's own logger.
	Log func(level, source, message string)

	// PhaseChange fires after every completed phase transition.
	PhaseChange func(from, to Phase)
}

// Controller owns all mutable control state. It is not safe for
// concurrent use: the single tick loop is the only mutator, and
// telemetry readers consume value-copied Snapshots.
type Controller struct {
	hw      hw.Hardware
	pid     *PID
	filter  *filter.EMA
	ror     *filter.RateOfRise
	monitor *safety.Monitor
	logger  *log.Logger
	cb      Callbacks

	phase Phase

	setpointC      float32
	preheatTargetC float32

	roastEpochMS   uint64
	preheatEpochMS uint64

	firstCrackMarked   bool
	firstCrackOffsetMS uint64

	manualFanPct    uint8
	manualHeaterPct uint8
	fanOnlyPct      uint8

	// Per-tick sensor shadows, refreshed at the top of every Tick.
	chamberC     float32
	chamberValid bool
	heaterBodyC  float32
	thermoFaults hw.FaultMask

	lastWarnMS uint64
}

// New creates a Controller in OFF with spec defaults, wired to the given
// hardware port.
func New(h hw.Hardware, cb Callbacks) *Controller {
	c := &Controller{
		hw:             h,
		pid:            NewPID(),
		filter:         filter.NewEMA(filter.DefaultAlpha),
		ror:            filter.NewRateOfRise(filter.DefaultWindowMS),
		monitor:        safety.New(),
		logger:         log.New("roaster"),
		cb:             cb,
		phase:          PhaseOff,
		setpointC:      DefaultRoastSetpoint,
		preheatTargetC: DefaultPreheatTempC,
		manualFanPct:   50,
		fanOnlyPct:     50,
	}
	c.monitor.OnLatch(c.onFaultLatched)

	// Actuators are safe-off at boot.
	h.FanDisable()
	h.HeaterDisable()
	return c
}

// Phase returns the current operating phase.
func (c *Controller) Phase() Phase { return c.phase }

// Monitor exposes the safety monitor for test inspection.
func (c *Controller) Monitor() *safety.Monitor { return c.monitor }

// PID exposes the PID controller for test inspection.
func (c *Controller) PID() *PID { return c.pid }

// onFaultLatched is the safety monitor's latch hook: it forces the ERROR
// transition and notifies the transport. Runs synchronously inside the
// tick that detected the violation.
func (c *Controller) onFaultLatched(f safety.Fault) {
	c.logger.Error("safety fault latched: %s: %s", f.Code, f.Message)
	if c.phase != PhaseError {
		c.enterPhase(PhaseError)
	}
	if c.cb.Fault != nil {
		c.cb.Fault(f)
	}
}

// Tick runs one iteration of the core's per-tick work in fixed order:
// sensor acquisition, safety, state update, actuator window advance.
// Transport intake happens before Tick in the loop.
func (c *Controller) Tick() {
	now := c.hw.NowMS()

	c.acquire(now)

	_, warnings := c.monitor.Check(
		c.chamberC, c.chamberValid,
		c.hw.HeaterIsEnabled(), c.hw.FanIsEnabled(), c.hw.FanGetSpeed(),
		c.thermoFaults)
	// A persistent condition re-warns every tick at ~1kHz; throttle to
	// one emission per second so the host link is not flooded.
	if len(warnings) > 0 && now-c.lastWarnMS >= 1000 {
		c.lastWarnMS = now
		for _, w := range warnings {
			c.logger.Warn("%s", w)
			c.wireLog("warn", "safety", w)
		}
	}

	c.stateUpdate(now)

	c.hw.HeaterTick(now)
}

// acquire refreshes the per-tick sensor shadows through the filter
// pipeline.
func (c *Controller) acquire(now uint64) {
	raw, faults, err := c.hw.ReadThermocouple()
	c.thermoFaults = faults
	valid := err == nil && faults == 0 && !math32.IsNaN(raw)
	c.chamberC = c.filter.Update(raw, valid)
	c.chamberValid = c.filter.Initialized()
	if c.chamberValid {
		c.ror.Update(c.chamberC, now)
	}
	c.heaterBodyC = hw.ThermistorCelsius(c.hw.ReadThermistorRaw())
}

// stateUpdate runs the current phase's control body.
func (c *Controller) stateUpdate(now uint64) {
	switch c.phase {
	case PhasePreheat:
		c.pid.Update(c.chamberC, now)
		c.hw.HeaterSetPIDOutput(c.pid.Output())
		if now-c.preheatEpochMS > PreheatTimeoutMS {
			c.monitor.LatchPreheatTimeout()
		}
	case PhaseRoasting:
		c.pid.Update(c.chamberC, now)
		c.hw.HeaterSetPIDOutput(c.pid.Output())
	case PhaseCooling:
		if c.chamberValid && c.chamberC < CoolingTargetTempC {
			c.HandleEvent(EventCoolComplete, 0, false)
		}
	case PhaseOff, PhaseFanOnly, PhaseManual, PhaseError:
		// No control law. MANUAL's heater window still advances via the
		// unconditional HeaterTick in Tick.
	}
}

// HandleEvent feeds one event into the state machine. Parameter events
// (SET_*, FIRST_CRACK) never change phase; all others consult the
// transition table and are silently ignored when undefined for the
// current phase.
func (c *Controller) HandleEvent(ev Event, value float32, hasValue bool) {
	switch ev {
	case EventSetSetpoint:
		c.handleSetSetpoint(value, hasValue)
		return
	case EventSetFanSpeed:
		c.handleSetFanSpeed(value, hasValue)
		return
	case EventSetHeaterPower:
		c.handleSetHeaterPower(value, hasValue)
		return
	case EventFirstCrack:
		c.handleFirstCrack()
		return
	case EventFault:
		// Faults enter only through the safety monitor's latch hook.
		return
	}

	dest, ok := nextPhase(c.phase, ev)
	if !ok {
		c.logger.Debug("event %s ignored in phase %s", ev, c.phase)
		return
	}

	switch ev {
	case EventStartPreheat:
		if hasValue {
			if !validSetpoint(value) {
				c.dropCommand(ev, value)
				return
			}
			c.preheatTargetC = value
		}
	case EventLoadBeans:
		if hasValue {
			if !validSetpoint(value) {
				c.dropCommand(ev, value)
				return
			}
			c.setpointC = value
		}
	case EventStartFanOnly:
		if hasValue {
			c.fanOnlyPct = clampPct(value)
		}
	case EventClearFault:
		c.monitor.Clear()
	}

	c.enterPhase(dest)
}

// HandleCommand is HandleEvent in Command form, for the transport's
// dispatch loop.
func (c *Controller) HandleCommand(cmd Command) {
	c.HandleEvent(cmd.Event, cmd.Value, cmd.HasValue)
}

func (c *Controller) handleSetSetpoint(value float32, hasValue bool) {
	if !hasValue || !validSetpoint(value) {
		c.dropCommand(EventSetSetpoint, value)
		return
	}
	switch c.phase {
	case PhaseOff:
		c.setpointC = value
	case PhasePreheat:
		c.preheatTargetC = value
		c.pid.SetSetpoint(value)
	case PhaseRoasting:
		c.setpointC = value
		c.pid.SetSetpoint(value)
	default:
		c.dropCommand(EventSetSetpoint, value)
		return
	}
	c.logger.Info("setpoint changed to %.1f", value)
}

func (c *Controller) handleSetFanSpeed(value float32, hasValue bool) {
	if !hasValue {
		c.dropCommand(EventSetFanSpeed, value)
		return
	}
	pct := clampPct(value)
	switch c.phase {
	case PhaseFanOnly:
		c.fanOnlyPct = pct
		c.hw.FanSetSpeed(pct)
	case PhasePreheat, PhaseRoasting:
		if pct < FanRoastMinDuty {
			pct = FanRoastMinDuty
		}
		c.hw.FanSetSpeed(pct)
	case PhaseManual:
		// Accepted verbatim; the interlock still fires at the next
		// safety check if the heater is on.
		c.manualFanPct = pct
		c.hw.FanSetSpeed(pct)
	default:
		c.dropCommand(EventSetFanSpeed, value)
		return
	}
	c.logger.Info("fan speed changed to %d%%", pct)
}

func (c *Controller) handleSetHeaterPower(value float32, hasValue bool) {
	if !hasValue || c.phase != PhaseManual {
		c.dropCommand(EventSetHeaterPower, value)
		return
	}
	pct := clampPct(value)
	c.manualHeaterPct = pct
	c.hw.HeaterSetPowerPct(pct)
	c.logger.Info("heater power changed to %d%%", pct)
}

func (c *Controller) handleFirstCrack() {
	if c.phase != PhaseRoasting || c.firstCrackMarked {
		return
	}
	now := c.hw.NowMS()
	c.firstCrackMarked = true
	c.firstCrackOffsetMS = now - c.roastEpochMS
	if c.firstCrackOffsetMS == 0 {
		c.firstCrackOffsetMS = 1 // marked implies a positive offset
	}
	c.logger.Info("first crack marked at %ds", c.firstCrackOffsetMS/1000)
	if c.cb.RoastEvent != nil {
		c.cb.RoastEvent("FIRST_CRACK", c.firstCrackOffsetMS)
	}
}

func (c *Controller) dropCommand(ev Event, value float32) {
	msg := fmt.Sprintf("command %s value %.1f not accepted in phase %s", ev, value, c.phase)
	c.logger.Warn("%s", msg)
	c.wireLog("warn", "state", msg)
}

func (c *Controller) wireLog(level, source, message string) {
	if c.cb.Log != nil {
		c.cb.Log(level, source, message)
	}
}

// enterPhase runs the destination phase's entry actions. Exit actions
// are folded into the entries: every entry re-establishes the full
// actuator and timer state it needs. The one exit action is leaving
// MANUAL, which clears the remembered manual heater percentage.
func (c *Controller) enterPhase(dest Phase) {
	if dest == c.phase {
		return
	}
	from := c.phase
	if from == PhaseManual {
		c.manualHeaterPct = 0
	}
	c.phase = dest
	c.logger.Info("phase %s -> %s", from, dest)

	now := c.hw.NowMS()
	switch dest {
	case PhaseOff:
		c.hw.FanDisable()
		c.hw.HeaterDisable()
		c.pid.Disable()
		c.roastEpochMS = 0
		c.firstCrackMarked = false
		c.firstCrackOffsetMS = 0
		c.ror.Reset()

	case PhaseFanOnly:
		c.hw.HeaterDisable()
		c.pid.Disable()
		c.hw.FanSetSpeed(c.fanOnlyPct)
		c.hw.FanEnable()

	case PhasePreheat:
		// The session timer spans PREHEAT through COOLING.
		c.preheatEpochMS = now
		c.roastEpochMS = now
		c.hw.FanSetSpeed(FanPreheatDuty)
		c.hw.FanEnable()
		c.pid.SetSetpoint(c.preheatTargetC)
		c.pid.Reset()
		c.pid.Enable()
		c.hw.HeaterEnable()

	case PhaseRoasting:
		// roastEpochMS deliberately carries over from PREHEAT.
		c.firstCrackMarked = false
		c.firstCrackOffsetMS = 0
		c.pid.SetSetpoint(c.setpointC)
		c.pid.Reset()
		c.pid.Enable()
		c.hw.FanSetSpeed(FanRoastDefault)
		c.hw.FanEnable()
		c.ror.Reset()

	case PhaseCooling:
		c.hw.HeaterDisable()
		c.pid.Disable()
		c.hw.FanSetSpeed(FanCoolingDuty)
		c.hw.FanEnable()

	case PhaseManual:
		c.manualFanPct = 50
		c.hw.FanSetSpeed(c.manualFanPct)
		c.hw.FanEnable()
		c.hw.HeaterSetPowerPct(0)
		c.hw.HeaterEnable()
		c.pid.Disable()

	case PhaseError:
		c.hw.FanDisable()
		c.hw.HeaterDisable()
		c.pid.Disable()
	}

	if c.cb.PhaseChange != nil {
		c.cb.PhaseChange(from, dest)
	}
}

func validSetpoint(v float32) bool {
	return v >= SetpointMinC && v <= SetpointMaxC
}

func clampPct(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return uint8(v)
}
