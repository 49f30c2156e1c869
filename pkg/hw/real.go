//go:build linux

// Real hardware backend: SSR and fan driven through Linux GPIO
// character device lines (github.com/warthog618/go-gpiocdev). The
// thermocouple and thermistor acquisitions are injected as small seams
// (SPIBus, ADCChannel) that board bring-up supplies, keeping this
// package free of board-specific SPI/ADC plumbing.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hw

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// SPIBus performs one full-duplex MAX31855 frame acquisition (4 bytes).
type SPIBus interface {
	ReadFrame() ([]byte, error)
}

// ADCChannel returns one raw 10-bit sample (0..1023) from the heater-body
// thermistor divider.
type ADCChannel interface {
	ReadRaw() (uint16, error)
}

// Real is the GPIO/SPI/ADC-backed Hardware implementation.
type Real struct {
	chip    *gpiocdev.Chip
	ssrLine *gpiocdev.Line
	fanLine *gpiocdev.Line

	spi SPIBus
	adc ADCChannel

	fanEnabled  bool
	fanSpeedPct uint8
	fanWindowMS uint64
	fanPeriodMS uint64

	heaterEnabled bool
	pidOutput     float32
	displayPct    uint8
	windowStartMS uint64
	windowSizeMS  uint64

	lastFaults FaultMask

	epoch time.Time
}

// RealConfig names the GPIO lines and the SPI/ADC seams to wire.
type RealConfig struct {
	ChipName    string // e.g. "gpiochip0"
	SSRLine     int
	FanLine     int
	FanPeriodMS uint64 // software PWM period for the fan line, default 1000
	WindowMS    uint64 // heater time-proportioning window, default 2000
	SPI         SPIBus
	ADC         ADCChannel
}

var _ Hardware = (*Real)(nil)

// NewReal opens the GPIO chip and requests the SSR and fan lines as
// outputs, initially LOW (both actuators safe-off at construction).
func NewReal(cfg RealConfig) (*Real, error) {
	chip, err := gpiocdev.NewChip(cfg.ChipName)
	if err != nil {
		return nil, fmt.Errorf("hw: open gpio chip %q: %w", cfg.ChipName, err)
	}

	ssr, err := chip.RequestLine(cfg.SSRLine, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("hw: request SSR line %d: %w", cfg.SSRLine, err)
	}

	fan, err := chip.RequestLine(cfg.FanLine, gpiocdev.AsOutput(0))
	if err != nil {
		ssr.Close()
		chip.Close()
		return nil, fmt.Errorf("hw: request fan line %d: %w", cfg.FanLine, err)
	}

	windowMS := cfg.WindowMS
	if windowMS == 0 {
		windowMS = 2000
	}
	fanPeriodMS := cfg.FanPeriodMS
	if fanPeriodMS == 0 {
		fanPeriodMS = 1000
	}

	return &Real{
		chip:         chip,
		ssrLine:      ssr,
		fanLine:      fan,
		spi:          cfg.SPI,
		adc:          cfg.ADC,
		fanPeriodMS:  fanPeriodMS,
		windowSizeMS: windowMS,
		epoch:        time.Now(),
	}, nil
}

// Close releases the GPIO chip and lines, driving both actuators LOW first.
func (r *Real) Close() error {
	r.FanDisable()
	r.HeaterDisable()
	var errs []error
	if err := r.ssrLine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.fanLine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.chip.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("hw: close errors: %v", errs)
	}
	return nil
}

func (r *Real) FanEnable()  { r.fanEnabled = true }
func (r *Real) FanDisable() {
	r.fanEnabled = false
	r.fanLine.SetValue(0)
}

func (r *Real) FanSetSpeed(pct uint8) {
	if pct > 100 {
		pct = 100
	}
	r.fanSpeedPct = pct
}

func (r *Real) FanGetSpeed() uint8 { return r.fanSpeedPct }
func (r *Real) FanIsEnabled() bool { return r.fanEnabled }

// fanTick advances the fan's software-PWM window. Called from HeaterTick
// so the fan and heater windows share the same cooperative tick source.
func (r *Real) fanTick(nowMS uint64) {
	if !r.fanEnabled {
		r.fanLine.SetValue(0)
		return
	}
	if nowMS-r.fanWindowMS >= r.fanPeriodMS {
		r.fanWindowMS = nowMS
	}
	elapsed := nowMS - r.fanWindowMS
	onTime := uint64(float64(r.fanSpeedPct) / 100.0 * float64(r.fanPeriodMS))
	if elapsed < onTime {
		r.ssrLineSafeFanSet(1)
	} else {
		r.ssrLineSafeFanSet(0)
	}
}

func (r *Real) ssrLineSafeFanSet(v int) {
	r.fanLine.SetValue(v)
}

func (r *Real) HeaterEnable() { r.heaterEnabled = true }

func (r *Real) HeaterDisable() {
	r.heaterEnabled = false
	r.pidOutput = 0
	r.displayPct = 0
	r.ssrLine.SetValue(0)
}

func (r *Real) HeaterIsEnabled() bool { return r.heaterEnabled }
func (r *Real) HeaterDisplayPct() uint8 { return r.displayPct }

func (r *Real) HeaterSetPowerPct(pct uint8) {
	if pct > 100 {
		pct = 100
	}
	r.displayPct = pct
	r.pidOutput = float32(pct) / 100.0 * 255.0
}

func (r *Real) HeaterSetPIDOutput(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	r.pidOutput = v
	r.displayPct = uint8(v / 255.0 * 100.0)
}

func (r *Real) HeaterTick(nowMS uint64) {
	r.fanTick(nowMS)

	if !r.heaterEnabled {
		r.ssrLine.SetValue(0)
		return
	}
	if nowMS-r.windowStartMS >= r.windowSizeMS {
		r.windowStartMS = nowMS
	}
	elapsed := nowMS - r.windowStartMS
	onTime := uint64(r.pidOutput / 255.0 * float32(r.windowSizeMS))
	if elapsed < onTime {
		r.ssrLine.SetValue(1)
	} else {
		r.ssrLine.SetValue(0)
	}
}

func (r *Real) ReadThermocouple() (float32, FaultMask, error) {
	if r.spi == nil {
		return 0, 0, fmt.Errorf("hw: no SPI bus configured")
	}
	frame, err := r.spi.ReadFrame()
	if err != nil {
		return 0, 0, fmt.Errorf("hw: thermocouple SPI read: %w", err)
	}
	c, faults, err := decodeMAX31855(frame)
	r.lastFaults = faults
	return c, faults, err
}

// ThermocoupleFaultMask returns the fault bits of the last read, 0 when
// clean.
func (r *Real) ThermocoupleFaultMask() FaultMask { return r.lastFaults }

func (r *Real) ReadThermistorRaw() uint16 {
	if r.adc == nil {
		return 0
	}
	v, err := r.adc.ReadRaw()
	if err != nil {
		return 0
	}
	return v
}

// NowMS is milliseconds since construction. time.Since reads the
// monotonic clock, so the value never jumps with wall-clock
// adjustments.
func (r *Real) NowMS() uint64 {
	return uint64(time.Since(r.epoch).Milliseconds())
}
