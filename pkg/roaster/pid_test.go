package roaster

import (
	"math"
	"testing"
)

func TestPIDDisabledOutputsZero(t *testing.T) {
	p := NewPID()
	p.SetSetpoint(200)
	p.Update(25, 1000)
	if p.Output() != 0 {
		t.Fatalf("disabled PID must output 0, got %v", p.Output())
	}
}

func TestPIDFirstUpdateOnlySeeds(t *testing.T) {
	p := NewPID()
	p.SetSetpoint(200)
	p.Enable()
	p.Update(25, 1000)
	if p.Output() != 0 {
		t.Fatalf("first update must only seed timing, got output %v", p.Output())
	}
	p.Update(25, 2000)
	if p.Output() <= 0 {
		t.Fatalf("second update with a large error must drive, got %v", p.Output())
	}
}

func TestPIDOutputBounds(t *testing.T) {
	// Any finite input keeps the output within [0, 255].
	inputs := []float32{-500, -40, 0, 25, 199, 200, 201, 260, 1000}
	for _, in := range inputs {
		p := NewPID()
		p.SetSetpoint(200)
		p.Enable()
		now := uint64(1000)
		p.Update(in, now)
		for i := 0; i < 100; i++ {
			now += 100
			p.Update(in, now)
			out := p.Output()
			if out < 0 || out > 255 || math.IsNaN(float64(out)) {
				t.Fatalf("input %v: output %v escaped [0,255]", in, out)
			}
		}
	}
}

func TestPIDGainScheduling(t *testing.T) {
	p := NewPID()
	p.SetSetpoint(200)
	p.Enable()
	p.Update(150, 1000)
	p.Update(150, 2000) // error 50 > threshold
	if !p.Aggressive() {
		t.Fatal("error of 50C should select the aggressive gain set")
	}
	p.Update(195, 3000) // error 5 <= threshold
	if p.Aggressive() {
		t.Fatal("error of 5C should fall back to the conservative gain set")
	}
	// The crossing switches immediately, no hysteresis.
	p.Update(185, 4000)
	if !p.Aggressive() {
		t.Fatal("error of 15C should switch back to aggressive immediately")
	}
}

func TestPIDDerivativeOnMeasurement(t *testing.T) {
	// A setpoint step must not kick the derivative term: with a constant
	// measurement, changing the setpoint only moves P and I, so the
	// output changes by a bounded amount rather than spiking downward.
	p := NewPID()
	p.SetSetpoint(190)
	p.Enable()
	p.Update(185, 1000)
	p.Update(185, 2000)
	before := p.Output()

	p.SetSetpoint(210)
	p.Update(185, 3000)
	after := p.Output()
	if after < before {
		t.Fatalf("setpoint step up must not drop the output (derivative kick): %v -> %v", before, after)
	}
}

func TestPIDAntiWindup(t *testing.T) {
	// Hold a large error so the raw P+I output saturates; the integral
	// clamp must keep Ki*integral within the output range so recovery is
	// quick once the error sign flips.
	p := NewPID()
	p.SetSetpoint(200)
	p.Enable()
	now := uint64(1000)
	p.Update(25, now)
	for i := 0; i < 600; i++ {
		now += 1000
		p.Update(25, now)
	}
	if p.Output() != 255 {
		t.Fatalf("saturated loop should pin at 255, got %v", p.Output())
	}
	// Overshoot: measurement jumps above setpoint. Within a few ticks the
	// output must leave saturation.
	for i := 0; i < 5; i++ {
		now += 1000
		p.Update(230, now)
	}
	if p.Output() >= 255 {
		t.Fatalf("output stuck at 255 after overshoot: integrator wound up")
	}
}

func TestPIDZeroDTSkipped(t *testing.T) {
	p := NewPID()
	p.SetSetpoint(200)
	p.Enable()
	p.Update(100, 1000)
	p.Update(100, 2000)
	out := p.Output()
	p.Update(150, 2000) // dt == 0
	if p.Output() != out {
		t.Fatalf("dt<=0 tick must be skipped, output changed %v -> %v", out, p.Output())
	}
}

func TestPIDResetClearsState(t *testing.T) {
	p := NewPID()
	p.SetSetpoint(200)
	p.Enable()
	p.Update(25, 1000)
	p.Update(25, 2000)
	p.Reset()
	if p.Output() != 0 {
		t.Fatalf("reset must zero the output, got %v", p.Output())
	}
	// After reset the next update seeds again.
	p.Update(25, 3000)
	if p.Output() != 0 {
		t.Fatalf("first update after reset must only seed, got %v", p.Output())
	}
}

func TestPIDDisableStopsIntegration(t *testing.T) {
	p := NewPID()
	p.SetSetpoint(200)
	p.Enable()
	p.Update(25, 1000)
	p.Update(25, 2000)
	p.Disable()
	if p.Output() != 0 {
		t.Fatalf("disable must force output to 0, got %v", p.Output())
	}
	p.Update(25, 3000)
	if p.Output() != 0 {
		t.Fatalf("updates while disabled must keep output 0, got %v", p.Output())
	}
}
