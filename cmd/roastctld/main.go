// roastctld is the coffee-roaster controller daemon: a single-threaded
// cooperative tick loop driving the blower, the SSR-switched heating
// element, and the command/telemetry link to a host GUI.
//
// Usage:
//
//	roastctld -port /dev/ttyUSB0 [options]
//	roastctld -sim
//
// Options:
//
//	-config string   INI configuration file
//	-port string     Serial device for the host link
//	-baud int        Serial baud rate (default 115200)
//	-sim             Run against simulated hardware on stdin/stdout
//	-metrics string  Prometheus metrics listen address (default ":9931")
//	-ws string       WebSocket telemetry mirror address ("" disables)
//	-mqtt string     MQTT broker URI ("" disables)
//	-debug           Enable debug logging
//
// The tick order is fixed: transport intake, safety, state machine,
// actuator window advance, telemetry emission. Auxiliary servers (the
// metrics endpoint, the WebSocket mirror, the MQTT publisher) run on
// their own goroutines and observe the loop only through serialized
// telemetry taps and snapshot values.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"roastctl/pkg/config"
	"roastctl/pkg/hw"
	"roastctl/pkg/log"
	"roastctl/pkg/metrics"
	"roastctl/pkg/roaster"
	"roastctl/pkg/safety"
	"roastctl/pkg/telemetry"
	"roastctl/pkg/transport"
)

const tickPeriod = time.Millisecond

type options struct {
	configPath  string
	serialPort  string
	baudRate    int
	sim         bool
	metricsAddr string
	wsAddr      string
	mqttBroker  string
	mqttTopic   string
	debug       bool

	// GPIO wiring, overridable from the [hardware] config section.
	gpioChip string
	ssrLine  int
	fanLine  int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "INI configuration file")
	flag.StringVar(&opts.serialPort, "port", "", "Serial device for the host link")
	flag.IntVar(&opts.baudRate, "baud", transport.DefaultBaudRate, "Serial baud rate")
	flag.BoolVar(&opts.sim, "sim", false, "Run against simulated hardware on stdin/stdout")
	flag.StringVar(&opts.metricsAddr, "metrics", ":9931", "Prometheus metrics listen address")
	flag.StringVar(&opts.wsAddr, "ws", "", "WebSocket telemetry mirror address (empty disables)")
	flag.StringVar(&opts.mqttBroker, "mqtt", "", "MQTT broker URI (empty disables)")
	flag.StringVar(&opts.mqttTopic, "mqtt-topic", telemetry.DefaultMQTTTopic, "MQTT telemetry topic")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	opts.gpioChip = "gpiochip0"
	opts.ssrLine = 17
	opts.fanLine = 18
	flag.Parse()

	logger := log.New("roastctld")
	if opts.debug {
		logger.SetLevel(log.DEBUG)
	}

	if err := run(&opts, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(opts *options, logger *log.Logger) error {
	if err := applyConfig(opts); err != nil {
		return err
	}
	if !opts.sim && opts.serialPort == "" {
		return fmt.Errorf("no serial port configured: pass -port or -sim")
	}

	logger.Info("roastctld %s starting", transport.FirmwareVersion)

	// Hardware backend.
	var (
		hardware hw.Hardware
		fake     *hw.Fake
	)
	if opts.sim {
		fake = hw.NewFake()
		hardware = fake
		logger.Info("simulated hardware backend")
	} else {
		real, err := hw.NewReal(hw.RealConfig{
			ChipName: opts.gpioChip,
			SSRLine:  opts.ssrLine,
			FanLine:  opts.fanLine,
		})
		if err != nil {
			return fmt.Errorf("hardware init: %w", err)
		}
		defer real.Close()
		hardware = real
	}

	// Host link.
	var (
		link io.ReadWriter
		port io.Closer
	)
	if opts.sim {
		link = struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
	} else {
		p, err := transport.OpenSerial(opts.serialPort, opts.baudRate)
		if err != nil {
			return err
		}
		port = p
		link = p
		logger.Info("serial link %s @ %d", opts.serialPort, opts.baudRate)
	}

	met := metrics.NewRoasterMetrics()

	// The controller and session reference each other only through
	// callbacks, wired after both exist.
	var session *transport.Session
	ctrl := roaster.New(hardware, roaster.Callbacks{
		Fault: func(f safety.Fault) {
			met.RecordFault(string(f.Code))
			if session != nil {
				session.SendError(f, hardware.NowMS())
			}
		},
		RoastEvent: func(event string, roastTimeMS uint64) {
			if session != nil {
				session.SendRoastEvent(event, roastTimeMS, hardware.NowMS())
			}
		},
		Log: func(level, source, message string) {
			if session != nil {
				session.SendLog(level, source, message, hardware.NowMS())
			}
		},
		PhaseChange: func(from, to roaster.Phase) {
			met.SetPhase(to.ID(), to.String())
		},
	})

	session = transport.NewSession(link, ctrl, met)
	session.StartReader(link)
	defer session.Close()
	if port != nil {
		defer port.Close()
	}

	// Auxiliary observers.
	if opts.metricsAddr != "" {
		ms := metrics.NewMetricsServer(met, opts.metricsAddr)
		ms.StartAsync()
		defer ms.Shutdown(context.Background())
		logger.Info("metrics on %s", opts.metricsAddr)
	}
	if opts.wsAddr != "" {
		mirror := telemetry.NewWSMirror(opts.wsAddr)
		mirror.Start()
		defer mirror.Shutdown(context.Background())
		session.AddTap(mirror.Broadcast)
	}
	if opts.mqttBroker != "" {
		pub, err := telemetry.NewMQTTPublisher(opts.mqttBroker, "roastctld", opts.mqttTopic)
		if err != nil {
			return err
		}
		defer pub.Close()
		session.AddTap(pub.Publish)
	}

	session.SendConnected(hardware.NowMS())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	var lastMetricsMS uint64
	for {
		select {
		case sig := <-sigCh:
			logger.Info("received %s, stopping", sig)
			// Drive the controller to a safe stop before exiting.
			ctrl.HandleEvent(roaster.EventStop, 0, false)
			hardware.HeaterDisable()
			hardware.FanDisable()
			return nil

		case <-ticker.C:
			if fake != nil {
				fake.AdvanceMS(uint64(tickPeriod / time.Millisecond))
			}
			now := hardware.NowMS()
			session.Poll(now)
			ctrl.Tick()
			session.EmitDue(now)

			if now-lastMetricsMS >= 1000 {
				publishMetrics(met, ctrl)
				lastMetricsMS = now
			}
		}
	}
}

// applyConfig overlays the INI file, when given, onto flag defaults.
// Flags win for options the user set explicitly; the file fills the
// rest.
func applyConfig(opts *options) error {
	if opts.configPath == "" {
		return nil
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if s := cfg.GetSectionOptional("transport"); s != nil {
		if !set["port"] {
			opts.serialPort, _ = s.Get("port", opts.serialPort)
		}
		if !set["baud"] {
			opts.baudRate, _ = s.GetInt("baud", opts.baudRate)
		}
	}
	if s := cfg.GetSectionOptional("telemetry"); s != nil {
		if !set["metrics"] {
			opts.metricsAddr, _ = s.Get("metrics_addr", opts.metricsAddr)
		}
		if !set["ws"] {
			opts.wsAddr, _ = s.Get("ws_addr", opts.wsAddr)
		}
		if !set["mqtt"] {
			opts.mqttBroker, _ = s.Get("mqtt_broker", opts.mqttBroker)
		}
		if !set["mqtt-topic"] {
			opts.mqttTopic, _ = s.Get("mqtt_topic", opts.mqttTopic)
		}
	}
	if s := cfg.GetSectionOptional("hardware"); s != nil {
		if err := applyHardware(s, opts); err != nil {
			return err
		}
	}
	if s := cfg.GetSectionOptional("tuning"); s != nil {
		if err := applyTuning(s); err != nil {
			return err
		}
	}
	return nil
}

// applyHardware reads the [hardware] section: the GPIO chip and the SSR
// and fan line assignments, in pin syntax ("17", "GPIO17", or
// "gpiochip1:17").
func applyHardware(s *config.Section, opts *options) error {
	pinOpts := config.PinOptions{}

	ssr, err := s.GetPinOptional("ssr_pin", pinOpts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if ssr != nil {
		opts.gpioChip = ssr.Chip
		if opts.ssrLine, err = pinLine(*ssr); err != nil {
			return err
		}
	}

	fan, err := s.GetPinOptional("fan_pin", pinOpts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if fan != nil {
		if ssr != nil && fan.Chip != ssr.Chip {
			return fmt.Errorf("config: ssr_pin and fan_pin must share one GPIO chip, got %q and %q", ssr.Chip, fan.Chip)
		}
		opts.gpioChip = fan.Chip
		if opts.fanLine, err = pinLine(*fan); err != nil {
			return err
		}
	}
	return nil
}

// pinLine extracts the chardev line offset from a parsed pin name,
// accepting a bare number or a GPIO-prefixed one.
func pinLine(p config.Pin) (int, error) {
	name := strings.TrimPrefix(strings.ToUpper(p.Name), "GPIO")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("config: pin %q is not a line number", p.Name)
	}
	return n, nil
}

// applyTuning reads the [tuning] section and overrides the control-law
// defaults: PID gain sets, the gain-schedule threshold, and the
// per-phase fan duties. Options not present keep their defaults.
func applyTuning(s *config.Section) error {
	gains := []struct {
		opt string
		dst *float32
	}{
		{"pid_kp_aggressive", &roaster.GainsAggressive.Kp},
		{"pid_ki_aggressive", &roaster.GainsAggressive.Ki},
		{"pid_kd_aggressive", &roaster.GainsAggressive.Kd},
		{"pid_kp_conservative", &roaster.GainsConservative.Kp},
		{"pid_ki_conservative", &roaster.GainsConservative.Ki},
		{"pid_kd_conservative", &roaster.GainsConservative.Kd},
		{"pid_threshold", &roaster.PIDThreshold},
	}
	for _, g := range gains {
		v, err := s.GetFloat(g.opt, float64(*g.dst))
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		*g.dst = float32(v)
	}

	minDuty, maxDuty := 0, 100
	duties := []struct {
		opt string
		dst *uint8
	}{
		{"fan_preheat_duty", &roaster.FanPreheatDuty},
		{"fan_roast_default", &roaster.FanRoastDefault},
		{"fan_roast_min_duty", &roaster.FanRoastMinDuty},
		{"fan_cooling_duty", &roaster.FanCoolingDuty},
	}
	for _, d := range duties {
		v, err := s.GetIntWithBounds(d.opt, &minDuty, &maxDuty, int(*d.dst))
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		*d.dst = uint8(v)
	}
	return nil
}

// publishMetrics refreshes the exported gauges from a snapshot, once
// per second off the hot path of the tick.
func publishMetrics(met *metrics.RoasterMetrics, ctrl *roaster.Controller) {
	s := ctrl.Snapshot()
	met.SetThermal(float64(s.ChamberTemp), float64(s.HeaterTemp), float64(s.Setpoint), float64(s.RateOfRise))
	met.SetControl(float64(s.PIDOutput), s.PIDAggressive, s.FanSpeed, s.HeaterPower)
	met.CurrentPhase.Set(nil, float64(s.PhaseID))
	met.UpdateSystemMetrics()
}
