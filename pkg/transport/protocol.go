// Wire protocol: the line-delimited JSON command/telemetry contract.
//
// Inbound lines decode into a tagged Inbound value with strict
// encoding/json. Unknown types map to an explicit Ignored kind rather
// than an error, preserving the silently-drop policy toward hosts.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package transport

import (
	"encoding/json"

	"roastctl/pkg/roaster"
	"roastctl/pkg/safety"
)

// FirmwareVersion is reported in the `connected` handshake message.
const FirmwareVersion = "3.0.0"

// InboundKind classifies a framed inbound line.
type InboundKind int

const (
	// KindCommand carries a state-machine command.
	KindCommand InboundKind = iota
	// KindGetState forces an immediate state emission.
	KindGetState
	// KindDebug is a recognized debug hook (debugFan/testFanPins),
	// stubbed to a no-op in this portable implementation.
	KindDebug
	// KindIgnored is an unknown or malformed message, dropped silently.
	KindIgnored
)

// Inbound is one parsed inbound message.
type Inbound struct {
	Kind InboundKind
	Cmd  roaster.Command
	Type string
}

// envelope is the outer message shape shared by both directions.
type envelope struct {
	Type      string          `json:"type"`
	Timestamp uint64          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// numField decodes a payload carrying at most one named numeric field.
// A nil pointer distinguishes "absent" from zero.
type numField struct {
	TargetTemp *float64 `json:"targetTemp"`
	Setpoint   *float64 `json:"setpoint"`
	FanSpeed   *float64 `json:"fanSpeed"`
	Value      *float64 `json:"value"`
}

// ParseLine decodes one complete line into an Inbound. Malformed JSON
// and unknown types both come back as KindIgnored: the host may race
// state changes, and silent ignoring is safer than partial application.
func ParseLine(line []byte) Inbound {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Inbound{Kind: KindIgnored}
	}

	var nf numField
	if len(env.Payload) > 0 {
		// Payload field errors degrade to "absent", not a dropped line.
		json.Unmarshal(env.Payload, &nf)
	}

	cmd := func(ev roaster.Event, v *float64) Inbound {
		c := roaster.Command{Event: ev}
		if v != nil {
			c.Value = float32(*v)
			c.HasValue = true
		}
		return Inbound{Kind: KindCommand, Cmd: c, Type: env.Type}
	}

	switch env.Type {
	case "startPreheat":
		return cmd(roaster.EventStartPreheat, nf.TargetTemp)
	case "loadBeans":
		return cmd(roaster.EventLoadBeans, nf.Setpoint)
	case "enterFanOnly":
		return cmd(roaster.EventStartFanOnly, nf.FanSpeed)
	case "exitFanOnly":
		return cmd(roaster.EventExitFanOnly, nil)
	case "endRoast":
		return cmd(roaster.EventEndRoast, nil)
	case "markFirstCrack":
		return cmd(roaster.EventFirstCrack, nil)
	case "stop":
		return cmd(roaster.EventStop, nil)
	case "enterManual":
		return cmd(roaster.EventEnterManual, nil)
	case "exitManual":
		return cmd(roaster.EventExitManual, nil)
	case "clearFault":
		return cmd(roaster.EventClearFault, nil)
	case "setSetpoint":
		return cmd(roaster.EventSetSetpoint, nf.Value)
	case "setFanSpeed":
		return cmd(roaster.EventSetFanSpeed, nf.Value)
	case "setHeaterPower":
		return cmd(roaster.EventSetHeaterPower, nf.Value)
	case "getState":
		return Inbound{Kind: KindGetState, Type: env.Type}
	case "debugFan", "testFanPins":
		return Inbound{Kind: KindDebug, Type: env.Type}
	default:
		return Inbound{Kind: KindIgnored, Type: env.Type}
	}
}

// statePayload is the roasterState message body.
type statePayload struct {
	State            string        `json:"state"`
	StateID          int           `json:"stateId"`
	ChamberTemp      *float64      `json:"chamberTemp"`
	HeaterTemp       float64       `json:"heaterTemp"`
	Setpoint         float64       `json:"setpoint"`
	FanSpeed         uint8         `json:"fanSpeed"`
	HeaterPower      uint8         `json:"heaterPower"`
	HeaterEnabled    bool          `json:"heaterEnabled"`
	PIDEnabled       bool          `json:"pidEnabled"`
	RoastTimeMS      uint64        `json:"roastTimeMs"`
	FirstCrackMarked bool          `json:"firstCrackMarked"`
	FirstCrackTimeMS *uint64       `json:"firstCrackTimeMs"`
	RoR              float64       `json:"ror"`
	Error            *errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

type connectedPayload struct {
	Firmware string `json:"firmware"`
}

type roastEventPayload struct {
	Event       string   `json:"event"`
	RoastTimeMS uint64   `json:"roastTimeMs"`
	ChamberTemp *float64 `json:"chamberTemp"`
}

type logPayload struct {
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// round1 keeps temperatures at one decimal on the wire, so two
// serializations of the same snapshot are byte-identical instead of
// varying with float noise.
func round1(v float32) float64 {
	f := float64(v)
	if f < 0 {
		return float64(int64(f*10-0.5)) / 10
	}
	return float64(int64(f*10+0.5)) / 10
}

func marshal(msgType string, ts uint64, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(envelope{Type: msgType, Timestamp: ts, Payload: raw})
	if err != nil {
		return nil
	}
	return out
}

// EncodeState serializes a roasterState message from a snapshot.
func EncodeState(s roaster.Snapshot, ts uint64) []byte {
	p := statePayload{
		State:            s.Phase.String(),
		StateID:          s.PhaseID,
		HeaterTemp:       round1(s.HeaterTemp),
		Setpoint:         round1(s.Setpoint),
		FanSpeed:         s.FanSpeed,
		HeaterPower:      s.HeaterPower,
		HeaterEnabled:    s.HeaterEnabled,
		PIDEnabled:       s.PIDEnabled,
		RoastTimeMS:      s.RoastTimeMS,
		FirstCrackMarked: s.FirstCrackMarked,
		RoR:              round1(s.RateOfRise),
	}
	if s.ChamberValid {
		v := round1(s.ChamberTemp)
		p.ChamberTemp = &v
	}
	if s.FirstCrackMarked {
		p.FirstCrackTimeMS = &s.FirstCrackTimeMS
	}
	if s.Fault != nil {
		p.Error = &errorPayload{
			Code:    string(s.Fault.Code),
			Message: s.Fault.Message,
			Fatal:   s.Fault.Fatal,
		}
	}
	return marshal("roasterState", ts, p)
}

// EncodeConnected serializes the startup/first-activity handshake.
func EncodeConnected(ts uint64) []byte {
	return marshal("connected", ts, connectedPayload{Firmware: FirmwareVersion})
}

// EncodeRoastEvent serializes a milestone message.
func EncodeRoastEvent(event string, roastTimeMS uint64, chamberTemp float32, chamberValid bool, ts uint64) []byte {
	p := roastEventPayload{Event: event, RoastTimeMS: roastTimeMS}
	if chamberValid {
		v := round1(chamberTemp)
		p.ChamberTemp = &v
	}
	return marshal("roastEvent", ts, p)
}

// EncodeError serializes a newly latched fault.
func EncodeError(f safety.Fault, ts uint64) []byte {
	return marshal("error", ts, errorPayload{
		Code:    string(f.Code),
		Message: f.Message,
		Fatal:   f.Fatal,
	})
}

// EncodeLog serializes a host-facing log message. encoding/json escapes
// quotes, backslashes, and newlines in the message text.
func EncodeLog(level, source, message string, ts uint64) []byte {
	return marshal("log", ts, logPayload{Level: level, Source: source, Message: message})
}
