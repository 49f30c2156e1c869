package transport

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"roastctl/pkg/roaster"
	"roastctl/pkg/safety"
)

func TestParseLineCommands(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		event    roaster.Event
		value    float32
		hasValue bool
	}{
		{"startPreheat with target", `{"type":"startPreheat","timestamp":1,"payload":{"targetTemp":185}}`, roaster.EventStartPreheat, 185, true},
		{"startPreheat bare", `{"type":"startPreheat","timestamp":1,"payload":{}}`, roaster.EventStartPreheat, 0, false},
		{"loadBeans", `{"type":"loadBeans","timestamp":1,"payload":{"setpoint":205}}`, roaster.EventLoadBeans, 205, true},
		{"enterFanOnly", `{"type":"enterFanOnly","timestamp":1,"payload":{"fanSpeed":60}}`, roaster.EventStartFanOnly, 60, true},
		{"exitFanOnly", `{"type":"exitFanOnly","timestamp":1,"payload":{}}`, roaster.EventExitFanOnly, 0, false},
		{"endRoast", `{"type":"endRoast","timestamp":1,"payload":{}}`, roaster.EventEndRoast, 0, false},
		{"markFirstCrack", `{"type":"markFirstCrack","timestamp":1,"payload":{}}`, roaster.EventFirstCrack, 0, false},
		{"stop", `{"type":"stop","timestamp":1,"payload":{}}`, roaster.EventStop, 0, false},
		{"enterManual", `{"type":"enterManual","timestamp":1,"payload":{}}`, roaster.EventEnterManual, 0, false},
		{"exitManual", `{"type":"exitManual","timestamp":1,"payload":{}}`, roaster.EventExitManual, 0, false},
		{"clearFault", `{"type":"clearFault","timestamp":1,"payload":{}}`, roaster.EventClearFault, 0, false},
		{"setSetpoint", `{"type":"setSetpoint","timestamp":1,"payload":{"value":210}}`, roaster.EventSetSetpoint, 210, true},
		{"setFanSpeed", `{"type":"setFanSpeed","timestamp":1,"payload":{"value":45}}`, roaster.EventSetFanSpeed, 45, true},
		{"setHeaterPower", `{"type":"setHeaterPower","timestamp":1,"payload":{"value":30}}`, roaster.EventSetHeaterPower, 30, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := ParseLine([]byte(tc.line))
			if in.Kind != KindCommand {
				t.Fatalf("kind = %d, want KindCommand", in.Kind)
			}
			if in.Cmd.Event != tc.event {
				t.Fatalf("event = %s, want %s", in.Cmd.Event, tc.event)
			}
			if in.Cmd.HasValue != tc.hasValue || in.Cmd.Value != tc.value {
				t.Fatalf("value = (%v,%v), want (%v,%v)", in.Cmd.Value, in.Cmd.HasValue, tc.value, tc.hasValue)
			}
		})
	}
}

func TestParseLineSpecials(t *testing.T) {
	if in := ParseLine([]byte(`{"type":"getState","timestamp":1,"payload":{}}`)); in.Kind != KindGetState {
		t.Fatalf("getState kind = %d", in.Kind)
	}
	if in := ParseLine([]byte(`{"type":"debugFan","timestamp":1}`)); in.Kind != KindDebug {
		t.Fatalf("debugFan kind = %d", in.Kind)
	}
	if in := ParseLine([]byte(`{"type":"testFanPins","timestamp":1}`)); in.Kind != KindDebug {
		t.Fatalf("testFanPins kind = %d", in.Kind)
	}
	if in := ParseLine([]byte(`{"type":"selfDestruct","timestamp":1}`)); in.Kind != KindIgnored {
		t.Fatalf("unknown type kind = %d, want KindIgnored", in.Kind)
	}
	if in := ParseLine([]byte(`{{{not json`)); in.Kind != KindIgnored {
		t.Fatalf("malformed line kind = %d, want KindIgnored", in.Kind)
	}
}

func TestEncodeStateDeterministic(t *testing.T) {
	// Two serializations of the same snapshot are byte-identical.
	s := roaster.Snapshot{
		Phase:        roaster.PhaseRoasting,
		PhaseID:      3,
		ChamberTemp:  201.26,
		ChamberValid: true,
		HeaterTemp:   88.4,
		Setpoint:     200,
		FanSpeed:     90,
		HeaterPower:  42,

		HeaterEnabled:    true,
		PIDEnabled:       true,
		RoastTimeMS:      123456,
		FirstCrackMarked: true,
		FirstCrackTimeMS: 98765,
		RateOfRise:       7.5,
	}
	a := EncodeState(s, 5000)
	b := EncodeState(s, 5000)
	if !bytes.Equal(a, b) {
		t.Fatalf("serialization not deterministic:\n%s\n%s", a, b)
	}

	var env struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(a, &env); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if env.Type != "roasterState" {
		t.Fatalf("type = %q", env.Type)
	}
	if env.Payload["state"] != "ROASTING" || env.Payload["stateId"] != float64(3) {
		t.Fatalf("state fields wrong: %v", env.Payload)
	}
	if env.Payload["chamberTemp"] != 201.3 {
		t.Fatalf("chamberTemp = %v, want 201.3", env.Payload["chamberTemp"])
	}
	if env.Payload["firstCrackTimeMs"] != float64(98765) {
		t.Fatalf("firstCrackTimeMs = %v", env.Payload["firstCrackTimeMs"])
	}
	if env.Payload["error"] != nil {
		t.Fatalf("error = %v, want null", env.Payload["error"])
	}
}

func TestEncodeStateNullables(t *testing.T) {
	s := roaster.Snapshot{
		Phase:        roaster.PhaseError,
		PhaseID:      6,
		ChamberValid: false,
		Fault: &safety.Fault{
			Code:    safety.FaultOverTempChamber,
			Message: "chamber temperature 261.0C at or above max 260.0C",
			Fatal:   true,
		},
	}
	out := EncodeState(s, 1000)
	txt := string(out)
	if !strings.Contains(txt, `"chamberTemp":null`) {
		t.Fatalf("faulted chamber must serialize as null: %s", txt)
	}
	if !strings.Contains(txt, `"firstCrackTimeMs":null`) {
		t.Fatalf("unmarked first crack must serialize as null: %s", txt)
	}
	if !strings.Contains(txt, `"code":"OVER_TEMP_CHAMBER"`) || !strings.Contains(txt, `"fatal":true`) {
		t.Fatalf("error payload missing: %s", txt)
	}
}

func TestEncodeLogEscaping(t *testing.T) {
	out := EncodeLog("warn", "safety", "quote \" backslash \\ newline \n done", 77)
	var env struct {
		Payload struct {
			Level   string `json:"level"`
			Source  string `json:"source"`
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("log message not valid JSON: %v\n%s", err, out)
	}
	if env.Payload.Message != "quote \" backslash \\ newline \n done" {
		t.Fatalf("message did not round-trip: %q", env.Payload.Message)
	}
	if bytes.Contains(out, []byte{'\n'}) {
		t.Fatalf("encoded message contains a raw newline: %q", out)
	}
}

func TestEncodeConnected(t *testing.T) {
	out := EncodeConnected(123)
	if !strings.Contains(string(out), `"firmware":"`+FirmwareVersion+`"`) {
		t.Fatalf("connected payload missing firmware: %s", out)
	}
}
