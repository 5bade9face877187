package session

import (
	"encoding/json"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusUnknown, "unknown"},
		{StatusStarting, "starting"},
		{StatusWifiConfiguring, "wifi_configuring"},
		{StatusIdle, "idle"},
		{StatusConnecting, "connecting"},
		{StatusListening, "listening"},
		{StatusSpeaking, "speaking"},
		{StatusUpgrading, "upgrading"},
		{StatusFatalError, "fatal_error"},
	}

	for _, tc := range tests {
		if tc.status.String() != tc.want {
			t.Errorf("Status(%d).String() = %q; want %q", tc.status, tc.status.String(), tc.want)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	tests := []Status{
		StatusIdle,
		StatusListening,
		StatusSpeaking,
		StatusFatalError,
	}

	for _, status := range tests {
		data, err := json.Marshal(status)
		if err != nil {
			t.Errorf("Marshal Status(%d) error: %v", status, err)
			continue
		}

		var restored Status
		if err := json.Unmarshal(data, &restored); err != nil {
			t.Errorf("Unmarshal Status error: %v", err)
			continue
		}

		if restored != status {
			t.Errorf("Status JSON roundtrip: got %v, want %v", restored, status)
		}
	}
}

func TestStatus_Active(t *testing.T) {
	if !StatusListening.Active() || !StatusSpeaking.Active() {
		t.Error("Listening and Speaking must be active")
	}
	if StatusIdle.Active() || StatusUnknown.Active() {
		t.Error("Idle and Unknown must not be active")
	}
}
