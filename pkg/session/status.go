// Package session holds the connection and negotiation state for one
// assistant interaction cycle, from wake-word detection through goodbye.
package session

import "encoding/json"

// Status represents the device status within an interaction cycle.
type Status int

const (
	StatusUnknown Status = iota
	StatusStarting
	StatusWifiConfiguring
	StatusIdle
	StatusConnecting
	StatusListening
	StatusSpeaking
	StatusUpgrading
	StatusFatalError
)

// String returns the string representation of the status.
func (st Status) String() string {
	switch st {
	case StatusStarting:
		return "starting"
	case StatusWifiConfiguring:
		return "wifi_configuring"
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusSpeaking:
		return "speaking"
	case StatusUpgrading:
		return "upgrading"
	case StatusFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (st Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (st *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "starting":
		*st = StatusStarting
	case "wifi_configuring":
		*st = StatusWifiConfiguring
	case "idle":
		*st = StatusIdle
	case "connecting":
		*st = StatusConnecting
	case "listening":
		*st = StatusListening
	case "speaking":
		*st = StatusSpeaking
	case "upgrading":
		*st = StatusUpgrading
	case "fatal_error":
		*st = StatusFatalError
	default:
		*st = StatusUnknown
	}
	return nil
}

// Active returns true while a negotiated session is driving audio.
func (st Status) Active() bool {
	return st == StatusListening || st == StatusSpeaking
}
