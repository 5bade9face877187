// Package protocol implements the JSON control-plane messages exchanged with
// the cloud service over the persistent publish/subscribe link: outbound
// message builders and the inbound tagged union dispatched on the "type"
// field.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Ensure all inbound variants implement Message.
var (
	_ Message = (*Hello)(nil)
	_ Message = (*Goodbye)(nil)
	_ Message = (*TTS)(nil)
	_ Message = (*STT)(nil)
	_ Message = (*LLM)(nil)
	_ Message = (*IoT)(nil)
	_ Message = (*Unknown)(nil)
)

// Message is an inbound control-plane message. The concrete type is selected
// by the wire "type" tag; unrecognized tags decode to *Unknown so that new
// server message types never fail parsing.
type Message interface {
	isMessage()
}

// AudioParams mirrors the audio_params block on the wire.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// UDPInfo is the server-issued data-plane configuration. Key and Nonce are
// hex-encoded on the wire.
type UDPInfo struct {
	Server     string `json:"server"`
	Port       int    `json:"port"`
	Encryption string `json:"encryption"`
	Key        string `json:"key"`
	Nonce      string `json:"nonce"`
}

// Hello is the server's hello reply carrying the negotiated session.
type Hello struct {
	SessionID   string       `json:"session_id"`
	Transport   string       `json:"transport"`
	UDP         *UDPInfo     `json:"udp"`
	AudioParams *AudioParams `json:"audio_params"`
}

func (*Hello) isMessage() {}

// Goodbye ends the session it names.
type Goodbye struct {
	SessionID string `json:"session_id"`
}

func (*Goodbye) isMessage() {}

// TTS sub-states.
const (
	TTSStart         = "start"
	TTSStop          = "stop"
	TTSSentenceStart = "sentence_start"
)

// TTS drives the speaking state machine. Text is set for sentence_start.
type TTS struct {
	State string `json:"state"`
	Text  string `json:"text"`
}

func (*TTS) isMessage() {}

// STT carries a transcription of the user's speech.
type STT struct {
	Text string `json:"text"`
}

func (*STT) isMessage() {}

// LLM carries model-driven expression events. Logged only.
type LLM struct {
	Emotion string `json:"emotion"`
	Text    string `json:"text"`
}

func (*LLM) isMessage() {}

// IoT carries device commands from the server. Logged only.
type IoT struct {
	Commands json.RawMessage `json:"commands"`
}

func (*IoT) isMessage() {}

// Unknown preserves a message whose type tag has no dedicated variant.
type Unknown struct {
	Type string
	Raw  []byte
}

func (*Unknown) isMessage() {}

// Decode parses one inbound control-plane payload. Invalid UTF-8 bytes are
// replaced rather than treated as fatal; malformed JSON is an error and the
// caller drops the payload.
func Decode(b []byte) (Message, error) {
	s := strings.ToValidUTF8(string(b), "�")

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}

	var msg Message
	switch env.Type {
	case "hello":
		msg = new(Hello)
	case "goodbye":
		msg = new(Goodbye)
	case "tts":
		msg = new(TTS)
	case "stt":
		msg = new(STT)
	case "llm":
		msg = new(LLM)
	case "iot":
		msg = new(IoT)
	default:
		return &Unknown{Type: env.Type, Raw: []byte(s)}, nil
	}

	if err := json.Unmarshal([]byte(s), msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s message: %w", env.Type, err)
	}
	return msg, nil
}
