package protocol

import (
	"testing"
)

func TestDecode_Hello(t *testing.T) {
	payload := `{
		"type": "hello",
		"session_id": "abc",
		"transport": "udp",
		"udp": {
			"server": "10.1.2.3",
			"port": 8884,
			"encryption": "aes-ctr",
			"key": "000102030405060708090a0b0c0d0e0f",
			"nonce": "01000000000000000000000000000000"
		},
		"audio_params": {
			"format": "opus",
			"sample_rate": 24000,
			"channels": 1,
			"frame_duration": 60
		}
	}`

	msg, err := Decode([]byte(payload))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	hello, ok := msg.(*Hello)
	if !ok {
		t.Fatalf("Decode returned %T, want *Hello", msg)
	}
	if hello.SessionID != "abc" {
		t.Errorf("SessionID = %q, want %q", hello.SessionID, "abc")
	}
	if hello.UDP == nil || hello.UDP.Server != "10.1.2.3" || hello.UDP.Port != 8884 {
		t.Errorf("UDP = %+v, want 10.1.2.3:8884", hello.UDP)
	}
	if hello.UDP.Encryption != "aes-ctr" {
		t.Errorf("Encryption = %q, want aes-ctr", hello.UDP.Encryption)
	}
	if hello.AudioParams == nil || hello.AudioParams.SampleRate != 24000 {
		t.Errorf("AudioParams = %+v, want sample rate 24000", hello.AudioParams)
	}
}

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, msg Message)
	}{
		{
			name:    "goodbye",
			payload: `{"type":"goodbye","session_id":"abc"}`,
			check: func(t *testing.T, msg Message) {
				g, ok := msg.(*Goodbye)
				if !ok || g.SessionID != "abc" {
					t.Errorf("got %#v, want Goodbye{abc}", msg)
				}
			},
		},
		{
			name:    "tts sentence_start",
			payload: `{"type":"tts","state":"sentence_start","text":"hi there"}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*TTS)
				if !ok || m.State != TTSSentenceStart || m.Text != "hi there" {
					t.Errorf("got %#v, want TTS{sentence_start, hi there}", msg)
				}
			},
		},
		{
			name:    "stt",
			payload: `{"type":"stt","text":"turn on the lamp"}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(*STT)
				if !ok || m.Text != "turn on the lamp" {
					t.Errorf("got %#v, want STT", msg)
				}
			},
		},
		{
			name:    "llm",
			payload: `{"type":"llm","emotion":"happy","text":"😀"}`,
			check: func(t *testing.T, msg Message) {
				if _, ok := msg.(*LLM); !ok {
					t.Errorf("got %T, want *LLM", msg)
				}
			},
		},
		{
			name:    "unknown type",
			payload: `{"type":"telemetry","foo":1}`,
			check: func(t *testing.T, msg Message) {
				u, ok := msg.(*Unknown)
				if !ok || u.Type != "telemetry" {
					t.Errorf("got %#v, want Unknown{telemetry}", msg)
				}
			},
		},
		{
			name:    "missing type",
			payload: `{"text":"hi"}`,
			check: func(t *testing.T, msg Message) {
				if _, ok := msg.(*Unknown); !ok {
					t.Errorf("got %T, want *Unknown", msg)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.payload))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			tc.check(t, msg)
		})
	}
}

func TestDecode_InvalidUTF8Replaced(t *testing.T) {
	// 0xff is not valid UTF-8; the decoder must substitute it, not fail.
	payload := append([]byte(`{"type":"stt","text":"a`), 0xff)
	payload = append(payload, []byte(`b"}`)...)

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	m, ok := msg.(*STT)
	if !ok {
		t.Fatalf("got %T, want *STT", msg)
	}
	if m.Text == "" {
		t.Error("text lost during UTF-8 sanitizing")
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("Decode of malformed JSON should fail")
	}
}
