package protocol

import (
	"context"
	"encoding/json"
	"testing"
)

type capturePublisher struct {
	payloads [][]byte
	err      error
}

func (p *capturePublisher) Publish(_ context.Context, b []byte) error {
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, append([]byte(nil), b...))
	return nil
}

func (p *capturePublisher) last(t *testing.T) map[string]any {
	t.Helper()
	if len(p.payloads) == 0 {
		t.Fatal("nothing published")
	}
	var m map[string]any
	if err := json.Unmarshal(p.payloads[len(p.payloads)-1], &m); err != nil {
		t.Fatalf("published payload is not JSON: %v", err)
	}
	return m
}

func TestControl_SendHello(t *testing.T) {
	pub := &capturePublisher{}
	c := &Control{Topic: "device/pub", Publisher: pub}

	if err := c.SendHello(context.Background()); err != nil {
		t.Fatalf("SendHello error: %v", err)
	}

	m := pub.last(t)
	if m["type"] != "hello" || m["transport"] != "udp" {
		t.Errorf("hello = %v", m)
	}
	ap, ok := m["audio_params"].(map[string]any)
	if !ok {
		t.Fatalf("audio_params missing: %v", m)
	}
	if ap["format"] != "opus" || ap["sample_rate"] != float64(16000) ||
		ap["channels"] != float64(1) || ap["frame_duration"] != float64(60) {
		t.Errorf("audio_params = %v", ap)
	}
}

func TestControl_SendListenMessages(t *testing.T) {
	pub := &capturePublisher{}
	c := &Control{Topic: "device/pub", Publisher: pub}
	ctx := context.Background()

	if err := c.SendWakeWordDetected(ctx, "abc", "hey pal"); err != nil {
		t.Fatalf("SendWakeWordDetected error: %v", err)
	}
	m := pub.last(t)
	if m["type"] != "listen" || m["state"] != "detect" || m["text"] != "hey pal" || m["session_id"] != "abc" {
		t.Errorf("wake word message = %v", m)
	}

	if err := c.SendStartAutoListening(ctx, "abc"); err != nil {
		t.Fatalf("SendStartAutoListening error: %v", err)
	}
	m = pub.last(t)
	if m["type"] != "listen" || m["state"] != "start" || m["mode"] != "auto" {
		t.Errorf("auto listening message = %v", m)
	}
}

func TestControl_SendIoT(t *testing.T) {
	pub := &capturePublisher{}
	c := &Control{Topic: "device/pub", Publisher: pub}
	ctx := context.Background()

	if err := c.SendIoTDescriptors(ctx, "abc"); err != nil {
		t.Fatalf("SendIoTDescriptors error: %v", err)
	}
	m := pub.last(t)
	if m["type"] != "iot" || m["session_id"] != "abc" {
		t.Errorf("descriptors = %v", m)
	}
	if descs, ok := m["descriptors"].([]any); !ok || len(descs) != 2 {
		t.Errorf("descriptors block = %v", m["descriptors"])
	}

	if err := c.SendIoTStates(ctx, "abc", 70, false); err != nil {
		t.Fatalf("SendIoTStates error: %v", err)
	}
	m = pub.last(t)
	states, ok := m["states"].([]any)
	if !ok || len(states) != 2 {
		t.Fatalf("states block = %v", m["states"])
	}
	speaker := states[0].(map[string]any)
	if speaker["name"] != "Speaker" {
		t.Errorf("states[0] = %v", speaker)
	}
}

func TestControl_SendGoodbye(t *testing.T) {
	pub := &capturePublisher{}
	c := &Control{Topic: "device/pub", Publisher: pub}

	if err := c.SendGoodbye(context.Background(), "abc"); err != nil {
		t.Fatalf("SendGoodbye error: %v", err)
	}
	m := pub.last(t)
	if m["type"] != "goodbye" || m["session_id"] != "abc" {
		t.Errorf("goodbye = %v", m)
	}
}

type recordingHandler struct {
	hellos   []*Hello
	goodbyes []*Goodbye
	tts      []*TTS
	stt      []*STT
}

func (h *recordingHandler) OnHello(_ context.Context, m *Hello) { h.hellos = append(h.hellos, m) }
func (h *recordingHandler) OnGoodbye(_ context.Context, m *Goodbye) {
	h.goodbyes = append(h.goodbyes, m)
}
func (h *recordingHandler) OnTTS(_ context.Context, m *TTS) { h.tts = append(h.tts, m) }
func (h *recordingHandler) OnSTT(_ context.Context, m *STT) { h.stt = append(h.stt, m) }

func TestControl_Dispatch(t *testing.T) {
	c := &Control{Topic: "device/pub", Publisher: &capturePublisher{}}
	h := &recordingHandler{}
	ctx := context.Background()

	c.Dispatch(ctx, []byte(`{"type":"tts","state":"start"}`), h)
	c.Dispatch(ctx, []byte(`{"type":"stt","text":"hello"}`), h)
	c.Dispatch(ctx, []byte(`{"type":"goodbye","session_id":"abc"}`), h)
	// These must be absorbed without reaching the handler.
	c.Dispatch(ctx, []byte(`{"type":"llm","emotion":"happy"}`), h)
	c.Dispatch(ctx, []byte(`{"type":"mystery"}`), h)
	c.Dispatch(ctx, []byte(`not json at all`), h)

	if len(h.tts) != 1 || h.tts[0].State != TTSStart {
		t.Errorf("tts dispatch = %+v", h.tts)
	}
	if len(h.stt) != 1 || h.stt[0].Text != "hello" {
		t.Errorf("stt dispatch = %+v", h.stt)
	}
	if len(h.goodbyes) != 1 || h.goodbyes[0].SessionID != "abc" {
		t.Errorf("goodbye dispatch = %+v", h.goodbyes)
	}
	if len(h.hellos) != 0 {
		t.Errorf("unexpected hello dispatch: %+v", h.hellos)
	}
}
