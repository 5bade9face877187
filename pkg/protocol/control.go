package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Publisher publishes one control-plane payload to the configured topic.
// mqtt.TopicWriter satisfies it.
type Publisher interface {
	Publish(ctx context.Context, b []byte) error
}

// Handler receives dispatched inbound messages. Handlers run on the
// connection's delivery goroutine and must treat shared state as
// concurrently accessed.
type Handler interface {
	OnHello(ctx context.Context, msg *Hello)
	OnGoodbye(ctx context.Context, msg *Goodbye)
	OnTTS(ctx context.Context, msg *TTS)
	OnSTT(ctx context.Context, msg *STT)
}

// Control sends outbound control-plane messages and dispatches inbound ones.
type Control struct {
	// Topic is the publish topic; carried here for observability.
	Topic string
	// Publisher delivers payloads to Topic.
	Publisher Publisher
}

// SendHello announces local capabilities.
func (c *Control) SendHello(ctx context.Context) error {
	return c.send(ctx, NewHello())
}

// SendWakeWordDetected reports the detected wake word.
func (c *Control) SendWakeWordDetected(ctx context.Context, sessionID, wakeWord string) error {
	return c.send(ctx, NewWakeWordDetected(sessionID, wakeWord))
}

// SendStartAutoListening requests automatic listening for the session.
func (c *Control) SendStartAutoListening(ctx context.Context, sessionID string) error {
	return c.send(ctx, NewStartAutoListening(sessionID))
}

// SendIoTDescriptors advertises the device capabilities.
func (c *Control) SendIoTDescriptors(ctx context.Context, sessionID string) error {
	return c.send(ctx, NewIoTDescriptors(sessionID))
}

// SendIoTStates advertises the current device property values.
func (c *Control) SendIoTStates(ctx context.Context, sessionID string, volume int, lampOn bool) error {
	return c.send(ctx, NewIoTStates(sessionID, volume, lampOn))
}

// SendGoodbye ends the named session.
func (c *Control) SendGoodbye(ctx context.Context, sessionID string) error {
	return c.send(ctx, NewGoodbye(sessionID))
}

func (c *Control) send(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: marshal message: %w", err)
	}
	if err := c.Publisher.Publish(ctx, b); err != nil {
		return fmt.Errorf("protocol: publish to %s: %w", c.Topic, err)
	}
	slog.Info("control message sent", "topic", c.Topic, "payload", string(b))
	return nil
}

// Dispatch decodes one inbound payload and routes it to the handler. Per-
// message failures are logged and dropped; they never abort the delivery
// loop. Messages without a dedicated handler (llm, iot, unknown types) are
// logged only.
func (c *Control) Dispatch(ctx context.Context, payload []byte, h Handler) {
	msg, err := Decode(payload)
	if err != nil {
		slog.Warn("control message dropped", "error", err)
		return
	}

	switch m := msg.(type) {
	case *Hello:
		h.OnHello(ctx, m)
	case *Goodbye:
		h.OnGoodbye(ctx, m)
	case *TTS:
		h.OnTTS(ctx, m)
	case *STT:
		h.OnSTT(ctx, m)
	case *LLM:
		slog.Debug("llm message", "emotion", m.Emotion, "text", m.Text)
	case *IoT:
		slog.Debug("iot message", "commands", string(m.Commands))
	case *Unknown:
		slog.Debug("unhandled message type", "type", m.Type, "payload", string(m.Raw))
	}
}
