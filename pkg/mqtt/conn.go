package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// QoS is the MQTT Quality of Service.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// Conn is one broker connection. It tracks its subscriptions and restores
// them after a reconnect.
type Conn struct {
	cm *autopaho.ConnectionManager

	*ServeMux

	mu            sync.Mutex
	subscriptions []*paho.Subscribe
}

// SubscribeOption is an option for subscribing to a topic.
type SubscribeOption interface {
	apply(*paho.Subscribe)
}

func (qos QoS) apply(sub *paho.Subscribe) {
	for i := range sub.Subscriptions {
		sub.Subscriptions[i].QoS = byte(qos)
	}
}

// Subscribe subscribes to a topic. The subscription is remembered and
// re-established after a reconnect.
func (conn *Conn) Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) error {
	s := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic}},
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	if _, err := conn.cm.Subscribe(ctx, s); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	conn.mu.Lock()
	conn.subscriptions = append(conn.subscriptions, s)
	conn.mu.Unlock()
	return nil
}

// Unsubscribe unsubscribes from a topic and forgets it.
func (conn *Conn) Unsubscribe(ctx context.Context, topic string) error {
	conn.mu.Lock()
	kept := conn.subscriptions[:0]
	for _, s := range conn.subscriptions {
		if s.Subscriptions[0].Topic != topic {
			kept = append(kept, s)
		}
	}
	conn.subscriptions = kept
	conn.mu.Unlock()

	_, err := conn.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

// resubscribe replays the tracked subscriptions on a fresh connection.
func (conn *Conn) resubscribe() {
	conn.mu.Lock()
	subscriptions := append([]*paho.Subscribe(nil), conn.subscriptions...)
	conn.mu.Unlock()

	for _, s := range subscriptions {
		go func(s *paho.Subscribe) {
			if _, err := conn.cm.Subscribe(context.Background(), s); err != nil {
				slog.Error("mqtt resubscribe failed", "topic", s.Subscriptions[0].Topic, "error", err)
			}
		}(s)
	}
}

// WriteOption is an option for publishing a message.
type WriteOption interface {
	applyToPublish(*paho.Publish)
}

func (qos QoS) applyToPublish(pub *paho.Publish) {
	pub.QoS = byte(qos)
}

type retain struct{}

func (retain) applyToPublish(pub *paho.Publish) {
	pub.Retain = true
}

// WithRetain sets the retain flag of the message.
func WithRetain() WriteOption {
	return retain{}
}

// WriteToTopic publishes b to the topic with QoS 0 unless overridden.
func (conn *Conn) WriteToTopic(ctx context.Context, b []byte, topic string, opts ...WriteOption) error {
	pub := &paho.Publish{
		Topic:   topic,
		Payload: b,
	}
	for _, opt := range opts {
		opt.applyToPublish(pub)
	}
	_, err := conn.cm.Publish(ctx, pub)
	return err
}

// Close disconnects from the broker.
func (conn *Conn) Close() error {
	return conn.cm.Disconnect(context.Background())
}

// TopicWriter binds a Conn to one topic for repeated publishing.
type TopicWriter struct {
	Name    string
	Options []WriteOption
	Conn    *Conn
}

// Publish publishes b to the bound topic.
func (tw *TopicWriter) Publish(ctx context.Context, b []byte) error {
	return tw.Conn.WriteToTopic(ctx, b, tw.Name, tw.Options...)
}
