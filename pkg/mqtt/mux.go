// Package mqtt is a thin client layer over paho with automatic reconnect,
// credential injection and resubscription. The device speaks to exactly one
// broker on a small fixed set of topics, so routing is by exact topic name.
package mqtt

import (
	"log/slog"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// Message is one received publish.
type Message = paho.PublishReceived

// Handler is the interface that wraps the HandleMessage method.
type Handler interface {
	HandleMessage(Message) error
}

// HandlerFunc is a function that handles a received publish.
type HandlerFunc func(Message) error

func (f HandlerFunc) HandleMessage(m Message) error {
	return f(m)
}

// ServeMux routes received publishes to handlers by exact topic name.
type ServeMux struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewServeMux returns an empty mux.
func NewServeMux() *ServeMux {
	return &ServeMux{handlers: make(map[string][]Handler)}
}

// Handle registers the handler for the given topic.
func (sm *ServeMux) Handle(topic string, h Handler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers[topic] = append(sm.handlers[topic], h)
}

// HandleFunc registers the handler function for the given topic.
func (sm *ServeMux) HandleFunc(topic string, h HandlerFunc) {
	sm.Handle(topic, h)
}

// HandleMessage dispatches one received publish to the handlers registered
// for its topic. A publish on an unhandled topic is logged and dropped.
func (sm *ServeMux) HandleMessage(m Message) error {
	if m.AlreadyHandled {
		return nil
	}
	sm.mu.RLock()
	handlers := sm.handlers[m.Packet.Topic]
	sm.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("no handler for topic", "topic", m.Packet.Topic)
		return nil
	}
	for _, h := range handlers {
		if err := h.HandleMessage(m); err != nil {
			return err
		}
	}
	return nil
}
