package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/mqtt"
)

// Source produces roster events until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
}

// StaticSource emits ADDED for each configured mailbox and then idles.
type StaticSource struct {
	Stations []config.StationConfig
}

// Run implements Source.
func (s StaticSource) Run(ctx context.Context, out chan<- Event) error {
	for _, st := range s.Stations {
		select {
		case out <- Event{Type: EventAdded, ID: st.ID, Station: st}:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

// Subscriber is the subset of mqtt.Client the roster source needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTSource turns retained roster documents into events.
//
// The broker redelivers retained documents on every reconnect; an entry
// identical to the one already known is dropped so stations are not
// rebuilt for nothing.
type MQTTSource struct {
	broker Subscriber
	host   string
	qos    byte
	logger Logger

	mu    sync.Mutex
	known map[string]config.StationConfig
}

// NewMQTTSource creates a roster source for host's mailboxes.
func NewMQTTSource(broker Subscriber, host string, qos byte) *MQTTSource {
	return &MQTTSource{
		broker: broker,
		host:   host,
		qos:    qos,
		logger: noopLogger{},
		known:  make(map[string]config.StationConfig),
	}
}

// SetLogger sets the logger for malformed documents.
func (s *MQTTSource) SetLogger(logger Logger) {
	s.logger = logger
}

// Run implements Source. Events are sent from the MQTT client's handler
// goroutine, which blocks until the directory takes them.
func (s *MQTTSource) Run(ctx context.Context, out chan<- Event) error {
	topic := mqtt.Topics{}.HostMailboxes(s.host)

	handler := func(topic string, payload []byte) error {
		ev, ok, err := s.translate(topic, payload)
		if err != nil || !ok {
			return err
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
		return nil
	}

	if err := s.broker.Subscribe(topic, s.qos, handler); err != nil {
		return fmt.Errorf("subscribing to roster: %w", err)
	}
	s.logger.Info("watching roster", "topic", topic)

	<-ctx.Done()
	if err := s.broker.Unsubscribe(topic); err != nil {
		s.logger.Debug("roster unsubscribe failed", "error", err)
	}
	return nil
}

// translate maps one roster document to an event. ok is false when the
// document changes nothing.
func (s *MQTTSource) translate(topic string, payload []byte) (ev Event, ok bool, err error) {
	id, valid := mqtt.MailboxIDFromTopic(topic)
	if !valid {
		return Event{}, false, fmt.Errorf("unexpected roster topic %q", topic)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.known[id]
	if len(payload) == 0 {
		if !exists {
			return Event{}, false, nil
		}
		delete(s.known, id)
		return Event{Type: EventRemoved, ID: id}, true, nil
	}

	var st config.StationConfig
	if err := json.Unmarshal(payload, &st); err != nil {
		return Event{}, false, fmt.Errorf("decoding roster entry %s: %w", id, err)
	}
	st.ID = id

	if exists && prev == st {
		return Event{}, false, nil
	}
	s.known[id] = st

	typ := EventAdded
	if exists {
		typ = EventModified
	}
	return Event{Type: typ, ID: id, Station: st}, true, nil
}
