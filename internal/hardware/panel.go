package hardware

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/transponder/internal/infrastructure/mqtt"
)

// Broker is the subset of mqtt.Client the panel needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Panel drives a remote button/light panel over MQTT.
//
// The panel publishes transponder/panel/{host}/button/{pin} with "1" or
// "0" on every edge; Panel caches the latest value per pin. Lights are
// set by publishing {"r","g","b"} to transponder/panel/{host}/light/{index}.
// Light messages are retained so a restarted panel shows current state.
type Panel struct {
	broker Broker
	host   string
	qos    byte

	mu      sync.RWMutex
	pressed map[int]bool
}

// NewPanel creates a panel driver for host. Call Start before polling.
func NewPanel(broker Broker, host string, qos byte) *Panel {
	return &Panel{
		broker:  broker,
		host:    host,
		qos:     qos,
		pressed: make(map[int]bool),
	}
}

// Start subscribes to the panel's button topics.
func (p *Panel) Start() error {
	if err := p.broker.Subscribe(mqtt.Topics{}.PanelButtons(p.host), p.qos, p.handleButton); err != nil {
		return fmt.Errorf("subscribing to panel buttons: %w", err)
	}
	return nil
}

// Stop unsubscribes from the button topics.
func (p *Panel) Stop() error {
	return p.broker.Unsubscribe(mqtt.Topics{}.PanelButtons(p.host))
}

func (p *Panel) handleButton(topic string, payload []byte) error {
	pin, ok := mqtt.PinFromButtonTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected button topic %q", topic)
	}

	var pressed bool
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on", "pressed":
		pressed = true
	case "0", "false", "off", "released":
		pressed = false
	default:
		return fmt.Errorf("unexpected button payload %q on %s", payload, topic)
	}

	p.mu.Lock()
	p.pressed[pin] = pressed
	p.mu.Unlock()
	return nil
}

// IsPressed implements ButtonSource. Pins never reported read as released.
func (p *Panel) IsPressed(pin int) (bool, error) {
	if pin < 0 {
		return false, fmt.Errorf("%w: pin %d", ErrInvalidPin, pin)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pressed[pin], nil
}

// SetColor implements LightSink.
func (p *Panel) SetColor(index int, color RGB) error {
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrInvalidPin, index)
	}
	payload, err := json.Marshal(color)
	if err != nil {
		return fmt.Errorf("encoding colour: %w", err)
	}
	return p.broker.Publish(mqtt.Topics{}.PanelLight(p.host, index), payload, p.qos, true)
}
