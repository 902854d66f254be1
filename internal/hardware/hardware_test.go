package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/transponder/internal/infrastructure/mqtt"
)

func TestBoard(t *testing.T) {
	b := NewBoard()

	if pressed, err := b.IsPressed(4); err != nil || pressed {
		t.Fatalf("IsPressed(4) = %v, %v; want false, nil", pressed, err)
	}

	b.Press(4)
	if pressed, _ := b.IsPressed(4); !pressed {
		t.Error("IsPressed(4) = false after Press")
	}
	b.Release(4)
	if pressed, _ := b.IsPressed(4); pressed {
		t.Error("IsPressed(4) = true after Release")
	}

	if err := b.SetColor(2, ColorRecording); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if b.Color(2) != ColorRecording {
		t.Errorf("Color(2) = %v, want %v", b.Color(2), ColorRecording)
	}
	if b.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", b.Writes())
	}

	if _, err := b.IsPressed(-1); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("IsPressed(-1) error = %v, want ErrInvalidPin", err)
	}

	fault := errors.New("gpio read")
	b.FailReads(fault)
	if _, err := b.IsPressed(4); !errors.Is(err, fault) {
		t.Errorf("IsPressed() error = %v, want injected fault", err)
	}
}

func TestRGBString(t *testing.T) {
	if got := ColorAuth.String(); got != "#000080" {
		t.Errorf("ColorAuth.String() = %q, want #000080", got)
	}
}

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, string(payload), retained})
	return nil
}

func (f *fakeBroker) deliver(t *testing.T, pattern, topic, payload string) error {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[pattern]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", pattern)
	}
	return h(topic, []byte(payload))
}

func TestPanel(t *testing.T) {
	broker := newFakeBroker()
	p := NewPanel(broker, "hall", 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pattern := mqtt.Topics{}.PanelButtons("hall")

	if err := broker.deliver(t, pattern, mqtt.Topics{}.PanelButton("hall", 17), "1"); err != nil {
		t.Fatalf("button press error = %v", err)
	}
	if pressed, _ := p.IsPressed(17); !pressed {
		t.Error("IsPressed(17) = false after panel reported 1")
	}
	if pressed, _ := p.IsPressed(5); pressed {
		t.Error("unreported pin should read released")
	}

	if err := broker.deliver(t, pattern, mqtt.Topics{}.PanelButton("hall", 17), "0"); err != nil {
		t.Fatalf("button release error = %v", err)
	}
	if pressed, _ := p.IsPressed(17); pressed {
		t.Error("IsPressed(17) = true after panel reported 0")
	}

	if err := broker.deliver(t, pattern, mqtt.Topics{}.PanelButton("hall", 17), "maybe"); err == nil {
		t.Error("unexpected payload should be rejected")
	}

	if err := p.SetColor(3, ColorAuth); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if len(broker.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(broker.published))
	}
	msg := broker.published[0]
	if msg.topic != "transponder/panel/hall/light/3" || !msg.retained {
		t.Errorf("published %+v", msg)
	}
	var got RGB
	if err := json.Unmarshal([]byte(msg.payload), &got); err != nil || got != ColorAuth {
		t.Errorf("payload %q decoded to %v (%v)", msg.payload, got, err)
	}

	if err := p.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if len(broker.handlers) != 0 {
		t.Error("Stop() should unsubscribe")
	}
}

func TestSpin(t *testing.T) {
	b := NewBoard()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Spin(ctx, b, 4, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Writes() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	for i := 0; i < 4; i++ {
		if b.Color(i) != ColorOff {
			t.Errorf("light %d = %v after Spin, want off", i, b.Color(i))
		}
	}
	if b.Writes() < 10 {
		t.Errorf("Spin wrote %d times, expected animation", b.Writes())
	}
}

func TestScan(t *testing.T) {
	b := NewBoard()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presses := make(chan int, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Scan(ctx, b, []int{2, 3}, time.Millisecond, func(pin int) { presses <- pin })
	}()

	b.Press(3)
	select {
	case pin := <-presses:
		if pin != 3 {
			t.Errorf("pressed pin = %d, want 3", pin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("press not reported")
	}

	// Held buttons are reported once.
	time.Sleep(20 * time.Millisecond)
	select {
	case pin := <-presses:
		t.Errorf("duplicate press for pin %d", pin)
	default:
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Scan() error = %v", err)
	}
}
