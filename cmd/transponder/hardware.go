package main

import (
	"fmt"

	"github.com/nerrad567/transponder/internal/hardware"
	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/logging"
	"github.com/nerrad567/transponder/internal/infrastructure/mqtt"
)

// hardwareSet is the button and light driver selected by hardware.driver,
// plus the MQTT connection it may own.
type hardwareSet struct {
	buttons hardware.ButtonSource
	lights  hardware.LightSink
	broker  *mqtt.Client
	closers []func() error
}

// Close releases the driver, then any connection it opened.
func (h *hardwareSet) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		_ = h.closers[i]() //nolint:errcheck // Best-effort teardown
	}
}

// openHardware builds the configured driver, connecting to the broker
// when the driver needs it.
func openHardware(cfg *config.Config, log *logging.Logger) (*hardwareSet, error) {
	set := &hardwareSet{}

	switch cfg.Hardware.Driver {
	case config.HardwareDriverSim:
		board := hardware.NewBoard()
		set.buttons, set.lights = board, board
		log.Warn("using simulated hardware; no physical buttons will be read")
	case config.HardwareDriverMQTT:
		broker, err := connectMQTT(cfg.MQTT, log)
		if err != nil {
			return nil, err
		}
		set.broker = broker
		set.closers = append(set.closers, broker.Close)

		panel := hardware.NewPanel(broker, cfg.Host.Name, broker.QoS())
		if err := panel.Start(); err != nil {
			set.Close()
			return nil, fmt.Errorf("starting MQTT panel: %w", err)
		}
		set.closers = append(set.closers, panel.Stop)
		set.buttons, set.lights = panel, panel
	default:
		return nil, fmt.Errorf("unknown hardware driver %q", cfg.Hardware.Driver)
	}
	return set, nil
}

// connectMQTT connects to the broker and logs connection changes.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttLog := log.Component("mqtt")
	client.SetLogger(mqttLog)
	client.SetOnConnect(func() {
		mqttLog.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		mqttLog.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}
