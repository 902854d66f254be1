package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/transponder/internal/hardware"
	"github.com/nerrad567/transponder/internal/infrastructure/logging"
)

// scanPins is the GPIO range the diagnostic polls.
const scanPins = 27

func newButtonsCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "buttons",
		Short: "Log button presses on every pin",
		Long: `Poll pins 0-26 and print each press. Use it to find which pin a
physical button is wired to before adding the station to the roster.
Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version, cfg.Host.Name)
			// Never take over the running service's MQTT session.
			cfg.MQTT.Broker.ClientID += "-buttons"
			if interval <= 0 {
				interval = cfg.Mailbox.Tick
			}

			hw, err := openHardware(cfg, log)
			if err != nil {
				return err
			}
			defer hw.Close()

			pins := make([]int, scanPins)
			for i := range pins {
				pins[i] = i
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scanning pins 0-%d every %v (driver %s)\n", scanPins-1, interval, cfg.Hardware.Driver)
			return hardware.Scan(cmd.Context(), hw.buttons, pins, interval, func(pin int) {
				fmt.Fprintf(out, "button pressed: pin %d\n", pin)
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default mailbox.tick)")
	return cmd
}
