package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/transponder/internal/api"
	"github.com/nerrad567/transponder/internal/audio"
	"github.com/nerrad567/transponder/internal/audit"
	"github.com/nerrad567/transponder/internal/directory"
	"github.com/nerrad567/transponder/internal/hardware"
	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/database"
	"github.com/nerrad567/transponder/internal/infrastructure/influxdb"
	"github.com/nerrad567/transponder/internal/infrastructure/logging"
	"github.com/nerrad567/transponder/internal/infrastructure/mqtt"
	"github.com/nerrad567/transponder/internal/mailbox"
	"github.com/nerrad567/transponder/internal/messages"
	"github.com/nerrad567/transponder/internal/ota"
	_ "github.com/nerrad567/transponder/migrations"
)

// uploadDrainTimeout bounds how long shutdown waits for in-flight uploads.
const uploadDrainTimeout = 10 * time.Second

// rosterBuffer is the capacity of the roster event channel.
const rosterBuffer = 16

// errRestartRequested ends serve when a newer release is published.
var errRestartRequested = errors.New("restart requested for new version")

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mailbox stations (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe loads configuration and runs the appliance until ctx ends.
func runServe(ctx context.Context, opts *rootOptions) error {
	log := logging.Default()
	log.Info("starting transponder",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version, cfg.Host.Name)
	log.Info("configuration loaded",
		"path", path,
		"level", cfg.Logging.Level,
		"hardware", cfg.Hardware.Driver,
		"directory", cfg.Directory.Source,
	)

	return serve(ctx, cfg, log)
}

// serve wires every component and blocks until ctx is cancelled, a
// component fails, or a restart is requested.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - cfg: Validated configuration
//   - log: Configured logger
//
// Returns:
//   - error: nil on clean shutdown, errRestartRequested for a new release
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error { //nolint:gocognit,gocyclo // Linear startup sequence
	// Database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	encoding := audio.EncodingRaw
	if cfg.Audio.Compress {
		encoding = audio.EncodingZstd
	}
	repo := messages.NewSQLiteRepository(db, encoding)
	store := messages.NewStore(repo)
	store.SetLogger(log.Component("messages"))

	history := audit.NewRecorder(audit.NewSQLiteRepository(db))
	history.SetLogger(log.Component("audit"))

	// Telemetry (optional)
	var metrics mailbox.Metrics = mailbox.NopMetrics{}
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Host.Name)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Buttons and lights
	hw, err := openHardware(cfg, log)
	if err != nil {
		return err
	}
	defer hw.Close()

	broker := hw.broker
	if broker == nil && needsBroker(cfg) {
		if broker, err = connectMQTT(cfg.MQTT, log); err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// Boot spinner until the first station takes the lights.
	spinCtx, stopSpin := context.WithCancel(ctx)
	spinDone := make(chan struct{})
	go func() {
		defer close(spinDone)
		hardware.Spin(spinCtx, hw.lights, cfg.Hardware.PixelCount, cfg.Hardware.SpinnerInterval)
	}()
	stopSpinner := func() {
		stopSpin()
		<-spinDone
	}
	defer stopSpinner()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	store.SetOnDeliver(hub.MessageDelivered)

	// Any return before the final Wait stops the group first, so nothing
	// it started outlives the deferred closes above.
	runCtx, cancelRun := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	waited := false
	defer func() {
		cancelRun()
		if !waited {
			g.Wait() //nolint:errcheck // Already returning an error
		}
	}()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	// Audio capture
	format := audio.Mono16(cfg.Audio.SampleRate)
	broadcaster := audio.NewBroadcaster(cfg.Audio.ChunkBytes)
	capture := audio.NewCapture(cfg.Audio.Capture, broadcaster, log.Component("capture"))
	g.Go(func() error {
		if err := capture.Run(gctx); err != nil {
			return fmt.Errorf("audio capture: %w", err)
		}
		return nil
	})
	sessions := mailbox.NewSessions(broadcaster, format, mailbox.RealClock{})

	// Uploads
	uploader := mailbox.NewUploader(store, mailbox.UploadConfig{
		Host:     cfg.Host.Name,
		Attempts: cfg.Mailbox.UploadAttempts,
		Backoff:  cfg.Mailbox.UploadBackoff,
	}, mailbox.RealClock{})
	uploader.SetLogger(log.Component("uploader"))
	uploader.SetMetrics(metrics)
	uploader.SetOnFailed(func(f mailbox.FailedUpload) {
		hub.UploadFailed(f)
		history.UploadFailed(f)
	})

	player := audio.CommandPlayer{Binary: cfg.Audio.Playback.Binary, Args: cfg.Audio.Playback.Args}

	// Stations
	dir := directory.New(func(sc config.StationConfig) (directory.Instance, error) {
		st, err := mailbox.NewStation(sc, cfg.Mailbox, mailbox.Deps{
			Buttons:       hw.buttons,
			Lights:        hw.lights,
			Store:         store,
			Sessions:      sessions,
			Uploads:       uploader,
			Player:        player,
			Clock:         mailbox.RealClock{},
			Logger:        log.Component("station").With("mailbox_id", sc.ID),
			Metrics:       metrics,
			Gain:          cfg.Audio.Gain,
			OnStateChange: hub.StationStateChanged,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	dir.SetLogger(log.Component("directory"))
	dir.SetOnFirstStart(stopSpinner)
	dir.SetOnApplied(history.RosterChanged)

	source, err := rosterSource(cfg, broker, log)
	if err != nil {
		return err
	}
	events := make(chan directory.Event, rosterBuffer)
	g.Go(func() error {
		if err := source.Run(gctx, events); err != nil {
			return fmt.Errorf("roster source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return dir.Run(gctx, events)
	})

	// Version watch
	var versions api.VersionReporter
	if cfg.Version.Watch {
		running := ota.RunningVersion(ctx, cfg.Version.Running, version, ".")
		watcher := ota.NewWatcher(broker, running, broker.QoS())
		watcher.SetLogger(log.Component("ota"))
		watcher.SetOnChange(func(running, latest string) {
			hub.VersionChanged(running, latest)
			history.VersionChanged(running, latest)
		})
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("starting version watch: %w", err)
		}
		defer func() {
			if stopErr := watcher.Stop(); stopErr != nil {
				log.Warn("error stopping version watch", "error", stopErr)
			}
		}()
		versions = watcher
		log.Info("watching for new releases", "running", running)

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-watcher.RestartRequested():
				log.Info("new release published, restarting", "running", running, "latest", watcher.Latest())
				return errRestartRequested
			}
		})
	}

	// Operator API (optional)
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Host:     cfg.Host.Name,
			Stations: api.StationsFunc(func() []mailbox.Info { return stationInfos(dir) }),
			Messages: repo,
			Uploads:  uploader,
			Version:  versions,
			Capture:  capture,
			Database: db,
			Audit:    history,
			Hub:      hub,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, broker); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	// Directory.Run stops every station before returning, so recordings
	// in progress are submitted before the uploader drains.
	runErr := g.Wait()
	waited = true
	log.Info("stations stopped, draining uploads")

	drainCtx, cancel := context.WithTimeout(context.Background(), uploadDrainTimeout)
	defer cancel()
	if err := uploader.Shutdown(drainCtx); err != nil {
		log.Error("uploads still pending at shutdown", "error", err, "failed", len(uploader.Failed()))
	}
	for _, f := range uploader.Failed() {
		log.Error("recording lost at shutdown",
			"recording", f.Recording.ID,
			"initiator", f.Recording.Initiator,
			"bytes", f.Bytes,
			"last_error", f.LastError,
		)
	}

	if runErr != nil {
		return runErr
	}
	log.Info("transponder stopped")
	return nil
}

// needsBroker reports whether anything besides the hardware driver uses MQTT.
func needsBroker(cfg *config.Config) bool {
	return cfg.Directory.Source == config.DirectorySourceMQTT || cfg.Version.Watch
}

// rosterSource builds the configured directory source.
func rosterSource(cfg *config.Config, broker *mqtt.Client, log *logging.Logger) (directory.Source, error) {
	switch cfg.Directory.Source {
	case config.DirectorySourceStatic:
		return directory.StaticSource{Stations: cfg.Directory.Mailboxes}, nil
	case config.DirectorySourceMQTT:
		src := directory.NewMQTTSource(broker, cfg.Host.Name, broker.QoS())
		src.SetLogger(log.Component("roster"))
		return src, nil
	default:
		return nil, fmt.Errorf("unknown directory source %q", cfg.Directory.Source)
	}
}

// stationInfos snapshots every running station for the operator API.
func stationInfos(dir *directory.Directory) []mailbox.Info {
	instances := dir.List()
	infos := make([]mailbox.Info, 0, len(instances))
	for _, inst := range instances {
		if st, ok := inst.(interface{ Info() mailbox.Info }); ok {
			infos = append(infos, st.Info())
		}
	}
	return infos
}

// healthCheck verifies the connections serve depends on.
func healthCheck(ctx context.Context, db *database.DB, broker *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if broker != nil {
		if err := broker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
