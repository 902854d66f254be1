package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/transponder/internal/audit"
	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/logging"
	"github.com/nerrad567/transponder/internal/mailbox"
	"github.com/nerrad567/transponder/internal/messages"
	"github.com/nerrad567/transponder/internal/process"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StationLister reports the stations currently running on this host.
type StationLister interface {
	Stations() []mailbox.Info
}

// StationsFunc adapts a function to StationLister.
type StationsFunc func() []mailbox.Info

// Stations calls f.
func (f StationsFunc) Stations() []mailbox.Info { return f() }

// MessageReader is the read side of the message repository.
type MessageReader interface {
	History(ctx context.Context, mailboxID string, limit int) ([]messages.Message, error)
	Get(ctx context.Context, messageID string) (messages.Message, error)
	Clip(ctx context.Context, audioID string) (messages.Clip, error)
}

// UploadQueue exposes uploads that exhausted their retries.
type UploadQueue interface {
	Failed() []mailbox.FailedUpload
	Retry(ctx context.Context, id string) error
}

// VersionReporter reports the running and most recently published versions.
type VersionReporter interface {
	Running() string
	Latest() string
}

// CaptureReporter reports the audio capture process.
type CaptureReporter interface {
	Stats() process.Stats
}

// AuditLog reads and appends operator history.
type AuditLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
	UploadRetried(id, subject string, err error)
}

// HealthChecker is implemented by dependencies the health endpoint checks.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Host     string

	Stations StationLister
	Messages MessageReader
	Uploads  UploadQueue

	// Optional.
	Version  VersionReporter
	Capture  CaptureReporter
	Database HealthChecker
	Audit    AuditLog

	// Hub is shared with the event hooks wired at startup. When nil the
	// server creates and runs its own.
	Hub *Hub
}

// Server is the operator HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	host     string
	stations StationLister
	messages MessageReader
	uploads  UploadQueue
	version  VersionReporter
	capture  CaptureReporter
	database HealthChecker
	audit    AuditLog
	server   *http.Server
	hub      *Hub
	ownHub   bool
	started  time.Time
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, stations, messages, uploads)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Stations == nil {
		return nil, fmt.Errorf("station lister is required")
	}
	if deps.Messages == nil {
		return nil, fmt.Errorf("message reader is required")
	}
	if deps.Uploads == nil {
		return nil, fmt.Errorf("upload queue is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger.Component("api"),
		host:     deps.Host,
		stations: deps.Stations,
		messages: deps.Messages,
		uploads:  deps.Uploads,
		version:  deps.Version,
		capture:  deps.Capture,
		database: deps.Database,
		audit:    deps.Audit,
		hub:      deps.Hub,
		started:  time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		s.ownHub = true
	}
	return s, nil
}

// Hub returns the WebSocket hub events are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listen address and serves in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the server's own hub
//
// Returns:
//   - error: If the address cannot be bound; later serve errors are logged
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
