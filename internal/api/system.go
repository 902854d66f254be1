package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/transponder/internal/process"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// VersionStatus reports the running build against the published marker.
type VersionStatus struct {
	Running       string `json:"running"`
	Latest        string `json:"latest,omitempty"`
	UpdatePending bool   `json:"update_pending"`
}

// SystemStatus is the response body of GET /system.
type SystemStatus struct {
	Host           string         `json:"host"`
	Uptime         string         `json:"uptime"`
	Version        *VersionStatus `json:"version,omitempty"`
	Capture        *process.Stats `json:"capture,omitempty"`
	Stations       int            `json:"stations"`
	FailedUploads  int            `json:"failed_uploads"`
	WebSocketConns int            `json:"websocket_clients"`
}

// handleHealth reports liveness plus the database check. It answers 503
// when the database is unreachable so supervisors can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "dependency", "database", "error", err)
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	body := map[string]any{
		"status": "ok",
		"checks": checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if s.version != nil {
		body["version"] = s.version.Running()
	}
	writeJSON(w, status, body)
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	resp := SystemStatus{
		Host:           s.host,
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Stations:       len(s.stations.Stations()),
		FailedUploads:  len(s.uploads.Failed()),
		WebSocketConns: s.hub.ClientCount(),
	}
	if s.version != nil {
		v := VersionStatus{Running: s.version.Running(), Latest: s.version.Latest()}
		v.UpdatePending = v.Latest != "" && v.Latest != v.Running
		resp.Version = &v
	}
	if s.capture != nil {
		stats := s.capture.Stats()
		resp.Capture = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}
