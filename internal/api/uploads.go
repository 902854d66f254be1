package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/transponder/internal/mailbox"
)

func (s *Server) handleListFailedUploads(w http.ResponseWriter, _ *http.Request) {
	failed := s.uploads.Failed()
	if failed == nil {
		failed = []mailbox.FailedUpload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uploads": failed,
		"count":   len(failed),
	})
}

// handleRetryUpload redelivers a failed recording synchronously. On
// success the upload leaves the failed list.
func (s *Server) handleRetryUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.uploads.Retry(r.Context(), id)
	if s.audit != nil && !errors.Is(err, mailbox.ErrUploadNotFound) {
		s.audit.UploadRetried(id, subjectOf(r), err)
	}
	switch {
	case errors.Is(err, mailbox.ErrUploadNotFound):
		writeNotFound(w, "failed upload not found")
	case err != nil:
		s.logger.Warn("manual upload retry failed",
			"recording_id", id,
			"subject", subjectOf(r),
			"error", err,
		)
		writeUnavailable(w, "retry failed: "+err.Error())
	default:
		s.logger.Info("manual upload retry delivered", "recording_id", id, "subject", subjectOf(r))
		writeJSON(w, http.StatusOK, map[string]string{
			"id":     id,
			"status": "delivered",
		})
	}
}

func subjectOf(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
