package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/transponder/internal/audio"
	"github.com/nerrad567/transponder/internal/mailbox"
	"github.com/nerrad567/transponder/internal/messages"
)

// maxHistoryLimit mirrors the repository's own cap.
const maxHistoryLimit = 500

func (s *Server) handleListStations(w http.ResponseWriter, _ *http.Request) {
	stations := s.stations.Stations()
	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	if stations == nil {
		stations = []mailbox.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stations": stations,
		"count":    len(stations),
	})
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, info := range s.stations.Stations() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeNotFound(w, "station not found")
}

// handleStationHistory lists a mailbox's messages, newest first. The
// mailbox need not be running here: history outlives roster changes.
func (s *Server) handleStationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeBadRequest(w, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	history, err := s.messages.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("listing message history", "mailbox_id", id, "error", err)
		writeInternalError(w, "failed to list messages")
		return
	}
	if history == nil {
		history = []messages.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mailbox_id": id,
		"messages":   history,
		"count":      len(history),
	})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.messages.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, messages.ErrMessageNotFound) {
		writeNotFound(w, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("getting message", "error", err)
		writeInternalError(w, "failed to get message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleMessageAudio streams a message's clip as a WAV file. Reading the
// audio never marks the message read; only playback at the station does.
func (s *Server) handleMessageAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msg, err := s.messages.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, messages.ErrMessageNotFound) {
		writeNotFound(w, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("getting message", "error", err)
		writeInternalError(w, "failed to get message")
		return
	}

	clip, err := s.messages.Clip(ctx, msg.AudioID)
	if errors.Is(err, messages.ErrAudioNotFound) {
		writeNotFound(w, "audio not found")
		return
	}
	if err != nil {
		s.logger.Error("loading clip", "audio_id", msg.AudioID, "error", err)
		writeInternalError(w, "failed to load audio")
		return
	}

	data, err := audio.EncodeWAV(clip.Format, clip.PCM)
	if err != nil {
		s.logger.Error("encoding wav", "audio_id", msg.AudioID, "error", err)
		writeInternalError(w, "failed to encode audio")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+msg.ID+`.wav"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("writing wav response", "message_id", msg.ID, "error", err)
	}
}
