package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/memharbor/callcoord/internal/naming"
	"github.com/memharbor/callcoord/internal/recording"
)

type recordingStartRequest struct {
	Channel    string `json:"channel"`
	UID        int    `json:"uid"`
	GroupID    string `json:"groupId"`
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
}

// handleRecordingStart claims the channel and joins the capture agent to it.
func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	var req recordingStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	hasTriple := req.GroupID != "" && req.CallerID != "" && req.ReceiverID != ""
	if req.Channel == "" && !hasTriple {
		writeError(w, http.StatusBadRequest, "missing_channel")
		return
	}
	for _, id := range []string{req.Channel, req.GroupID, req.CallerID, req.ReceiverID} {
		if id != "" && !validIdentifier(id) {
			writeError(w, http.StatusBadRequest, "invalid_identifier")
			return
		}
	}

	sess, err := s.recorder.Start(r.Context(), recording.StartRequest{
		Channel: req.Channel,
		GroupID: req.GroupID,
		User1:   req.CallerID,
		User2:   req.ReceiverID,
		UID:     req.UID,
	})
	if err != nil {
		var conflict *recording.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "already_recording",
				"sid":     conflict.SID,
				"channel": conflict.Channel,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "recording_start_failed",
			"message": err.Error(),
		})
		return
	}

	// The name the raw capture will land under once the session stops.
	filename := naming.RecordingBase(sess.Participant, sess.Channel, sess.StartedAt, sess.SID) + ".webm"

	writeJSON(w, http.StatusOK, map[string]any{
		"sid":      sess.SID,
		"channel":  sess.Channel,
		"uid":      sess.UID,
		"filename": filename,
		"status":   "recording",
	})
}

type recordingStopRequest struct {
	SID     string `json:"sid"`
	Channel string `json:"channel"`
}

// stopResponse is the successful stop body: the pipeline result plus a
// terminal status marker.
type stopResponse struct {
	*recording.Result
	Status string `json:"status"`
}

// handleRecordingStop claims the session and runs the stop pipeline.
func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	var req recordingStopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := s.recorder.Stop(r.Context(), req.SID, req.Channel)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stopResponse{Result: res, Status: "stopped"})
	case errors.Is(err, recording.ErrNotRecording):
		writeError(w, http.StatusNotFound, "session_not_found")
	case errors.Is(err, recording.ErrSessionStarting):
		writeError(w, http.StatusConflict, "session_starting")
	case errors.Is(err, recording.ErrEmptyCapture):
		// The capture produced no audio; the session is gone but there
		// is no artifact to describe.
		writeJSON(w, http.StatusOK, map[string]any{
			"sid":     req.SID,
			"channel": req.Channel,
			"status":  "stopped",
			"empty":   true,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "recording_stop_failed",
			"message": err.Error(),
		})
	}
}

// handleSessions lists the active recording sessions, newest first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	type wireSession struct {
		SID       string    `json:"sid"`
		Channel   string    `json:"channel"`
		UID       int       `json:"uid"`
		StartedAt time.Time `json:"startedAt"`
	}

	active := s.recorder.Sessions()
	sessions := make([]wireSession, 0, len(active))
	for _, sess := range active {
		sessions = append(sessions, wireSession{
			SID:       sess.SID,
			Channel:   sess.Channel,
			UID:       sess.UID,
			StartedAt: sess.StartedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleRecordings lists finished recording files on disk, newest first.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	entries, err := recording.ListDir(s.cfg.RecordingsDir())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing_failed")
		return
	}

	type wireRecording struct {
		Filename          string    `json:"filename"`
		Format            string    `json:"format"`
		Size              int64     `json:"size"`
		CreatedAt         time.Time `json:"createdAt"`
		EstimatedDuration int64     `json:"estimatedDuration"`
	}

	recordings := make([]wireRecording, 0, len(entries))
	for _, e := range entries {
		recordings = append(recordings, wireRecording{
			Filename:          e.Filename,
			Format:            e.Format,
			Size:              e.SizeBytes,
			CreatedAt:         e.ModifiedAt,
			EstimatedDuration: e.DurationMS,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"recordings": recordings})
}
