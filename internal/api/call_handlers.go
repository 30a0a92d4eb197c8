package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/memharbor/callcoord/internal/call"
)

// callRecord is the wire shape of a full call record.
type callRecord struct {
	CallID      string `json:"callId"`
	ChannelName string `json:"channelName"`
	GroupID     string `json:"groupId"`
	CallerID    string `json:"callerId"`
	ReceiverID  string `json:"receiverId"`

	CallerName           string `json:"callerName"`
	GroupNameSnapshot    string `json:"groupNameSnapshot,omitempty"`
	ReceiverNameSnapshot string `json:"receiverNameSnapshot,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`

	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	DurationSec *int       `json:"durationSeconds,omitempty"`

	PushSent     bool   `json:"pushSent"`
	PushPlatform string `json:"pushPlatform"`
}

func toCallRecord(c *call.Call) callRecord {
	return callRecord{
		CallID:               c.CallID,
		ChannelName:          c.ChannelName,
		GroupID:              c.GroupID,
		CallerID:             c.CallerID,
		ReceiverID:           c.ReceiverID,
		CallerName:           c.CallerName,
		GroupNameSnapshot:    c.GroupNameSnapshot,
		ReceiverNameSnapshot: c.ReceiverNameSnapshot,
		Status:               string(c.Status),
		CreatedAt:            c.CreatedAt,
		AnsweredAt:           c.AnsweredAt,
		EndedAt:              c.EndedAt,
		DurationSec:          c.DurationSec,
		PushSent:             c.PushSent,
		PushPlatform:         c.PushPlatform,
	}
}

type inviteRequest struct {
	GroupID              string `json:"group_id"`
	CallerID             string `json:"caller_id"`
	ReceiverID           string `json:"receiver_id"`
	CallerName           string `json:"caller_name"`
	GroupNameSnapshot    string `json:"group_name_snapshot"`
	ReceiverNameSnapshot string `json:"receiver_name_snapshot"`
}

// handleInvite creates a new pending call and pushes the invitation to the
// receiver's device.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var missing []string
	if req.GroupID == "" {
		missing = append(missing, "group_id")
	}
	if req.CallerID == "" {
		missing = append(missing, "caller_id")
	}
	if req.ReceiverID == "" {
		missing = append(missing, "receiver_id")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "missing_fields",
			"required": missing,
		})
		return
	}

	if !validIdentifier(req.GroupID) || !validIdentifier(req.CallerID) || !validIdentifier(req.ReceiverID) {
		writeError(w, http.StatusBadRequest, "invalid_identifier")
		return
	}
	if !validName(req.CallerName) || !validName(req.GroupNameSnapshot) || !validName(req.ReceiverNameSnapshot) {
		writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}

	c, err := s.calls.Invite(r.Context(), call.InviteRequest{
		GroupID:              req.GroupID,
		CallerID:             req.CallerID,
		ReceiverID:           req.ReceiverID,
		CallerName:           req.CallerName,
		GroupNameSnapshot:    req.GroupNameSnapshot,
		ReceiverNameSnapshot: req.ReceiverNameSnapshot,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invite_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"callId":       c.CallID,
		"channelName":  c.ChannelName,
		"pushSent":     c.PushSent,
		"pushPlatform": c.PushPlatform,
	})
}

type answerRequest struct {
	CallID string `json:"call_id"`
	Action string `json:"action"`
}

// handleAnswer accepts or declines a pending call.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "missing_call_id")
		return
	}
	if req.Action != "accept" && req.Action != "decline" {
		writeError(w, http.StatusBadRequest, "invalid_action")
		return
	}

	c, err := s.calls.Answer(r.Context(), req.CallID, req.Action)
	if err != nil {
		s.writeCallError(w, c, err, "call_not_pending")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"callId":      c.CallID,
		"channelName": c.ChannelName,
		"status":      string(c.Status),
	})
}

type callIDRequest struct {
	CallID string `json:"call_id"`
}

// handleCancel terminates a pending call from the caller's side.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req callIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "missing_call_id")
		return
	}

	c, err := s.calls.Cancel(r.Context(), req.CallID)
	if err != nil {
		s.writeCallError(w, c, err, "call_not_pending")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"callId":  c.CallID,
		"status":  string(c.Status),
	})
}

// handleMissed records a client-reported ring timeout.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	var req callIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "missing_call_id")
		return
	}

	c, err := s.calls.Missed(r.Context(), req.CallID)
	if err != nil {
		s.writeCallError(w, c, err, "call_not_pending")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"callId":  c.CallID,
		"status":  string(c.Status),
	})
}

// handleEnd terminates an accepted call and reports its duration.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req callIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "missing_call_id")
		return
	}

	c, err := s.calls.End(r.Context(), req.CallID)
	if err != nil {
		s.writeCallError(w, c, err, "call_not_active")
		return
	}

	duration := 0
	if c.DurationSec != nil {
		duration = *c.DurationSec
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"callId":          c.CallID,
		"status":          string(c.Status),
		"durationSeconds": duration,
	})
}

type sweepRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// handleSweep expires all pending calls older than the given timeout.
// Omitting timeout_seconds sweeps with the configured ring timeout.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_timeout")
		return
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = s.cfg.RingTimeoutSec
	}

	updated, err := s.calls.Sweep(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"timeoutSeconds": req.TimeoutSeconds,
		"updatedCount":   updated,
	})
}

// handleCallStatus returns the full call record.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	c, err := s.calls.Status(r.Context(), callID)
	if err != nil {
		if errors.Is(err, call.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, "call_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, toCallRecord(c))
}

// writeCallError maps state-machine errors to HTTP responses. Guard
// failures return 409 with the call's current status so a retrying client
// can tell whether its own action already landed.
func (s *Server) writeCallError(w http.ResponseWriter, c *call.Call, err error, conflictCode string) {
	switch {
	case errors.Is(err, call.ErrCallNotFound):
		writeError(w, http.StatusNotFound, "call_not_found")
	case errors.Is(err, call.ErrInvalidTransition):
		body := map[string]any{"error": conflictCode}
		if c != nil {
			body["currentStatus"] = string(c.Status)
		}
		writeJSON(w, http.StatusConflict, body)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
