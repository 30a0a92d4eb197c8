package recording

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/memharbor/callcoord/internal/capture"
	"github.com/memharbor/callcoord/internal/naming"
)

// StartRequest describes a recording start. Either Channel or the full
// participant triple must be present; when Channel is empty it is derived
// from the triple.
type StartRequest struct {
	Channel string
	GroupID string
	User1   string
	User2   string
	UID     int
}

// Recorder is the recording coordinator: it owns the session registry and
// drives the capture agent and stop pipeline.
type Recorder struct {
	registry   *Registry
	capability capture.Capability
	pipeline   *Pipeline
	logger     *slog.Logger
	now        func() time.Time
}

// NewRecorder creates a recording coordinator.
func NewRecorder(capability capture.Capability, pipeline *Pipeline, logger *slog.Logger) *Recorder {
	return &Recorder{
		registry:   NewRegistry(),
		capability: capability,
		pipeline:   pipeline,
		logger:     logger.With("subsystem", "recorder"),
		now:        time.Now,
	}
}

// Start claims the channel and joins the capture agent to it. The claim is
// taken before the agent is contacted, so a concurrent start for the same
// channel fails fast with a ConflictError naming the winning session. The
// agent join runs outside the registry lock.
func (r *Recorder) Start(ctx context.Context, req StartRequest) (*Session, error) {
	p := naming.Participant{GroupID: req.GroupID, User1: req.User1, User2: req.User2}

	channel := req.Channel
	if channel == "" {
		if !p.Complete() {
			return nil, fmt.Errorf("recording start needs a channel or a full participant triple")
		}
		channel = naming.ChannelName(p.GroupID, p.User1, p.User2, r.now())
	}

	sess := &Session{
		SID:         uuid.NewString(),
		Channel:     channel,
		UID:         req.UID,
		Participant: p,
		StartedAt:   r.now(),
	}

	if err := r.registry.Claim(sess); err != nil {
		return nil, err
	}

	handle, err := r.capability.Join(ctx, channel, capture.JoinOptions{UID: req.UID})
	if err != nil {
		r.registry.AbortJoin(sess.SID)
		return nil, fmt.Errorf("joining channel %s: %w", channel, err)
	}

	r.registry.CompleteJoin(sess.SID, handle)
	r.logger.Info("recording started", "sid", sess.SID, "channel", channel, "uid", req.UID)

	snap, err := r.registry.Lookup(sess.SID, "")
	if err != nil {
		// The session was stopped between join and lookup; report it as
		// recording, the stop path owns it now.
		cp := *sess
		cp.State = StateRecording
		return &cp, nil
	}
	return snap, nil
}

// Stop claims the session referenced by sid or channel and runs the full
// stop pipeline. The session leaves the registry before any slow work, so
// exactly one of two concurrent stops wins and the channel is immediately
// free for a new recording.
func (r *Recorder) Stop(ctx context.Context, sid, channel string) (*Result, error) {
	sess, handle, err := r.registry.ClaimStop(sid, channel)
	if err != nil {
		return nil, err
	}

	r.logger.Info("recording stopping", "sid", sess.SID, "channel", sess.Channel)
	return r.pipeline.Process(ctx, sess, handle)
}

// Sessions returns snapshots of all active sessions, newest first.
func (r *Recorder) Sessions() []Session {
	return r.registry.Active()
}

// Session returns the active session for sid or channel, or ErrNotRecording.
func (r *Recorder) Session(sid, channel string) (*Session, error) {
	return r.registry.Lookup(sid, channel)
}
