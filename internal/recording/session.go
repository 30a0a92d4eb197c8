// Package recording coordinates audio recording sessions for live calls:
// claiming a channel, driving the capture agent, and running the
// capture, transcode and upload pipeline when a session stops.
package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/memharbor/callcoord/internal/capture"
	"github.com/memharbor/callcoord/internal/naming"
)

// State is the lifecycle state of a recording session.
type State string

const (
	// StateJoining means the channel is claimed but the capture agent has
	// not confirmed the join yet.
	StateJoining State = "joining"

	// StateRecording means audio is being captured.
	StateRecording State = "recording"

	// StateStopping means a stop claimed the session and the pipeline is
	// running. The session is no longer in the registry.
	StateStopping State = "stopping"
)

// Session is one recording session. Fields are written only by the
// registry while it holds its lock; callers receive copies.
type Session struct {
	SID         string
	Channel     string
	UID         int
	Participant naming.Participant
	State       State
	StartedAt   time.Time

	handle capture.Handle
}

var (
	// ErrNotRecording is returned when a stop or status request references
	// no active session.
	ErrNotRecording = errors.New("no active recording for reference")

	// ErrSessionStarting is returned when a stop races a start that has
	// not finished joining the channel yet.
	ErrSessionStarting = errors.New("recording session still starting")
)

// ConflictError reports a start attempt on a channel that already has an
// active session.
type ConflictError struct {
	SID     string
	Channel string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("channel %s already has recording session %s", e.Channel, e.SID)
}

// Registry tracks active sessions and enforces one session per channel.
// The claim is taken before the capture agent is contacted, so two
// concurrent starts for the same channel resolve before any agent work
// happens: the loser observes the winner's claim even while the winner is
// still joining.
type Registry struct {
	mu        sync.Mutex
	byChannel map[string]*Session
	bySID     map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byChannel: make(map[string]*Session),
		bySID:     make(map[string]*Session),
	}
}

// Claim registers a new Joining session for the channel. Returns a
// ConflictError naming the existing session if the channel is taken.
func (r *Registry) Claim(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byChannel[sess.Channel]; ok {
		return &ConflictError{SID: existing.SID, Channel: existing.Channel}
	}

	sess.State = StateJoining
	r.byChannel[sess.Channel] = sess
	r.bySID[sess.SID] = sess
	return nil
}

// CompleteJoin attaches the capture handle and moves the session to
// Recording. No-op if the session was removed while joining.
func (r *Registry) CompleteJoin(sid string, handle capture.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.bySID[sid]; ok {
		sess.handle = handle
		sess.State = StateRecording
	}
}

// AbortJoin removes a session whose agent join failed.
func (r *Registry) AbortJoin(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.bySID[sid]; ok {
		delete(r.byChannel, sess.Channel)
		delete(r.bySID, sid)
	}
}

// ClaimStop removes the session referenced by sid or channel from the
// registry and returns it with its capture handle, marked Stopping.
// Exactly one of two concurrent stops gets the session; the other gets
// ErrNotRecording. A session still joining yields ErrSessionStarting and
// stays registered.
func (r *Registry) ClaimStop(sid, channel string) (*Session, capture.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sess *Session
	if sid != "" {
		sess = r.bySID[sid]
	} else if channel != "" {
		sess = r.byChannel[channel]
	}
	if sess == nil {
		return nil, nil, ErrNotRecording
	}
	if sess.State == StateJoining {
		return nil, nil, ErrSessionStarting
	}

	delete(r.byChannel, sess.Channel)
	delete(r.bySID, sess.SID)
	sess.State = StateStopping

	cp := *sess
	cp.handle = nil
	return &cp, sess.handle, nil
}

// Active returns snapshots of all registered sessions, newest first.
func (r *Registry) Active() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.bySID))
	for _, sess := range r.bySID {
		cp := *sess
		cp.handle = nil
		out = append(out, cp)
	}

	// Stable order for API responses.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartedAt.After(out[j-1].StartedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Lookup returns a snapshot of the session for sid or channel, or
// ErrNotRecording.
func (r *Registry) Lookup(sid, channel string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sess *Session
	if sid != "" {
		sess = r.bySID[sid]
	} else if channel != "" {
		sess = r.byChannel[channel]
	}
	if sess == nil {
		return nil, ErrNotRecording
	}

	cp := *sess
	cp.handle = nil
	return &cp, nil
}
