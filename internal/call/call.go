// Package call implements the lifecycle state machine for two-party voice
// calls: invitation, answer/decline, cancellation, ring timeout and
// termination. State transitions are compare-and-swap operations against a
// Store so that concurrent requests and timer callbacks cannot race a call
// into an inconsistent state.
package call

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusMissed    Status = "missed"
	StatusEnded     Status = "ended"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusMissed, StatusEnded:
		return true
	}
	return false
}

// Push platforms recorded on a call after an invite's push attempt.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformNone    = "none"
)

// Call is one call record. Records are created by invite, mutated only
// through guarded transitions, and never deleted — terminal calls are kept
// for historical queries.
type Call struct {
	CallID      string
	ChannelName string
	GroupID     string
	CallerID    string
	ReceiverID  string

	// Display-name snapshots taken at invite time. Free-form, not
	// validated against any identity system.
	CallerName           string
	GroupNameSnapshot    string
	ReceiverNameSnapshot string

	Status    Status
	CreatedAt time.Time

	// AnsweredAt is set when the receiver accepts or declines.
	// EndedAt is set only when an accepted call ends.
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	DurationSec *int

	PushSent     bool
	PushPlatform string
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (c *Call) Clone() *Call {
	cp := *c
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		cp.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	if c.DurationSec != nil {
		d := *c.DurationSec
		cp.DurationSec = &d
	}
	return &cp
}

var (
	// ErrCallNotFound is returned when no call exists for the given id.
	ErrCallNotFound = errors.New("call not found")

	// ErrInvalidTransition is returned when the state machine rejects a
	// transition, including any transition attempted on a terminal call.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrDuplicateCall is returned by stores when inserting an id that
	// already exists.
	ErrDuplicateCall = errors.New("call id already exists")
)
