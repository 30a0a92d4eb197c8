// Package capture abstracts the audio capture agent: an external process
// that joins a call channel as a silent participant, records the mixed
// audio, and hands the buffered payload back when the session stops. The
// coordinator only ever talks to the agent's HTTP API; it never touches
// the media path itself.
package capture

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by the fallback capability when no capture
// agent endpoint was configured.
var ErrNotConfigured = errors.New("capture agent not configured")

// JoinOptions tunes how the agent joins a channel.
type JoinOptions struct {
	// UID is the numeric identity the agent joins the channel with.
	// Zero lets the agent pick one.
	UID int
}

// Handle is one live capture on the agent. StopAndRetrieve and Close are
// distinct because a failed retrieval must still release the agent's seat
// in the channel.
type Handle interface {
	// StopAndRetrieve stops capturing and returns the full buffered audio
	// payload. It may be called at most once.
	StopAndRetrieve(ctx context.Context) ([]byte, error)

	// Close releases the agent-side resources for this capture. Safe to
	// call after StopAndRetrieve, and required if it was never called.
	Close(ctx context.Context) error
}

// Capability starts captures. Implementations must allow concurrent Join
// calls for distinct channels.
type Capability interface {
	Join(ctx context.Context, channel string, opts JoinOptions) (Handle, error)
}

// Unconfigured is the Capability used when no agent endpoint is set:
// every Join fails with ErrNotConfigured so recording start requests get
// a clean error instead of a dial failure.
type Unconfigured struct{}

func (Unconfigured) Join(context.Context, string, JoinOptions) (Handle, error) {
	return nil, ErrNotConfigured
}
