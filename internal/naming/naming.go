// Package naming derives deterministic channel names and recording file
// names from caller/receiver/group identifiers and timestamps. It is the
// only convention shared between the call lifecycle manager and the
// recording session registry.
package naming

import (
	"fmt"
	"strings"
	"time"
)

// recordingTimeLayout formats timestamps for recording file names. Colons
// are replaced with dashes so the name is safe on every filesystem.
const recordingTimeLayout = "2006-01-02T15-04-05"

// recordingLocation is the wall-clock zone used in recording file names.
// Falls back to UTC if the zone database is unavailable.
var recordingLocation = loadLocation("America/New_York")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Participant identifies the two parties of a recorded call within a group.
// User1 is the caller, User2 the receiver. All fields may be empty when a
// recording was started with only a raw channel name.
type Participant struct {
	GroupID string
	User1   string
	User2   string
}

// Complete reports whether all three identifiers are present.
func (p Participant) Complete() bool {
	return p.GroupID != "" && p.User1 != "" && p.User2 != ""
}

// ChannelName derives the call channel name as
// {groupId}_{callerId}_{receiverId}_{epochMillis}. The millisecond
// timestamp combined with the caller/receiver pair bounds the collision
// probability.
func ChannelName(groupID, callerID, receiverID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d", groupID, callerID, receiverID, now.UnixMilli())
}

// RecordingBase derives the extension-less base name for a recording's
// artifacts. When the participant triple is complete the name is
// {groupId}_{user1}_{user2}_{timestamp}_{sid8}; otherwise it falls back to
// {channel}_{timestamp}_{sid8}. The session-id suffix disambiguates two
// starts for the same triple within the same second.
func RecordingBase(p Participant, channel string, now time.Time, sessionID string) string {
	ts := now.In(recordingLocation).Format(recordingTimeLayout)

	prefix := Sanitize(channel)
	if p.Complete() {
		prefix = fmt.Sprintf("%s_%s_%s",
			Sanitize(p.GroupID), Sanitize(p.User1), Sanitize(p.User2))
	}

	sid := sessionID
	if len(sid) > 8 {
		sid = sid[:8]
	}

	return fmt.Sprintf("%s_%s_%s", prefix, ts, sid)
}

// Sanitize strips characters that are unsafe in file names from an
// identifier. Path separators, dots and whitespace are replaced with dashes.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
