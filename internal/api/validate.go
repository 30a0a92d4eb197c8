package api

import "unicode/utf8"

// maxIdentifierLen bounds group, user and channel identifiers. Identifiers
// end up in channel names and recording file names, so oversized or
// control-character input is rejected before it reaches the core.
const maxIdentifierLen = 128

// maxNameLen bounds display-name snapshots.
const maxNameLen = 200

// validIdentifier reports whether a non-empty identifier is within length
// bounds and free of control characters.
func validIdentifier(value string) bool {
	if value == "" || utf8.RuneCountInString(value) > maxIdentifierLen {
		return false
	}
	return !containsControlChars(value)
}

// validName reports whether an optional display name is acceptable.
func validName(value string) bool {
	if utf8.RuneCountInString(value) > maxNameLen {
		return false
	}
	return !containsControlChars(value)
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
