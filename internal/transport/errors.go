package transport

import "strings"

// Bot API error substrings that mean the destination is permanently
// unreachable: retrying can never succeed and the chat should be
// dropped from the subscriber set.
var permanentUnreachable = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"the group chat was deleted",
	"chat not found",
	"bot was kicked",
}

// IsPermanentUnreachable reports whether err identifies a destination
// that will never accept messages again.
func IsPermanentUnreachable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range permanentUnreachable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err indicates another consumer holds the
// update stream for the same bot token.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict") &&
		(strings.Contains(msg, "getupdates") || strings.Contains(msg, "terminated by other"))
}
