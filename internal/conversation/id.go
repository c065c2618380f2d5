// Package conversation derives canonical conversation identifiers from
// participant pairs. The id of the pair {a, b} is the two user ids in
// lexicographic order joined by Separator, so ID(a, b) == ID(b, a) and the
// participants are always recoverable from the id.
package conversation

import "strings"

// Separator joins the two user ids. User ids must not contain it; ValidUserID
// is the guard callers apply at the boundary. ID(a, a) is undefined and must
// be guarded by the caller as well.
const Separator = "_"

// ID returns the canonical conversation id for the unordered pair {a, b}.
func ID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + Separator + b
}

// ValidUserID reports whether id can take part in conversation ids.
func ValidUserID(id string) bool {
	return id != "" && !strings.Contains(id, Separator)
}

// Participants splits a conversation id back into its two user ids.
// ok is false if id is not a well-formed pair.
func Participants(id string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(id, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// Other returns the participant of id that is not self. ok is false if id is
// malformed or self is not a participant.
func Other(id, self string) (string, bool) {
	a, b, ok := Participants(id)
	if !ok {
		return "", false
	}
	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// IsParticipant reports whether self is one of the two participants of id.
func IsParticipant(id, self string) bool {
	a, b, ok := Participants(id)
	return ok && (self == a || self == b)
}
