package depot

import "strings"

// RefKind says whether a user identifier is a username or an email address.
type RefKind int

const (
	ByUsername RefKind = iota
	ByEmail
)

// UserRef is a user identifier tagged with how it should be resolved.
// The email/username distinction is decided exactly once, here; nothing
// downstream re-inspects the raw string.
type UserRef struct {
	Kind  RefKind
	Value string
}

// ParseUserRef classifies an identifier from user input. Identifiers
// containing '@' are treated as email addresses, everything else as a
// username. Both are lowercased and trimmed the way the store keys them.
func ParseUserRef(identifier string) UserRef {
	v := strings.TrimSpace(strings.ToLower(identifier))
	if strings.Contains(v, "@") {
		return UserRef{Kind: ByEmail, Value: v}
	}
	return UserRef{Kind: ByUsername, Value: v}
}
