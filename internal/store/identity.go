package store

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
)

// Backend column limits. Truncation happens BEFORE hashing, so two
// records that differ only beyond a limit collide into one identity.
// That matches the stored data and is deliberate, observed behavior;
// do not "fix" it without a schema version bump.
const (
	MaxChannelLen = 64
	MaxShowLen    = 128
	MaxTitleLen   = 128
)

// Identify computes the stable content identity of a film record:
// the hex md5 of channel + ":" + show + ":" + urlVideo after column
// truncation. It is the film table's primary key, which is what makes
// repeated ingestion of the same feed idempotent.
func Identify(channel, show, urlVideo string) string {
	sum := md5.Sum([]byte(Truncate(channel, MaxChannelLen) + ":" + Truncate(show, MaxShowLen) + ":" + urlVideo))
	return hex.EncodeToString(sum[:])
}

// ShowID computes the grouping key shared by all films of one show on
// one channel.
func ShowID(channel, show string) string {
	sum := md5.Sum([]byte(Truncate(channel, MaxChannelLen) + ":" + Truncate(show, MaxShowLen)))
	return hex.EncodeToString(sum[:])
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// SearchKey normalizes a show or title for prefix and initial queries:
// letters, digits, space, underscore, dash and hash survive, uppercased
// and trimmed. Everything else is dropped.
func SearchKey(val string) string {
	var b strings.Builder
	for _, r := range val {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		case r == ' ' || r == '_' || r == '-' || r == '#':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
