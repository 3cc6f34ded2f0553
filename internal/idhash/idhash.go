// Package idhash normalises and hashes PII so raw identifiers never enter
// the transactional store or the logs.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash normalises raw and returns its 64-hex SHA-256 digest. Empty input
// returns the empty string, not a hash of the empty string, so that
// "identifier absent" and "identifier present but empty" stay distinct.
func Hash(raw string) string {
	normalized := normalize(raw)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashPhone normalises a phone number (digits only) before hashing.
func HashPhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return Hash(b.String())
}

// HashEmail canonicalises an email address (lowercase, trimmed) before
// hashing.
func HashEmail(raw string) string {
	return Hash(strings.ToLower(strings.TrimSpace(raw)))
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
