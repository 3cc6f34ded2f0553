package auth

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/sentinel/fraud-engine/internal/idhash"
)

// GenerateAPIKey returns a fresh random API key and the deterministic
// hash that must be stored on the tenant record (Tenant.APIKeyHash) for
// C14's O(1) lookup.
func GenerateAPIKey() (plaintext, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = "sk_" + base64.RawURLEncoding.EncodeToString(raw)
	hash = idhash.Hash(plaintext)
	return plaintext, hash, nil
}

// ConfirmationHash bcrypt-hashes the freshly generated key so a
// provisioning operator can be asked to re-type it before it is shown
// only once — unlike the deterministic lookup hash, this is never
// persisted past the provisioning session.
func ConfirmationHash(plaintext string) (string, error) {
	return HashPassword(plaintext)
}

// ConfirmReentry checks an operator's re-typed key against the
// transient confirmation hash from ConfirmationHash.
func ConfirmReentry(reentered, confirmationHash string) bool {
	return CheckPassword(reentered, confirmationHash)
}
