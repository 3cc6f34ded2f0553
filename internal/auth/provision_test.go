package auth

import (
	"testing"

	"github.com/sentinel/fraud-engine/internal/idhash"
)

func TestGenerateAPIKeyHashIsDeterministicFromPlaintext(t *testing.T) {
	plaintext, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plaintext == "" || hash == "" {
		t.Fatal("expected non-empty plaintext and hash")
	}
	if len(hash) != 64 {
		t.Errorf("hash length = %d, want 64 (hex SHA-256)", len(hash))
	}
	if got := idhash.Hash(plaintext); got != hash {
		t.Errorf("re-hashing the plaintext = %q, want the returned hash %q", got, hash)
	}

	plaintext2, hash2, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plaintext == plaintext2 || hash == hash2 {
		t.Error("two generated API keys should never collide")
	}
}

func TestConfirmationHashRoundTrip(t *testing.T) {
	plaintext, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	confirmHash, err := ConfirmationHash(plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ConfirmReentry(plaintext, confirmHash) {
		t.Error("re-typing the same key should confirm against its confirmation hash")
	}
	if ConfirmReentry("wrong-key", confirmHash) {
		t.Error("a different key should not confirm")
	}
}

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !CheckPassword("correct-horse-battery-staple", hash) {
		t.Error("expected the original password to check against its own hash")
	}
	if CheckPassword("wrong-password", hash) {
		t.Error("expected a different password to fail the check")
	}
}
