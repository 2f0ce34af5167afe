package fair

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewServerSeed returns a fresh 32-byte server seed as hex.
// The seed stays secret until the round's results phase; only its
// SHA-256 commitment is published up front.
func NewServerSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read server seed entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewClientSeed returns a fresh 16-byte public client seed as hex.
func NewClientSeed() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read client seed entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SeedHash returns the SHA-256 commitment for a server seed. Published
// while the seed itself is still secret so players can check the reveal.
func SeedHash(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}
