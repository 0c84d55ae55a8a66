// Package fingerprint identifies feature submissions by content and keeps
// concurrent sessions from evaluating the same code twice.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the lowercase hex SHA-256 of the literal code text.
// Texts that differ only in whitespace or comments hash differently.
func Fingerprint(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
