package utils // package utils provides hashing helpers shared by the storage and auth layers

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 digests for stored tokens
	"encoding/hex"  // hex encoding of digests and random bytes
)

// HashToken returns the SHA-256 hex digest of a raw token.  Sessions store
// only digests so a leaked sessions table cannot be replayed as bearer
// credentials.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns a hex string built from n bytes of crypto/rand output.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
