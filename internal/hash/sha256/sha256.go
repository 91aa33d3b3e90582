// Package sha256 digests artifact bodies for content-addressed names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest, or all of it when
// n is out of range.
func Short(data []byte, n int) string {
	digest := Hex(data)
	if n <= 0 || n >= len(digest) {
		return digest
	}
	return digest[:n]
}
