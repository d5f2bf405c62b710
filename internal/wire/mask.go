package wire

import "crypto/rand"

// MaskBytes XORs b in place against the repeating 4-byte key.
// Applying it twice with the same key restores the input.
func MaskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// NewMaskKey returns a random masking key for client frames.
func NewMaskKey() [4]byte {
	var key [4]byte
	_, _ = rand.Read(key[:]) //nolint:errcheck
	return key
}
