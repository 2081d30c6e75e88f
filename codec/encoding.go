package codec

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidHex is returned when a hex string has odd length or non-hex characters.
var ErrInvalidHex = errors.New("codec: invalid hex string")

// GenerateKey returns bits/8 bytes from a cryptographically secure source.
func GenerateKey(bits int) ([]byte, error) {
	if bits <= 0 || bits%8 != 0 {
		return nil, fmt.Errorf("codec: key size must be a positive multiple of 8, got %d", bits)
	}
	b := make([]byte, bits/8)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("codec: read random: %w", err)
	}
	return b, nil
}

// ToHex encodes b as lowercase hex.
func ToHex(b []byte) string { return hex.EncodeToString(b) }

// FromHex decodes a hex string.
func FromHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// UTF8ToBytes returns the UTF-8 bytes of s.
func UTF8ToBytes(s string) []byte { return []byte(s) }

// BytesToUTF8 interprets b as UTF-8 text.
func BytesToUTF8(b []byte) string { return string(b) }

// Concat returns a new slice holding the given slices back to back.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
