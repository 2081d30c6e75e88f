// Package codec encrypts and authenticates the JSON-RPC payloads exchanged by
// peers. Each payload is AES-256-CBC encrypted under the session key with a
// fresh 128-bit IV and authenticated with HMAC-SHA-256 over ciphertext||iv.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// KeySize is the session key length in bytes.
const KeySize = 32

// IVSize is the length of the per-message initialization vector in bytes.
const IVSize = aes.BlockSize

var (
	// ErrMissingKey is returned when no key is supplied.
	ErrMissingKey = errors.New("codec: missing key")
	// ErrInvalidKey is returned when the key is not 256 bits long.
	ErrInvalidKey = errors.New("codec: key must be 256 bits")
	// ErrUnauthenticated is returned when the payload HMAC does not verify.
	// Callers drop such payloads without inspecting them.
	ErrUnauthenticated = errors.New("codec: payload failed authentication")
	// ErrMalformed is returned when an authenticated payload cannot be decoded.
	// It indicates a non-conformant peer.
	ErrMalformed = errors.New("codec: malformed payload")
)

// Payload is the wire form of one encrypted message. All fields are hex.
type Payload struct {
	Data string `json:"data"`
	HMAC string `json:"hmac"`
	IV   string `json:"iv"`
}

// Encrypt serializes v as JSON and seals it under key.
func Encrypt(v any, key []byte) (*Payload, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal plaintext: %w", err)
	}
	return EncryptBytes(plaintext, key)
}

// EncryptBytes seals an already serialized plaintext under key.
func EncryptBytes(plaintext, key []byte) (*Payload, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	iv, err := GenerateKey(IVSize * 8)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &Payload{
		Data: ToHex(ciphertext),
		HMAC: ToHex(mac(key, ciphertext, iv)),
		IV:   ToHex(iv),
	}, nil
}

// Decrypt verifies p and returns its JSON plaintext. A payload whose HMAC does
// not match yields ErrUnauthenticated; an authenticated payload that does not
// decrypt to valid UTF-8 JSON yields ErrMalformed.
func Decrypt(p *Payload, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnauthenticated
	}
	ciphertext, err := FromHex(p.Data)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	iv, err := FromHex(p.IV)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	sum, err := FromHex(p.HMAC)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if !hmac.Equal(sum, mac(key, ciphertext, iv)) {
		return nil, ErrUnauthenticated
	}

	if len(iv) != IVSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext length", ErrMalformed)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(plaintext) || !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: plaintext is not JSON", ErrMalformed)
	}
	return plaintext, nil
}

// DecryptJSON decrypts p and unmarshals the plaintext into out.
func DecryptJSON(p *Payload, key []byte, out any) error {
	plaintext, err := Decrypt(p, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func checkKey(key []byte) error {
	switch len(key) {
	case 0:
		return ErrMissingKey
	case KeySize:
		return nil
	default:
		return ErrInvalidKey
	}
}

func mac(key, ciphertext, iv []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(Concat(ciphertext, iv))
	return h.Sum(nil)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrMalformed)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrMalformed)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrMalformed)
		}
	}
	return b[:len(b)-n], nil
}
