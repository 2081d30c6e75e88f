package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey(256)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := mustKey(t)
	inputs := []any{
		map[string]any{"id": float64(1), "jsonrpc": "2.0", "method": "personal_sign", "params": []any{"0xdead", "0xbeef"}},
		map[string]any{},
		"a string with unicode ✓",
		[]any{float64(1), float64(2), float64(3)},
		map[string]any{"exactly16bytes!!": ""},
	}
	for _, in := range inputs {
		p, err := Encrypt(in, key)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		var out any
		if err := DecryptJSON(p, key, &out); err != nil {
			t.Fatalf("DecryptJSON failed: %v", err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Fatalf("round trip mismatch: got %#v, want %#v", out, in)
		}
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key := mustKey(t)
	a, err := Encrypt("same", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := Encrypt("same", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a.IV == b.IV || a.Data == b.Data {
		t.Fatal("expected distinct IV and ciphertext per message")
	}
	iv, _ := FromHex(a.IV)
	if len(iv) != IVSize {
		t.Fatalf("iv length = %d, want %d", len(iv), IVSize)
	}
}

func flipBit(t *testing.T, s string, bit int) string {
	t.Helper()
	b, err := FromHex(s)
	if err != nil {
		t.Fatalf("FromHex failed: %v", err)
	}
	b[bit/8] ^= 1 << (bit % 8)
	return ToHex(b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := mustKey(t)
	p, err := Encrypt(map[string]string{"hello": "world"}, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	fields := map[string]func(*Payload) *string{
		"data": func(p *Payload) *string { return &p.Data },
		"iv":   func(p *Payload) *string { return &p.IV },
		"hmac": func(p *Payload) *string { return &p.HMAC },
	}
	for name, field := range fields {
		orig := *field(p)
		nbits := len(orig) / 2 * 8
		for bit := 0; bit < nbits; bit += 7 {
			tampered := *p
			f := field(&tampered)
			*f = flipBit(t, orig, bit)
			if _, err := Decrypt(&tampered, key); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("%s bit %d: expected ErrUnauthenticated, got %v", name, bit, err)
			}
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	p, err := Encrypt("secret", mustKey(t))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := Decrypt(p, mustKey(t)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestDecryptMalformedAfterAuthentication(t *testing.T) {
	key := mustKey(t)
	p, err := EncryptBytes([]byte("{not json"), key)
	if err != nil {
		t.Fatalf("EncryptBytes failed: %v", err)
	}
	_, err = Decrypt(p, key)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if errors.Is(err, ErrUnauthenticated) {
		t.Fatal("malformed plaintext must not be reported as an authentication failure")
	}
}

func TestKeyValidation(t *testing.T) {
	if _, err := Encrypt("x", nil); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := Encrypt("x", make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := GenerateKey(0); err == nil {
		t.Fatal("expected error for zero-bit key")
	}
	if _, err := GenerateKey(12); err == nil {
		t.Fatal("expected error for non byte-aligned key")
	}
}

func TestPayloadJSONShape(t *testing.T) {
	p, err := Encrypt(1, mustKey(t))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, k := range []string{"data", "hmac", "iv"} {
		if fields[k] == "" {
			t.Fatalf("missing field %q in %s", k, raw)
		}
	}
}

func TestHexHelpers(t *testing.T) {
	b := []byte{0x00, 0xab, 0xff}
	if got := ToHex(b); got != "00abff" {
		t.Fatalf("ToHex = %q", got)
	}
	back, err := FromHex("00ABff")
	if err != nil {
		t.Fatalf("FromHex failed: %v", err)
	}
	if !bytes.Equal(back, b) {
		t.Fatalf("FromHex = %x", back)
	}
	for _, bad := range []string{"abc", "zz", "0x00"} {
		if _, err := FromHex(bad); !errors.Is(err, ErrInvalidHex) {
			t.Fatalf("FromHex(%q): expected ErrInvalidHex, got %v", bad, err)
		}
	}
	if BytesToUTF8(UTF8ToBytes("héllo")) != "héllo" {
		t.Fatal("UTF-8 round trip failed")
	}
	if got := Concat([]byte("ab"), nil, []byte("c")); string(got) != "abc" {
		t.Fatalf("Concat = %q", got)
	}
	w := []byte{1, 2, 3}
	Wipe(w)
	if !bytes.Equal(w, []byte{0, 0, 0}) {
		t.Fatalf("Wipe left %v", w)
	}
}
