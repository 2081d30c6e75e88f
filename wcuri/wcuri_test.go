package wcuri

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0xa5}, 32)
	bridges := []string{
		"https://bridge.walletconnect.org",
		"http://localhost:5000/?x=1&y=2",
		"wss://relay.example.com:8443/path with space",
	}
	for _, bridge := range bridges {
		in := URI{Topic: "8b8c1e4a-2c7a-4b0f-9b1f-0d2b9a1d2c3e", Bridge: bridge, Key: key}
		s := Encode(in)
		out, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", s, err)
		}
		if out.Topic != in.Topic || out.Bridge != in.Bridge || !bytes.Equal(out.Key, in.Key) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
		}
		if out.Protocol != Protocol || out.Version != Version {
			t.Fatalf("unexpected protocol/version: %q %d", out.Protocol, out.Version)
		}
	}
}

func TestEncodeFormat(t *testing.T) {
	s := URI{Topic: "t", Bridge: "https://b.org", Key: []byte{0x01, 0xff}}.String()
	want := "wc:t@1?bridge=https%3A%2F%2Fb.org&key=01ff"
	if s != want {
		t.Fatalf("Encode = %q, want %q", s, want)
	}
}

func TestDecodeMissingFields(t *testing.T) {
	tests := map[string]string{
		"topic":  "wc:@1?bridge=https%3A%2F%2Fb.org&key=01ff",
		"bridge": "wc:t@1?key=01ff",
		"key":    "wc:t@1?bridge=https%3A%2F%2Fb.org",
	}
	for field, s := range tests {
		_, err := Decode(s)
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("missing %s: expected ErrFormat, got %v", field, err)
		}
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("missing %s: error %q does not name the field", field, err)
		}
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	tests := []string{
		"",
		"ethereum:t@1?bridge=b&key=01",
		"wc:t?bridge=b&key=01",
		"wc:t@x?bridge=b&key=01",
		"wc:t@1?bridge=b&key=zz",
		"wc:t@1?bridge=b&key=abc",
		"wc:t@1?bridge=b&key=01ff",
		"wc:t@1?bridge=b&key=" + strings.Repeat("ab", 16),
		"wc:t@1?bridge=b&key=" + strings.Repeat("ab", 33),
	}
	for _, s := range tests {
		if _, err := Decode(s); !errors.Is(err, ErrFormat) {
			t.Fatalf("Decode(%q): expected ErrFormat, got %v", s, err)
		}
	}
}
