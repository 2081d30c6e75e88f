// Package wcuri encodes and decodes connection URIs of the form
//
//	wc:<topic>@<version>?bridge=<url-encoded relay address>&key=<hex key>
//
// The URI is the only channel carrying the session key and is exchanged
// out-of-band, typically as a QR code or deep link.
package wcuri

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pedrouid/walletconnect-v1-prototype/codec"
)

const (
	// Protocol is the URI scheme tag.
	Protocol = "wc"
	// Version is the protocol version written by Encode.
	Version = 1
)

// ErrFormat is returned for any URI that cannot be decoded.
var ErrFormat = errors.New("wcuri: invalid uri")

// URI holds the decoded fields of a connection URI.
type URI struct {
	Protocol string
	Topic    string
	Version  int
	Bridge   string
	Key      []byte
}

// Encode renders u. Empty Protocol and zero Version take the package defaults.
func Encode(u URI) string {
	protocol := u.Protocol
	if protocol == "" {
		protocol = Protocol
	}
	version := u.Version
	if version == 0 {
		version = Version
	}
	q := "bridge=" + url.QueryEscape(u.Bridge) + "&key=" + codec.ToHex(u.Key)
	return protocol + ":" + u.Topic + "@" + strconv.Itoa(version) + "?" + q
}

func (u URI) String() string { return Encode(u) }

// Decode parses s. The protocol tag must be "wc" and topic, bridge and key
// must all be present.
func Decode(s string) (URI, error) {
	protocol, rest, ok := strings.Cut(s, ":")
	if !ok {
		return URI{}, fmt.Errorf("%w: missing protocol separator", ErrFormat)
	}
	if protocol != Protocol {
		return URI{}, fmt.Errorf("%w: unexpected protocol %q", ErrFormat, protocol)
	}

	path, query, _ := strings.Cut(rest, "?")
	topic, versionStr, ok := strings.Cut(path, "@")
	if !ok {
		return URI{}, fmt.Errorf("%w: missing version separator", ErrFormat)
	}
	if topic == "" {
		return URI{}, fmt.Errorf("%w: missing topic", ErrFormat)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || version < 1 {
		return URI{}, fmt.Errorf("%w: bad version %q", ErrFormat, versionStr)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	bridge := values.Get("bridge")
	if bridge == "" {
		return URI{}, fmt.Errorf("%w: missing bridge", ErrFormat)
	}
	keyHex := values.Get("key")
	if keyHex == "" {
		return URI{}, fmt.Errorf("%w: missing key", ErrFormat)
	}
	key, err := codec.FromHex(keyHex)
	if err != nil {
		return URI{}, fmt.Errorf("%w: key: %v", ErrFormat, err)
	}
	if len(key) != codec.KeySize {
		return URI{}, fmt.Errorf("%w: key must be %d bytes, got %d", ErrFormat, codec.KeySize, len(key))
	}

	return URI{
		Protocol: protocol,
		Topic:    topic,
		Version:  version,
		Bridge:   bridge,
		Key:      key,
	}, nil
}
