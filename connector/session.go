package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// DefaultStorageKey is the key the session record is persisted under.
const DefaultStorageKey = "wcsmngt"

// ClientMeta describes one end of a session to the other.
type ClientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
	SSL         bool     `json:"ssl,omitempty"`
}

// DefaultClientMeta describes the running process. It is computed once, at
// construction, when no metadata is configured.
func DefaultClientMeta() ClientMeta {
	name := "walletconnect"
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	meta := ClientMeta{Name: name, Icons: []string{}}
	if host, err := os.Hostname(); err == nil {
		meta.Description = name + " on " + host
	}
	return meta
}

// Session is the persisted record of a pending or established session.
type Session struct {
	Bridge         string      `json:"bridge"`
	Key            string      `json:"key"`
	ClientID       string      `json:"clientId"`
	ClientMeta     ClientMeta  `json:"clientMeta"`
	PeerID         string      `json:"peerId"`
	PeerMeta       *ClientMeta `json:"peerMeta"`
	HandshakeID    uint64      `json:"handshakeId"`
	HandshakeTopic string      `json:"handshakeTopic"`
	ChainID        int64       `json:"chainId"`
	Accounts       []string    `json:"accounts"`
	Connected      bool        `json:"connected"`
}

func (s Session) clone() Session {
	s.Accounts = slices.Clone(s.Accounts)
	s.ClientMeta.Icons = slices.Clone(s.ClientMeta.Icons)
	if s.PeerMeta != nil {
		pm := *s.PeerMeta
		pm.Icons = slices.Clone(pm.Icons)
		s.PeerMeta = &pm
	}
	return s
}

// SessionRequestParams is the single param of wc_sessionRequest.
type SessionRequestParams struct {
	PeerID   string      `json:"peerId"`
	PeerMeta *ClientMeta `json:"peerMeta"`
	ChainID  *int64      `json:"chainId,omitempty"`
}

// SessionParams is carried by the handshake response and by
// wc_sessionUpdate. Approved=false ends the session.
type SessionParams struct {
	Approved bool        `json:"approved"`
	ChainID  int64       `json:"chainId,omitempty"`
	Accounts []string    `json:"accounts,omitempty"`
	PeerID   string      `json:"peerId,omitempty"`
	PeerMeta *ClientMeta `json:"peerMeta,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// persist writes the current record. Callers must not hold c.mu.
func (c *Connector) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	rec := c.session.clone()
	c.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("connector: encode session: %w", err)
	}
	if err := c.store.Set(ctx, c.storageKey, data); err != nil {
		return fmt.Errorf("connector: persist session: %w", err)
	}
	return nil
}

func (c *Connector) removePersisted(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Remove(ctx, c.storageKey); err != nil {
		return fmt.Errorf("connector: remove session: %w", err)
	}
	return nil
}

// loadPersisted returns the stored record, or nil when none exists.
func (c *Connector) loadPersisted(ctx context.Context) (*Session, error) {
	if c.store == nil {
		return nil, nil
	}
	item, err := c.store.Get(ctx, c.storageKey)
	if err != nil {
		return nil, fmt.Errorf("connector: load session: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(item.Data, &s); err != nil {
		return nil, fmt.Errorf("connector: decode session: %w", err)
	}
	return &s, nil
}
