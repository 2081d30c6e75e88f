package connector

import "errors"

var (
	// ErrSessionConnected is returned by operations that require a session
	// that is not yet connected.
	ErrSessionConnected = errors.New("connector: session currently connected")
	// ErrSessionDisconnected is returned by operations that require a
	// connected session.
	ErrSessionDisconnected = errors.New("connector: session currently disconnected")
	// ErrHandshakePending is returned by CreateSession while a handshake is
	// already awaiting approval.
	ErrHandshakePending = errors.New("connector: session handshake pending")
	// ErrNoHandshake is returned when approving or rejecting without a
	// received session request.
	ErrNoHandshake = errors.New("connector: no session request to answer")
	// ErrMissingBridge is returned when no relay address is configured.
	ErrMissingBridge = errors.New("connector: missing bridge url")
	// ErrNoTransport is returned by Run before Connect.
	ErrNoTransport = errors.New("connector: no transport attached")

	// ErrMalformedResponse rejects a call whose response has neither result
	// nor error.
	ErrMalformedResponse = errors.New("connector: malformed response")
	// ErrSessionClosed rejects pending calls when the session is killed,
	// rejected or disconnected by the peer.
	ErrSessionClosed = errors.New("connector: session closed")
	// ErrTransportClosed rejects pending calls when the receive loop ends.
	ErrTransportClosed = errors.New("connector: transport closed")
	// ErrCallTimeout rejects a call that received no response in time.
	ErrCallTimeout = errors.New("connector: call timed out")
	// ErrMissingFrom is returned by SendTransaction without a sender.
	ErrMissingFrom = errors.New("connector: transaction requires from")
)
