package relay

import "errors"

var (
	// ErrPeerNotConnected is returned immediately when no extension is attached.
	ErrPeerNotConnected = errors.New("Chrome extension not connected")

	// ErrRequestTimeout is returned when no correlated reply arrives in time.
	ErrRequestTimeout = errors.New("Extension request timeout")

	// ErrUnknownOperation is returned for operation names outside the catalog.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrMalformedFrame wraps decode failures of inbound frames.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrNoFreePort is returned when every candidate relay port is in use.
	ErrNoFreePort = errors.New("no free relay port")
)

// PeerError carries a failure reported by the peer (success=false). The message is kept verbatim.
type PeerError struct {
	Message string
}

func (e *PeerError) Error() string {
	return e.Message
}
