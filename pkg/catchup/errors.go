package catchup

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the store no longer holds a packet.
	ErrNotFound = errors.New("catchup: packet not found")
	// ErrRejected is returned for requests the store refuses as malformed.
	ErrRejected = errors.New("catchup: request rejected")
	// ErrUnavailable is returned while the store or the addressed tier is
	// not serving.
	ErrUnavailable = errors.New("catchup: storage unavailable")
	ErrRemote      = errors.New("catchup: store error")
)

const (
	headerError     = "Ps-Error"
	headerErrorCode = "Ps-Error-Code"
	headerKind      = "Ps-Packet-Kind"
)

// remoteError maps an error code sent by the store to one of the package
// errors, keeping the store's message.
func remoteError(code, msg string) error {
	var base error
	switch code {
	case "not_found":
		base = ErrNotFound
	case "bad_request":
		base = ErrRejected
	case "not_ready", "tier_inactive":
		base = ErrUnavailable
	default:
		base = ErrRemote
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}
