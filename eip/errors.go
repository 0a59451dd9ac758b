package eip

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse indicates that a reply is shorter than its fixed layout requires.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrForwardOpenRejected indicates that the controller answered a Forward_Open with a nonzero general status.
	ErrForwardOpenRejected = errors.New("forward open rejected")

	// ErrRegisterSessionRejected indicates that the RegisterSession reply carries a nonzero status
	// or an unexpected command.
	ErrRegisterSessionRejected = errors.New("register session rejected")

	// ErrMalformedDatagram indicates that an inbound cyclic datagram is too short to carry a payload.
	ErrMalformedDatagram = errors.New("malformed cyclic datagram")
)

var (
	// ErrInvalidHint indicates that a ConnectionHint has an out-of-range field.
	ErrInvalidHint = errors.New("invalid connection hint")

	// ErrInvalidTag indicates that a tag name can't be encoded as symbol segments.
	ErrInvalidTag = errors.New("invalid tag name")

	// ErrUnsupportedTag indicates array, bit or multi-dimensional tag addressing.
	ErrUnsupportedTag = errors.New("unsupported tag addressing")
)

// ForwardOpenError carries the general status of a rejected Forward_Open.
// Extended status words are not decoded.
type ForwardOpenError struct {
	GeneralStatus byte
}

func (e *ForwardOpenError) Error() string {
	return fmt.Sprintf("forward open rejected, general status 0x%02X", e.GeneralStatus)
}

// Is reports ErrForwardOpenRejected as a match so callers can use errors.Is.
func (e *ForwardOpenError) Is(target error) bool {
	return target == ErrForwardOpenRejected
}
