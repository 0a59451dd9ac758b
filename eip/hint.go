package eip

import (
	"fmt"
	"time"
)

// ConnectionHint describes the cyclic connection a caller wants to open.
//
// RPI and OTRPI are in microseconds and are copied onto the wire without conversion.
// A hint is immutable once a consumer has been created from it.
type ConnectionHint struct {
	// Tag is the dotted tag path, e.g. "Program:Main.Motor.Speed".
	Tag string
	// DataSize is the produced payload size in bytes.
	DataSize uint16
	// RPI is the requested T->O packet interval.
	RPI uint32
	// OTRPI is the requested O->T packet interval. It is also the keep-alive period.
	OTRPI uint32
}

// Validate checks the hint for values that can't be encoded in a Forward_Open request.
func (h ConnectionHint) Validate() error {
	if h.DataSize > MaxDataSize {
		return fmt.Errorf("%w: data size %d exceeds %d", ErrInvalidHint, h.DataSize, MaxDataSize)
	}

	if h.RPI == 0 {
		return fmt.Errorf("%w: zero RPI", ErrInvalidHint)
	}

	if h.OTRPI == 0 {
		return fmt.Errorf("%w: zero O->T RPI", ErrInvalidHint)
	}

	if _, err := BuildTagPath(h.Tag); err != nil {
		return err
	}

	return nil
}

// KeepAlivePeriod returns the O->T RPI as a duration.
func (h ConnectionHint) KeepAlivePeriod() time.Duration {
	return time.Duration(h.OTRPI) * time.Microsecond
}

func (h ConnectionHint) String() string {
	return fmt.Sprintf("tag=%s size=%d rpi=%dus otrpi=%dus", h.Tag, h.DataSize, h.RPI, h.OTRPI)
}

// ConnectionIDs holds the pair of connection ids negotiated by Forward_Open.
type ConnectionIDs struct {
	// OT is embedded in outbound keep-alive datagrams.
	OT uint32
	// TO is carried by inbound datagrams and used to route them.
	TO uint32
}
