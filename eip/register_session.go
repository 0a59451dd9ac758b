package eip

import "fmt"

const registerSessionDataLen = 4

// BuildRegisterSession returns a RegisterSession request: a zeroed encapsulation header with
// command 0x0065 and length 4, followed by protocol version 1 and zero option flags.
func BuildRegisterSession() []byte {
	b := make([]byte, 0, HeaderSize+registerSessionDataLen)
	b = appendHeader(b, CommandRegisterSession, registerSessionDataLen, 0, 0)
	b = le.AppendUint16(b, protocolVersion)
	b = le.AppendUint16(b, 0)

	return b
}

// ParseSessionToken reads the session handle at offset 4 of a RegisterSession reply.
// The reply status is not inspected; use ParseRegisterSessionResponse for a validated read.
func ParseSessionToken(b []byte) (uint32, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: register session reply has %d bytes", ErrMalformedResponse, len(b))
	}

	return le.Uint32(b[4:8]), nil
}

// ParseRegisterSessionResponse validates a RegisterSession reply and returns its session handle.
//
// A reply shorter than the encapsulation header is ErrMalformedResponse. A reply with another command
// or a nonzero encapsulation status is ErrRegisterSessionRejected.
func ParseRegisterSessionResponse(b []byte) (uint32, error) {
	if len(b) < HeaderSize {
		return 0, fmt.Errorf("%w: register session reply has %d bytes", ErrMalformedResponse, len(b))
	}

	if cmd := le.Uint16(b[0:2]); cmd != CommandRegisterSession {
		return 0, fmt.Errorf("%w: unexpected command 0x%04X", ErrRegisterSessionRejected, cmd)
	}

	if status := le.Uint32(b[8:12]); status != 0 {
		return 0, fmt.Errorf("%w: status 0x%08X", ErrRegisterSessionRejected, status)
	}

	return ParseSessionToken(b)
}

// BuildRegisterSessionReply returns the reply a controller sends for a successful RegisterSession.
func BuildRegisterSessionReply(sessionHandle uint32) []byte {
	b := make([]byte, 0, HeaderSize+registerSessionDataLen)
	b = appendHeader(b, CommandRegisterSession, registerSessionDataLen, sessionHandle, 0)
	b = le.AppendUint16(b, protocolVersion)
	b = le.AppendUint16(b, 0)

	return b
}
