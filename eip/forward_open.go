package eip

import "fmt"

// SendRRDataHeaderSize is the encapsulation header plus the SendRRData command-specific data
// (interface handle, timeout, and the two CPF item headers) that precede the CIP frame.
const SendRRDataHeaderSize = HeaderSize + 16

// forwardOpenFixedSize is the Forward_Open body up to and including the connection path size byte.
const forwardOpenFixedSize = 42

// maxConnectionPathBytes is the largest path whose word count fits the one-byte path size.
const maxConnectionPathBytes = 255 * 2

// BuildSendRRDataHeader returns the 40-byte SendRRData prefix for a CIP frame of frameLen bytes.
//
// The prefix carries the encapsulation header with the fixed sender context, a null address item
// and an unconnected data item whose length is frameLen.
func BuildSendRRDataHeader(frameLen int, sessionHandle uint32) []byte {
	return appendSendRRDataHeader(make([]byte, 0, SendRRDataHeaderSize+frameLen), frameLen, sessionHandle)
}

func appendSendRRDataHeader(b []byte, frameLen int, sessionHandle uint32) []byte {
	length := uint16(16 + frameLen) //nolint:gosec
	b = appendHeader(b, CommandSendRRData, length, sessionHandle, senderContext)
	b = le.AppendUint32(b, 0) // interface handle
	b = le.AppendUint16(b, 0) // timeout
	b = le.AppendUint16(b, 2) // item count
	b = le.AppendUint16(b, ItemNullAddress)
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, ItemUnconnectedData)
	b = le.AppendUint16(b, uint16(frameLen)) //nolint:gosec

	return b
}

// BuildConnectionPath returns the Forward_Open connection path for a hint: a backplane port segment,
// a wildcard electronic key segment, then the tag path.
func BuildConnectionPath(hint ConnectionHint) ([]byte, error) {
	tagPath, err := BuildTagPath(hint.Tag)
	if err != nil {
		return nil, err
	}

	path := make([]byte, 0, 12+len(tagPath))
	path = append(path, segmentPort, 0x00, segmentKey, keyFormatElectronic)
	path = le.AppendUint16(path, 0) // vendor id
	path = le.AppendUint16(path, 0) // device type
	path = le.AppendUint16(path, 0) // product code
	path = append(path, 0, 0)       // major, minor revision
	path = append(path, tagPath...)

	if len(path) > maxConnectionPathBytes {
		return nil, fmt.Errorf("%w: connection path of %d bytes is too long", ErrInvalidTag, len(path))
	}

	return path, nil
}

// BuildForwardOpenRequest returns a complete SendRRData message carrying a Forward_Open request for
// hint, with a random T->O connection id and connection serial number.
func BuildForwardOpenRequest(sessionHandle uint32, hint ConnectionHint) ([]byte, error) {
	return BuildForwardOpenRequestWithIDs(sessionHandle, hint, GenerateConnectionID(), GenerateConnectionSerial())
}

// BuildForwardOpenRequestWithIDs is like BuildForwardOpenRequest but uses the given proposed T->O
// connection id and connection serial number.
func BuildForwardOpenRequestWithIDs(sessionHandle uint32, hint ConnectionHint, toID uint32, serial uint16) ([]byte, error) {
	if err := hint.Validate(); err != nil {
		return nil, err
	}

	path, err := BuildConnectionPath(hint)
	if err != nil {
		return nil, err
	}

	frameLen := forwardOpenFixedSize + len(path)
	b := make([]byte, 0, SendRRDataHeaderSize+frameLen)
	b = appendSendRRDataHeader(b, frameLen, sessionHandle)

	b = append(b, ServiceForwardOpen, 2, segmentClass8, ClassConnectionManager, segmentInstance8, 0x01)
	b = append(b, priorityTimeTick, timeoutTicks)
	b = le.AppendUint32(b, 0) // O->T id, assigned by the target
	b = le.AppendUint32(b, toID)
	b = le.AppendUint16(b, serial)
	b = le.AppendUint16(b, originatorVendorID)
	b = le.AppendUint32(b, originatorSerialNumber)
	b = le.AppendUint32(b, 0) // timeout multiplier and reserved bytes
	b = le.AppendUint32(b, hint.OTRPI)
	b = le.AppendUint16(b, otNetworkParams)
	b = le.AppendUint32(b, hint.RPI)
	b = le.AppendUint16(b, toNetworkParams|hint.DataSize)
	b = append(b, transportTrigger, byte(len(path)/2))
	b = append(b, path...)

	return b, nil
}

// ProposedTOConnectionID returns the T->O connection id proposed by a Forward_Open request built by
// BuildForwardOpenRequest.
func ProposedTOConnectionID(req []byte) (uint32, bool) {
	off := SendRRDataHeaderSize + 12
	if len(req) < off+4 {
		return 0, false
	}

	return le.Uint32(req[off : off+4]), true
}

// ParseForwardOpenResponse extracts the negotiated connection ids from a Forward_Open reply.
//
// A reply shorter than 52 bytes is ErrMalformedResponse. A nonzero general status at offset 42 is
// returned as a *ForwardOpenError, which matches ErrForwardOpenRejected.
func ParseForwardOpenResponse(b []byte) (ConnectionIDs, error) {
	if len(b) < forwardOpenMinReplyBytes {
		return ConnectionIDs{}, fmt.Errorf("%w: forward open reply has %d bytes", ErrMalformedResponse, len(b))
	}

	if status := b[forwardOpenStatusOffset]; status != 0 {
		return ConnectionIDs{}, &ForwardOpenError{GeneralStatus: status}
	}

	return ConnectionIDs{
		OT: le.Uint32(b[forwardOpenOTIDOffset : forwardOpenOTIDOffset+4]),
		TO: le.Uint32(b[forwardOpenTOIDOffset : forwardOpenTOIDOffset+4]),
	}, nil
}

// BuildForwardOpenReply returns the reply a controller sends for a Forward_Open request.
//
// A nonzero status produces a rejection reply with no connection ids. The success reply carries the
// ids, serial number, originator identity and actual packet intervals, in the reply layout that
// ParseForwardOpenResponse reads.
func BuildForwardOpenReply(sessionHandle uint32, status byte, ids ConnectionIDs, serial uint16, rpi uint32, otrpi uint32) []byte {
	frame := make([]byte, 0, 30)
	frame = append(frame, ServiceForwardOpen|0x80, 0, status, 0)
	if status == 0 {
		frame = le.AppendUint32(frame, ids.OT)
		frame = le.AppendUint32(frame, ids.TO)
		frame = le.AppendUint16(frame, serial)
		frame = le.AppendUint16(frame, originatorVendorID)
		frame = le.AppendUint32(frame, originatorSerialNumber)
		frame = le.AppendUint32(frame, otrpi)
		frame = le.AppendUint32(frame, rpi)
		frame = append(frame, 0, 0) // application reply size, reserved
	} else {
		// pad to the minimum reply size so the status is what the caller sees
		frame = append(frame, make([]byte, 8)...)
	}

	b := make([]byte, 0, SendRRDataHeaderSize+len(frame))
	b = appendSendRRDataHeader(b, len(frame), sessionHandle)

	return append(b, frame...)
}
