package eip

import "fmt"

// Datagram is a parsed inbound cyclic datagram.
type Datagram struct {
	// ConnectionID is the T->O connection id of the producing connection.
	ConnectionID uint32
	// Sequence is the rolling sequence number of the sequenced address item.
	Sequence uint32
	// Payload is the produced data. It aliases the parsed buffer.
	Payload []byte
}

// ParseCyclicDatagram reads the connection id at offset 6, the sequence number at offset 10 and the
// payload starting at offset 20.
func ParseCyclicDatagram(b []byte) (Datagram, error) {
	if len(b) < DatagramPayloadOffset {
		return Datagram{}, fmt.Errorf("%w: %d bytes", ErrMalformedDatagram, len(b))
	}

	return Datagram{
		ConnectionID: le.Uint32(b[datagramConnIDOffset : datagramConnIDOffset+4]),
		Sequence:     le.Uint32(b[datagramSeqOffset : datagramSeqOffset+4]),
		Payload:      b[DatagramPayloadOffset:],
	}, nil
}

// BuildCyclicDatagram returns a produced datagram for the T->O connection toID carrying payload,
// in the layout ParseCyclicDatagram reads.
func BuildCyclicDatagram(toID uint32, seq uint32, cipSeq uint16, payload []byte) []byte {
	b := make([]byte, 0, DatagramPayloadOffset+len(payload))
	b = le.AppendUint16(b, 2)
	b = le.AppendUint16(b, ItemSequencedAddress)
	b = le.AppendUint16(b, 8)
	b = le.AppendUint32(b, toID)
	b = le.AppendUint32(b, seq)
	b = le.AppendUint16(b, ItemConnectedData)
	b = le.AppendUint16(b, uint16(len(payload)+2)) //nolint:gosec
	b = le.AppendUint16(b, cipSeq)

	return append(b, payload...)
}
